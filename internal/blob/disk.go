package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DiskStore keeps objects in a local directory. The HTTP server exposes the
// directory read-only under the public base URL, which is what turns a
// stored object into a resolvable link.
type DiskStore struct {
	dir     string
	baseURL string
}

func NewDiskStore(dir, baseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}

	return &DiskStore{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// Dir returns the backing directory, for mounting a file server over it.
func (s *DiskStore) Dir() string {
	return s.dir
}

func (s *DiskStore) Put(_ context.Context, objectName string, r io.Reader) (string, error) {
	if objectName != filepath.Base(objectName) {
		return "", fmt.Errorf("invalid object name: %q", objectName)
	}

	f, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write object: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close object: %w", err)
	}

	// rename so a partially written object is never visible under its
	// public name
	if err := os.Rename(f.Name(), filepath.Join(s.dir, objectName)); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("publish object: %w", err)
	}

	return s.baseURL + "/" + objectName, nil
}

func (s *DiskStore) Remove(_ context.Context, objectName string) error {
	if objectName != filepath.Base(objectName) {
		return fmt.Errorf("invalid object name: %q", objectName)
	}

	err := os.Remove(filepath.Join(s.dir, objectName))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
