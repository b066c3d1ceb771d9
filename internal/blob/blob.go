// Package blob stores uploaded media and issues publicly resolvable URLs
// for it. Upload and message append are deliberately separate steps: a
// message referencing a blob is only ever written after the blob exists.
package blob

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

type Store interface {
	// Put writes the object and returns its public URL.
	Put(ctx context.Context, objectName string, r io.Reader) (string, error)
	// Remove deletes the object. Missing objects are not an error.
	Remove(ctx context.Context, objectName string) error
}

// ObjectName derives a collision-resistant object name, roomKey_millis.ext,
// from the room key, the upload instant and the file's extension.
func ObjectName(roomKey, filename string, now time.Time) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		ext = ".bin"
	}

	// room keys may contain ":", which has no business in a URL path
	safeKey := strings.ReplaceAll(roomKey, ":", "-")

	return fmt.Sprintf("%s_%d%s", safeKey, now.UnixMilli(), ext)
}
