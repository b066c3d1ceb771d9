package config

import (
	"encoding/base64"
	"fmt"
)

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	SigningKey     []byte
	AllowedOrigins []string
	// BlobDir is where uploaded media lands on disk.
	BlobDir string
	// PublicBaseURL prefixes issued media URLs, e.g. "http://localhost:8000".
	PublicBaseURL string
	// RedisURL enables the shared typing store. Empty keeps typing state
	// in process memory.
	RedisURL string
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string, blobDir, publicBaseURL, redisURL string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	if blobDir == "" {
		return nil, fmt.Errorf("blob directory cannot be empty")
	}
	if publicBaseURL == "" {
		return nil, fmt.Errorf("public base URL cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:     serverAddr,
		DatabaseDSN:    databaseDSN,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		BlobDir:        blobDir,
		PublicBaseURL:  publicBaseURL,
		RedisURL:       redisURL,
	}, nil
}
