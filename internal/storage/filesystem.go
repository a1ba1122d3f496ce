package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"continuity/internal/domain"
)

// FileStore persists artifacts onto the local filesystem. It is intended for
// development and test environments where an object storage service is not
// available; the API serves the directory under STORAGE_BASE_URL.
type FileStore struct {
	basePath string
	baseURL  string
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath, baseURL string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

func (s *FileStore) Backend() string { return "filesystem" }

// Put streams body into a temporary file beside the target and renames it into
// place, so readers never observe a partial artifact.
func (s *FileStore) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	if err := ctx.Err(); err != nil {
		return domain.Storage("upload cancelled", err)
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return domain.Storage("invalid key", err)
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return domain.Storage("ensure directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return domain.Storage("create temp file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return domain.Storage("write file", err)
	}
	if err := tmp.Close(); err != nil {
		return domain.Storage("close file", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return domain.Storage("chmod file", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		return domain.Storage("rename file", err)
	}
	return nil
}

func (s *FileStore) PublicURL(key string) string {
	return publicURL(s.baseURL, key)
}
