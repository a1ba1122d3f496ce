package storage

import (
	"context"
	"errors"
	"io"
	"net/url"
	"path/filepath"
	"strings"
)

// ArtifactStore is durable key-addressed storage for materialized videos.
type ArtifactStore interface {
	// Put writes body under key, replacing any existing object.
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	// PublicURL is a pure function of configuration and key.
	PublicURL(key string) string
	Backend() string
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(filepath.FromSlash(key)))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}

// escapeKey path-escapes each segment of a sanitized key.
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// publicURL joins base and key. Invalid keys still produce a URL so the
// function stays total; Put rejects them before anything is written.
func publicURL(base, key string) string {
	clean, err := sanitizeKey(key)
	if err != nil {
		clean = strings.TrimLeft(key, "/")
	}
	return strings.TrimRight(base, "/") + "/" + escapeKey(clean)
}
