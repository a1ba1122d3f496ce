package storage

import (
	"context"
	"fmt"

	"continuity/internal/infra"
)

// NewArtifactStore selects the backend named by STORAGE_BACKEND.
func NewArtifactStore(ctx context.Context, cfg *infra.Config) (ArtifactStore, error) {
	switch cfg.StorageBackend {
	case "", infra.StorageBackendFilesystem:
		return NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	case infra.StorageBackendSupabase:
		return NewSupabaseStore(SupabaseOptions{
			URL:            cfg.SupabaseURL,
			ServiceRoleKey: cfg.SupabaseServiceRoleKey,
			Bucket:         cfg.StorageBucket,
		})
	case infra.StorageBackendGCS:
		srv, err := NewGCSService(ctx, cfg.GCSCredentialsFile)
		if err != nil {
			return nil, err
		}
		return NewGCSStore(srv, cfg.StorageBucket)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.StorageBackend)
	}
}
