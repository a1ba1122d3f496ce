package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gcs "google.golang.org/api/storage/v1"

	"continuity/internal/domain"
)

const gcsPublicBase = "https://storage.googleapis.com"

// GCSStore writes artifacts to a Google Cloud Storage bucket through the
// JSON API. Objects are served from the public storage.googleapis.com host.
type GCSStore struct {
	srv    *gcs.Service
	bucket string
}

// NewGCSStore wraps an existing service client.
func NewGCSStore(srv *gcs.Service, bucket string) (*GCSStore, error) {
	if srv == nil {
		return nil, errors.New("storage: gcs service is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage: bucket is required")
	}
	return &GCSStore{srv: srv, bucket: bucket}, nil
}

// NewGCSService builds a storage client from a service-account file, or from
// application default credentials when credentialsFile is empty.
func NewGCSService(ctx context.Context, credentialsFile string) (*gcs.Service, error) {
	var creds *google.Credentials
	if path := strings.TrimSpace(credentialsFile); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("storage: read gcs credentials: %w", err)
		}
		creds, err = google.CredentialsFromJSON(ctx, data, gcs.DevstorageReadWriteScope)
		if err != nil {
			return nil, fmt.Errorf("storage: parse gcs credentials: %w", err)
		}
	} else {
		var err error
		creds, err = google.FindDefaultCredentials(ctx, gcs.DevstorageReadWriteScope)
		if err != nil {
			return nil, fmt.Errorf("storage: find gcs credentials: %w", err)
		}
	}
	httpClient := oauth2.NewClient(ctx, creds.TokenSource)
	return gcs.NewService(ctx, option.WithHTTPClient(httpClient))
}

func (s *GCSStore) Backend() string { return "gcs" }

func (s *GCSStore) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return domain.Storage("invalid key", err)
	}
	object := &gcs.Object{
		Name:         cleanKey,
		ContentType:  contentType,
		CacheControl: "public, max-age=3600",
	}
	_, err = s.srv.Objects.Insert(s.bucket, object).
		Media(body, googleapi.ContentType(contentType)).
		Context(ctx).
		Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			return domain.Storage("gcs upload", fmt.Errorf("status %d: %s", apiErr.Code, apiErr.Message))
		}
		return domain.Storage("gcs upload", err)
	}
	return nil
}

func (s *GCSStore) PublicURL(key string) string {
	return publicURL(gcsPublicBase+"/"+s.bucket, key)
}
