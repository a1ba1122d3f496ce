package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"continuity/internal/domain"
)

// SupabaseOptions configures the Supabase Storage REST backend.
type SupabaseOptions struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
	HTTPClient     *http.Client
	CacheControl   string
}

// SupabaseStore uploads through the Storage REST API with upsert enabled.
type SupabaseStore struct {
	baseURL      string
	key          string
	bucket       string
	cacheControl string
	client       *http.Client
}

func NewSupabaseStore(opts SupabaseOptions) (*SupabaseStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.URL), "/")
	if baseURL == "" || strings.TrimSpace(opts.ServiceRoleKey) == "" {
		return nil, errors.New("storage: supabase url and service role key are required")
	}
	bucket := strings.TrimSpace(opts.Bucket)
	if bucket == "" {
		return nil, errors.New("storage: bucket is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	cacheControl := opts.CacheControl
	if cacheControl == "" {
		cacheControl = "3600"
	}
	return &SupabaseStore{
		baseURL:      baseURL,
		key:          strings.TrimSpace(opts.ServiceRoleKey),
		bucket:       bucket,
		cacheControl: cacheControl,
		client:       client,
	}, nil
}

func (s *SupabaseStore) Backend() string { return "supabase" }

func (s *SupabaseStore) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return domain.Storage("invalid key", err)
	}
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, s.bucket, escapeKey(cleanKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return domain.Storage("build upload request", err)
	}
	if f, ok := body.(*os.File); ok {
		if info, err := f.Stat(); err == nil {
			req.ContentLength = info.Size()
		}
	}
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("apikey", s.key)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Cache-Control", "max-age="+s.cacheControl)
	req.Header.Set("x-upsert", "true")

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.Storage("supabase upload", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 300 {
		return domain.Storage("supabase upload", fmt.Errorf("status %d: %s", resp.StatusCode, supabaseMessage(raw)))
	}
	return nil
}

func (s *SupabaseStore) PublicURL(key string) string {
	return publicURL(fmt.Sprintf("%s/storage/v1/object/public/%s", s.baseURL, s.bucket), key)
}

func supabaseMessage(raw []byte) string {
	var detail struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &detail); err == nil {
		switch {
		case detail.Message != "":
			return detail.Message
		case detail.Error != "":
			return detail.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
