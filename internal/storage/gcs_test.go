package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/api/option"
	gcs "google.golang.org/api/storage/v1"

	"continuity/internal/domain"
)

func newTestGCSStore(t *testing.T, handler http.HandlerFunc) *GCSStore {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	svc, err := gcs.NewService(context.Background(),
		option.WithHTTPClient(srv.Client()),
		option.WithEndpoint(srv.URL+"/storage/v1/"),
	)
	if err != nil {
		t.Fatalf("NewService error: %v", err)
	}
	store, err := NewGCSStore(svc, "continuity-videos")
	if err != nil {
		t.Fatalf("NewGCSStore error: %v", err)
	}
	return store
}

func TestGCSStorePut(t *testing.T) {
	var uploads int
	var body string
	store := newTestGCSStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.Contains(r.URL.Path, "/b/continuity-videos/o") {
			http.NotFound(w, r)
			return
		}
		uploads++
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"bucket":"continuity-videos","name":"user-1/video_1.mp4"}`))
	})

	if err := store.Put(context.Background(), "user-1/video_1.mp4", strings.NewReader("mp4-bytes"), domain.ArtifactContentType); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if uploads != 1 {
		t.Fatalf("expected one upload, got %d", uploads)
	}
	if !strings.Contains(body, "user-1/video_1.mp4") || !strings.Contains(body, "mp4-bytes") {
		t.Fatalf("upload body missing metadata or media: %q", body)
	}
}

func TestGCSStorePutFailure(t *testing.T) {
	store := newTestGCSStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"bucket access denied"}}`))
	})

	err := store.Put(context.Background(), "anon/video_1.mp4", strings.NewReader("x"), "video/mp4")
	if !domain.IsKind(err, domain.KindStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if !strings.Contains(err.Error(), "bucket access denied") {
		t.Fatalf("error should carry backend message, got %v", err)
	}
}

func TestGCSStorePublicURL(t *testing.T) {
	store := &GCSStore{bucket: "continuity-videos"}
	want := "https://storage.googleapis.com/continuity-videos/anon/video_1.mp4"
	if got := store.PublicURL("anon/video_1.mp4"); got != want {
		t.Fatalf("PublicURL = %q, want %q", got, want)
	}
}
