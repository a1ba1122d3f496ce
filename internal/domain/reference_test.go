package domain

import "testing"

func TestNewReferencePrefersBytes(t *testing.T) {
	ref := NewReference("https://example.com/ref.png", []byte{1, 2}, "image/png", "ref.png")
	if ref.Kind != ReferenceBytes {
		t.Fatalf("kind = %v, want bytes", ref.Kind)
	}
	if ref.URL != "" {
		t.Fatalf("url should be dropped when bytes are present, got %q", ref.URL)
	}
}

func TestNewReferenceFallsBackToURL(t *testing.T) {
	ref := NewReference(" https://example.com/ref.png ", nil, "", "")
	if ref.Kind != ReferenceURL || ref.URL != "https://example.com/ref.png" {
		t.Fatalf("unexpected reference %+v", ref)
	}
}

func TestNewReferenceEmpty(t *testing.T) {
	if ref := NewReference("", nil, "", ""); ref.Kind != ReferenceNone {
		t.Fatalf("kind = %v, want none", ref.Kind)
	}
}

func TestBytesReferenceDefaults(t *testing.T) {
	ref := BytesReference([]byte{1}, "", "")
	if ref.ContentType != "application/octet-stream" || ref.Filename != "reference" {
		t.Fatalf("unexpected defaults %+v", ref)
	}
}
