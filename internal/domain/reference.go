package domain

import "strings"

// ReferenceKind tags which variant of Reference is populated.
type ReferenceKind int

const (
	ReferenceNone ReferenceKind = iota
	ReferenceURL
	ReferenceBytes
)

// Reference is an optional input image, given either as a URL or as an
// uploaded payload. It is built at the transport boundary so downstream code
// only switches on Kind.
type Reference struct {
	Kind        ReferenceKind
	URL         string
	Data        []byte
	ContentType string
	Filename    string
}

// NoReference returns the empty reference.
func NoReference() Reference {
	return Reference{Kind: ReferenceNone}
}

// URLReference wraps a remote image location.
func URLReference(url string) Reference {
	url = strings.TrimSpace(url)
	if url == "" {
		return NoReference()
	}
	return Reference{Kind: ReferenceURL, URL: url}
}

// BytesReference wraps an uploaded image payload.
func BytesReference(data []byte, contentType, filename string) Reference {
	if len(data) == 0 {
		return NoReference()
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if filename == "" {
		filename = "reference"
	}
	return Reference{Kind: ReferenceBytes, Data: data, ContentType: contentType, Filename: filename}
}

// NewReference picks the binary payload when present and falls back to the URL.
func NewReference(url string, data []byte, contentType, filename string) Reference {
	if ref := BytesReference(data, contentType, filename); ref.Kind == ReferenceBytes {
		return ref
	}
	return URLReference(url)
}
