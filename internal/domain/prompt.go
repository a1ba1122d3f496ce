package domain

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Size enumerates the accepted output resolutions.
type Size string

const (
	SizeLandscape Size = "1280x720"
	SizePortrait  Size = "720x1280"
)

// DefaultSize and DefaultSeconds apply when a request omits the field.
const (
	DefaultSize    = SizeLandscape
	DefaultSeconds = "4"
)

var allowedSizes = map[Size]struct{}{
	SizeLandscape: {},
	SizePortrait:  {},
}

var allowedSeconds = map[string]struct{}{
	"4":  {},
	"8":  {},
	"12": {},
}

// Valid reports whether the size is one of the enumerated pairs.
func (s Size) Valid() bool {
	_, ok := allowedSizes[s]
	return ok
}

// ValidSeconds reports whether the duration, compared in string form, is allowed.
func ValidSeconds(seconds string) bool {
	_, ok := allowedSeconds[seconds]
	return ok
}

// NormalizePrompt trims surrounding whitespace and folds the text to NFC so
// visually identical prompts are submitted byte for byte the same.
func NormalizePrompt(prompt string) string {
	return norm.NFC.String(strings.TrimSpace(prompt))
}

// Validate checks the caller supplied fields of a submission.
func (s Submission) Validate() error {
	if s.Prompt == "" {
		return Validation("prompt", "prompt is required")
	}
	if !s.Size.Valid() {
		return Validation("size", fmt.Sprintf("size must be %s or %s", SizeLandscape, SizePortrait))
	}
	if !ValidSeconds(s.Seconds) {
		return Validation("seconds", "seconds must be 4, 8, or 12")
	}
	return nil
}

// VariantPrompt composes the prompt submitted for one batch variant.
func VariantPrompt(base, variant string) string {
	return base + "\n\nVariant: " + variant
}
