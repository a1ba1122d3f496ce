package domain

import (
	"fmt"
	"strings"
)

// AnonymousOwner namespaces artifacts of jobs without an owner.
const AnonymousOwner = "anon"

// ArtifactContentType and ArtifactExtension are fixed for every materialized video.
const (
	ArtifactContentType = "video/mp4"
	ArtifactExtension   = ".mp4"
)

var segmentEscaper = strings.NewReplacer("%", "%25", "/", "%2F", `\`, "%5C")

// keySegment escapes s so it cannot be split or collapsed by path cleaning.
func keySegment(s string) string {
	s = segmentEscaper.Replace(s)
	if s == "." || s == ".." {
		s = strings.ReplaceAll(s, ".", "%2E")
	}
	return s
}

// ArtifactKey derives the storage key of a job's materialized video. The
// owner and job id each occupy exactly one path segment.
func ArtifactKey(ownerID, jobID string) string {
	owner := ownerID
	if owner == "" {
		owner = AnonymousOwner
	}
	return fmt.Sprintf("%s/%s%s", keySegment(owner), keySegment(jobID), ArtifactExtension)
}
