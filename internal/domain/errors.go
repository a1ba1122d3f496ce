package domain

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// ErrNotFound is returned by repositories when a row does not exist.
var ErrNotFound = errors.New("not found")

// Kind classifies failures for callers deciding whether to retry.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindConfiguration Kind = "configuration"
	KindAuthorization Kind = "authorization"
	KindUpstream      Kind = "upstream"
	KindProcessing    Kind = "processing"
	KindStorage       Kind = "storage"
	KindInternal      Kind = "internal"
)

// Stage names the step of the pipeline that failed.
type Stage string

const (
	StageSubmit      Stage = "submit"
	StagePoll        Stage = "poll"
	StageDownload    Stage = "download"
	StageWatermark   Stage = "watermark"
	StageUpload      Stage = "upload"
	StageCommit      Stage = "commit"
	StageLedger      Stage = "ledger"
	StageEntitlement Stage = "entitlement"
	StageAuthorize   Stage = "authorize"
	StageValidate    Stage = "validate"
)

// Exit codes recorded on processing errors that did not come from a normal exit.
const (
	// ExitCodeSpawnFailure marks a subprocess that never started.
	ExitCodeSpawnFailure = -1
	// ExitCodeKilled marks a subprocess terminated by a signal, including timeouts.
	ExitCodeKilled = -2
	// ExitCodeUnknown marks a transform failure with no subprocess status.
	ExitCodeUnknown = -3
)

// Error is the structured failure returned by every pipeline operation.
type Error struct {
	Kind    Kind
	Stage   Stage
	Message string
	// Field names the offending input for validation errors.
	Field string
	// StatusCode and Payload carry the remote response for upstream errors.
	StatusCode int
	Payload    json.RawMessage
	// ExitCode is set for processing errors.
	ExitCode int
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Stage != "" {
		b.WriteString(string(e.Stage))
		b.WriteString(": ")
	}
	b.WriteString("[")
	b.WriteString(string(e.Kind))
	b.WriteString("] ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err, &Error{Kind: KindStorage}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Stage == "" || t.Stage == e.Stage)
}

// Retryable reports whether re-invoking the same operation may succeed
// without changing the input.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindUpstream, KindStorage, KindInternal:
		return true
	default:
		return false
	}
}

// HTTPStatus maps the error onto a response code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindUpstream:
		if e.StatusCode >= 400 {
			return e.StatusCode
		}
		return http.StatusBadGateway
	case KindStorage:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Validation reports bad caller input.
func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Stage: StageValidate, Field: field, Message: message}
}

// Configuration reports a missing process-wide credential or setting.
func Configuration(message string) *Error {
	return &Error{Kind: KindConfiguration, Message: message}
}

// Authorization reports an ownership mismatch.
func Authorization(message string) *Error {
	return &Error{Kind: KindAuthorization, Stage: StageAuthorize, Message: message}
}

// Upstream reports a non-success response from the generation service.
func Upstream(stage Stage, statusCode int, payload []byte) *Error {
	e := &Error{Kind: KindUpstream, Stage: stage, StatusCode: statusCode, Message: "generation service returned " + http.StatusText(statusCode)}
	if raw := strings.TrimSpace(string(payload)); raw != "" {
		if json.Valid([]byte(raw)) {
			e.Payload = json.RawMessage(raw)
		} else {
			e.Payload, _ = json.Marshal(raw)
		}
	}
	return e
}

// UpstreamTransport reports a transport failure (timeout, reset) talking to the generation service.
func UpstreamTransport(stage Stage, err error) *Error {
	return &Error{Kind: KindUpstream, Stage: stage, Message: "generation service unreachable", Err: err}
}

// Processing reports a failed media transform.
func Processing(exitCode int, message string, err error) *Error {
	return &Error{Kind: KindProcessing, Stage: StageWatermark, ExitCode: exitCode, Message: message, Err: err}
}

// Storage reports a failed artifact upload.
func Storage(message string, err error) *Error {
	return &Error{Kind: KindStorage, Stage: StageUpload, Message: message, Err: err}
}

// Internal wraps an unexpected failure at the given stage.
func Internal(stage Stage, message string, err error) *Error {
	return &Error{Kind: KindInternal, Stage: stage, Message: message, Err: err}
}

// KindOf extracts the kind of a pipeline error, defaulting to internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is a pipeline error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
