package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"continuity/internal/domain"
	"continuity/internal/infra"
	"continuity/internal/jobs"
	"continuity/internal/middleware"
)

// VideoService is the job lifecycle surface the handlers drive.
type VideoService interface {
	Submit(ctx context.Context, sub domain.Submission) (*domain.SubmitResult, error)
	CheckStatus(ctx context.Context, jobID, identity string) (*domain.StatusResult, error)
	SubmitBatch(ctx context.Context, req jobs.BatchRequest) ([]jobs.BatchItem, error)
}

// SubscriptionReader reports the billing state of an identity.
type SubscriptionReader interface {
	Status(ctx context.Context, identity string) (string, bool, error)
}

const defaultMaxUploadBytes = 20 << 20

type App struct {
	Videos        VideoService
	Subscriptions SubscriptionReader
	Logger        *infra.Logger

	// MaxUploadBytes bounds multipart bodies carrying a reference image.
	MaxUploadBytes int64
}

func NewApp(videos VideoService, subs SubscriptionReader, logger *infra.Logger) *App {
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &App{Videos: videos, Subscriptions: subs, Logger: logger, MaxUploadBytes: defaultMaxUploadBytes}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.IdentityFromContext(r.Context())
}

type errorBody struct {
	Kind      domain.Kind     `json:"kind"`
	Stage     domain.Stage    `json:"stage,omitempty"`
	Message   string          `json:"message"`
	Cause     string          `json:"cause,omitempty"`
	Retryable bool            `json:"retryable"`
	Field     string          `json:"field,omitempty"`
	Status    int             `json:"upstream_status,omitempty"`
	Upstream  json.RawMessage `json:"upstream,omitempty"`
	ExitCode  *int            `json:"exit_code,omitempty"`
}

func toErrorBody(err error) (int, errorBody) {
	var e *domain.Error
	if !errors.As(err, &e) {
		e = domain.Internal("", "unexpected failure", err)
	}
	body := errorBody{
		Kind:      e.Kind,
		Stage:     e.Stage,
		Message:   e.Message,
		Retryable: e.Retryable(),
		Field:     e.Field,
		Upstream:  e.Payload,
	}
	if e.Kind == domain.KindUpstream {
		body.Status = e.StatusCode
	}
	if e.Kind == domain.KindProcessing && e.ExitCode != domain.ExitCodeUnknown {
		code := e.ExitCode
		body.ExitCode = &code
	}
	if e.Err != nil && e.Kind != domain.KindInternal {
		body.Cause = e.Err.Error()
	}
	return e.HTTPStatus(), body
}

// fail writes a pipeline error as {"error": {...}} and logs server side failures.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	code, body := toErrorBody(err)
	if code >= http.StatusInternalServerError {
		a.Logger.Error().
			Err(err).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Str("kind", string(body.Kind)).
			Str("stage", string(body.Stage)).
			Msg("request failed")
	}
	a.json(w, code, map[string]any{"error": body})
}
