// Package jobs drives video jobs from submission to a stored, optionally
// watermarked artifact.
package jobs

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"continuity/internal/domain"
	"continuity/internal/infra"
	"continuity/internal/lock"
	"continuity/internal/providers/sora"
	"continuity/internal/storage"
)

// Generator is the remote video API.
type Generator interface {
	HasCredentials() bool
	Submit(ctx context.Context, req sora.CreateRequest) (*sora.Video, error)
	FetchStatus(ctx context.Context, videoID string) (*sora.Video, error)
	FetchContentTo(ctx context.Context, videoID string, w io.Writer) (int64, error)
}

// Transform stamps the watermark onto a local file.
type Transform interface {
	Apply(ctx context.Context, inputPath, outputPath string) error
}

// Entitlements answers whether an identity is on a paid plan.
type Entitlements interface {
	IsEntitled(ctx context.Context, identity string) (bool, error)
}

// Options wires the collaborators of a Service.
type Options struct {
	Ledger       domain.JobLedger
	Generator    Generator
	Watermark    Transform
	Store        storage.ArtifactStore
	Entitlements Entitlements

	// Flight guards materialization per job id. Defaults to an in-process flight.
	Flight     lock.Flight
	ScratchDir string

	UpstreamTimeout  time.Duration
	TransformTimeout time.Duration
	StorageTimeout   time.Duration

	Logger *infra.Logger
}

// Service is the job lifecycle controller.
type Service struct {
	ledger       domain.JobLedger
	generator    Generator
	watermark    Transform
	store        storage.ArtifactStore
	entitlements Entitlements
	flight       lock.Flight
	scratchDir   string

	upstreamTimeout  time.Duration
	transformTimeout time.Duration
	storageTimeout   time.Duration

	logger *infra.Logger
}

func NewService(opts Options) (*Service, error) {
	switch {
	case opts.Ledger == nil:
		return nil, errors.New("jobs: ledger is required")
	case opts.Generator == nil:
		return nil, errors.New("jobs: generator is required")
	case opts.Watermark == nil:
		return nil, errors.New("jobs: watermark transform is required")
	case opts.Store == nil:
		return nil, errors.New("jobs: artifact store is required")
	case opts.Entitlements == nil:
		return nil, errors.New("jobs: entitlement resolver is required")
	}
	flight := opts.Flight
	if flight == nil {
		flight = lock.NewLocalFlight()
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Service{
		ledger:           opts.Ledger,
		generator:        opts.Generator,
		watermark:        opts.Watermark,
		store:            opts.Store,
		entitlements:     opts.Entitlements,
		flight:           flight,
		scratchDir:       opts.ScratchDir,
		upstreamTimeout:  opts.UpstreamTimeout,
		transformTimeout: opts.TransformTimeout,
		storageTimeout:   opts.StorageTimeout,
		logger:           logger,
	}, nil
}

// Submit validates the request, freezes the entitlement decision and records
// the remote job in the ledger.
func (s *Service) Submit(ctx context.Context, sub domain.Submission) (*domain.SubmitResult, error) {
	sub.Prompt = domain.NormalizePrompt(sub.Prompt)
	sub.Identity = strings.TrimSpace(sub.Identity)
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	if !s.generator.HasCredentials() {
		return nil, sora.MissingKeyError(domain.StageSubmit)
	}
	return s.submit(ctx, sub)
}

func (s *Service) submit(ctx context.Context, sub domain.Submission) (*domain.SubmitResult, error) {
	entitled, err := s.entitlements.IsEntitled(ctx, sub.Identity)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := withTimeout(ctx, s.upstreamTimeout)
	video, err := s.generator.Submit(callCtx, sora.CreateRequest{
		Prompt:    sub.Prompt,
		Size:      sub.Size,
		Seconds:   sub.Seconds,
		Reference: sub.Reference,
	})
	cancel()
	if err != nil {
		return nil, err
	}

	status := video.Status
	if status == "" {
		status = domain.JobStatusQueued
	}
	job := &domain.Job{
		ID:                video.ID,
		OwnerID:           sub.Identity,
		Prompt:            sub.Prompt,
		Size:              sub.Size,
		Seconds:           sub.Seconds,
		WatermarkRequired: !entitled,
		Status:            status,
	}
	if err := s.ledger.Insert(ctx, job); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Str("stage", string(domain.StageLedger)).Msg("remote job created but not recorded")
		return nil, domain.Internal(domain.StageLedger, "record job "+job.ID, err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("owner", ownerLabel(job.OwnerID)).
		Str("status", string(job.Status)).
		Bool("watermark_required", job.WatermarkRequired).
		Msg("video job submitted")

	return &domain.SubmitResult{ID: job.ID, Status: job.Status, WatermarkRequired: job.WatermarkRequired}, nil
}

// BatchRequest fans one base prompt out into several variant jobs.
type BatchRequest struct {
	BasePrompt string
	Variants   []string
	Size       domain.Size
	Seconds    string
	Reference  domain.Reference
	Identity   string
}

// BatchItem is the outcome of one variant. Err is set instead of Result when
// that variant failed; other variants are still attempted.
type BatchItem struct {
	Variant string
	Prompt  string
	Result  *domain.SubmitResult
	Err     error
}

// SubmitBatch submits one job per non-empty variant, in order.
func (s *Service) SubmitBatch(ctx context.Context, req BatchRequest) ([]BatchItem, error) {
	base := domain.NormalizePrompt(req.BasePrompt)
	if base == "" {
		return nil, domain.Validation("base_prompt", "base_prompt is required")
	}
	var variants []string
	for _, v := range req.Variants {
		if v = strings.TrimSpace(v); v != "" {
			variants = append(variants, v)
		}
	}
	if len(variants) == 0 {
		return nil, domain.Validation("variants", "variants must be a non-empty array")
	}
	template := domain.Submission{Prompt: base, Size: req.Size, Seconds: req.Seconds}
	if err := template.Validate(); err != nil {
		return nil, err
	}
	if !s.generator.HasCredentials() {
		return nil, sora.MissingKeyError(domain.StageSubmit)
	}

	items := make([]BatchItem, 0, len(variants))
	for _, variant := range variants {
		sub := domain.Submission{
			Prompt:    domain.NormalizePrompt(domain.VariantPrompt(base, variant)),
			Size:      req.Size,
			Seconds:   req.Seconds,
			Reference: req.Reference,
			Identity:  strings.TrimSpace(req.Identity),
		}
		res, err := s.submit(ctx, sub)
		items = append(items, BatchItem{Variant: variant, Prompt: sub.Prompt, Result: res, Err: err})
		if err != nil {
			s.logger.Warn().Err(err).Str("variant", variant).Msg("batch variant failed")
		}
	}
	return items, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func ownerLabel(owner string) string {
	if owner == "" {
		return domain.AnonymousOwner
	}
	return owner
}
