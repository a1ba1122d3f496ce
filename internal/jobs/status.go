package jobs

import (
	"context"
	"errors"
	"strings"

	"continuity/internal/domain"
	"continuity/internal/lock"
	"continuity/internal/providers/sora"
)

// CheckStatus reports the job state. The first call that observes remote
// completion materializes the artifact; later calls are answered from the
// ledger without touching the generation service.
func (s *Service) CheckStatus(ctx context.Context, jobID, identity string) (*domain.StatusResult, error) {
	jobID = strings.TrimSpace(jobID)
	identity = strings.TrimSpace(identity)
	if jobID == "" {
		return nil, domain.Validation("id", "id is required")
	}

	job, err := s.ledger.Get(ctx, jobID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		job = nil
	case err != nil:
		return nil, domain.Internal(domain.StageLedger, "load job", err)
	}

	if job != nil && !job.AccessibleBy(identity) {
		return nil, domain.Authorization("not authorized")
	}
	if job.Materialized() {
		return &domain.StatusResult{ID: jobID, Status: domain.JobStatusCompleted, OutputURL: job.OutputURL}, nil
	}
	if !s.generator.HasCredentials() {
		return nil, sora.MissingKeyError(domain.StagePoll)
	}

	callCtx, cancel := withTimeout(ctx, s.upstreamTimeout)
	video, err := s.generator.FetchStatus(callCtx, jobID)
	cancel()
	if err != nil {
		return nil, err
	}

	if video.Status != domain.JobStatusCompleted {
		if job != nil && video.Status != "" && video.Status != job.Status {
			if err := s.ledger.UpdateStatus(ctx, jobID, video.Status); err != nil {
				return nil, domain.Internal(domain.StageLedger, "update status", err)
			}
		}
		return &domain.StatusResult{ID: jobID, Status: video.Status}, nil
	}

	url, err := s.materializeOnce(ctx, jobID, job)
	if errors.Is(err, lock.ErrHeld) {
		return &domain.StatusResult{ID: jobID, Status: domain.JobStatusProcessing}, nil
	}
	if err != nil {
		return nil, err
	}
	return &domain.StatusResult{ID: jobID, Status: domain.JobStatusCompleted, OutputURL: url}, nil
}

func (s *Service) materializeOnce(ctx context.Context, jobID string, job *domain.Job) (string, error) {
	v, shared, err := s.flight.Do(ctx, jobID, func(ctx context.Context) (any, error) {
		return s.materialize(context.WithoutCancel(ctx), jobID, job)
	})
	if err != nil {
		return "", err
	}
	if shared {
		s.logger.Debug().Str("job_id", jobID).Msg("joined in-flight materialization")
	}
	url, _ := v.(string)
	return url, nil
}
