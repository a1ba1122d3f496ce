package jobs

import (
	"context"

	"continuity/internal/domain"
)

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Checked   int
	Completed int
	Pending   int
	Failed    int
	Errors    int
}

// Reconcile polls jobs that are not yet materialized, acting as each job's
// owner, so artifacts are produced even when no client checks back.
func (s *Service) Reconcile(ctx context.Context, limit int) (ReconcileReport, error) {
	var report ReconcileReport
	pending, err := s.ledger.ListPending(ctx, limit)
	if err != nil {
		return report, domain.Internal(domain.StageLedger, "list pending jobs", err)
	}
	for _, job := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		res, err := s.CheckStatus(ctx, job.ID, job.OwnerID)
		if err != nil {
			report.Errors++
			s.logger.Warn().Err(err).Str("job_id", job.ID).Str("kind", string(domain.KindOf(err))).Msg("reconcile check failed")
			continue
		}
		switch res.Status {
		case domain.JobStatusCompleted:
			report.Completed++
		case domain.JobStatusFailed:
			report.Failed++
		default:
			report.Pending++
		}
	}
	return report, nil
}
