package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"continuity/internal/domain"
	"continuity/internal/infra"
	"continuity/internal/sqlinline"
)

// JobLedgerPG implements domain.JobLedger over the video_jobs table.
type JobLedgerPG struct {
	sql infra.SQLExecutor
}

// NewJobLedger creates a ledger backed by PostgreSQL.
func NewJobLedger(sql infra.SQLExecutor) *JobLedgerPG {
	return &JobLedgerPG{sql: sql}
}

// Insert records a freshly submitted job.
func (r *JobLedgerPG) Insert(ctx context.Context, job *domain.Job) error {
	_, err := r.sql.Exec(ctx, sqlinline.QInsertVideoJob,
		job.ID,
		job.OwnerID,
		job.Prompt,
		string(job.Size),
		job.Seconds,
		job.WatermarkRequired,
		string(job.Status),
	)
	if err != nil {
		return fmt.Errorf("insert video job %s: %w", job.ID, err)
	}
	return nil
}

// Get fetches a job by its remote identifier.
func (r *JobLedgerPG) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectVideoJob, jobID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// UpdateStatus mirrors the remote status onto a job that is not materialized.
func (r *JobLedgerPG) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus) error {
	_, err := r.sql.Exec(ctx, sqlinline.QUpdateVideoJobStatus, jobID, string(status))
	return err
}

// CompleteOnce commits the output URL unless one is stored already. When
// another writer won, the stored URL is returned instead of outputURL.
func (r *JobLedgerPG) CompleteOnce(ctx context.Context, jobID, outputURL string) (string, bool, error) {
	var stored string
	err := r.sql.QueryRow(ctx, sqlinline.QCompleteVideoJob, jobID, outputURL).Scan(&stored)
	if err == nil {
		return stored, true, nil
	}
	if !infra.IsNoRows(err) {
		return "", false, err
	}

	job, err := r.Get(ctx, jobID)
	if err != nil {
		return "", false, err
	}
	if !job.Materialized() {
		return "", false, fmt.Errorf("complete video job %s: no row updated and no output stored", jobID)
	}
	return job.OutputURL, false, nil
}

// ListPending returns jobs still waiting for materialization, oldest first.
func (r *JobLedgerPG) ListPending(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.sql.Query(ctx, sqlinline.QListPendingVideoJobs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job    domain.Job
		size   string
		status string
	)
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.Prompt,
		&size,
		&job.Seconds,
		&job.WatermarkRequired,
		&status,
		&job.OutputURL,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Size = domain.Size(size)
	job.Status = domain.JobStatus(status)
	return &job, nil
}
