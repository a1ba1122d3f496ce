package domain

import "time"

// JobStatus mirrors the lifecycle label reported by the generation service.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusRunning    JobStatus = "running"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"

	// JobStatusProcessing is local only: the remote job completed and another
	// caller currently holds the materialization for it.
	JobStatusProcessing JobStatus = "processing"
)

// Terminal reports whether no further remote transitions are expected.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is one ledger row: a submission to the generation service and the
// cached location of its materialized artifact.
type Job struct {
	ID                string
	OwnerID           string // empty for anonymous submissions
	Prompt            string
	Size              Size
	Seconds           string
	WatermarkRequired bool
	Status            JobStatus
	OutputURL         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Materialized reports whether the write-once output URL is already set.
func (j *Job) Materialized() bool {
	return j != nil && j.OutputURL != ""
}

// Owned reports whether the job is bound to an identity.
func (j *Job) Owned() bool {
	return j != nil && j.OwnerID != ""
}

// AccessibleBy reports whether identity may inspect the job. Unowned jobs are
// open to everyone; owned jobs only to their owner.
func (j *Job) AccessibleBy(identity string) bool {
	if !j.Owned() {
		return true
	}
	return identity != "" && identity == j.OwnerID
}

// Submission captures a validated request to create a video job.
type Submission struct {
	Prompt    string
	Size      Size
	Seconds   string
	Reference Reference
	Identity  string
}

// SubmitResult is returned to the caller after a successful submission.
type SubmitResult struct {
	ID                string    `json:"id"`
	Status            JobStatus `json:"status"`
	WatermarkRequired bool      `json:"watermark_required"`
}

// StatusResult is returned by every status check.
type StatusResult struct {
	ID        string    `json:"id"`
	Status    JobStatus `json:"status"`
	OutputURL string    `json:"output_url,omitempty"`
}
