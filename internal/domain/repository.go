package domain

import "context"

// JobLedger is the durable record of submitted jobs and their artifacts.
type JobLedger interface {
	Insert(ctx context.Context, job *Job) error
	// Get returns ErrNotFound when the id was never recorded.
	Get(ctx context.Context, jobID string) (*Job, error)
	UpdateStatus(ctx context.Context, jobID string, status JobStatus) error
	// CompleteOnce sets status completed and the output URL only when no URL
	// is stored yet. It returns the URL that is durable after the call and
	// whether this call was the one that wrote it.
	CompleteOnce(ctx context.Context, jobID, outputURL string) (string, bool, error)
	// ListPending returns jobs without an output URL that are not failed, oldest first.
	ListPending(ctx context.Context, limit int) ([]Job, error)
}

// SubscriptionRepository reads billing rows keyed by identity.
type SubscriptionRepository interface {
	// GetByUserID returns ErrNotFound when the identity has no subscription.
	GetByUserID(ctx context.Context, userID string) (*Subscription, error)
}
