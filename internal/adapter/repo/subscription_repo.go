package repo

import (
	"context"
	"time"

	"continuity/internal/domain"
	"continuity/internal/infra"
	"continuity/internal/sqlinline"
)

// SubscriptionRepoPG reads subscription rows maintained by the billing sync.
type SubscriptionRepoPG struct {
	sql infra.SQLExecutor
}

func NewSubscriptionRepository(sql infra.SQLExecutor) *SubscriptionRepoPG {
	return &SubscriptionRepoPG{sql: sql}
}

func (r *SubscriptionRepoPG) GetByUserID(ctx context.Context, userID string) (*domain.Subscription, error) {
	var (
		sub       domain.Subscription
		periodEnd *time.Time
	)
	err := r.sql.QueryRow(ctx, sqlinline.QSelectSubscriptionByUser, userID).Scan(&sub.UserID, &sub.Status, &periodEnd)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	sub.CurrentPeriodEnd = periodEnd
	return &sub, nil
}
