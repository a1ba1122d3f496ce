// Package entitlement decides whether an identity holds a paid plan.
package entitlement

import (
	"context"
	"errors"
	"strings"
	"time"

	"continuity/internal/domain"
)

// Resolver answers entitlement questions from subscription rows.
type Resolver struct {
	subs domain.SubscriptionRepository
	now  func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock overrides the time source used to evaluate period ends.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

func NewResolver(subs domain.SubscriptionRepository, opts ...Option) *Resolver {
	r := &Resolver{subs: subs, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsEntitled reports whether identity currently holds an active or trialing,
// unexpired subscription. An empty identity or a missing row yields false.
func (r *Resolver) IsEntitled(ctx context.Context, identity string) (bool, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" || r.subs == nil {
		return false, nil
	}
	sub, err := r.subs.GetByUserID(ctx, identity)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, domain.Internal(domain.StageEntitlement, "lookup subscription", err)
	}
	return sub.Entitled(r.now()), nil
}

// Status returns the raw subscription status for identity, "" when none exists.
func (r *Resolver) Status(ctx context.Context, identity string) (string, bool, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" || r.subs == nil {
		return "", false, nil
	}
	sub, err := r.subs.GetByUserID(ctx, identity)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", false, nil
		}
		return "", false, domain.Internal(domain.StageEntitlement, "lookup subscription", err)
	}
	return sub.Status, sub.Entitled(r.now()), nil
}
