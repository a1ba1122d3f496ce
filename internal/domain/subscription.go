package domain

import "time"

// Subscription statuses that grant an entitlement.
const (
	SubscriptionActive   = "active"
	SubscriptionTrialing = "trialing"
)

// Subscription is the billing row synced by an external collaborator.
type Subscription struct {
	UserID           string
	Status           string
	CurrentPeriodEnd *time.Time
}

// Entitled applies the paid-entitlement rule at instant now: the status must
// be active or trialing, and a period end, when set, must lie strictly after now.
func (s Subscription) Entitled(now time.Time) bool {
	if s.Status != SubscriptionActive && s.Status != SubscriptionTrialing {
		return false
	}
	return s.CurrentPeriodEnd == nil || s.CurrentPeriodEnd.After(now)
}
