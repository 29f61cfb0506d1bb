// Package models contains the domain structures shared by the storage layer
// and the business logic: users with their quota periods, endpoints,
// captured requests and deferred tasks.
package models

import "time"

// Plan names. "ephemeral" is never stored on a user, it is the plan reported
// for anonymous ephemeral endpoints.
const (
	PlanFree      = "free"
	PlanPro       = "pro"
	PlanEphemeral = "ephemeral"
)

// Subscription status values written by the billing-event translator.
const (
	SubscriptionActive   = "active"
	SubscriptionCanceled = "canceled"
	SubscriptionPastDue  = "past_due"
)

// User is an account that owns endpoints and consumes request quota.
// Period fields are mutated only by the period activator (free plan) and
// the billing reconciler (pro plan). A free user with a nil PeriodEnd has no
// active period; the next capture starts one lazily.
type User struct {
	ID                  string
	Email               string
	Plan                string
	RequestsUsed        int
	RequestLimit        int
	PeriodStart         *time.Time
	PeriodEnd           *time.Time
	CancelAtPeriodEnd   bool
	SubscriptionStatus  *string
	PolarCustomerID     *string
	PolarSubscriptionID *string
	CreatedAt           time.Time
}
