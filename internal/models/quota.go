package models

import "time"

// Quota and retention tuning. Period and retention windows are deliberately
// plan-scoped; the ephemeral limit applies only to anonymous endpoints.
const (
	EphemeralRequestLimit = 50
	FreeRequestLimit      = 200
	ProRequestLimit       = 10000

	FreePeriod   = 24 * time.Hour
	BillingCycle = 30 * 24 * time.Hour

	FreeRetention = 7 * 24 * time.Hour
	ProRetention  = 30 * 24 * time.Hour

	// UnlimitedQuota is the fail-open sentinel reported for endpoints whose
	// owner row has gone missing mid-flight.
	UnlimitedQuota = -1
)

// QuotaSnapshot is the oracle's answer for a slug. Never persisted, always
// recomputed from user + endpoint state. PeriodEnd is epoch milliseconds.
type QuotaSnapshot struct {
	UserID           string  `json:"userId,omitempty"`
	Remaining        int64   `json:"remaining"`
	Limit            int64   `json:"limit"`
	PeriodEnd        *int64  `json:"periodEnd"`
	Plan             *string `json:"plan"`
	NeedsPeriodStart bool    `json:"needsPeriodStart"`
}

// PeriodCheck is the activator's answer. RetryAfter is set in milliseconds
// when the quota is exhausted for the active period.
type PeriodCheck struct {
	Remaining  int64  `json:"remaining"`
	Limit      int64  `json:"limit"`
	PeriodEnd  *int64 `json:"periodEnd"`
	RetryAfter *int64 `json:"retryAfter,omitempty"`
}

// EndpointInfo is the cached boundary view of an endpoint. ExpiresAt is
// epoch milliseconds.
type EndpointInfo struct {
	EndpointID   string        `json:"endpointId"`
	UserID       *string       `json:"userId"`
	IsEphemeral  bool          `json:"isEphemeral"`
	ExpiresAt    *int64        `json:"expiresAt"`
	MockResponse *MockResponse `json:"mockResponse"`
}

// EpochMillis converts a time to epoch milliseconds.
func EpochMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// EpochMillisPtr converts an optional time to optional epoch milliseconds.
func EpochMillisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}
