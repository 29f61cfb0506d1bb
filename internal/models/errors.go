package models

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors returned as typed results by every query and mutation in the
// core. Callers map them onto the boundary error codes; none of them is
// retryable verbatim.
var (
	ErrNotFound = errors.New("not_found")
	ErrExpired  = errors.New("expired")
)

// QuotaExceededError says the active period's quota is used up. RetryAfter is
// how long the caller should back off before the period rolls over.
type QuotaExceededError struct {
	RetryAfter time.Duration
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota_exceeded, retry after %s", e.RetryAfter)
}

// IsQuotaExceeded unwraps a QuotaExceededError from err, if present.
func IsQuotaExceeded(err error) (*QuotaExceededError, bool) {
	var qe *QuotaExceededError
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}
