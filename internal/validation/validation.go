// Package validation checks inbound capture payloads before they touch
// storage. Every rejection carries a stable machine-readable code so
// receivers can branch on it without parsing messages.
package validation

import (
	"fmt"
	"net"
	"regexp"
	"time"

	"github.com/go-playground/validator"

	"github.com/hookvault/hookvault/internal/models"
)

// Limits on a single captured request.
const (
	MaxPathLen       = 2048
	MaxHeaderCount   = 100
	MaxHeaderKeyLen  = 256
	MaxHeaderValLen  = 8192
	MaxQueryCount    = 100
	MaxBodyBytes     = 100 * 1024
	MaxBatchSize     = 100
	MaxTimestampLag  = 60 * time.Second
	MaxTimestampSkew = 5 * time.Second
)

// Stable error codes.
const (
	CodeInvalidMethod      = "invalid_method"
	CodeInvalidSlug        = "invalid_slug"
	CodeInvalidPath        = "invalid_path"
	CodeInvalidIP          = "invalid_ip"
	CodeInvalidHeaders     = "invalid_headers"
	CodeInvalidQueryParams = "invalid_query_params"
	CodeInvalidTimestamp   = "invalid_timestamp"
	CodeBodyTooLarge       = "body_too_large"
	CodeBatchTooLarge      = "batch_too_large"
)

var (
	slugPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)

	allowedMethods = map[string]struct{}{
		"GET": {}, "POST": {}, "PUT": {}, "PATCH": {},
		"DELETE": {}, "HEAD": {}, "OPTIONS": {},
	}
)

// Error is a single rejected field with its machine code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func newError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Validator checks capture payloads.
type Validator struct {
	validate *validator.Validate
	now      func() time.Time
}

// New creates a validator.
func New() *Validator {
	return &Validator{validate: validator.New(), now: time.Now}
}

// NewWithClock creates a validator with an injected clock for tests.
func NewWithClock(now func() time.Time) *Validator {
	return &Validator{validate: validator.New(), now: now}
}

// Slug checks an endpoint slug taken from the URL.
func (v *Validator) Slug(slug string) *Error {
	if !slugPattern.MatchString(slug) {
		return newError(CodeInvalidSlug, "slug must match [A-Za-z0-9_-]{1,50}")
	}
	return nil
}

// Item checks one captured request. withTimestamp additionally enforces the
// freshness window on ReceivedAt; single captures skip it because they are
// stamped at insert time.
func (v *Validator) Item(item models.CaptureItem, withTimestamp bool) *Error {
	if err := v.validate.Struct(item); err != nil {
		return newError(CodeInvalidPath, "missing required fields: %v", err)
	}
	if _, ok := allowedMethods[item.Method]; !ok {
		return newError(CodeInvalidMethod, "method %q is not allowed", item.Method)
	}
	if len(item.Path) > MaxPathLen || item.Path[0] != '/' {
		return newError(CodeInvalidPath, "path must start with / and be at most %d bytes", MaxPathLen)
	}
	if net.ParseIP(item.IP) == nil {
		return newError(CodeInvalidIP, "ip %q is not a valid address", item.IP)
	}
	if err := checkHeaders(item.Headers); err != nil {
		return err
	}
	if len(item.QueryParams) > MaxQueryCount {
		return newError(CodeInvalidQueryParams, "at most %d query parameters", MaxQueryCount)
	}
	if len(item.Body) > MaxBodyBytes {
		return newError(CodeBodyTooLarge, "body exceeds %d bytes", MaxBodyBytes)
	}
	if withTimestamp {
		if err := v.checkTimestamp(item.ReceivedAt); err != nil {
			return err
		}
	}
	return nil
}

// Batch checks a batch capture payload: the batch size, then every item
// including its timestamp.
func (v *Validator) Batch(items []models.CaptureItem) *Error {
	if len(items) == 0 {
		return newError(CodeBatchTooLarge, "batch must not be empty")
	}
	if len(items) > MaxBatchSize {
		return newError(CodeBatchTooLarge, "batch of %d exceeds limit %d", len(items), MaxBatchSize)
	}
	for i, item := range items {
		if err := v.Item(item, true); err != nil {
			return newError(err.Code, "item %d: %s", i, err.Message)
		}
	}
	return nil
}

func checkHeaders(headers map[string]string) *Error {
	if len(headers) > MaxHeaderCount {
		return newError(CodeInvalidHeaders, "at most %d headers", MaxHeaderCount)
	}
	for k, val := range headers {
		if len(k) == 0 || len(k) > MaxHeaderKeyLen {
			return newError(CodeInvalidHeaders, "header key length must be 1..%d", MaxHeaderKeyLen)
		}
		if len(val) > MaxHeaderValLen {
			return newError(CodeInvalidHeaders, "header value exceeds %d bytes", MaxHeaderValLen)
		}
	}
	return nil
}

// checkTimestamp enforces the freshness window: a batch item may lag up to
// MaxTimestampLag behind now and lead by at most MaxTimestampSkew of clock
// skew.
func (v *Validator) checkTimestamp(receivedAt int64) *Error {
	if receivedAt <= 0 {
		return newError(CodeInvalidTimestamp, "receivedAt is required for batch items")
	}
	now := v.now()
	ts := time.UnixMilli(receivedAt)
	if ts.Before(now.Add(-MaxTimestampLag)) || ts.After(now.Add(MaxTimestampSkew)) {
		return newError(CodeInvalidTimestamp, "receivedAt outside the accepted window")
	}
	return nil
}
