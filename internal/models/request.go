package models

import "time"

// Request is a captured webhook. Immutable once written; deleted only by the
// reaper. It may briefly outlive its endpoint, which is tolerated and reaped
// asynchronously.
type Request struct {
	ID          string
	EndpointID  string
	Method      string
	Path        string
	Headers     map[string]string
	Body        *string
	QueryParams map[string]string
	ContentType *string
	IP          string
	Size        int
	ReceivedAt  time.Time
}

// CaptureItem is one inbound request as handed over by the receiver.
// ReceivedAt is epoch milliseconds and only meaningful for batch captures;
// single captures are stamped at insert time.
type CaptureItem struct {
	Method      string            `json:"method" validate:"required"`
	Path        string            `json:"path" validate:"required"`
	Headers     map[string]string `json:"headers"`
	Body        string            `json:"body,omitempty"`
	QueryParams map[string]string `json:"queryParams"`
	IP          string            `json:"ip" validate:"required"`
	ReceivedAt  int64             `json:"receivedAt,omitempty"`
}
