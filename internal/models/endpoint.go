package models

import "time"

// MockResponse is what the endpoint answers to whoever sends the webhook.
type MockResponse struct {
	Status  int               `json:"status"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
}

// DefaultMockResponse is returned for endpoints with no configured response.
func DefaultMockResponse() *MockResponse {
	return &MockResponse{Status: 200, Body: "OK", Headers: map[string]string{}}
}

// Endpoint is a capture address identified by its slug. An anonymous endpoint
// (nil UserID) is always ephemeral. RequestCount is denormalized and kept
// eventually consistent by the accountant.
type Endpoint struct {
	ID           string
	Slug         string
	UserID       *string
	Name         *string
	IsEphemeral  bool
	ExpiresAt    *time.Time
	MockResponse *MockResponse
	RequestCount int
	CreatedAt    time.Time
}

// Expired reports whether the endpoint's TTL has passed at the given instant.
func (e *Endpoint) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && e.ExpiresAt.Before(now)
}
