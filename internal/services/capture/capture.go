// Package capture persists inbound webhook traffic. Admission is decided
// upstream by the quota oracle and period activator; this pipeline trusts its
// caller and focuses on durable, low-contention writes. Counter updates are
// never performed inline: they are published as accounting tasks so burst
// traffic against one owner degrades to a backlog of cheap patches instead of
// a storm of row conflicts.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hookvault/hookvault/internal/lib/sl"
	"github.com/hookvault/hookvault/internal/metrics"
	"github.com/hookvault/hookvault/internal/models"
	"github.com/hookvault/hookvault/internal/tasks"
)

// MaxBatchSize caps one batch capture call.
const MaxBatchSize = 100

// Limits on stored mock response headers, matching what receivers accept.
const (
	maxMockHeaderKeyLen   = 256
	maxMockHeaderValueLen = 8192
)

// Repository is the slice of storage the pipeline needs.
type Repository interface {
	GetEndpointBySlug(ctx context.Context, slug string) (*models.Endpoint, error)
	InsertRequest(ctx context.Context, r *models.Request) error
	InsertRequests(ctx context.Context, requests []*models.Request) error
}

// TaskPublisher schedules the deferred accounting adjustments.
type TaskPublisher interface {
	Publish(routingKey string, message any) error
}

// Service stores captured traffic and answers with the endpoint's mock
// response.
type Service struct {
	repo Repository
	pub  TaskPublisher
	log  *slog.Logger
	now  func() time.Time
}

// New creates a capture service.
func New(repo Repository, pub TaskPublisher, log *slog.Logger) *Service {
	return &Service{repo: repo, pub: pub, log: log, now: time.Now}
}

// NewWithClock creates a capture service with an injected clock for tests.
func NewWithClock(repo Repository, pub TaskPublisher, log *slog.Logger, now func() time.Time) *Service {
	return &Service{repo: repo, pub: pub, log: log, now: now}
}

// Capture stores a single webhook request and returns the endpoint's mock
// response. Expired endpoints reject without writing anything.
func (s *Service) Capture(ctx context.Context, slug string, item models.CaptureItem) (*models.MockResponse, error) {
	const op = "capture.Capture"

	endpoint, err := s.resolve(ctx, slug)
	if err != nil {
		return nil, err
	}

	now := s.now()
	r := buildRequest(endpoint.ID, item, now)
	if err := s.repo.InsertRequest(ctx, r); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	metrics.CapturesTotal.WithLabelValues("single").Inc()

	s.scheduleAccounting(endpoint, 1)

	return mockResponseFor(endpoint), nil
}

// CaptureBatch stores up to MaxBatchSize requests in one transaction and
// schedules exactly one counter adjustment per counter for the whole batch,
// bounding deferred-task fan-out under high ingest volume. Items carry their
// own receivedAt, validated upstream against the freshness window.
func (s *Service) CaptureBatch(ctx context.Context, slug string, items []models.CaptureItem) (int, *models.MockResponse, error) {
	const op = "capture.CaptureBatch"

	if len(items) == 0 {
		return 0, nil, fmt.Errorf("%s: empty batch", op)
	}
	if len(items) > MaxBatchSize {
		return 0, nil, fmt.Errorf("%s: batch of %d exceeds limit %d", op, len(items), MaxBatchSize)
	}

	endpoint, err := s.resolve(ctx, slug)
	if err != nil {
		return 0, nil, err
	}

	requests := make([]*models.Request, 0, len(items))
	for _, item := range items {
		r := buildRequest(endpoint.ID, item, time.UnixMilli(item.ReceivedAt))
		requests = append(requests, r)
	}
	if err := s.repo.InsertRequests(ctx, requests); err != nil {
		return 0, nil, fmt.Errorf("%s: %w", op, err)
	}
	metrics.CapturesTotal.WithLabelValues("batch").Add(float64(len(requests)))

	s.scheduleAccounting(endpoint, len(requests))

	return len(requests), mockResponseFor(endpoint), nil
}

func (s *Service) resolve(ctx context.Context, slug string) (*models.Endpoint, error) {
	const op = "capture.resolve"

	endpoint, err := s.repo.GetEndpointBySlug(ctx, slug)
	if errors.Is(err, models.ErrNotFound) {
		metrics.CaptureErrorsTotal.WithLabelValues("not_found").Inc()
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if endpoint.Expired(s.now()) {
		metrics.CaptureErrorsTotal.WithLabelValues("expired").Inc()
		return nil, models.ErrExpired
	}
	return endpoint, nil
}

// scheduleAccounting defers the counter increments. The rows are already
// durable at this point; a publish failure only delays counter convergence,
// so it is logged instead of failing the capture (a retry from the receiver
// would duplicate stored rows).
func (s *Service) scheduleAccounting(endpoint *models.Endpoint, count int) {
	err := s.pub.Publish(tasks.KeyAccounting, tasks.AccountingTask{
		Op:         tasks.OpIncrementRequestCount,
		EndpointID: endpoint.ID,
		Count:      count,
	})
	if err != nil {
		s.log.Error("failed to schedule request count increment",
			slog.String("endpoint_id", endpoint.ID), sl.Err(err))
	}

	if endpoint.UserID == nil {
		return
	}
	err = s.pub.Publish(tasks.KeyAccounting, tasks.AccountingTask{
		Op:     tasks.OpIncrementUsage,
		UserID: *endpoint.UserID,
		Count:  count,
	})
	if err != nil {
		s.log.Error("failed to schedule usage increment",
			slog.String("user_id", *endpoint.UserID), sl.Err(err))
	}
}

func buildRequest(endpointID string, item models.CaptureItem, receivedAt time.Time) *models.Request {
	r := &models.Request{
		EndpointID:  endpointID,
		Method:      item.Method,
		Path:        item.Path,
		Headers:     item.Headers,
		QueryParams: item.QueryParams,
		IP:          item.IP,
		Size:        len(item.Body),
		ReceivedAt:  receivedAt,
	}
	if r.Headers == nil {
		r.Headers = map[string]string{}
	}
	if r.QueryParams == nil {
		r.QueryParams = map[string]string{}
	}
	if item.Body != "" {
		body := item.Body
		r.Body = &body
	}
	if ct := contentTypeOf(item.Headers); ct != "" {
		r.ContentType = &ct
	}
	return r
}

// contentTypeOf finds the content type with a case-insensitive header lookup.
func contentTypeOf(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "Content-Type") {
			return v
		}
	}
	return ""
}

// mockResponseFor returns the configured mock response with oversized header
// entries dropped, or the default 200 "OK".
func mockResponseFor(endpoint *models.Endpoint) *models.MockResponse {
	if endpoint.MockResponse == nil {
		return models.DefaultMockResponse()
	}
	mock := &models.MockResponse{
		Status:  endpoint.MockResponse.Status,
		Body:    endpoint.MockResponse.Body,
		Headers: map[string]string{},
	}
	for k, v := range endpoint.MockResponse.Headers {
		if len(k) > maxMockHeaderKeyLen || len(v) > maxMockHeaderValueLen {
			continue
		}
		mock.Headers[k] = v
	}
	return mock
}
