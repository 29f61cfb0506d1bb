// Package reaper implements the self-rescheduling batch sweeps: expired
// endpoint cleanup, plan-scoped retention enforcement, and phase-ordered
// account deletion. A sweep never loops over an unbounded set in one
// invocation; it processes one bounded page, then republishes itself with a
// cursor (or a single-parent scope) until nothing is left.
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hookvault/hookvault/internal/lib/sl"
	"github.com/hookvault/hookvault/internal/metrics"
	"github.com/hookvault/hookvault/internal/models"
	"github.com/hookvault/hookvault/internal/tasks"
)

// Page and batch sizes keep one invocation's writes under the per-operation
// work budget.
const (
	ParentPageSize  = 25
	DeleteBatchSize = 100
)

// Repository is the slice of storage the sweeps need.
type Repository interface {
	ListExpiredEndpoints(ctx context.Context, now time.Time, cursor string, limit int) ([]*models.Endpoint, error)
	DeleteEndpoint(ctx context.Context, endpointID string) error
	DeleteRequestsByEndpoint(ctx context.Context, endpointID string, limit int) (int64, error)
	DeleteRequestsOlderThan(ctx context.Context, endpointID string, cutoff time.Time, limit int) (int64, error)
	ListUserIDsByPlan(ctx context.Context, plan string, cursor string, limit int) ([]string, error)
	ListEndpointsByUser(ctx context.Context, userID string, cursor string, limit int) ([]*models.Endpoint, error)
	DeleteEndpointsByUser(ctx context.Context, userID string, limit int) (int64, error)
	DeleteAPIKeysByUser(ctx context.Context, userID string, limit int) (int64, error)
	DeleteSessionsByUser(ctx context.Context, userID string, limit int) (int64, error)
	DeleteAuthAccountsByUser(ctx context.Context, userID string, limit int) (int64, error)
	DeleteUser(ctx context.Context, userID string) error
}

// TaskPublisher republishes continuations and accounting adjustments.
type TaskPublisher interface {
	Publish(routingKey string, message any) error
}

// CacheInvalidator drops boundary cache entries for deleted endpoints.
type CacheInvalidator interface {
	Invalidate(key string) error
}

// Service runs the sweeps.
type Service struct {
	repo  Repository
	pub   TaskPublisher
	cache CacheInvalidator
	log   *slog.Logger
	now   func() time.Time
}

// New creates a reaper service.
func New(repo Repository, pub TaskPublisher, cache CacheInvalidator, log *slog.Logger) *Service {
	return &Service{repo: repo, pub: pub, cache: cache, log: log, now: time.Now}
}

// NewWithClock creates a reaper service with an injected clock for tests.
func NewWithClock(repo Repository, pub TaskPublisher, cache CacheInvalidator, log *slog.Logger, now func() time.Time) *Service {
	return &Service{repo: repo, pub: pub, cache: cache, log: log, now: now}
}

// Run dispatches one reaper task from the queue.
func (s *Service) Run(ctx context.Context, task tasks.ReaperTask) error {
	switch task.Sweep {
	case tasks.SweepExpiry:
		return s.runExpiry(ctx, task)
	case tasks.SweepRetention:
		return s.runRetention(ctx, task)
	default:
		return fmt.Errorf("unknown sweep: %s", task.Sweep)
	}
}

// runExpiry deletes ephemeral endpoints past their TTL. The endpoint row goes
// on the first pass so the address stops answering immediately; leftover
// requests drain through a zero-delay follow-up scoped to that endpoint.
func (s *Service) runExpiry(ctx context.Context, task tasks.ReaperTask) error {
	const op = "reaper.runExpiry"

	if task.EndpointID != "" {
		return s.drainEndpointRequests(ctx, task.EndpointID)
	}

	endpoints, err := s.repo.ListExpiredEndpoints(ctx, s.now(), task.Cursor, ParentPageSize)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if len(endpoints) == 0 {
		return nil
	}

	for _, e := range endpoints {
		deleted, err := s.repo.DeleteRequestsByEndpoint(ctx, e.ID, DeleteBatchSize)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		metrics.ReapedRequestsTotal.WithLabelValues(tasks.SweepExpiry).Add(float64(deleted))

		if err := s.repo.DeleteEndpoint(ctx, e.ID); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		metrics.ReapedEndpointsTotal.WithLabelValues(tasks.SweepExpiry).Inc()
		s.invalidateEndpoint(e.Slug)

		if deleted == DeleteBatchSize {
			// May have more rows; the endpoint is already gone, a scoped
			// drain finishes the job.
			s.republish(tasks.ReaperTask{Sweep: tasks.SweepExpiry, EndpointID: e.ID})
		}
	}

	if len(endpoints) == ParentPageSize {
		s.republish(tasks.ReaperTask{
			Sweep:  tasks.SweepExpiry,
			Cursor: endpoints[len(endpoints)-1].ID,
		})
	}
	return nil
}

// drainEndpointRequests removes one batch of requests left behind by a
// deleted endpoint, rescheduling itself while full batches keep coming.
func (s *Service) drainEndpointRequests(ctx context.Context, endpointID string) error {
	const op = "reaper.drainEndpointRequests"

	deleted, err := s.repo.DeleteRequestsByEndpoint(ctx, endpointID, DeleteBatchSize)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	metrics.ReapedRequestsTotal.WithLabelValues(tasks.SweepExpiry).Add(float64(deleted))

	if deleted == DeleteBatchSize {
		s.republish(tasks.ReaperTask{Sweep: tasks.SweepExpiry, EndpointID: endpointID})
	}
	return nil
}

// runRetention deletes requests older than the plan's retention cutoff.
// Parents are users on the given plan; a user whose endpoints yielded a full
// batch gets a dedicated follow-up so the next full sweep page is not held
// back. The cutoff is plan-scoped: a free-tier sweep never touches pro data
// and vice versa.
func (s *Service) runRetention(ctx context.Context, task tasks.ReaperTask) error {
	const op = "reaper.runRetention"

	cutoff := s.now().Add(-retentionFor(task.Plan))

	if task.UserID != "" {
		mayHaveMore, err := s.reapUserRetention(ctx, task.UserID, cutoff)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if mayHaveMore {
			s.republish(tasks.ReaperTask{Sweep: tasks.SweepRetention, Plan: task.Plan, UserID: task.UserID})
		}
		return nil
	}

	userIDs, err := s.repo.ListUserIDsByPlan(ctx, task.Plan, task.Cursor, ParentPageSize)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if len(userIDs) == 0 {
		return nil
	}

	for _, userID := range userIDs {
		mayHaveMore, err := s.reapUserRetention(ctx, userID, cutoff)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if mayHaveMore {
			s.republish(tasks.ReaperTask{Sweep: tasks.SweepRetention, Plan: task.Plan, UserID: userID})
		}
	}

	if len(userIDs) == ParentPageSize {
		s.republish(tasks.ReaperTask{
			Sweep:  tasks.SweepRetention,
			Plan:   task.Plan,
			Cursor: userIDs[len(userIDs)-1],
		})
	}
	return nil
}

// reapUserRetention walks one user's endpoints and deletes up to one batch of
// over-retention requests per endpoint, deferring the matching counter
// decrement. Reports whether any endpoint yielded a full batch.
func (s *Service) reapUserRetention(ctx context.Context, userID string, cutoff time.Time) (bool, error) {
	mayHaveMore := false
	cursor := ""
	for {
		endpoints, err := s.repo.ListEndpointsByUser(ctx, userID, cursor, ParentPageSize)
		if err != nil {
			return false, err
		}
		if len(endpoints) == 0 {
			return mayHaveMore, nil
		}
		for _, e := range endpoints {
			deleted, err := s.repo.DeleteRequestsOlderThan(ctx, e.ID, cutoff, DeleteBatchSize)
			if err != nil {
				return false, err
			}
			if deleted > 0 {
				metrics.ReapedRequestsTotal.WithLabelValues(tasks.SweepRetention).Add(float64(deleted))
				s.publishDecrement(e.ID, int(deleted))
			}
			if deleted == DeleteBatchSize {
				mayHaveMore = true
			}
		}
		if len(endpoints) < ParentPageSize {
			return mayHaveMore, nil
		}
		cursor = endpoints[len(endpoints)-1].ID
	}
}

func retentionFor(plan string) time.Duration {
	if plan == models.PlanPro {
		return models.ProRetention
	}
	return models.FreeRetention
}

func (s *Service) publishDecrement(endpointID string, count int) {
	err := s.pub.Publish(tasks.KeyAccounting, tasks.AccountingTask{
		Op:         tasks.OpDecrementRequestCount,
		EndpointID: endpointID,
		Count:      count,
	})
	if err != nil {
		s.log.Error("failed to schedule request count decrement",
			slog.String("endpoint_id", endpointID), sl.Err(err))
	}
}

func (s *Service) republish(task tasks.ReaperTask) {
	if err := s.pub.Publish(tasks.KeyReaper, task); err != nil {
		s.log.Error("failed to reschedule sweep",
			slog.String("sweep", task.Sweep), sl.Err(err))
	}
}

func (s *Service) invalidateEndpoint(slug string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate("endpoint:" + slug); err != nil {
		s.log.Warn("failed to invalidate endpoint cache",
			slog.String("slug", slug), sl.Err(err))
	}
}
