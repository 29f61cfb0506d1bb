// Package accountant applies the deferred counter adjustments scheduled by
// the capture pipeline and the reaper. Every operation is an additive,
// clamped patch on a single row, so duplicated or reordered deliveries across
// owners are harmless.
package accountant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hookvault/hookvault/internal/tasks"
)

// MaxDelta clamps a single adjustment. A batch capture contributes at most
// one task of at most this size per counter.
const MaxDelta = 1000

// Repository is the slice of storage the accountant needs.
type Repository interface {
	IncrementUsage(ctx context.Context, userID string, count int) (int64, error)
	IncrementRequestCount(ctx context.Context, endpointID string, count int) (int64, error)
	DecrementRequestCount(ctx context.Context, endpointID string, count int) (int64, error)
}

// Service executes accounting tasks.
type Service struct {
	repo Repository
	log  *slog.Logger
}

// New creates an accountant service.
func New(repo Repository, log *slog.Logger) *Service {
	return &Service{repo: repo, log: log}
}

func clamp(count int) int {
	if count > MaxDelta {
		return MaxDelta
	}
	return count
}

// IncrementUsage adds count to a user's usage counter. Non-positive counts
// and deleted users are silent no-ops.
func (s *Service) IncrementUsage(ctx context.Context, userID string, count int) error {
	if count <= 0 {
		return nil
	}
	rows, err := s.repo.IncrementUsage(ctx, userID, clamp(count))
	if err != nil {
		return err
	}
	if rows == 0 {
		// Deleted user; intentionally tolerated.
		s.log.Debug("usage increment skipped, user gone", slog.String("user_id", userID))
	}
	return nil
}

// IncrementRequestCount adds count to an endpoint's denormalized counter.
// Non-positive counts and deleted endpoints are silent no-ops.
func (s *Service) IncrementRequestCount(ctx context.Context, endpointID string, count int) error {
	if count <= 0 {
		return nil
	}
	rows, err := s.repo.IncrementRequestCount(ctx, endpointID, clamp(count))
	if err != nil {
		return err
	}
	if rows == 0 {
		s.log.Debug("request count increment skipped, endpoint gone", slog.String("endpoint_id", endpointID))
	}
	return nil
}

// DecrementRequestCount subtracts count from an endpoint's counter, flooring
// at zero regardless of magnitude.
func (s *Service) DecrementRequestCount(ctx context.Context, endpointID string, count int) error {
	if count <= 0 {
		return nil
	}
	rows, err := s.repo.DecrementRequestCount(ctx, endpointID, clamp(count))
	if err != nil {
		return err
	}
	if rows == 0 {
		s.log.Debug("request count decrement skipped, endpoint gone", slog.String("endpoint_id", endpointID))
	}
	return nil
}

// Execute dispatches one accounting task from the queue.
func (s *Service) Execute(ctx context.Context, task tasks.AccountingTask) error {
	switch task.Op {
	case tasks.OpIncrementUsage:
		return s.IncrementUsage(ctx, task.UserID, task.Count)
	case tasks.OpIncrementRequestCount:
		return s.IncrementRequestCount(ctx, task.EndpointID, task.Count)
	case tasks.OpDecrementRequestCount:
		return s.DecrementRequestCount(ctx, task.EndpointID, task.Count)
	default:
		return fmt.Errorf("unknown accounting op: %s", task.Op)
	}
}
