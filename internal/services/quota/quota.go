// Package quota computes remaining request quota for a slug and manages free
// users' lazily-activated quota periods. Reads never touch a write lock:
// quota is always recomputed from current user and endpoint state, and the
// only mutation lives in CheckAndStartPeriod behind a single conditional
// update.
package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hookvault/hookvault/internal/lib/sl"
	"github.com/hookvault/hookvault/internal/models"
	"github.com/hookvault/hookvault/internal/tasks"
)

// Repository is the slice of storage the quota service needs.
type Repository interface {
	GetEndpointBySlug(ctx context.Context, slug string) (*models.Endpoint, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
	ActivateFreePeriod(ctx context.Context, userID string, start, end time.Time) (bool, error)
	ResetFreePeriod(ctx context.Context, userID string) (bool, error)
	InsertDeferredTask(ctx context.Context, kind string, payload []byte, runAt time.Time) (string, error)
}

// TaskPublisher schedules deferred work.
type TaskPublisher interface {
	Publish(routingKey string, message any) error
}

// Service answers quota questions and activates free periods.
type Service struct {
	repo Repository
	pub  TaskPublisher
	log  *slog.Logger
	now  func() time.Time
}

// New creates a quota service.
func New(repo Repository, pub TaskPublisher, log *slog.Logger) *Service {
	return &Service{repo: repo, pub: pub, log: log, now: time.Now}
}

// NewWithClock creates a quota service with an injected clock for tests.
func NewWithClock(repo Repository, pub TaskPublisher, log *slog.Logger, now func() time.Time) *Service {
	return &Service{repo: repo, pub: pub, log: log, now: now}
}

// GetQuota is a pure read: it resolves the slug and computes the remaining
// quota from endpoint and owner state. It never mutates anything, so
// concurrent capture traffic never contends on a write lock just to read.
func (s *Service) GetQuota(ctx context.Context, slug string) (*models.QuotaSnapshot, error) {
	const op = "quota.GetQuota"

	endpoint, err := s.repo.GetEndpointBySlug(ctx, slug)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if endpoint.UserID == nil {
		// Anonymous endpoints are ephemeral with a fixed cap. A non-ephemeral
		// anonymous endpoint should not exist; it falls through to the same
		// capped answer rather than unlimited.
		plan := models.PlanEphemeral
		remaining := int64(models.EphemeralRequestLimit - endpoint.RequestCount)
		if remaining < 0 {
			remaining = 0
		}
		return &models.QuotaSnapshot{
			Remaining: remaining,
			Limit:     models.EphemeralRequestLimit,
			PeriodEnd: models.EpochMillisPtr(endpoint.ExpiresAt),
			Plan:      &plan,
		}, nil
	}

	user, err := s.repo.GetUser(ctx, *endpoint.UserID)
	if errors.Is(err, models.ErrNotFound) {
		// Owner row is gone (account deletion racing in-flight traffic).
		// Fail open with the unlimited sentinel instead of blocking an
		// orphan that is about to be reaped anyway.
		return &models.QuotaSnapshot{
			UserID:    *endpoint.UserID,
			Remaining: models.UnlimitedQuota,
			Limit:     models.UnlimitedQuota,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	if user.Plan == models.PlanFree && (user.PeriodEnd == nil || !user.PeriodEnd.After(now)) {
		// No active period. Report the full limit optimistically; the real
		// admission decision happens in CheckAndStartPeriod.
		return &models.QuotaSnapshot{
			UserID:           user.ID,
			Remaining:        int64(user.RequestLimit),
			Limit:            int64(user.RequestLimit),
			Plan:             &user.Plan,
			NeedsPeriodStart: true,
		}, nil
	}

	remaining := int64(user.RequestLimit - user.RequestsUsed)
	if remaining < 0 {
		remaining = 0
	}
	return &models.QuotaSnapshot{
		UserID:    user.ID,
		Remaining: remaining,
		Limit:     int64(user.RequestLimit),
		PeriodEnd: models.EpochMillisPtr(user.PeriodEnd),
		Plan:      &user.Plan,
	}, nil
}

// CheckAndStartPeriod lazily activates a free user's quota period. Safe under
// concurrent calls: activation is one conditional update, and a caller that
// loses the race simply observes the period the winner started. For pro users
// it is a pass-through read.
func (s *Service) CheckAndStartPeriod(ctx context.Context, userID string) (*models.PeriodCheck, error) {
	const op = "quota.CheckAndStartPeriod"

	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if user.Plan != models.PlanFree {
		return currentCheck(user), nil
	}

	now := s.now()
	if user.PeriodEnd != nil && user.PeriodEnd.After(now) {
		return s.checkActivePeriod(user, now)
	}

	start := now
	end := now.Add(models.FreePeriod)
	activated, err := s.repo.ActivateFreePeriod(ctx, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !activated {
		// Lost the activation race (or the plan changed underneath us).
		// Re-read and answer from whatever period is now in place.
		user, err = s.repo.GetUser(ctx, userID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return nil, models.ErrNotFound
			}
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if user.Plan != models.PlanFree || user.PeriodEnd == nil {
			return currentCheck(user), nil
		}
		return s.checkActivePeriod(user, now)
	}

	s.schedulePeriodReset(ctx, userID, end)

	endMs := end.UnixMilli()
	return &models.PeriodCheck{
		Remaining: int64(user.RequestLimit),
		Limit:     int64(user.RequestLimit),
		PeriodEnd: &endMs,
	}, nil
}

func currentCheck(user *models.User) *models.PeriodCheck {
	remaining := int64(user.RequestLimit - user.RequestsUsed)
	if remaining < 0 {
		remaining = 0
	}
	return &models.PeriodCheck{
		Remaining: remaining,
		Limit:     int64(user.RequestLimit),
		PeriodEnd: models.EpochMillisPtr(user.PeriodEnd),
	}
}

func (s *Service) checkActivePeriod(user *models.User, now time.Time) (*models.PeriodCheck, error) {
	if user.RequestsUsed >= user.RequestLimit {
		return nil, &models.QuotaExceededError{RetryAfter: user.PeriodEnd.Sub(now)}
	}
	return currentCheck(user), nil
}

// schedulePeriodReset stores the timed reset task firing at periodEnd.
// Failure to schedule is logged, not fatal: the next capture after the stale
// period re-activates it through the same lazy path.
func (s *Service) schedulePeriodReset(ctx context.Context, userID string, end time.Time) {
	payload, err := json.Marshal(tasks.PeriodResetTask{UserID: userID})
	if err != nil {
		s.log.Error("failed to marshal period reset task", sl.Err(err))
		return
	}
	if _, err := s.repo.InsertDeferredTask(ctx, tasks.KindPeriodReset, payload, end); err != nil {
		s.log.Error("failed to schedule period reset",
			slog.String("user_id", userID), sl.Err(err))
	}
}

// ResetPeriod runs when the timed reset fires: it returns a still-free user
// to the lazy "no period" state and kicks a retention drain of that user's
// stored requests. Deleted or upgraded users are a no-op.
func (s *Service) ResetPeriod(ctx context.Context, userID string) error {
	const op = "quota.ResetPeriod"

	reset, err := s.repo.ResetFreePeriod(ctx, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !reset {
		s.log.Debug("period reset skipped, user gone or upgraded", slog.String("user_id", userID))
		return nil
	}

	err = s.pub.Publish(tasks.KeyReaper, tasks.ReaperTask{
		Sweep:  tasks.SweepRetention,
		Plan:   models.PlanFree,
		UserID: userID,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
