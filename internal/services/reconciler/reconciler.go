// Package reconciler rolls paid billing periods forward. It is the safety
// net under the payment provider's webhooks: a pro user whose period lapsed
// without a renewal event is either downgraded (cancellation honored at the
// period boundary) or rolled into the next cycle anchored on the previous
// period's end, so drift never accumulates across delayed runs.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hookvault/hookvault/internal/lib/sl"
	"github.com/hookvault/hookvault/internal/models"
	"github.com/hookvault/hookvault/internal/tasks"
)

// PageSize bounds one reconciliation pass.
const PageSize = 25

// Repository is the slice of storage the reconciler needs.
type Repository interface {
	ListProUsersWithExpiredPeriod(ctx context.Context, now time.Time, cursor string, limit int) ([]*models.User, error)
	DowngradeUser(ctx context.Context, userID string, requestLimit int) error
	RollProPeriod(ctx context.Context, userID string, newStart, newEnd time.Time) error
}

// TaskPublisher republishes cursor continuations.
type TaskPublisher interface {
	Publish(routingKey string, message any) error
}

// Service reconciles lapsed pro billing periods.
type Service struct {
	repo Repository
	pub  TaskPublisher
	log  *slog.Logger
	now  func() time.Time
}

// New creates a reconciler service.
func New(repo Repository, pub TaskPublisher, log *slog.Logger) *Service {
	return &Service{repo: repo, pub: pub, log: log, now: time.Now}
}

// NewWithClock creates a reconciler service with an injected clock for tests.
func NewWithClock(repo Repository, pub TaskPublisher, log *slog.Logger, now func() time.Time) *Service {
	return &Service{repo: repo, pub: pub, log: log, now: now}
}

// Run processes one page of pro users whose period end has passed. A full
// page republishes a cursor continuation so one invocation stays bounded.
func (s *Service) Run(ctx context.Context, task tasks.BillingReconcileTask) error {
	const op = "reconciler.Run"

	users, err := s.repo.ListProUsersWithExpiredPeriod(ctx, s.now(), task.Cursor, PageSize)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if len(users) == 0 {
		return nil
	}

	for _, u := range users {
		if err := s.reconcile(ctx, u); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	if len(users) == PageSize {
		err := s.pub.Publish(tasks.KeyBilling, tasks.BillingReconcileTask{
			Cursor: users[len(users)-1].ID,
		})
		if err != nil {
			s.log.Error("failed to reschedule billing reconciliation", sl.Err(err))
		}
	}
	return nil
}

func (s *Service) reconcile(ctx context.Context, u *models.User) error {
	if u.CancelAtPeriodEnd {
		s.log.Info("downgrading canceled pro user", slog.String("user_id", u.ID))
		return s.repo.DowngradeUser(ctx, u.ID, models.FreeRequestLimit)
	}

	// Anchor the next cycle on the old period end, not on now, so a late
	// run does not shift every subsequent boundary.
	newStart := *u.PeriodEnd
	newEnd := newStart.Add(models.BillingCycle)
	s.log.Info("rolling pro billing period",
		slog.String("user_id", u.ID),
		slog.Time("new_end", newEnd))
	return s.repo.RollProPeriod(ctx, u.ID, newStart, newEnd)
}
