// Package scheduler turns wall-clock time into queue traffic. It owns every
// ticker in the system: sweep kickoffs, the daily billing reconciliation, and
// the promotion of stored timed tasks whose run_at has passed. Nothing here
// mutates domain state directly; each tick only publishes task messages.
package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hookvault/hookvault/internal/lib/sl"
	"github.com/hookvault/hookvault/internal/models"
	"github.com/hookvault/hookvault/internal/tasks"
)

// Tick intervals. Expiry runs often because ephemeral endpoints should stop
// answering soon after their TTL; retention and billing are daily sweeps.
const (
	ExpiryInterval    = 5 * time.Minute
	RetentionInterval = 24 * time.Hour
	BillingInterval   = 24 * time.Hour
	PromoteInterval   = time.Minute

	promoteBatchSize = 100
)

// TaskRepository is the slice of storage holding timed tasks.
type TaskRepository interface {
	ListDueTasks(ctx context.Context, now time.Time, limit int) ([]*models.DeferredTask, error)
	DeleteDeferredTask(ctx context.Context, taskID string) error
}

// TaskPublisher pushes promoted and kicked-off tasks onto the queue.
type TaskPublisher interface {
	Publish(routingKey string, message any) error
}

type SchedulerService struct {
	repo TaskRepository
	pub  TaskPublisher
	log  *slog.Logger
	now  func() time.Time
}

func NewSchedulerService(repo TaskRepository, pub TaskPublisher, log *slog.Logger) *SchedulerService {
	return &SchedulerService{repo: repo, pub: pub, log: log, now: time.Now}
}

// RunExpirySweeps kicks off the expired-endpoint sweep on every tick. The
// sweep itself paginates through its own continuations, so the kickoff is a
// single unscoped task.
func (s *SchedulerService) RunExpirySweeps(ctx context.Context) {
	s.runExpiryKickoff()

	ticker := time.NewTicker(ExpiryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runExpiryKickoff()
		}
	}
}

func (s *SchedulerService) runExpiryKickoff() {
	s.log.Info("starting expired endpoint sweep")
	err := s.pub.Publish(tasks.KeyReaper, tasks.ReaperTask{Sweep: tasks.SweepExpiry})
	if err != nil {
		s.log.Error("failed to kick off expiry sweep", sl.Err(err))
	}
}

// RunRetentionSweeps kicks off one retention sweep per plan daily. The
// cutoff is computed by the worker at execution time, so a message sitting in
// the queue does not carry a stale cutoff.
func (s *SchedulerService) RunRetentionSweeps(ctx context.Context) {
	s.runRetentionKickoff()

	ticker := time.NewTicker(RetentionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runRetentionKickoff()
		}
	}
}

func (s *SchedulerService) runRetentionKickoff() {
	s.log.Info("starting retention sweeps")
	for _, plan := range []string{models.PlanFree, models.PlanPro} {
		err := s.pub.Publish(tasks.KeyReaper, tasks.ReaperTask{
			Sweep: tasks.SweepRetention,
			Plan:  plan,
		})
		if err != nil {
			s.log.Error("failed to kick off retention sweep",
				slog.String("plan", plan), sl.Err(err))
		}
	}
}

// RunBillingReconciliation kicks off the daily pro-period reconciliation.
func (s *SchedulerService) RunBillingReconciliation(ctx context.Context) {
	s.runBillingKickoff()

	ticker := time.NewTicker(BillingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runBillingKickoff()
		}
	}
}

func (s *SchedulerService) runBillingKickoff() {
	s.log.Info("starting billing reconciliation")
	if err := s.pub.Publish(tasks.KeyBilling, tasks.BillingReconcileTask{}); err != nil {
		s.log.Error("failed to kick off billing reconciliation", sl.Err(err))
	}
}

// RunTaskPromotion moves stored timed tasks onto the queue once their run_at
// passes. The row is deleted only after a successful publish; a crash in
// between re-promotes the task, and the handlers behind it are idempotent.
func (s *SchedulerService) RunTaskPromotion(ctx context.Context) {
	s.runPromoteDueTasks(ctx)

	ticker := time.NewTicker(PromoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runPromoteDueTasks(ctx)
		}
	}
}

func (s *SchedulerService) runPromoteDueTasks(ctx context.Context) {
	due, err := s.repo.ListDueTasks(ctx, s.now(), promoteBatchSize)
	if err != nil {
		s.log.Error("failed to list due tasks", sl.Err(err))
		return
	}
	if len(due) == 0 {
		return
	}
	s.log.Info("promoting due tasks", slog.Int("count", len(due)))

	for _, task := range due {
		key, ok := tasks.RoutingKeyForKind(task.Kind)
		if !ok {
			s.log.Error("unknown timed task kind, dropping",
				slog.String("task_id", task.ID), slog.String("kind", task.Kind))
			if err := s.repo.DeleteDeferredTask(ctx, task.ID); err != nil {
				s.log.Error("failed to delete unknown task", sl.Err(err))
			}
			continue
		}

		if err := s.pub.Publish(key, json.RawMessage(task.Payload)); err != nil {
			s.log.Error("failed to promote task",
				slog.String("task_id", task.ID), sl.Err(err))
			continue
		}
		if err := s.repo.DeleteDeferredTask(ctx, task.ID); err != nil {
			s.log.Error("failed to delete promoted task",
				slog.String("task_id", task.ID), sl.Err(err))
		}
	}
}
