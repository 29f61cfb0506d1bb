package reconciler_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookvault/hookvault/internal/models"
	"github.com/hookvault/hookvault/internal/services/reconciler"
	"github.com/hookvault/hookvault/internal/tasks"
)

type mockRepo struct {
	ListProUsersWithExpiredPeriodFunc func(ctx context.Context, now time.Time, cursor string, limit int) ([]*models.User, error)
	DowngradeUserFunc                 func(ctx context.Context, userID string, requestLimit int) error
	RollProPeriodFunc                 func(ctx context.Context, userID string, newStart, newEnd time.Time) error
}

func (m *mockRepo) ListProUsersWithExpiredPeriod(ctx context.Context, now time.Time, cursor string, limit int) ([]*models.User, error) {
	return m.ListProUsersWithExpiredPeriodFunc(ctx, now, cursor, limit)
}

func (m *mockRepo) DowngradeUser(ctx context.Context, userID string, requestLimit int) error {
	return m.DowngradeUserFunc(ctx, userID, requestLimit)
}

func (m *mockRepo) RollProPeriod(ctx context.Context, userID string, newStart, newEnd time.Time) error {
	return m.RollProPeriodFunc(ctx, userID, newStart, newEnd)
}

type mockPublisher struct {
	published []tasks.BillingReconcileTask
}

func (m *mockPublisher) Publish(_ string, message any) error {
	m.published = append(m.published, message.(tasks.BillingReconcileTask))
	return nil
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newService(repo *mockRepo, pub *mockPublisher) *reconciler.Service {
	log := slog.New(slog.DiscardHandler)
	return reconciler.NewWithClock(repo, pub, log, func() time.Time { return testNow })
}

func timePtr(t time.Time) *time.Time { return &t }

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("rolls the period anchored on the old end", func(t *testing.T) {
		oldEnd := testNow.Add(-2 * time.Hour)
		var gotStart, gotEnd time.Time
		repo := &mockRepo{
			ListProUsersWithExpiredPeriodFunc: func(context.Context, time.Time, string, int) ([]*models.User, error) {
				return []*models.User{{ID: "user-1", Plan: models.PlanPro, PeriodEnd: timePtr(oldEnd)}}, nil
			},
			RollProPeriodFunc: func(_ context.Context, _ string, newStart, newEnd time.Time) error {
				gotStart, gotEnd = newStart, newEnd
				return nil
			},
		}
		svc := newService(repo, &mockPublisher{})

		require.NoError(t, svc.Run(ctx, tasks.BillingReconcileTask{}))
		assert.Equal(t, oldEnd, gotStart)
		assert.Equal(t, oldEnd.Add(models.BillingCycle), gotEnd)
	})

	t.Run("honors cancel at period end with a downgrade", func(t *testing.T) {
		var downgraded string
		var gotLimit int
		repo := &mockRepo{
			ListProUsersWithExpiredPeriodFunc: func(context.Context, time.Time, string, int) ([]*models.User, error) {
				return []*models.User{{
					ID:                "user-1",
					Plan:              models.PlanPro,
					PeriodEnd:         timePtr(testNow.Add(-time.Hour)),
					CancelAtPeriodEnd: true,
				}}, nil
			},
			DowngradeUserFunc: func(_ context.Context, userID string, requestLimit int) error {
				downgraded = userID
				gotLimit = requestLimit
				return nil
			},
			RollProPeriodFunc: func(context.Context, string, time.Time, time.Time) error {
				t.Fatal("canceled user must not be rolled forward")
				return nil
			},
		}
		svc := newService(repo, &mockPublisher{})

		require.NoError(t, svc.Run(ctx, tasks.BillingReconcileTask{}))
		assert.Equal(t, "user-1", downgraded)
		assert.Equal(t, models.FreeRequestLimit, gotLimit)
	})

	t.Run("full page schedules a cursor continuation", func(t *testing.T) {
		page := make([]*models.User, reconciler.PageSize)
		for i := range page {
			page[i] = &models.User{ID: "user", PeriodEnd: timePtr(testNow.Add(-time.Hour))}
		}
		page[len(page)-1].ID = "user-last"
		repo := &mockRepo{
			ListProUsersWithExpiredPeriodFunc: func(_ context.Context, _ time.Time, cursor string, _ int) ([]*models.User, error) {
				require.Empty(t, cursor)
				return page, nil
			},
			RollProPeriodFunc: func(context.Context, string, time.Time, time.Time) error { return nil },
		}
		pub := &mockPublisher{}
		svc := newService(repo, pub)

		require.NoError(t, svc.Run(ctx, tasks.BillingReconcileTask{}))
		require.Len(t, pub.published, 1)
		assert.Equal(t, "user-last", pub.published[0].Cursor)
	})

	t.Run("empty page does nothing", func(t *testing.T) {
		repo := &mockRepo{
			ListProUsersWithExpiredPeriodFunc: func(context.Context, time.Time, string, int) ([]*models.User, error) {
				return nil, nil
			},
		}
		pub := &mockPublisher{}
		svc := newService(repo, pub)

		require.NoError(t, svc.Run(ctx, tasks.BillingReconcileTask{}))
		assert.Empty(t, pub.published)
	})
}
