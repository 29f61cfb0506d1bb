package accountant_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookvault/hookvault/internal/services/accountant"
	"github.com/hookvault/hookvault/internal/tasks"
)

type mockRepo struct {
	IncrementUsageFunc        func(ctx context.Context, userID string, count int) (int64, error)
	IncrementRequestCountFunc func(ctx context.Context, endpointID string, count int) (int64, error)
	DecrementRequestCountFunc func(ctx context.Context, endpointID string, count int) (int64, error)
}

func (m *mockRepo) IncrementUsage(ctx context.Context, userID string, count int) (int64, error) {
	return m.IncrementUsageFunc(ctx, userID, count)
}

func (m *mockRepo) IncrementRequestCount(ctx context.Context, endpointID string, count int) (int64, error) {
	return m.IncrementRequestCountFunc(ctx, endpointID, count)
}

func (m *mockRepo) DecrementRequestCount(ctx context.Context, endpointID string, count int) (int64, error) {
	return m.DecrementRequestCountFunc(ctx, endpointID, count)
}

func makeLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestIncrementUsage(t *testing.T) {
	ctx := context.Background()

	t.Run("passes clamped count", func(t *testing.T) {
		var got int
		repo := &mockRepo{
			IncrementUsageFunc: func(_ context.Context, userID string, count int) (int64, error) {
				require.Equal(t, "user-1", userID)
				got = count
				return 1, nil
			},
		}
		svc := accountant.New(repo, makeLogger())

		require.NoError(t, svc.IncrementUsage(ctx, "user-1", 5000))
		assert.Equal(t, 1000, got)
	})

	t.Run("non-positive count is a no-op", func(t *testing.T) {
		repo := &mockRepo{
			IncrementUsageFunc: func(context.Context, string, int) (int64, error) {
				t.Fatal("repo must not be called")
				return 0, nil
			},
		}
		svc := accountant.New(repo, makeLogger())

		require.NoError(t, svc.IncrementUsage(ctx, "user-1", 0))
		require.NoError(t, svc.IncrementUsage(ctx, "user-1", -3))
	})

	t.Run("deleted user is tolerated", func(t *testing.T) {
		repo := &mockRepo{
			IncrementUsageFunc: func(context.Context, string, int) (int64, error) {
				return 0, nil
			},
		}
		svc := accountant.New(repo, makeLogger())

		require.NoError(t, svc.IncrementUsage(ctx, "gone", 1))
	})
}

func TestDecrementRequestCount(t *testing.T) {
	ctx := context.Background()

	t.Run("clamps oversized decrement", func(t *testing.T) {
		var got int
		repo := &mockRepo{
			DecrementRequestCountFunc: func(_ context.Context, _ string, count int) (int64, error) {
				got = count
				return 1, nil
			},
		}
		svc := accountant.New(repo, makeLogger())

		require.NoError(t, svc.DecrementRequestCount(ctx, "ep-1", 99999))
		assert.Equal(t, 1000, got)
	})

	t.Run("zero decrement has no effect", func(t *testing.T) {
		repo := &mockRepo{
			DecrementRequestCountFunc: func(context.Context, string, int) (int64, error) {
				t.Fatal("repo must not be called")
				return 0, nil
			},
		}
		svc := accountant.New(repo, makeLogger())

		require.NoError(t, svc.DecrementRequestCount(ctx, "ep-1", 0))
	})
}

func TestExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("dispatches by op", func(t *testing.T) {
		var calledOp string
		repo := &mockRepo{
			IncrementUsageFunc: func(context.Context, string, int) (int64, error) {
				calledOp = tasks.OpIncrementUsage
				return 1, nil
			},
			IncrementRequestCountFunc: func(context.Context, string, int) (int64, error) {
				calledOp = tasks.OpIncrementRequestCount
				return 1, nil
			},
		}
		svc := accountant.New(repo, makeLogger())

		require.NoError(t, svc.Execute(ctx, tasks.AccountingTask{Op: tasks.OpIncrementUsage, UserID: "u", Count: 1}))
		assert.Equal(t, tasks.OpIncrementUsage, calledOp)

		require.NoError(t, svc.Execute(ctx, tasks.AccountingTask{Op: tasks.OpIncrementRequestCount, EndpointID: "e", Count: 2}))
		assert.Equal(t, tasks.OpIncrementRequestCount, calledOp)
	})

	t.Run("unknown op errors", func(t *testing.T) {
		svc := accountant.New(&mockRepo{}, makeLogger())
		err := svc.Execute(ctx, tasks.AccountingTask{Op: "explode"})
		require.Error(t, err)
	})

	t.Run("storage error propagates", func(t *testing.T) {
		repo := &mockRepo{
			IncrementUsageFunc: func(context.Context, string, int) (int64, error) {
				return 0, errors.New("db down")
			},
		}
		svc := accountant.New(repo, makeLogger())
		err := svc.Execute(ctx, tasks.AccountingTask{Op: tasks.OpIncrementUsage, UserID: "u", Count: 1})
		require.Error(t, err)
	})
}
