package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/hookvault/hookvault/internal/models"
	"github.com/hookvault/hookvault/internal/tasks"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) ListDueTasks(ctx context.Context, now time.Time, limit int) ([]*models.DeferredTask, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.DeferredTask), args.Error(1)
}

func (m *MockRepository) DeleteDeferredTask(ctx context.Context, taskID string) error {
	args := m.Called(ctx, taskID)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(routingKey string, message any) error {
	args := m.Called(routingKey, message)
	return args.Error(0)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func newService(repo *MockRepository, pub *MockPublisher) *SchedulerService {
	svc := NewSchedulerService(repo, pub, newNoopLogger())
	svc.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return svc
}

func TestRunExpiryKickoff(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("Publish", tasks.KeyReaper, tasks.ReaperTask{Sweep: tasks.SweepExpiry}).Return(nil).Once()

	svc := newService(new(MockRepository), pub)
	svc.runExpiryKickoff()

	pub.AssertExpectations(t)
}

func TestRunRetentionKickoff(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("Publish", tasks.KeyReaper, tasks.ReaperTask{Sweep: tasks.SweepRetention, Plan: models.PlanFree}).Return(nil).Once()
	pub.On("Publish", tasks.KeyReaper, tasks.ReaperTask{Sweep: tasks.SweepRetention, Plan: models.PlanPro}).Return(nil).Once()

	svc := newService(new(MockRepository), pub)
	svc.runRetentionKickoff()

	pub.AssertExpectations(t)
}

func TestRunBillingKickoff(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("Publish", tasks.KeyBilling, tasks.BillingReconcileTask{}).Return(nil).Once()

	svc := newService(new(MockRepository), pub)
	svc.runBillingKickoff()

	pub.AssertExpectations(t)
}

func TestRunPromoteDueTasks(t *testing.T) {
	payload, _ := json.Marshal(tasks.PeriodResetTask{UserID: "user-1"})

	tests := []struct {
		name       string
		setupMocks func(*MockRepository, *MockPublisher)
	}{
		{
			name: "promotes a due task and deletes the row",
			setupMocks: func(r *MockRepository, p *MockPublisher) {
				r.On("ListDueTasks", mock.Anything, mock.Anything, promoteBatchSize).
					Return([]*models.DeferredTask{{ID: "t-1", Kind: tasks.KindPeriodReset, Payload: payload}}, nil).Once()
				p.On("Publish", tasks.KeyPeriod, json.RawMessage(payload)).Return(nil).Once()
				r.On("DeleteDeferredTask", mock.Anything, "t-1").Return(nil).Once()
			},
		},
		{
			name: "nothing due",
			setupMocks: func(r *MockRepository, _ *MockPublisher) {
				r.On("ListDueTasks", mock.Anything, mock.Anything, promoteBatchSize).
					Return([]*models.DeferredTask{}, nil).Once()
			},
		},
		{
			name: "keeps the row when publish fails",
			setupMocks: func(r *MockRepository, p *MockPublisher) {
				r.On("ListDueTasks", mock.Anything, mock.Anything, promoteBatchSize).
					Return([]*models.DeferredTask{{ID: "t-1", Kind: tasks.KindPeriodReset, Payload: payload}}, nil).Once()
				p.On("Publish", tasks.KeyPeriod, json.RawMessage(payload)).Return(errors.New("broker down")).Once()
				// No DeleteDeferredTask: the task must stay for the next tick.
			},
		},
		{
			name: "drops a task with an unknown kind",
			setupMocks: func(r *MockRepository, _ *MockPublisher) {
				r.On("ListDueTasks", mock.Anything, mock.Anything, promoteBatchSize).
					Return([]*models.DeferredTask{{ID: "t-1", Kind: "legacy.kind", Payload: payload}}, nil).Once()
				r.On("DeleteDeferredTask", mock.Anything, "t-1").Return(nil).Once()
			},
		},
		{
			name: "list error only logs",
			setupMocks: func(r *MockRepository, _ *MockPublisher) {
				r.On("ListDueTasks", mock.Anything, mock.Anything, promoteBatchSize).
					Return(nil, errors.New("db error")).Once()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			pub := new(MockPublisher)
			tt.setupMocks(repo, pub)

			svc := newService(repo, pub)
			svc.runPromoteDueTasks(context.Background())

			repo.AssertExpectations(t)
			pub.AssertExpectations(t)
		})
	}
}

func TestNewSchedulerService(t *testing.T) {
	repo := new(MockRepository)
	pub := new(MockPublisher)
	svc := NewSchedulerService(repo, pub, newNoopLogger())

	assert.NotNil(t, svc)
	assert.Equal(t, repo, svc.repo)
	assert.Equal(t, pub, svc.pub)
}
