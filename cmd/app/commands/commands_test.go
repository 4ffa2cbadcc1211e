package commands

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	monitoringDomain "github.com/allisson/callsync/internal/monitoring/domain"
	taskDomain "github.com/allisson/callsync/internal/taskqueue/domain"
	taskUseCase "github.com/allisson/callsync/internal/taskqueue/usecase"
	webhookDomain "github.com/allisson/callsync/internal/webhook/domain"
	webhookUseCase "github.com/allisson/callsync/internal/webhook/usecase"
)

type mockTaskQueue struct {
	mock.Mock
}

func (m *mockTaskQueue) Enqueue(
	ctx context.Context,
	taskType string,
	data any,
	opts taskUseCase.EnqueueOptions,
) (*taskDomain.Task, error) {
	args := m.Called(ctx, taskType, data, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*taskDomain.Task), args.Error(1)
}

func (m *mockTaskQueue) ListDLQ(ctx context.Context, limit int) ([]*taskDomain.Task, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*taskDomain.Task), args.Error(1)
}

func (m *mockTaskQueue) RequeueFromDLQ(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockTaskQueue) CountPending(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type mockBucketCleaner struct {
	mock.Mock
}

func (m *mockBucketCleaner) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

type mockDeduplicator struct {
	mock.Mock
}

func (m *mockDeduplicator) Cleanup(ctx context.Context) (*webhookUseCase.CleanupResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*webhookUseCase.CleanupResult), args.Error(1)
}

func (m *mockDeduplicator) Stats(
	ctx context.Context,
	window time.Duration,
) ([]*webhookDomain.ProcessingStats, error) {
	args := m.Called(ctx, window)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*webhookDomain.ProcessingStats), args.Error(1)
}

type mockMonitoringRepo struct {
	mock.Mock
}

func (m *mockMonitoringRepo) Stats(
	ctx context.Context,
	since time.Time,
) ([]*monitoringDomain.ServiceStats, error) {
	args := m.Called(ctx, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*monitoringDomain.ServiceStats), args.Error(1)
}

func (m *mockMonitoringRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}
