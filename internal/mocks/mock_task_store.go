package mocks

import (
	"context"
	"encoding/json"
	"github.com/relaydesk/taskrelay/internal/state"
	"github.com/relaydesk/taskrelay/types"
	"time"
)

// MockTaskStore is a mock implementation of store.TaskStore for testing.
type MockTaskStore struct {
	InsertFunc                  func(ctx context.Context, task *types.Task) error
	FindByIDFunc                func(ctx context.Context, taskID string) (*types.Task, error)
	ClaimNextFunc               func(ctx context.Context, userID int64, workerID string) (*types.Task, error)
	MergeProgressFunc           func(ctx context.Context, taskID string, attempt int, fields map[string]any) (bool, error)
	FinalizeFunc                func(ctx context.Context, taskID string, attempt int, status state.TaskStatus, result json.RawMessage, errMsg string) (bool, error)
	TouchFunc                   func(ctx context.Context, taskID string, attempt int) (bool, error)
	RequeueFunc                 func(ctx context.Context, taskID string) (bool, error)
	RequeueStaleFunc            func(ctx context.Context, staleBefore time.Time) ([]string, error)
	ListByUserFunc              func(ctx context.Context, userID int64, page, pageSize int, status state.TaskStatus) (*types.PaginationResult[types.Task], error)
	CountAllGroupedByStatusFunc func(ctx context.Context, userID int64) (map[state.TaskStatus]int, error)
	CloseFunc                   func() error
}

func (m *MockTaskStore) Insert(ctx context.Context, task *types.Task) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, task)
	}
	return nil
}

func (m *MockTaskStore) FindByID(ctx context.Context, taskID string) (*types.Task, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, taskID)
	}
	return nil, nil
}

func (m *MockTaskStore) ClaimNext(ctx context.Context, userID int64, workerID string) (*types.Task, error) {
	if m.ClaimNextFunc != nil {
		return m.ClaimNextFunc(ctx, userID, workerID)
	}
	return nil, nil
}

func (m *MockTaskStore) MergeProgress(ctx context.Context, taskID string, attempt int, fields map[string]any) (bool, error) {
	if m.MergeProgressFunc != nil {
		return m.MergeProgressFunc(ctx, taskID, attempt, fields)
	}
	return true, nil
}

func (m *MockTaskStore) Finalize(ctx context.Context, taskID string, attempt int, status state.TaskStatus, result json.RawMessage, errMsg string) (bool, error) {
	if m.FinalizeFunc != nil {
		return m.FinalizeFunc(ctx, taskID, attempt, status, result, errMsg)
	}
	return true, nil
}

func (m *MockTaskStore) Touch(ctx context.Context, taskID string, attempt int) (bool, error) {
	if m.TouchFunc != nil {
		return m.TouchFunc(ctx, taskID, attempt)
	}
	return true, nil
}

func (m *MockTaskStore) Requeue(ctx context.Context, taskID string) (bool, error) {
	if m.RequeueFunc != nil {
		return m.RequeueFunc(ctx, taskID)
	}
	return true, nil
}

func (m *MockTaskStore) RequeueStale(ctx context.Context, staleBefore time.Time) ([]string, error) {
	if m.RequeueStaleFunc != nil {
		return m.RequeueStaleFunc(ctx, staleBefore)
	}
	return nil, nil
}

func (m *MockTaskStore) ListByUser(ctx context.Context, userID int64, page, pageSize int, status state.TaskStatus) (*types.PaginationResult[types.Task], error) {
	if m.ListByUserFunc != nil {
		return m.ListByUserFunc(ctx, userID, page, pageSize, status)
	}
	return types.NewPaginationResult[types.Task](nil, 0, page, pageSize), nil
}

func (m *MockTaskStore) CountAllGroupedByStatus(ctx context.Context, userID int64) (map[state.TaskStatus]int, error) {
	if m.CountAllGroupedByStatusFunc != nil {
		return m.CountAllGroupedByStatusFunc(ctx, userID)
	}
	return map[state.TaskStatus]int{}, nil
}

func (m *MockTaskStore) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}
