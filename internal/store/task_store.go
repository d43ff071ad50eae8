package store

import (
	"context"
	"encoding/json"
	"github.com/relaydesk/taskrelay/internal/state"
	"github.com/relaydesk/taskrelay/types"
	"time"
)

// TaskStore is the durable record of submitted tasks and their lifecycle.
type TaskStore interface {
	// Insert persists a new queued task.
	Insert(ctx context.Context, task *types.Task) error

	// FindByID returns custom_errors.ErrTaskNotFound when no task has the given ID.
	FindByID(ctx context.Context, taskID string) (*types.Task, error)

	// ClaimNext flips the user's oldest queued task to processing and returns it.
	// It returns (nil, nil) when nothing is queued. Concurrent callers never win the same task.
	ClaimNext(ctx context.Context, userID int64, workerID string) (*types.Task, error)

	// MergeProgress shallow-merges fields into the progress document of a task that is
	// processing under the given attempt. It reports false otherwise.
	MergeProgress(ctx context.Context, taskID string, attempt int, fields map[string]any) (bool, error)

	// Finalize moves a task processing under the given attempt to a terminal status. It
	// reports false otherwise, leaving the task untouched.
	Finalize(ctx context.Context, taskID string, attempt int, status state.TaskStatus, result json.RawMessage, errMsg string) (bool, error)

	// Touch marks a task processing under the given attempt as alive without changing it.
	// It reports false when the task is not processing under that attempt.
	Touch(ctx context.Context, taskID string, attempt int) (bool, error)

	// Requeue puts a processing task back in the queue.
	Requeue(ctx context.Context, taskID string) (bool, error)

	// RequeueStale re-queues processing tasks not updated since staleBefore and returns their IDs.
	RequeueStale(ctx context.Context, staleBefore time.Time) ([]string, error)

	ListByUser(ctx context.Context, userID int64, page, pageSize int, status state.TaskStatus) (*types.PaginationResult[types.Task], error)

	CountAllGroupedByStatus(ctx context.Context, userID int64) (map[state.TaskStatus]int, error)

	// Close closes the underlying connection
	Close() error
}
