// Package actions carries human decisions from the dashboard to the worker running the
// decided-on task. Each (user, task) pair has its own FIFO mailbox; a drain empties it
// atomically, so two concurrent drains never see the same action.
package actions

import (
	"context"
	"errors"
	"github.com/relaydesk/taskrelay/types"
)

var ErrInvalidAction = errors.New("action needs a user and a task")

type Channel interface {
	Enqueue(ctx context.Context, action types.PendingAction) error
	Drain(ctx context.Context, userID int64, taskID string) ([]types.PendingAction, error)
	Close() error
}

func validate(action types.PendingAction) error {
	if action.UserID == 0 || action.TaskID == "" || action.Kind == "" {
		return ErrInvalidAction
	}
	return nil
}
