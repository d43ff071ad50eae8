// Package approval holds the checkpoints of approval-gated jobs and validates the
// decisions humans submit for them. Checkpoints are volatile: a coordinator restart
// loses them and the worker's next interim report re-creates them.
package approval

import (
	"fmt"
	"github.com/relaydesk/taskrelay/custom_errors"
	"github.com/relaydesk/taskrelay/types"
	"sync"
	"time"
)

type checkpointKey struct {
	userID int64
	taskID string
}

// Registry keeps at most one checkpoint per (user, job).
type Registry struct {
	mu          sync.RWMutex
	checkpoints map[checkpointKey]types.ApprovalCheckpoint
	now         func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		checkpoints: make(map[checkpointKey]types.ApprovalCheckpoint),
		now:         time.Now,
	}
}

// Set replaces the job's checkpoint.
func (r *Registry) Set(userID int64, cp types.ApprovalCheckpoint) {
	cp.UpdatedAt = r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkpoints[checkpointKey{userID, cp.TaskID}] = cp
}

func (r *Registry) Get(userID int64, taskID string) (types.ApprovalCheckpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp, ok := r.checkpoints[checkpointKey{userID, taskID}]
	return cp, ok
}

// Resolve marks the checkpoint as no longer awaiting if it is still on itemIndex.
// It reports whether anything changed.
func (r *Registry) Resolve(userID int64, taskID string, itemIndex int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := checkpointKey{userID, taskID}
	cp, ok := r.checkpoints[key]
	if !ok || !cp.Awaiting || cp.ItemIndex != itemIndex {
		return false
	}
	cp.Awaiting = false
	cp.UpdatedAt = r.now()
	r.checkpoints[key] = cp
	return true
}

func (r *Registry) Clear(userID int64, taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.checkpoints, checkpointKey{userID, taskID})
}

// ValidateDecision checks the shape of a decision. Item decisions need the index they
// apply to; edit also needs replacement content. Stop applies to the whole job.
func ValidateDecision(kind types.ActionKind, itemIndex *int, content string) error {
	switch kind {
	case types.ActionSend, types.ActionSkip:
		if itemIndex == nil || *itemIndex < 0 {
			return fmt.Errorf("%w: %s needs an item_index", custom_errors.ErrInvalidDecision, kind)
		}
	case types.ActionEdit:
		if itemIndex == nil || *itemIndex < 0 {
			return fmt.Errorf("%w: edit needs an item_index", custom_errors.ErrInvalidDecision)
		}
		if content == "" {
			return fmt.Errorf("%w: edit needs content", custom_errors.ErrInvalidDecision)
		}
	case types.ActionStop:
	default:
		return fmt.Errorf("%w: unknown kind %q", custom_errors.ErrInvalidDecision, kind)
	}
	return nil
}
