// Package registry tracks remote workers by heartbeat. Liveness is derived at read time
// and is only informational: nothing in the claim, report or action paths consults it.
package registry

import (
	"context"
	"errors"
	"github.com/relaydesk/taskrelay/internal/store"
	"github.com/relaydesk/taskrelay/types"
	"time"
)

var ErrMissingWorkerID = errors.New("worker id is required")

type Registry struct {
	store  store.WorkerStore
	window time.Duration
	now    func() time.Time
}

// New returns a Registry that treats a worker as active while its last heartbeat is
// younger than window. A nil now uses time.Now.
func New(workers store.WorkerStore, window time.Duration, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{store: workers, window: window, now: now}
}

// Heartbeat records that workerID of userID is alive, replacing its info.
func (r *Registry) Heartbeat(ctx context.Context, userID int64, workerID string, info map[string]any) error {
	if workerID == "" {
		return ErrMissingWorkerID
	}
	return r.store.Upsert(ctx, userID, workerID, info, r.now())
}

// Status returns nil when the worker has never been seen.
func (r *Registry) Status(ctx context.Context, userID int64, workerID string) (*types.WorkerStatus, error) {
	session, err := r.store.Find(ctx, userID, workerID)
	if err != nil || session == nil {
		return nil, err
	}
	status := r.derive(*session)
	return &status, nil
}

func (r *Registry) UserStatus(ctx context.Context, userID int64) ([]types.WorkerStatus, error) {
	sessions, err := r.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	statuses := make([]types.WorkerStatus, 0, len(sessions))
	for _, s := range sessions {
		statuses = append(statuses, r.derive(s))
	}
	return statuses, nil
}

// AnyActive reports whether at least one of the user's workers is active.
func (r *Registry) AnyActive(ctx context.Context, userID int64) (bool, error) {
	statuses, err := r.UserStatus(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, s := range statuses {
		if s.Active {
			return true, nil
		}
	}
	return false, nil
}

func (r *Registry) derive(s types.WorkerSession) types.WorkerStatus {
	return types.WorkerStatus{
		WorkerSession: s,
		Active:        r.now().Sub(s.LastSeen) < r.window,
	}
}
