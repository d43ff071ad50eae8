package store

import (
	"context"
	"github.com/relaydesk/taskrelay/types"
	"time"
)

// WorkerStore persists worker sessions for the client registry.
type WorkerStore interface {
	// Upsert records a heartbeat for the session keyed by (userID, workerID).
	Upsert(ctx context.Context, userID int64, workerID string, info map[string]any, seenAt time.Time) error

	// Find returns nil when the worker never sent a heartbeat.
	Find(ctx context.Context, userID int64, workerID string) (*types.WorkerSession, error)

	ListByUser(ctx context.Context, userID int64) ([]types.WorkerSession, error)
}
