package types

import "time"

// WorkerSession is the registry's view of one remote worker instance.
type WorkerSession struct {
	WorkerID string         `json:"worker_id"`
	UserID   int64          `json:"user_id"`
	LastSeen time.Time      `json:"last_seen"`
	Info     map[string]any `json:"info,omitempty"`
}

// WorkerStatus is a WorkerSession with liveness derived at read time.
type WorkerStatus struct {
	WorkerSession
	Active bool `json:"active"`
}
