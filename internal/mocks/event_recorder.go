package mocks

import (
	"context"
	"github.com/relaydesk/taskrelay/types"
	"sync"
)

// EventRecorder collects published task events.
type EventRecorder struct {
	mu     sync.Mutex
	events []types.TaskEvent
}

func (r *EventRecorder) Publish(_ context.Context, event types.TaskEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Types returns the types of the recorded events in publish order.
func (r *EventRecorder) Types() []types.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}
