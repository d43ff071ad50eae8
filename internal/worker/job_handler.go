package worker

import (
	"context"
	"fmt"
	"github.com/relaydesk/taskrelay/types"
	"sort"
	"sync"
)

// Handler runs one claimed job. Returning an error fails the job.
type Handler func(ctx context.Context, job *Job) error

// HandlerRegistry maps each task kind to the handler that executes it.
type HandlerRegistry struct {
	handlers map[types.TaskKind]Handler
	mutex    sync.RWMutex
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[types.TaskKind]Handler),
	}
}

// Register adds a new handler for kind.
func (hr *HandlerRegistry) Register(kind types.TaskKind, handler Handler) error {
	hr.mutex.Lock()
	defer hr.mutex.Unlock()

	if _, exists := hr.handlers[kind]; exists {
		return fmt.Errorf("handler '%s' already registered", kind)
	}
	hr.handlers[kind] = handler
	return nil
}

func (hr *HandlerRegistry) Exists(kind types.TaskKind) bool {
	hr.mutex.RLock()
	defer hr.mutex.RUnlock()

	_, exists := hr.handlers[kind]
	return exists
}

func (hr *HandlerRegistry) Execute(ctx context.Context, job *Job) error {
	hr.mutex.RLock()
	handler, exists := hr.handlers[job.Task.Kind]
	hr.mutex.RUnlock()
	if !exists {
		return fmt.Errorf("handler '%s' not found", job.Task.Kind)
	}
	return handler(ctx, job)
}

func (hr *HandlerRegistry) List() []types.TaskKind {
	hr.mutex.RLock()
	defer hr.mutex.RUnlock()

	kinds := make([]types.TaskKind, 0, len(hr.handlers))
	for kind := range hr.handlers {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
