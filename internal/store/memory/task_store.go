// Package memory holds process-local stores. State is sharded by user so a claim
// for one user never waits on another user's traffic.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/relaydesk/taskrelay/custom_errors"
	"github.com/relaydesk/taskrelay/internal/state"
	"github.com/relaydesk/taskrelay/internal/store"
	"github.com/relaydesk/taskrelay/types"
	"sort"
	"sync"
	"time"
)

const shardCount = 32

type taskEntry struct {
	task types.Task
	seq  int64
}

type taskShard struct {
	mu     sync.Mutex
	tasks  map[string]*taskEntry
	queues map[int64][]string // queued task IDs per user, oldest first
}

type TaskStore struct {
	shards [shardCount]*taskShard
	owners sync.Map // task ID -> user ID
	seq    int64
	seqMu  sync.Mutex
	now    func() time.Time
}

var _ store.TaskStore = (*TaskStore)(nil)

func NewTaskStore() *TaskStore {
	return NewTaskStoreWithClock(time.Now)
}

// NewTaskStoreWithClock stamps claims, reports and requeues with now.
func NewTaskStoreWithClock(now func() time.Time) *TaskStore {
	s := &TaskStore{now: now}
	for i := range s.shards {
		s.shards[i] = &taskShard{
			tasks:  make(map[string]*taskEntry),
			queues: make(map[int64][]string),
		}
	}
	return s
}

func (s *TaskStore) shardFor(userID int64) *taskShard {
	idx := userID % shardCount
	if idx < 0 {
		idx = -idx
	}
	return s.shards[idx]
}

func (s *TaskStore) shardForTask(taskID string) (*taskShard, bool) {
	owner, ok := s.owners.Load(taskID)
	if !ok {
		return nil, false
	}
	return s.shardFor(owner.(int64)), true
}

func (s *TaskStore) nextSeq() int64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.seq++
	return s.seq
}

func (s *TaskStore) Insert(_ context.Context, task *types.Task) error {
	if _, loaded := s.owners.LoadOrStore(task.ID, task.UserID); loaded {
		return fmt.Errorf("insert task %s: duplicate id", task.ID)
	}
	shard := s.shardFor(task.UserID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	stored := cloneTask(*task)
	stored.Status = state.StatusQueued
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	stored.UpdatedAt = stored.CreatedAt
	entry := &taskEntry{task: stored, seq: s.nextSeq()}
	shard.tasks[task.ID] = entry
	shard.enqueue(task.UserID, entry)
	return nil
}

// enqueue keeps the user's queue ordered by creation time, then insertion order.
func (sh *taskShard) enqueue(userID int64, entry *taskEntry) {
	queue := append(sh.queues[userID], entry.task.ID)
	sort.SliceStable(queue, func(i, j int) bool {
		a, b := sh.tasks[queue[i]], sh.tasks[queue[j]]
		if !a.task.CreatedAt.Equal(b.task.CreatedAt) {
			return a.task.CreatedAt.Before(b.task.CreatedAt)
		}
		return a.seq < b.seq
	})
	sh.queues[userID] = queue
}

func (s *TaskStore) FindByID(_ context.Context, taskID string) (*types.Task, error) {
	shard, ok := s.shardForTask(taskID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", custom_errors.ErrTaskNotFound, taskID)
	}
	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, ok := shard.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", custom_errors.ErrTaskNotFound, taskID)
	}
	task := cloneTask(entry.task)
	return &task, nil
}

func (s *TaskStore) ClaimNext(_ context.Context, userID int64, workerID string) (*types.Task, error) {
	shard := s.shardFor(userID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	queue := shard.queues[userID]
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		entry := shard.tasks[id]
		if entry == nil || entry.task.Status != state.StatusQueued {
			continue
		}

		now := s.now()
		entry.task.Status = state.StatusProcessing
		entry.task.WorkerID = workerID
		entry.task.Attempts++
		entry.task.StartedAt = &now
		entry.task.UpdatedAt = now
		shard.queues[userID] = queue

		task := cloneTask(entry.task)
		return &task, nil
	}
	shard.queues[userID] = queue
	return nil, nil
}

func (s *TaskStore) MergeProgress(_ context.Context, taskID string, attempt int, fields map[string]any) (bool, error) {
	return s.mutate(taskID, func(entry *taskEntry) bool {
		if !entry.runningAttempt(attempt) {
			return false
		}
		if entry.task.Progress == nil {
			entry.task.Progress = make(map[string]any, len(fields))
		}
		for k, v := range fields {
			entry.task.Progress[k] = v
		}
		entry.task.UpdatedAt = s.now()
		return true
	})
}

func (s *TaskStore) Finalize(_ context.Context, taskID string, attempt int, status state.TaskStatus, result json.RawMessage, errMsg string) (bool, error) {
	if !state.IsValidTransition(state.StatusProcessing, status) || !status.IsTerminal() {
		return false, fmt.Errorf("cannot finalize task %s as %s", taskID, status)
	}
	return s.mutate(taskID, func(entry *taskEntry) bool {
		if !entry.runningAttempt(attempt) {
			return false
		}
		now := s.now()
		entry.task.Status = status
		entry.task.Result = append(json.RawMessage(nil), result...)
		entry.task.Error = errMsg
		entry.task.CompletedAt = &now
		entry.task.UpdatedAt = now
		return true
	})
}

func (s *TaskStore) Touch(_ context.Context, taskID string, attempt int) (bool, error) {
	return s.mutate(taskID, func(entry *taskEntry) bool {
		if !entry.runningAttempt(attempt) {
			return false
		}
		entry.task.UpdatedAt = s.now()
		return true
	})
}

func (e *taskEntry) runningAttempt(attempt int) bool {
	return e.task.Status == state.StatusProcessing && e.task.Attempts == attempt
}

func (s *TaskStore) Requeue(_ context.Context, taskID string) (bool, error) {
	shard, ok := s.shardForTask(taskID)
	if !ok {
		return false, nil
	}
	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, ok := shard.tasks[taskID]
	if !ok {
		return false, nil
	}
	return s.requeueLocked(shard, entry), nil
}

func (s *TaskStore) requeueLocked(shard *taskShard, entry *taskEntry) bool {
	if entry.task.Status != state.StatusProcessing {
		return false
	}
	entry.task.Status = state.StatusQueued
	entry.task.WorkerID = ""
	entry.task.StartedAt = nil
	entry.task.Progress = nil
	entry.task.UpdatedAt = s.now()
	shard.enqueue(entry.task.UserID, entry)
	return true
}

func (s *TaskStore) RequeueStale(_ context.Context, staleBefore time.Time) ([]string, error) {
	var ids []string
	for _, shard := range s.shards {
		shard.mu.Lock()
		for id, entry := range shard.tasks {
			if entry.task.Status == state.StatusProcessing && entry.task.UpdatedAt.Before(staleBefore) {
				s.requeueLocked(shard, entry)
				ids = append(ids, id)
			}
		}
		shard.mu.Unlock()
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *TaskStore) ListByUser(_ context.Context, userID int64, page, pageSize int, status state.TaskStatus) (*types.PaginationResult[types.Task], error) {
	if page < 1 {
		page = 1
	}
	shard := s.shardFor(userID)
	shard.mu.Lock()
	var entries []*taskEntry
	for _, entry := range shard.tasks {
		if entry.task.UserID != userID {
			continue
		}
		if status != "" && entry.task.Status != status {
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].task.CreatedAt.Equal(entries[j].task.CreatedAt) {
			return entries[i].task.CreatedAt.After(entries[j].task.CreatedAt)
		}
		return entries[i].seq > entries[j].seq
	})
	var items []types.Task
	start := (page - 1) * pageSize
	for i := start; i < len(entries) && i < start+pageSize; i++ {
		items = append(items, cloneTask(entries[i].task))
	}
	shard.mu.Unlock()

	return types.NewPaginationResult(items, len(entries), page, pageSize), nil
}

func (s *TaskStore) CountAllGroupedByStatus(_ context.Context, userID int64) (map[state.TaskStatus]int, error) {
	result := make(map[state.TaskStatus]int, len(state.AllStatuses))
	for _, status := range state.AllStatuses {
		result[status] = 0
	}
	shard := s.shardFor(userID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	for _, entry := range shard.tasks {
		if entry.task.UserID == userID {
			result[entry.task.Status]++
		}
	}
	return result, nil
}

func (s *TaskStore) Close() error {
	return nil
}

func (s *TaskStore) mutate(taskID string, fn func(entry *taskEntry) bool) (bool, error) {
	shard, ok := s.shardForTask(taskID)
	if !ok {
		return false, fmt.Errorf("%w: %s", custom_errors.ErrTaskNotFound, taskID)
	}
	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, ok := shard.tasks[taskID]
	if !ok {
		return false, fmt.Errorf("%w: %s", custom_errors.ErrTaskNotFound, taskID)
	}
	return fn(entry), nil
}

func cloneTask(t types.Task) types.Task {
	out := t
	if t.Parameters != nil {
		out.Parameters = append(json.RawMessage(nil), t.Parameters...)
	}
	if t.Result != nil {
		out.Result = append(json.RawMessage(nil), t.Result...)
	}
	if t.Progress != nil {
		out.Progress = make(map[string]any, len(t.Progress))
		for k, v := range t.Progress {
			out.Progress[k] = v
		}
	}
	if t.StartedAt != nil {
		started := *t.StartedAt
		out.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		out.CompletedAt = &completed
	}
	return out
}
