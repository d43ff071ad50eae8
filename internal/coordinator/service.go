// Package coordinator is the central half of the relay. It turns dashboard requests into
// tasks and decisions, and worker requests into claims, reports and drained actions.
// Every operation is a short read-modify-return; nothing here waits on a human.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/relaydesk/taskrelay/custom_errors"
	"github.com/relaydesk/taskrelay/internal/actions"
	"github.com/relaydesk/taskrelay/internal/approval"
	"github.com/relaydesk/taskrelay/internal/progress"
	"github.com/relaydesk/taskrelay/internal/registry"
	"github.com/relaydesk/taskrelay/internal/state"
	"github.com/relaydesk/taskrelay/internal/store"
	"github.com/relaydesk/taskrelay/types"
	"github.com/relaydesk/taskrelay/types/config"
	"log"
	"time"
)

// JobView is a task as the dashboard sees it: the durable record plus the volatile
// checkpoint when the job is paused on a decision.
type JobView struct {
	*types.Task
	Checkpoint *types.ApprovalCheckpoint `json:"checkpoint,omitempty"`
}

type Service struct {
	tasks       store.TaskStore
	registry    *registry.Registry
	channel     actions.Channel
	checkpoints *approval.Registry
	aggregator  *progress.Aggregator
	kinds       *config.KindRegistry
	events      progress.EventPublisher
	staleAfter  time.Duration
	now         func() time.Time
}

type Dependencies struct {
	Tasks       store.TaskStore
	Registry    *registry.Registry
	Channel     actions.Channel
	Checkpoints *approval.Registry
	Aggregator  *progress.Aggregator
	Kinds       *config.KindRegistry
	Events      progress.EventPublisher
}

func NewService(deps Dependencies, staleAfter time.Duration) *Service {
	return &Service{
		tasks:       deps.Tasks,
		registry:    deps.Registry,
		channel:     deps.Channel,
		checkpoints: deps.Checkpoints,
		aggregator:  deps.Aggregator,
		kinds:       deps.Kinds,
		events:      deps.Events,
		staleAfter:  staleAfter,
		now:         time.Now,
	}
}

// SubmitJob validates params against kind and queues a new task for userID.
func (s *Service) SubmitJob(ctx context.Context, userID int64, kind types.TaskKind, params json.RawMessage) (*types.Task, error) {
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	if err := s.kinds.Validate(kind, params); err != nil {
		return nil, err
	}

	now := s.now()
	task := &types.Task{
		ID:         uuid.NewString(),
		UserID:     userID,
		Kind:       kind,
		Parameters: params,
		Status:     state.StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.tasks.Insert(ctx, task); err != nil {
		return nil, err
	}
	log.Printf("coordinator: user %d submitted %s task %s", userID, kind, task.ID)
	if active, err := s.registry.AnyActive(ctx, userID); err == nil && !active {
		log.Printf("coordinator: user %d has no active worker, task %s waits in the queue", userID, task.ID)
	}

	s.events.Publish(ctx, types.TaskEvent{Type: types.EventTaskSubmitted, TaskID: task.ID, UserID: userID, Kind: kind})
	return task, nil
}

// ownedTask hides tasks of other users behind ErrTaskNotFound.
func (s *Service) ownedTask(ctx context.Context, userID int64, taskID string) (*types.Task, error) {
	task, err := s.tasks.FindByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.UserID != userID {
		return nil, fmt.Errorf("%w: %s", custom_errors.ErrTaskNotFound, taskID)
	}
	return task, nil
}

func (s *Service) JobStatus(ctx context.Context, userID int64, taskID string) (*JobView, error) {
	task, err := s.ownedTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	view := &JobView{Task: task}
	if task.Status == state.StatusProcessing {
		if cp, ok := s.checkpoints.Get(userID, taskID); ok {
			view.Checkpoint = &cp
		}
	}
	return view, nil
}

func (s *Service) ListJobs(ctx context.Context, userID int64, page, pageSize int, status state.TaskStatus) (*types.PaginationResult[types.Task], error) {
	return s.tasks.ListByUser(ctx, userID, page, pageSize, status)
}

func (s *Service) Stats(ctx context.Context, userID int64) (map[state.TaskStatus]int, error) {
	return s.tasks.CountAllGroupedByStatus(ctx, userID)
}

// SubmitDecision queues a human decision for the job's worker. Accepted means queued:
// the decision is applied only when a worker drains it, and is lost if none does before
// the mailbox expires.
func (s *Service) SubmitDecision(ctx context.Context, userID int64, taskID string, kind types.ActionKind, itemIndex *int, content string) error {
	if err := approval.ValidateDecision(kind, itemIndex, content); err != nil {
		return err
	}
	task, err := s.ownedTask(ctx, userID, taskID)
	if err != nil {
		return err
	}
	if task.Status.IsTerminal() {
		return fmt.Errorf("%w: task %s is already %s", custom_errors.ErrInvalidDecision, taskID, task.Status)
	}

	return s.channel.Enqueue(ctx, types.PendingAction{
		UserID:    userID,
		TaskID:    taskID,
		Kind:      kind,
		ItemIndex: itemIndex,
		Content:   content,
		CreatedAt: s.now(),
	})
}

// Requeue puts a processing task back in the queue, for a worker the user knows is gone.
func (s *Service) Requeue(ctx context.Context, userID int64, taskID string) (bool, error) {
	task, err := s.ownedTask(ctx, userID, taskID)
	if err != nil {
		return false, err
	}
	ok, err := s.tasks.Requeue(ctx, taskID)
	if err != nil || !ok {
		return ok, err
	}
	s.afterRequeue(ctx, task)
	return true, nil
}

func (s *Service) afterRequeue(ctx context.Context, task *types.Task) {
	s.checkpoints.Clear(task.UserID, task.ID)
	log.Printf("coordinator: task %s re-queued", task.ID)
	s.events.Publish(ctx, types.TaskEvent{
		Type:     types.EventTaskRequeued,
		TaskID:   task.ID,
		UserID:   task.UserID,
		Kind:     task.Kind,
		WorkerID: task.WorkerID,
	})
}

func (s *Service) Workers(ctx context.Context, userID int64) ([]types.WorkerStatus, error) {
	return s.registry.UserStatus(ctx, userID)
}

// Worker returns one of the user's workers. Workers of other users are not found.
func (s *Service) Worker(ctx context.Context, userID int64, workerID string) (*types.WorkerStatus, error) {
	status, err := s.registry.Status(ctx, userID, workerID)
	if err != nil {
		return nil, err
	}
	if status == nil {
		return nil, fmt.Errorf("%w: %s", custom_errors.ErrWorkerNotFound, workerID)
	}
	return status, nil
}

func (s *Service) Heartbeat(ctx context.Context, userID int64, workerID string, info map[string]any) error {
	return s.registry.Heartbeat(ctx, userID, workerID, info)
}

// Poll records a heartbeat for the worker and claims at most one task for it.
// A nil task with a nil error means there is nothing to do.
func (s *Service) Poll(ctx context.Context, userID int64, workerID string, info map[string]any) (*types.Task, error) {
	if err := s.registry.Heartbeat(ctx, userID, workerID, info); err != nil {
		if errors.Is(err, registry.ErrMissingWorkerID) {
			return nil, err
		}
		// Liveness is advisory; a failed heartbeat write must not stop work from flowing.
		log.Printf("coordinator: heartbeat for worker %s of user %d: %v", workerID, userID, err)
	}

	task, err := s.tasks.ClaimNext(ctx, userID, workerID)
	if err != nil || task == nil {
		return nil, err
	}
	log.Printf("coordinator: worker %s claimed task %s (attempt %d)", workerID, task.ID, task.Attempts)
	s.events.Publish(ctx, types.TaskEvent{
		Type:     types.EventTaskClaimed,
		TaskID:   task.ID,
		UserID:   userID,
		Kind:     task.Kind,
		WorkerID: workerID,
	})
	return task, nil
}

func (s *Service) Report(ctx context.Context, userID int64, taskID string, report types.TaskReport) error {
	return s.aggregator.Report(ctx, userID, taskID, report)
}

// DrainActions hands the worker every decision queued for the job. An item decision
// that matches the job's awaiting checkpoint resolves it. Draining also counts as a sign
// of life for the claim, so a job paused on a decision is not swept as stale. A worker
// whose attempt is no longer the running one gets ErrAttemptSuperseded and nothing is
// drained.
func (s *Service) DrainActions(ctx context.Context, userID int64, taskID string, attempt int) ([]types.PendingAction, error) {
	if attempt < 1 {
		return nil, fmt.Errorf("%w: missing attempt", custom_errors.ErrInvalidReport)
	}
	task, err := s.ownedTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != state.StatusProcessing || task.Attempts != attempt {
		return nil, fmt.Errorf("%w: task %s", custom_errors.ErrAttemptSuperseded, taskID)
	}
	touched, err := s.tasks.Touch(ctx, taskID, attempt)
	if err != nil {
		return nil, err
	}
	if !touched {
		return nil, fmt.Errorf("%w: task %s", custom_errors.ErrAttemptSuperseded, taskID)
	}

	drained, err := s.channel.Drain(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	for _, a := range drained {
		if a.ItemIndex != nil {
			s.checkpoints.Resolve(userID, taskID, *a.ItemIndex)
		}
	}
	return drained, nil
}

// SweepStale re-queues processing tasks with no report for longer than the stale window.
func (s *Service) SweepStale(ctx context.Context) ([]string, error) {
	return s.tasks.RequeueStale(ctx, s.now().Add(-s.staleAfter))
}
