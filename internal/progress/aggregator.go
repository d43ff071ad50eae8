// Package progress applies worker reports to tasks.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/relaydesk/taskrelay/custom_errors"
	"github.com/relaydesk/taskrelay/internal/approval"
	"github.com/relaydesk/taskrelay/internal/jobs"
	"github.com/relaydesk/taskrelay/internal/state"
	"github.com/relaydesk/taskrelay/internal/store"
	"github.com/relaydesk/taskrelay/types"
	"github.com/relaydesk/taskrelay/types/config"
	"log"
)

const defaultFailure = "task failed"

type EventPublisher interface {
	Publish(ctx context.Context, event types.TaskEvent)
}

// Aggregator merges interim reports into a task's progress and freezes the task on its
// final report. Reports for tasks that are no longer processing are dropped quietly, so a
// worker may retry a report without checking whether the first attempt landed.
type Aggregator struct {
	tasks       store.TaskStore
	kinds       *config.KindRegistry
	checkpoints *approval.Registry
	events      EventPublisher
}

func NewAggregator(tasks store.TaskStore, kinds *config.KindRegistry, checkpoints *approval.Registry, events EventPublisher) *Aggregator {
	return &Aggregator{
		tasks:       tasks,
		kinds:       kinds,
		checkpoints: checkpoints,
		events:      events,
	}
}

// Report applies report to taskID on behalf of userID. A task owned by someone else is
// reported as not found. A report from an attempt other than the task's current one changes
// nothing; while the task is still live it is answered with ErrAttemptSuperseded so the
// worker holding the old claim stops.
func (a *Aggregator) Report(ctx context.Context, userID int64, taskID string, report types.TaskReport) error {
	if report.Attempt < 1 {
		return fmt.Errorf("%w: missing attempt", custom_errors.ErrInvalidReport)
	}
	task, err := a.tasks.FindByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task.UserID != userID {
		return fmt.Errorf("%w: %s", custom_errors.ErrTaskNotFound, taskID)
	}
	if task.Attempts != report.Attempt && !task.Status.IsTerminal() {
		log.Printf("progress: task %s is on attempt %d, report from attempt %d ignored", task.ID, task.Attempts, report.Attempt)
		return fmt.Errorf("%w: task %s", custom_errors.ErrAttemptSuperseded, task.ID)
	}

	if report.Interim {
		return a.interim(ctx, userID, task, report)
	}
	return a.final(ctx, userID, task, report)
}

func (a *Aggregator) interim(ctx context.Context, userID int64, task *types.Task, report types.TaskReport) error {
	if task.Status != state.StatusProcessing {
		log.Printf("progress: task %s is %s, interim report ignored", task.ID, task.Status)
		return nil
	}
	kept, dropped := a.kinds.FilterProgress(task.Kind, report.Result)
	if len(dropped) > 0 {
		log.Printf("progress: task %s: ignoring unrecognized keys %v", task.ID, dropped)
	}

	raw, hasCheckpoint := kept[jobs.KeyCheckpoint]
	var checkpoint *types.ApprovalCheckpoint
	if hasCheckpoint {
		delete(kept, jobs.KeyCheckpoint)
		cp, err := decodeCheckpoint(task.ID, raw)
		if err != nil {
			return fmt.Errorf("%w: %v", custom_errors.ErrInvalidReport, err)
		}
		checkpoint = cp
	}

	merged, err := a.tasks.MergeProgress(ctx, task.ID, report.Attempt, kept)
	if err != nil {
		return err
	}
	if !merged {
		// The task left this attempt between the read and the merge.
		log.Printf("progress: task %s is no longer processing, interim report ignored", task.ID)
		return nil
	}

	// The checkpoint lives outside the durable progress document. A null one clears it.
	if hasCheckpoint {
		if checkpoint == nil {
			a.checkpoints.Clear(userID, task.ID)
		} else {
			a.checkpoints.Set(userID, *checkpoint)
		}
	}

	a.events.Publish(ctx, types.TaskEvent{
		Type:     types.EventTaskProgress,
		TaskID:   task.ID,
		UserID:   userID,
		Kind:     task.Kind,
		WorkerID: task.WorkerID,
	})
	return nil
}

func decodeCheckpoint(taskID string, raw any) (*types.ApprovalCheckpoint, error) {
	if raw == nil {
		return nil, nil
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var cp types.ApprovalCheckpoint
	if err := json.Unmarshal(payload, &cp); err != nil {
		return nil, errors.New("malformed checkpoint")
	}
	cp.TaskID = taskID
	return &cp, nil
}

func (a *Aggregator) final(ctx context.Context, userID int64, task *types.Task, report types.TaskReport) error {
	status := state.FinalStatus(report.Success)

	var result json.RawMessage
	if report.Result != nil {
		encoded, err := json.Marshal(report.Result)
		if err != nil {
			return fmt.Errorf("%w: %v", custom_errors.ErrInvalidReport, err)
		}
		result = encoded
	}

	errMsg := ""
	if !report.Success {
		errMsg = report.Error
		if errMsg == "" {
			errMsg = defaultFailure
		}
	}

	finalized, err := a.tasks.Finalize(ctx, task.ID, report.Attempt, status, result, errMsg)
	if err != nil {
		return err
	}
	if !finalized {
		log.Printf("progress: task %s is %s, final report ignored", task.ID, task.Status)
		return nil
	}
	a.checkpoints.Clear(userID, task.ID)

	eventType := types.EventTaskCompleted
	if status == state.StatusFailed {
		eventType = types.EventTaskFailed
	}
	a.events.Publish(ctx, types.TaskEvent{
		Type:     eventType,
		TaskID:   task.ID,
		UserID:   userID,
		Kind:     task.Kind,
		WorkerID: task.WorkerID,
	})
	return nil
}
