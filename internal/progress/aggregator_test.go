package progress

import (
	"context"
	"encoding/json"
	"github.com/relaydesk/taskrelay/custom_errors"
	"github.com/relaydesk/taskrelay/internal/approval"
	"github.com/relaydesk/taskrelay/internal/jobs"
	"github.com/relaydesk/taskrelay/internal/mocks"
	"github.com/relaydesk/taskrelay/internal/state"
	"github.com/relaydesk/taskrelay/internal/store/memory"
	"github.com/relaydesk/taskrelay/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

type fixture struct {
	tasks       *memory.TaskStore
	checkpoints *approval.Registry
	events      *mocks.EventRecorder
	agg         *Aggregator
}

func newFixture(t *testing.T, kind types.TaskKind) *fixture {
	t.Helper()
	f := &fixture{
		tasks:       memory.NewTaskStore(),
		checkpoints: approval.NewRegistry(),
		events:      &mocks.EventRecorder{},
	}
	f.agg = NewAggregator(f.tasks, jobs.NewKindRegistry(), f.checkpoints, f.events)

	ctx := context.Background()
	require.NoError(t, f.tasks.Insert(ctx, &types.Task{ID: "job", UserID: 1, Kind: kind, CreatedAt: time.Now()}))
	claimed, err := f.tasks.ClaimNext(ctx, 1, "w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	return f
}

func TestAggregator_InterimMergesRecognizedKeys(t *testing.T) {
	f := newFixture(t, types.KindCampaign)
	ctx := context.Background()

	require.NoError(t, f.agg.Report(ctx, 1, "job", types.TaskReport{
		Attempt: 1,
		Interim: true,
		Result:  map[string]any{"processed": 1, "sent": 1, "bogus": "x"},
	}))
	require.NoError(t, f.agg.Report(ctx, 1, "job", types.TaskReport{
		Attempt: 1,
		Interim: true,
		Result:  map[string]any{"processed": 2},
	}))

	task, err := f.tasks.FindByID(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, state.StatusProcessing, task.Status)
	assert.Equal(t, map[string]any{"processed": 2, "sent": 1}, task.Progress)
	assert.Nil(t, task.Result)
	assert.Equal(t, []types.EventType{types.EventTaskProgress, types.EventTaskProgress}, f.events.Types())
}

func TestAggregator_InterimLiftsCheckpoint(t *testing.T) {
	f := newFixture(t, types.KindCampaign)
	ctx := context.Background()

	require.NoError(t, f.agg.Report(ctx, 1, "job", types.TaskReport{
		Attempt: 1,
		Interim: true,
		Result: map[string]any{
			"awaiting": true,
			"checkpoint": map[string]any{
				"item_index": 0,
				"awaiting":   true,
				"preview":    map[string]any{"message": "Hi Ana"},
			},
		},
	}))

	cp, ok := f.checkpoints.Get(1, "job")
	require.True(t, ok)
	assert.Equal(t, "job", cp.TaskID)
	assert.Equal(t, 0, cp.ItemIndex)
	assert.True(t, cp.Awaiting)
	assert.Equal(t, "Hi Ana", cp.Preview.Message)

	task, err := f.tasks.FindByID(ctx, "job")
	require.NoError(t, err)
	assert.NotContains(t, task.Progress, "checkpoint")
	assert.Equal(t, true, task.Progress["awaiting"])

	require.NoError(t, f.agg.Report(ctx, 1, "job", types.TaskReport{
		Attempt: 1,
		Interim: true,
		Result:  map[string]any{"checkpoint": nil, "awaiting": false},
	}))
	_, ok = f.checkpoints.Get(1, "job")
	assert.False(t, ok)
}

func TestAggregator_FinalIsIdempotent(t *testing.T) {
	f := newFixture(t, types.KindDirectorySearch)
	ctx := context.Background()
	f.checkpoints.Set(1, types.ApprovalCheckpoint{TaskID: "job", Awaiting: true})

	require.NoError(t, f.agg.Report(ctx, 1, "job", types.TaskReport{
		Attempt: 1,
		Success: true,
		Result:  map[string]any{"found": 12},
	}))
	require.NoError(t, f.agg.Report(ctx, 1, "job", types.TaskReport{
		Attempt: 1,
		Success: false,
		Error:   "retried",
	}))

	task, err := f.tasks.FindByID(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, state.StatusCompleted, task.Status)
	assert.JSONEq(t, `{"found":12}`, string(task.Result))
	assert.Empty(t, task.Error)

	_, ok := f.checkpoints.Get(1, "job")
	assert.False(t, ok)
	assert.Equal(t, []types.EventType{types.EventTaskCompleted}, f.events.Types())
}

func TestAggregator_FinalFailureGetsAnError(t *testing.T) {
	f := newFixture(t, types.KindInbox)
	ctx := context.Background()

	require.NoError(t, f.agg.Report(ctx, 1, "job", types.TaskReport{Attempt: 1, Success: false}))

	task, err := f.tasks.FindByID(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, state.StatusFailed, task.Status)
	assert.Equal(t, "task failed", task.Error)
}

func TestAggregator_InterimAfterFinalIsIgnored(t *testing.T) {
	f := newFixture(t, types.KindInbox)
	ctx := context.Background()

	require.NoError(t, f.agg.Report(ctx, 1, "job", types.TaskReport{Attempt: 1, Success: true}))
	require.NoError(t, f.agg.Report(ctx, 1, "job", types.TaskReport{Attempt: 1, Interim: true, Result: map[string]any{"processed": 9}}))

	task, err := f.tasks.FindByID(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, state.StatusCompleted, task.Status)
	assert.NotContains(t, task.Progress, "processed")
}

func TestAggregator_RejectsForeignTask(t *testing.T) {
	f := newFixture(t, types.KindInbox)

	err := f.agg.Report(context.Background(), 2, "job", types.TaskReport{Attempt: 1, Success: true})
	assert.ErrorIs(t, err, custom_errors.ErrTaskNotFound)

	err = f.agg.Report(context.Background(), 1, "missing", types.TaskReport{Attempt: 1, Success: true})
	assert.ErrorIs(t, err, custom_errors.ErrTaskNotFound)
}

func TestAggregator_MalformedCheckpoint(t *testing.T) {
	f := newFixture(t, types.KindCampaign)

	err := f.agg.Report(context.Background(), 1, "job", types.TaskReport{
		Attempt: 1,
		Interim: true,
		Result:  map[string]any{"checkpoint": "item zero"},
	})
	assert.ErrorIs(t, err, custom_errors.ErrInvalidReport)
}

func TestAggregator_StoreErrorsPropagate(t *testing.T) {
	tasks := &mocks.MockTaskStore{
		FindByIDFunc: func(context.Context, string) (*types.Task, error) {
			return &types.Task{ID: "job", UserID: 1, Kind: types.KindInbox, Status: state.StatusProcessing, Attempts: 1}, nil
		},
		FinalizeFunc: func(context.Context, string, int, state.TaskStatus, json.RawMessage, string) (bool, error) {
			return false, assert.AnError
		},
	}
	agg := NewAggregator(tasks, jobs.NewKindRegistry(), approval.NewRegistry(), &mocks.EventRecorder{})

	err := agg.Report(context.Background(), 1, "job", types.TaskReport{Attempt: 1, Success: true})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestAggregator_ReportNeedsAnAttempt(t *testing.T) {
	f := newFixture(t, types.KindInbox)

	err := f.agg.Report(context.Background(), 1, "job", types.TaskReport{Success: true})
	assert.ErrorIs(t, err, custom_errors.ErrInvalidReport)

	task, err := f.tasks.FindByID(context.Background(), "job")
	require.NoError(t, err)
	assert.Equal(t, state.StatusProcessing, task.Status)
}

func TestAggregator_EarlierAttemptIsRejected(t *testing.T) {
	f := newFixture(t, types.KindCampaign)
	ctx := context.Background()

	requeued, err := f.tasks.Requeue(ctx, "job")
	require.NoError(t, err)
	require.True(t, requeued)
	reclaimed, err := f.tasks.ClaimNext(ctx, 1, "w2")
	require.NoError(t, err)
	require.Equal(t, 2, reclaimed.Attempts)

	err = f.agg.Report(ctx, 1, "job", types.TaskReport{
		Attempt: 1,
		Interim: true,
		Result: map[string]any{
			"processed":  4,
			"checkpoint": map[string]any{"item_index": 4, "awaiting": true},
		},
	})
	assert.ErrorIs(t, err, custom_errors.ErrAttemptSuperseded)

	err = f.agg.Report(ctx, 1, "job", types.TaskReport{Attempt: 1, Success: true})
	assert.ErrorIs(t, err, custom_errors.ErrAttemptSuperseded)

	task, err := f.tasks.FindByID(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, state.StatusProcessing, task.Status)
	assert.Equal(t, "w2", task.WorkerID)
	assert.NotContains(t, task.Progress, "processed")
	_, ok := f.checkpoints.Get(1, "job")
	assert.False(t, ok)
	assert.Empty(t, f.events.Types())

	require.NoError(t, f.agg.Report(ctx, 1, "job", types.TaskReport{Attempt: 2, Success: true}))
	task, err = f.tasks.FindByID(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, state.StatusCompleted, task.Status)
}

func TestAggregator_EarlierAttemptAfterFinalIsQuiet(t *testing.T) {
	f := newFixture(t, types.KindInbox)
	ctx := context.Background()

	_, err := f.tasks.Requeue(ctx, "job")
	require.NoError(t, err)
	_, err = f.tasks.ClaimNext(ctx, 1, "w2")
	require.NoError(t, err)
	require.NoError(t, f.agg.Report(ctx, 1, "job", types.TaskReport{Attempt: 2, Success: true}))

	require.NoError(t, f.agg.Report(ctx, 1, "job", types.TaskReport{Attempt: 1, Success: false, Error: "late"}))

	task, err := f.tasks.FindByID(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, state.StatusCompleted, task.Status)
	assert.Empty(t, task.Error)
}
