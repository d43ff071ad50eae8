package coordinator

import (
	"context"
	"encoding/json"
	"github.com/relaydesk/taskrelay/internal/constants"
	"github.com/relaydesk/taskrelay/internal/mocks"
	"github.com/relaydesk/taskrelay/internal/state"
	"github.com/relaydesk/taskrelay/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestSweeper_SkipsWhenAnotherInstanceHoldsTheLock(t *testing.T) {
	h := newHarness()
	swept := false
	h.svc.tasks = &mocks.MockTaskStore{
		RequeueStaleFunc: func(context.Context, time.Time) ([]string, error) {
			swept = true
			return nil, nil
		},
	}
	locks := &mocks.MockDistributedLockManager{
		TryAcquireFunc: func(_ context.Context, lockID int) (bool, error) {
			assert.Equal(t, constants.StaleSweepLock, lockID)
			return false, nil
		},
	}

	ids := NewSweeper(h.svc, locks, "@every 1m", "test").RunOnce(context.Background())
	assert.Nil(t, ids)
	assert.False(t, swept)
}

func TestSweeper_RequeuesAndReleases(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	task, err := h.svc.SubmitJob(ctx, 1, types.KindInbox, json.RawMessage(inboxParams))
	require.NoError(t, err)
	_, err = h.svc.Poll(ctx, 1, "w1", nil)
	require.NoError(t, err)
	h.checkpoints.Set(1, types.ApprovalCheckpoint{TaskID: task.ID, Awaiting: true})
	h.svc.staleAfter = -time.Second

	released := false
	locks := &mocks.MockDistributedLockManager{
		ReleaseFunc: func(context.Context, int) error {
			released = true
			return nil
		},
	}

	ids := NewSweeper(h.svc, locks, "@every 1m", "test").RunOnce(ctx)
	assert.Equal(t, []string{task.ID}, ids)
	assert.True(t, released)

	stored, err := h.tasks.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusQueued, stored.Status)
	_, ok := h.checkpoints.Get(1, task.ID)
	assert.False(t, ok)
	assert.Contains(t, h.events.Types(), types.EventTaskRequeued)
}

func TestSweeper_StartStopsWithContext(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewSweeper(h.svc, &mocks.MockDistributedLockManager{}, "@every 1h", "test").Start(ctx)
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSweeper_InvalidSchedule(t *testing.T) {
	h := newHarness()
	err := NewSweeper(h.svc, &mocks.MockDistributedLockManager{}, "whenever", "test").Start(context.Background())
	assert.Error(t, err)
}

func TestSweeper_LeavesDrainingApprovalJobAlone(t *testing.T) {
	now := time.Now()
	h := newClockedHarness(func() time.Time { return now })
	ctx := context.Background()

	params := `{"approval_mode": true, "contacts": [{"name": "Ana"}]}`
	campaign, err := h.svc.SubmitJob(ctx, 1, types.KindCampaign, json.RawMessage(params))
	require.NoError(t, err)
	inbox, err := h.svc.SubmitJob(ctx, 1, types.KindInbox, json.RawMessage(inboxParams))
	require.NoError(t, err)
	_, err = h.svc.Poll(ctx, 1, "w1", nil)
	require.NoError(t, err)
	_, err = h.svc.Poll(ctx, 1, "w2", nil)
	require.NoError(t, err)

	require.NoError(t, h.svc.Report(ctx, 1, campaign.ID, types.TaskReport{
		Attempt: 1,
		Interim: true,
		Result:  map[string]any{"checkpoint": map[string]any{"item_index": 0, "awaiting": true}},
	}))

	sweeper := NewSweeper(h.svc, &mocks.MockDistributedLockManager{}, "@every 1m", "test")
	for minute := 0; minute < 8; minute++ {
		now = now.Add(time.Minute)
		_, err := h.svc.DrainActions(ctx, 1, campaign.ID, 1)
		require.NoError(t, err)
		sweeper.RunOnce(ctx)
	}

	stored, err := h.tasks.FindByID(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusProcessing, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	cp, ok := h.checkpoints.Get(1, campaign.ID)
	require.True(t, ok)
	assert.True(t, cp.Awaiting)

	stored, err = h.tasks.FindByID(ctx, inbox.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusQueued, stored.Status)
}
