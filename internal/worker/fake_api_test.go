package worker

import (
	"context"
	"github.com/relaydesk/taskrelay/types"
	"sync"
)

type fakeAPI struct {
	mu      sync.Mutex
	tasks   []*types.Task
	reports []types.TaskReport
	beats   int
	actions map[string][]types.PendingAction

	PollErr      error
	HeartbeatErr error
	ReportErr    error
	// FailFinals makes that many final reports fail with FinalErr before one lands.
	FailFinals  int
	FinalErr    error
	finalTries  int
	drainedWith []int
}

func (f *fakeAPI) Poll(_ context.Context, _ string, _ map[string]any) (*types.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PollErr != nil {
		return nil, f.PollErr
	}
	if len(f.tasks) == 0 {
		return nil, nil
	}
	task := f.tasks[0]
	f.tasks = f.tasks[1:]
	return task, nil
}

func (f *fakeAPI) Heartbeat(_ context.Context, _ string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beats++
	return f.HeartbeatErr
}

func (f *fakeAPI) Report(_ context.Context, _ string, report types.TaskReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !report.Interim {
		f.finalTries++
		if f.finalTries <= f.FailFinals {
			return f.FinalErr
		}
	}
	if f.ReportErr != nil {
		return f.ReportErr
	}
	f.reports = append(f.reports, report)
	return nil
}

func (f *fakeAPI) Actions(_ context.Context, taskID string, attempt int) ([]types.PendingAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drainedWith = append(f.drainedWith, attempt)
	drained := f.actions[taskID]
	delete(f.actions, taskID)
	return drained, nil
}

func (f *fakeAPI) Reports() []types.TaskReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.TaskReport(nil), f.reports...)
}

func (f *fakeAPI) FinalTries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finalTries
}

func (f *fakeAPI) finals() []types.TaskReport {
	var out []types.TaskReport
	for _, r := range f.Reports() {
		if !r.Interim {
			out = append(out, r)
		}
	}
	return out
}
