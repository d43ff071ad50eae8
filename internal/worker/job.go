package worker

import (
	"context"
	"github.com/relaydesk/taskrelay/types"
	"log"
	"sync"
	"time"
)

const (
	defaultFinalRetryBase = time.Second
	finalRetryMax         = time.Minute
)

// Job is a claimed task together with the reporting calls bound to it. Every call carries
// the claim's attempt number, so the coordinator can turn away a job it has re-queued.
type Job struct {
	Task *types.Task

	api       API
	retryBase time.Duration
	mu        sync.Mutex
	finalSent bool
}

func NewJob(api API, task *types.Task) *Job {
	return &Job{Task: task, api: api, retryBase: defaultFinalRetryBase}
}

// ReportInterim sends cumulative progress. Keys the coordinator does not know for the
// job's kind are dropped on its side.
func (j *Job) ReportInterim(ctx context.Context, fields map[string]any) error {
	return j.api.Report(ctx, j.Task.ID, types.TaskReport{
		Attempt: j.Task.Attempts,
		Interim: true,
		Result:  fields,
	})
}

// ReportFinal freezes the job. A transient failure is retried with a doubling pause until
// the coordinator accepts the report, rejects it for good, or ctx ends. Once the report
// has been accepted or rejected for good, later calls do nothing.
func (j *Job) ReportFinal(ctx context.Context, success bool, result map[string]any, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.finalSent {
		return nil
	}

	report := types.TaskReport{
		Attempt: j.Task.Attempts,
		Success: success,
		Result:  result,
		Error:   errMsg,
	}
	delay := j.retryBase
	for {
		err := j.api.Report(ctx, j.Task.ID, report)
		if err == nil || permanentReportError(err) {
			j.finalSent = true
			return err
		}

		log.Printf("worker: final report for task %s: %v, retrying in %s", j.Task.ID, err, delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > finalRetryMax {
			delay = finalRetryMax
		}
	}
}

func (j *Job) DrainActions(ctx context.Context) ([]types.PendingAction, error) {
	return j.api.Actions(ctx, j.Task.ID, j.Task.Attempts)
}

func (j *Job) finalized() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.finalSent
}
