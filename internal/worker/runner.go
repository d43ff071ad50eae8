package worker

import (
	"context"
	"errors"
	"fmt"
	"github.com/relaydesk/taskrelay/custom_errors"
	"golang.org/x/sync/errgroup"
	"log"
	"time"
)

const defaultFailure = "job failed"

type Runner struct {
	api               API
	handlers          *HandlerRegistry
	workerID          string
	info              map[string]any
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	finalRetryBase    time.Duration
}

func NewRunner(api API, handlers *HandlerRegistry, cfg *Config) *Runner {
	return &Runner{
		api:               api,
		handlers:          handlers,
		workerID:          cfg.WorkerID,
		info:              cfg.Info,
		pollInterval:      cfg.PollInterval,
		heartbeatInterval: cfg.HeartbeatInterval,
		finalRetryBase:    defaultFinalRetryBase,
	}
}

// Run heartbeats and polls until ctx is cancelled or the coordinator rejects the API key.
// At most one job is in flight at a time.
func (r *Runner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.heartbeatLoop(gctx) })
	g.Go(func() error { return r.pollLoop(gctx) })

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (r *Runner) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.api.Heartbeat(ctx, r.workerID, r.info); err != nil {
				if errors.Is(err, custom_errors.ErrUnauthorized) {
					return err
				}
				log.Printf("worker: heartbeat: %v", err)
			}
		}
	}
}

func (r *Runner) pollLoop(ctx context.Context) error {
	for {
		worked, err := r.RunOnce(ctx)
		if err != nil {
			if errors.Is(err, custom_errors.ErrUnauthorized) || ctx.Err() != nil {
				return err
			}
			log.Printf("worker: poll: %v", err)
		}
		if worked && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.pollInterval):
		}
	}
}

// RunOnce claims at most one job and runs it to its final report. It reports whether a
// job was claimed.
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	task, err := r.api.Poll(ctx, r.workerID, r.info)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	log.Printf("worker: claimed %s task %s", task.Kind, task.ID)
	job := NewJob(r.api, task)
	job.retryBase = r.finalRetryBase
	runErr := r.execute(ctx, job)

	if ctx.Err() != nil && runErr != nil {
		// Shutting down mid-job. The coordinator re-queues the task once it goes stale.
		return true, ctx.Err()
	}
	if errors.Is(runErr, custom_errors.ErrAttemptSuperseded) {
		log.Printf("worker: task %s (attempt %d) was re-queued, dropping it", task.ID, task.Attempts)
		return true, nil
	}
	if job.finalized() {
		return true, nil
	}

	if runErr != nil {
		log.Printf("worker: task %s failed: %v", task.ID, runErr)
		msg := runErr.Error()
		if msg == "" {
			msg = defaultFailure
		}
		err = job.ReportFinal(ctx, false, nil, msg)
	} else {
		err = job.ReportFinal(ctx, true, nil, "")
	}
	if errors.Is(err, custom_errors.ErrAttemptSuperseded) {
		log.Printf("worker: task %s (attempt %d) was re-queued, result dropped", task.ID, task.Attempts)
		return true, nil
	}
	return true, err
}

func (r *Runner) execute(ctx context.Context, job *Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in %s handler: %v", job.Task.Kind, rec)
		}
	}()
	return r.handlers.Execute(ctx, job)
}
