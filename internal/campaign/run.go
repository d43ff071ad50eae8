package campaign

import (
	"context"
	"errors"
	"github.com/relaydesk/taskrelay/custom_errors"
	"github.com/relaydesk/taskrelay/internal/jobs"
	"github.com/relaydesk/taskrelay/types"
	"log"
)

// run is the state of one campaign attempt.
type run struct {
	taskID   string
	params   jobs.CampaignParams
	reporter Reporter
	actions  ActionSource

	outcomes      []jobs.ItemOutcome
	sent          int
	skipped       int
	failed        int
	stopRequested bool
}

func (r *run) record(outcome jobs.ItemOutcome) {
	switch outcome.Status {
	case jobs.ItemSent:
		r.sent++
	case jobs.ItemSkipped:
		r.skipped++
	case jobs.ItemFailed:
		r.failed++
		log.Printf("campaign: task %s item %d failed: %s", r.taskID, outcome.Index, outcome.Reason)
	}
	r.outcomes = append(r.outcomes, outcome)
}

// counters are cumulative. Every interim report carries all of them.
func (r *run) counters() map[string]any {
	return map[string]any{
		jobs.KeyTotal:     len(r.params.Contacts),
		jobs.KeyProcessed: len(r.outcomes),
		jobs.KeySent:      r.sent,
		jobs.KeySkipped:   r.skipped,
		jobs.KeyFailed:    r.failed,
	}
}

func (r *run) reportProgress(ctx context.Context, index int) error {
	fields := r.counters()
	fields[jobs.KeyAwaiting] = false
	fields[jobs.KeyCurrentIndex] = index
	if r.params.ApprovalMode {
		fields[jobs.KeyCheckpoint] = nil
	}
	return r.interim(ctx, fields)
}

func (r *run) result() map[string]any {
	result := r.counters()
	result[jobs.KeyItems] = r.outcomes
	return result
}

// checkForStop drains between items. Item decisions arriving here have no checkpoint to
// apply to and are discarded.
func (r *run) checkForStop(ctx context.Context) error {
	drained, err := r.actions.DrainActions(ctx)
	if err != nil {
		if fatal(err) || ctx.Err() != nil {
			return err
		}
		log.Printf("campaign: task %s: drain actions: %v", r.taskID, err)
		return nil
	}
	for _, a := range drained {
		if a.Kind == types.ActionStop {
			r.stopRequested = true
			continue
		}
		log.Printf("campaign: task %s: discarding %s for item %v between items", r.taskID, a.Kind, itemLabel(a.ItemIndex))
	}
	return nil
}

func (r *run) interim(ctx context.Context, fields map[string]any) error {
	if err := r.reporter.ReportInterim(ctx, fields); err != nil {
		if fatal(err) {
			return err
		}
		log.Printf("campaign: task %s: interim report: %v", r.taskID, err)
	}
	return nil
}

// fatal errors end the run: the key was revoked or the task now belongs to another claim.
func fatal(err error) bool {
	return errors.Is(err, custom_errors.ErrUnauthorized) || errors.Is(err, custom_errors.ErrAttemptSuperseded)
}
