// Package campaign runs outreach campaigns on the worker, one contact at a time. In
// approval mode every drafted message waits on a human decision before it is sent.
package campaign

import (
	"context"
	"github.com/relaydesk/taskrelay/internal/jobs"
	"github.com/relaydesk/taskrelay/internal/worker"
	"github.com/relaydesk/taskrelay/types"
	"log"
	"time"
)

const (
	DefaultDecisionPollInterval = 2 * time.Second
	// checkpointReannounceInterval is how often a pending checkpoint is reported again
	// while no decision arrives, so a coordinator that lost it can show it again.
	checkpointReannounceInterval = 30 * time.Second
	stoppedError                 = "campaign stopped"
)

// Drafter writes the message for one contact.
type Drafter interface {
	Draft(ctx context.Context, params jobs.CampaignParams, contact map[string]any, index int) (string, error)
}

// Sender delivers a message. It is the campaign's only side effect.
type Sender interface {
	Send(ctx context.Context, contact map[string]any, message string) error
}

type Reporter interface {
	ReportInterim(ctx context.Context, fields map[string]any) error
	ReportFinal(ctx context.Context, success bool, result map[string]any, errMsg string) error
}

type ActionSource interface {
	DrainActions(ctx context.Context) ([]types.PendingAction, error)
}

type Orchestrator struct {
	drafter              Drafter
	sender               Sender
	decisionPollInterval time.Duration
	// reannounceEvery counts empty drains between checkpoint announcements.
	reannounceEvery int
}

func NewOrchestrator(drafter Drafter, sender Sender, decisionPollInterval time.Duration) *Orchestrator {
	if decisionPollInterval <= 0 {
		decisionPollInterval = DefaultDecisionPollInterval
	}
	reannounceEvery := int(checkpointReannounceInterval / decisionPollInterval)
	if reannounceEvery < 1 {
		reannounceEvery = 1
	}
	return &Orchestrator{
		drafter:              drafter,
		sender:               sender,
		decisionPollInterval: decisionPollInterval,
		reannounceEvery:      reannounceEvery,
	}
}

// Handler adapts the orchestrator to the worker's handler registry.
func (o *Orchestrator) Handler() worker.Handler {
	return func(ctx context.Context, job *worker.Job) error {
		params, err := jobs.ParseCampaignParams(job.Task.Parameters)
		if err != nil {
			return err
		}
		return o.Run(ctx, job.Task.ID, params, job, job)
	}
}

// Run processes every contact and sends the final report. It returns an error only
// when the job cannot go on at all.
func (o *Orchestrator) Run(ctx context.Context, taskID string, params jobs.CampaignParams, reporter Reporter, actions ActionSource) error {
	r := &run{
		taskID:   taskID,
		params:   params,
		reporter: reporter,
		actions:  actions,
		outcomes: make([]jobs.ItemOutcome, 0, len(params.Contacts)),
	}

	for i, contact := range params.Contacts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !r.stopRequested {
			if err := r.checkForStop(ctx); err != nil {
				return err
			}
		}
		if r.stopRequested {
			break
		}

		outcome, err := o.processItem(ctx, r, i, contact)
		if err != nil {
			return err
		}
		if outcome == nil {
			// Stopped while awaiting a decision; the item was never attempted.
			break
		}
		r.record(*outcome)
		if err := r.reportProgress(ctx, i); err != nil {
			return err
		}
	}

	if r.stopRequested {
		log.Printf("campaign: task %s stopped after %d of %d items", taskID, len(r.outcomes), len(params.Contacts))
		return reporter.ReportFinal(ctx, false, r.result(), stoppedError)
	}
	return reporter.ReportFinal(ctx, true, r.result(), "")
}

// processItem drafts, optionally waits for approval, and sends. A nil outcome means the
// campaign was stopped before the item was decided.
func (o *Orchestrator) processItem(ctx context.Context, r *run, index int, contact map[string]any) (*jobs.ItemOutcome, error) {
	outcome := jobs.ItemOutcome{Index: index, Contact: contact}

	message, err := o.drafter.Draft(ctx, r.params, contact, index)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		outcome.Status, outcome.Reason = jobs.ItemFailed, "draft: "+err.Error()
		return &outcome, nil
	}
	outcome.Message = message

	if r.params.ApprovalMode {
		decision, err := o.awaitDecision(ctx, r, index, contact, message)
		if err != nil {
			return nil, err
		}
		if decision == nil {
			return nil, nil
		}
		switch decision.Kind {
		case types.ActionSkip:
			outcome.Status = jobs.ItemSkipped
			return &outcome, nil
		case types.ActionEdit:
			outcome.Message = decision.Content
			outcome.Edited = true
		}
	}

	if err := o.sender.Send(ctx, contact, outcome.Message); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		outcome.Status, outcome.Reason = jobs.ItemFailed, "send: "+err.Error()
		return &outcome, nil
	}
	outcome.Status = jobs.ItemSent
	return &outcome, nil
}

// awaitDecision announces the checkpoint for index and polls for a decision on it. The
// checkpoint is announced again every reannounceEvery polls until a decision lands. It
// returns nil when a stop arrives first.
func (o *Orchestrator) awaitDecision(ctx context.Context, r *run, index int, contact map[string]any, message string) (*types.PendingAction, error) {
	fields := r.counters()
	fields[jobs.KeyAwaiting] = true
	fields[jobs.KeyCurrentIndex] = index
	fields[jobs.KeyCheckpoint] = types.ApprovalCheckpoint{
		TaskID:    r.taskID,
		ItemIndex: index,
		Preview:   types.Preview{Contact: contact, Message: message},
		Awaiting:  true,
	}
	if err := r.interim(ctx, fields); err != nil {
		return nil, err
	}

	ticker := time.NewTicker(o.decisionPollInterval)
	defer ticker.Stop()
	for polls := 1; ; polls++ {
		drained, err := r.actions.DrainActions(ctx)
		if err != nil {
			if fatal(err) || ctx.Err() != nil {
				return nil, err
			}
			log.Printf("campaign: task %s: drain actions: %v", r.taskID, err)
		}

		var decision *types.PendingAction
		for i := range drained {
			a := drained[i]
			switch {
			case a.Kind == types.ActionStop:
				r.stopRequested = true
			case decision != nil:
				log.Printf("campaign: task %s: dropping extra %s for item %d", r.taskID, a.Kind, index)
			case a.ItemIndex == nil || *a.ItemIndex != index:
				log.Printf("campaign: task %s: discarding %s for item %v while awaiting item %d", r.taskID, a.Kind, itemLabel(a.ItemIndex), index)
			case r.stopRequested:
				// A stop queued ahead of the decision wins.
			default:
				decision = &a
			}
		}
		if decision != nil {
			return decision, nil
		}
		if r.stopRequested {
			return nil, nil
		}

		if polls%o.reannounceEvery == 0 {
			if err := r.interim(ctx, fields); err != nil {
				return nil, err
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func itemLabel(idx *int) any {
	if idx == nil {
		return "none"
	}
	return *idx
}
