package worker

import (
	"context"
	"fmt"
	"github.com/relaydesk/taskrelay/internal/jobs"
	"log"
)

type Thread struct {
	ID      string
	From    string
	Subject string
	Body    string
}

// Mailbox is the user's mail account as seen by an inbox job.
type Mailbox interface {
	Threads(ctx context.Context, max int, unreadOnly bool) ([]Thread, error)
	Reply(ctx context.Context, threadID, body string) error
	Flag(ctx context.Context, threadID string) error
}

// Responder decides what to do with a thread: reply with a body, flag it for a human,
// or leave it when both are empty.
type Responder interface {
	Respond(ctx context.Context, thread Thread) (reply string, flag bool, err error)
}

// InboxHandler works through the mailbox one thread at a time. A failing thread is
// recorded and the job moves on.
func InboxHandler(box Mailbox, responder Responder) Handler {
	return func(ctx context.Context, job *Job) error {
		params, err := jobs.ParseInboxParams(job.Task.Parameters)
		if err != nil {
			return err
		}
		threads, err := box.Threads(ctx, params.MaxThreads, params.UnreadOnly)
		if err != nil {
			return fmt.Errorf("list threads: %w", err)
		}

		var replied, flagged, failed int
		outcomes := make([]jobs.ThreadOutcome, 0, len(threads))
		for i, thread := range threads {
			if err := ctx.Err(); err != nil {
				return err
			}

			outcome := handleThread(ctx, box, responder, thread)
			switch outcome.Status {
			case jobs.ThreadReplied:
				replied++
			case jobs.ThreadFlagged:
				flagged++
			case jobs.ThreadFailed:
				failed++
				log.Printf("worker: task %s thread %s: %s", job.Task.ID, thread.ID, outcome.Reason)
			}
			outcomes = append(outcomes, outcome)

			if err := reportInterim(ctx, job, map[string]any{
				jobs.KeyProcessed: i + 1,
				jobs.KeyReplied:   replied,
				jobs.KeyFlagged:   flagged,
				jobs.KeyFailed:    failed,
			}); err != nil {
				return err
			}
		}

		return job.ReportFinal(ctx, true, map[string]any{
			jobs.KeyProcessed: len(outcomes),
			jobs.KeyReplied:   replied,
			jobs.KeyFlagged:   flagged,
			jobs.KeyFailed:    failed,
			jobs.KeyThreads:   outcomes,
		}, "")
	}
}

func handleThread(ctx context.Context, box Mailbox, responder Responder, thread Thread) jobs.ThreadOutcome {
	outcome := jobs.ThreadOutcome{ThreadID: thread.ID, Subject: thread.Subject, Status: jobs.ThreadIgnored}

	reply, flag, err := responder.Respond(ctx, thread)
	if err != nil {
		outcome.Status, outcome.Reason = jobs.ThreadFailed, err.Error()
		return outcome
	}
	if reply != "" {
		if err := box.Reply(ctx, thread.ID, reply); err != nil {
			outcome.Status, outcome.Reason = jobs.ThreadFailed, err.Error()
			return outcome
		}
		outcome.Status = jobs.ThreadReplied
	}
	if flag {
		if err := box.Flag(ctx, thread.ID); err != nil {
			outcome.Status, outcome.Reason = jobs.ThreadFailed, err.Error()
			return outcome
		}
		if outcome.Status != jobs.ThreadReplied {
			outcome.Status = jobs.ThreadFlagged
		}
	}
	return outcome
}
