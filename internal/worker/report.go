package worker

import (
	"context"
	"errors"
	"github.com/relaydesk/taskrelay/custom_errors"
	"log"
	"net/http"
)

// reportInterim sends progress and swallows transport failures: a lost interim report is
// superseded by the next one. A rejected credential or a claim the coordinator has moved
// on from stops the job.
func reportInterim(ctx context.Context, job *Job, fields map[string]any) error {
	if err := job.ReportInterim(ctx, fields); err != nil {
		if errors.Is(err, custom_errors.ErrUnauthorized) || errors.Is(err, custom_errors.ErrAttemptSuperseded) {
			return err
		}
		log.Printf("worker: interim report for task %s: %v", job.Task.ID, err)
	}
	return nil
}

// permanentReportError tells whether resending the same report can ever succeed.
func permanentReportError(err error) bool {
	if errors.Is(err, custom_errors.ErrUnauthorized) || errors.Is(err, custom_errors.ErrAttemptSuperseded) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Code {
		case http.StatusRequestTimeout, http.StatusTooManyRequests:
			return false
		}
		return statusErr.Code < http.StatusInternalServerError
	}
	return false
}
