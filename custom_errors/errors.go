package custom_errors

import "errors"

var (
	// ErrUnauthorized is returned for a missing or unknown credential. It is terminal for the request.
	ErrUnauthorized = errors.New("unauthorized")

	ErrTaskNotFound      = errors.New("task not found")
	ErrWorkerNotFound    = errors.New("worker not found")
	ErrUnknownKind       = errors.New("unknown task kind")
	ErrInvalidParameters = errors.New("invalid task parameters")
	ErrInvalidDecision   = errors.New("invalid decision")
	ErrInvalidReport     = errors.New("invalid task report")
	ErrUserExists        = errors.New("user already exists")

	// ErrAttemptSuperseded is returned to a worker still running a claim that has since been
	// re-queued or finished.
	ErrAttemptSuperseded = errors.New("task attempt superseded")
)
