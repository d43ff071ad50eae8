package web

import (
	"errors"
	"github.com/relaydesk/taskrelay/custom_errors"
	"github.com/relaydesk/taskrelay/internal/actions"
	"github.com/relaydesk/taskrelay/internal/registry"
	"log"
	"net/http"
)

// statusFor maps domain errors onto HTTP status codes. Anything unrecognized is a 500.
func statusFor(err error) int {
	var vErr *custom_errors.ValidationError
	switch {
	case errors.Is(err, custom_errors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, custom_errors.ErrTaskNotFound),
		errors.Is(err, custom_errors.ErrWorkerNotFound):
		return http.StatusNotFound
	case errors.Is(err, custom_errors.ErrUserExists),
		errors.Is(err, custom_errors.ErrAttemptSuperseded):
		return http.StatusConflict
	case errors.Is(err, custom_errors.ErrUnknownKind),
		errors.Is(err, custom_errors.ErrInvalidParameters),
		errors.Is(err, custom_errors.ErrInvalidDecision),
		errors.Is(err, custom_errors.ErrInvalidReport),
		errors.Is(err, registry.ErrMissingWorkerID),
		errors.Is(err, actions.ErrInvalidAction),
		errors.Is(err, errBadRequest),
		errors.As(err, &vErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("web: %v", err)
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
