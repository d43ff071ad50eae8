package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/relaydesk/taskrelay/types"
	"net/http"
)

// actionsRequest names the claim doing the draining.
type actionsRequest struct {
	Attempt int `json:"attempt"`
}

type workerRequest struct {
	WorkerID string         `json:"worker_id"`
	Info     map[string]any `json:"info"`
}

func (handler *HttpRouteHandler) handlePoll(w http.ResponseWriter, r *http.Request) {
	var req workerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	task, err := handler.service.Poll(r.Context(), userIDFrom(r.Context()), req.WorkerID, req.Info)
	if err != nil {
		writeError(w, err)
		return
	}
	if task == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*types.Task{"task": task})
}

func (handler *HttpRouteHandler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req workerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := handler.service.Heartbeat(r.Context(), userIDFrom(r.Context()), req.WorkerID, req.Info); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (handler *HttpRouteHandler) handleReport(w http.ResponseWriter, r *http.Request) {
	var report types.TaskReport
	if err := decodeJSON(w, r, &report); err != nil {
		writeError(w, err)
		return
	}
	if err := handler.service.Report(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "id"), report); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (handler *HttpRouteHandler) handleActions(w http.ResponseWriter, r *http.Request) {
	var req actionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	drained, err := handler.service.DrainActions(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "id"), req.Attempt)
	if err != nil {
		writeError(w, err)
		return
	}
	if drained == nil {
		drained = []types.PendingAction{}
	}
	writeJSON(w, http.StatusOK, map[string][]types.PendingAction{"actions": drained})
}
