package web

import (
	"encoding/json"
	"github.com/go-chi/chi/v5"
	"github.com/relaydesk/taskrelay/internal/state"
	"github.com/relaydesk/taskrelay/types"
	"net/http"
	"strings"
)

type submitJobRequest struct {
	Kind       types.TaskKind  `json:"kind"`
	Parameters json.RawMessage `json:"parameters"`
}

type decisionRequest struct {
	Kind      types.ActionKind `json:"kind"`
	ItemIndex *int             `json:"item_index"`
	Content   string           `json:"content"`
}

func (handler *HttpRouteHandler) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	task, err := handler.service.SubmitJob(r.Context(), userIDFrom(r.Context()), req.Kind, req.Parameters)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (handler *HttpRouteHandler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := state.TaskStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	result, err := handler.service.ListJobs(r.Context(), userIDFrom(r.Context()), getPageNumber(r), handler.pageSize, status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (handler *HttpRouteHandler) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	view, err := handler.service.JobStatus(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (handler *HttpRouteHandler) handleDecision(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	err := handler.service.SubmitDecision(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "id"), req.Kind, req.ItemIndex, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (handler *HttpRouteHandler) handleRequeue(w http.ResponseWriter, r *http.Request) {
	requeued, err := handler.service.Requeue(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"requeued": requeued})
}

func (handler *HttpRouteHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := handler.service.Stats(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (handler *HttpRouteHandler) handleWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := handler.service.Workers(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	if workers == nil {
		workers = []types.WorkerStatus{}
	}
	writeJSON(w, http.StatusOK, map[string][]types.WorkerStatus{"workers": workers})
}

func (handler *HttpRouteHandler) handleWorker(w http.ResponseWriter, r *http.Request) {
	status, err := handler.service.Worker(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
