package web

import (
	"bytes"
	"context"
	"encoding/json"
	"github.com/relaydesk/taskrelay/internal/actions"
	"github.com/relaydesk/taskrelay/internal/approval"
	"github.com/relaydesk/taskrelay/internal/coordinator"
	"github.com/relaydesk/taskrelay/internal/jobs"
	"github.com/relaydesk/taskrelay/internal/mocks"
	"github.com/relaydesk/taskrelay/internal/progress"
	"github.com/relaydesk/taskrelay/internal/registry"
	"github.com/relaydesk/taskrelay/internal/state"
	"github.com/relaydesk/taskrelay/internal/store/memory"
	"github.com/relaydesk/taskrelay/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const testSecret = "test-secret"

type testServer struct {
	*httptest.Server
	users  *memory.UserStore
	userID int64
	apiKey string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	tasks := memory.NewTaskStore()
	checkpoints := approval.NewRegistry()
	kinds := jobs.NewKindRegistry()
	events := &mocks.EventRecorder{}
	svc := coordinator.NewService(coordinator.Dependencies{
		Tasks:       tasks,
		Registry:    registry.New(memory.NewWorkerStore(), 2*time.Minute, nil),
		Channel:     actions.NewMemoryChannel(time.Hour),
		Checkpoints: checkpoints,
		Aggregator:  progress.NewAggregator(tasks, kinds, checkpoints, events),
		Kinds:       kinds,
		Events:      events,
	}, 5*time.Minute)

	users := memory.NewUserStore()
	userID, err := users.Create(context.Background(), "owner@example.com", "password123", "worker-key")
	require.NoError(t, err)

	handler := NewRouteHandler(svc, users, testSecret, nil, 10, 0)
	srv := httptest.NewServer(handler.Router())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, users: users, userID: userID, apiKey: "worker-key"}
}

func (s *testServer) do(t *testing.T, method, path string, body any, auth func(*http.Request)) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if auth != nil {
		auth(req)
	}
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) worker(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
}

func (s *testServer) dashboard(req *http.Request) {
	req.AddCookie(&http.Cookie{
		Name:  authCookie,
		Value: generateAuthToken(s.userID, time.Now().Add(time.Hour), testSecret),
	})
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWorkerAuth(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/worker/poll", map[string]string{"worker_id": "w1"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/worker/poll", map[string]string{"worker_id": "w1"}, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer nope")
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDashboardAuth(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/api/jobs", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/jobs", nil, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: authCookie, Value: "forged"})
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/jobs", nil, s.dashboard)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPoll_NoTask(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodPost, "/api/worker/poll", map[string]string{"worker_id": "w1"}, s.worker)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/workers", nil, s.dashboard)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string][]types.WorkerStatus](t, resp)
	require.Len(t, body["workers"], 1)
	assert.Equal(t, "w1", body["workers"][0].WorkerID)
	assert.True(t, body["workers"][0].Active)
}

func TestPoll_MissingWorkerID(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodPost, "/api/worker/poll", map[string]string{}, s.worker)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJobLifecycle(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/jobs", map[string]any{
		"kind":       types.KindInbox,
		"parameters": map[string]any{"max_threads": 5},
	}, s.dashboard)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	submitted := decode[types.Task](t, resp)
	assert.Equal(t, state.StatusQueued, submitted.Status)

	resp = s.do(t, http.MethodPost, "/api/worker/poll", map[string]string{"worker_id": "w1"}, s.worker)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	claimed := decode[map[string]types.Task](t, resp)["task"]
	assert.Equal(t, submitted.ID, claimed.ID)
	assert.Equal(t, state.StatusProcessing, claimed.Status)

	resp = s.do(t, http.MethodPost, "/api/worker/tasks/"+claimed.ID+"/report", types.TaskReport{
		Attempt: claimed.Attempts,
		Interim: true,
		Result:  map[string]any{"processed": 2},
	}, s.worker)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/jobs/"+claimed.ID, nil, s.dashboard)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[types.Task](t, resp)
	assert.Equal(t, float64(2), view.Progress["processed"])

	resp = s.do(t, http.MethodPost, "/api/worker/tasks/"+claimed.ID+"/report", types.TaskReport{
		Attempt: claimed.Attempts,
		Success: true,
		Result:  map[string]any{"processed": 5},
	}, s.worker)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/jobs/"+claimed.ID, nil, s.dashboard)
	view = decode[types.Task](t, resp)
	assert.Equal(t, state.StatusCompleted, view.Status)
	assert.JSONEq(t, `{"processed": 5}`, string(view.Result))

	resp = s.do(t, http.MethodGet, "/api/stats", nil, s.dashboard)
	stats := decode[map[state.TaskStatus]int](t, resp)
	assert.Equal(t, 1, stats[state.StatusCompleted])
	assert.Equal(t, 0, stats[state.StatusQueued])
}

func TestSubmitJob_Rejected(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/jobs", map[string]any{"kind": "fax"}, s.dashboard)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/jobs", map[string]any{
		"kind":       types.KindDirectorySearch,
		"parameters": map[string]any{"keywords": ""},
	}, s.dashboard)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJobStatus_OtherUser(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodPost, "/api/jobs", map[string]any{"kind": types.KindInbox}, s.dashboard)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	task := decode[types.Task](t, resp)

	otherID, err := s.users.Create(context.Background(), "other@example.com", "password123", "other-key")
	require.NoError(t, err)
	resp = s.do(t, http.MethodGet, "/api/jobs/"+task.ID, nil, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: authCookie, Value: generateAuthToken(otherID, time.Now().Add(time.Hour), testSecret)})
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/jobs/does-not-exist", nil, s.dashboard)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDecisionsAndActions(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodPost, "/api/jobs", map[string]any{"kind": types.KindInbox}, s.dashboard)
	task := decode[types.Task](t, resp)
	resp = s.do(t, http.MethodPost, "/api/worker/poll", map[string]string{"worker_id": "w1"}, s.worker)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	claimed := decode[map[string]types.Task](t, resp)["task"]
	require.Equal(t, task.ID, claimed.ID)

	resp = s.do(t, http.MethodPost, "/api/worker/tasks/"+task.ID+"/actions", map[string]int{"attempt": claimed.Attempts}, s.worker)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string][]types.PendingAction{"actions": {}}, decode[map[string][]types.PendingAction](t, resp))

	resp = s.do(t, http.MethodPost, "/api/jobs/"+task.ID+"/decisions", map[string]any{"kind": "send", "item_index": 0}, s.dashboard)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, map[string]string{"status": "queued"}, decode[map[string]string](t, resp))

	resp = s.do(t, http.MethodPost, "/api/jobs/"+task.ID+"/decisions", map[string]any{"kind": "edit", "item_index": 0}, s.dashboard)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Draining consumes the mailbox, so a plain GET is not routed.
	resp = s.do(t, http.MethodGet, "/api/worker/tasks/"+task.ID+"/actions", nil, s.worker)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/worker/tasks/"+task.ID+"/actions", nil, s.worker)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/worker/tasks/"+task.ID+"/actions", map[string]int{"attempt": claimed.Attempts}, s.worker)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	drained := decode[map[string][]types.PendingAction](t, resp)["actions"]
	require.Len(t, drained, 1)
	assert.Equal(t, types.ActionSend, drained[0].Kind)
	require.NotNil(t, drained[0].ItemIndex)
	assert.Equal(t, 0, *drained[0].ItemIndex)
}

func TestEarlierAttemptGetsConflict(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodPost, "/api/jobs", map[string]any{"kind": types.KindInbox}, s.dashboard)
	task := decode[types.Task](t, resp)

	s.do(t, http.MethodPost, "/api/worker/poll", map[string]string{"worker_id": "w1"}, s.worker)
	resp = s.do(t, http.MethodPost, "/api/jobs/"+task.ID+"/requeue", nil, s.dashboard)
	require.Equal(t, map[string]bool{"requeued": true}, decode[map[string]bool](t, resp))
	resp = s.do(t, http.MethodPost, "/api/worker/poll", map[string]string{"worker_id": "w2"}, s.worker)
	reclaimed := decode[map[string]types.Task](t, resp)["task"]
	require.Equal(t, 2, reclaimed.Attempts)

	resp = s.do(t, http.MethodPost, "/api/worker/tasks/"+task.ID+"/actions", map[string]int{"attempt": 1}, s.worker)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/worker/tasks/"+task.ID+"/report", types.TaskReport{Attempt: 1, Success: false, Error: "gone"}, s.worker)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/worker/tasks/"+task.ID+"/report", types.TaskReport{Attempt: 2, Success: true}, s.worker)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/jobs/"+task.ID, nil, s.dashboard)
	view := decode[types.Task](t, resp)
	assert.Equal(t, state.StatusCompleted, view.Status)
	assert.Equal(t, "w2", view.WorkerID)
}

func TestWorkerStatus(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/worker/heartbeat", map[string]any{"worker_id": "laptop", "info": map[string]any{"os": "linux"}}, s.worker)

	resp := s.do(t, http.MethodGet, "/api/workers/laptop", nil, s.dashboard)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[types.WorkerStatus](t, resp)
	assert.Equal(t, "laptop", status.WorkerID)
	assert.True(t, status.Active)

	resp = s.do(t, http.MethodGet, "/api/workers/desktop", nil, s.dashboard)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/workers/laptop", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRequeue(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodPost, "/api/jobs", map[string]any{"kind": types.KindInbox}, s.dashboard)
	task := decode[types.Task](t, resp)

	resp = s.do(t, http.MethodPost, "/api/jobs/"+task.ID+"/requeue", nil, s.dashboard)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]bool{"requeued": false}, decode[map[string]bool](t, resp))

	s.do(t, http.MethodPost, "/api/worker/poll", map[string]string{"worker_id": "w1"}, s.worker)
	resp = s.do(t, http.MethodPost, "/api/jobs/"+task.ID+"/requeue", nil, s.dashboard)
	assert.Equal(t, map[string]bool{"requeued": true}, decode[map[string]bool](t, resp))
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/register", map[string]string{"email": "new@example.com", "password": "short"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/register", map[string]string{"email": "New@Example.com", "password": "password123"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	registered := decode[map[string]any](t, resp)
	apiKey, _ := registered["api_key"].(string)
	assert.NotEmpty(t, apiKey)
	assert.Equal(t, "new@example.com", registered["email"])

	resp = s.do(t, http.MethodPost, "/register", map[string]string{"email": "new@example.com", "password": "password123"}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/login", map[string]string{"email": "new@example.com", "password": "wrong-password"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/login", map[string]string{"email": "nobody@example.com", "password": "password123"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/login", map[string]string{"email": "new@example.com", "password": "password123"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == authCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)

	resp = s.do(t, http.MethodGet, "/api/jobs", nil, func(r *http.Request) { r.AddCookie(cookie) })
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/worker/poll", map[string]string{"worker_id": "w9"}, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+apiKey)
	})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
