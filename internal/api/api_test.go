package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparkq/sparkq/internal/config"
	"github.com/sparkq/sparkq/internal/db"
	"github.com/sparkq/sparkq/internal/lifecycle"
	"github.com/sparkq/sparkq/internal/store"
)

type testServer struct {
	*httptest.Server
	t *testing.T
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sparkq.db")
	st, err := store.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	engine := lifecycle.NewEngine(st, db.DefaultTaskClassTimeouts)
	cfgHolder, err := config.NewHolder()
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	router := NewRouter(st, engine, cfgHolder, logger, "test-build")
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, t: t}
}

func (s *testServer) do(method, path string, body any) (*http.Response, map[string]any) {
	s.t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(s.t, err)
		reqBody = bytes.NewBuffer(b)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}
	req, err := http.NewRequest(method, s.URL+path, reqBody)
	require.NoError(s.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	dec := json.NewDecoder(resp.Body)
	_ = dec.Decode(&decoded)
	return resp, decoded
}

func (s *testServer) mustCreateProject() string {
	resp, body := s.do(http.MethodPost, "/api/projects", map[string]string{"name": "demo"})
	require.Equal(s.t, http.StatusCreated, resp.StatusCode)
	return body["id"].(string)
}

func (s *testServer) mustCreateSession(projectID string) string {
	resp, body := s.do(http.MethodPost, "/api/sessions", map[string]string{"project_id": projectID, "name": "sess-a"})
	require.Equal(s.t, http.StatusCreated, resp.StatusCode)
	return body["id"].(string)
}

func (s *testServer) mustCreateQueue(sessionID string) string {
	resp, body := s.do(http.MethodPost, "/api/queues", map[string]string{"session_id": sessionID, "name": "lane-a"})
	require.Equal(s.t, http.StatusCreated, resp.StatusCode)
	return body["id"].(string)
}

func TestHealthAndVersion(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, body = s.do(http.MethodGet, "/api/version", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "test-build", body["build_id"])
}

func TestHealthReadyRejectsBuildMismatch(t *testing.T) {
	s := newTestServer(t)
	req, err := http.NewRequest(http.MethodGet, s.URL+"/api/health/ready", nil)
	require.NoError(t, err)
	req.Header.Set("X-Build-Id", "other-build")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

// End-to-end lifecycle: project -> session -> queue -> enqueue -> claim ->
// complete, exercising the full happy path through the REST surface.
func TestFullTaskLifecycleHappyPath(t *testing.T) {
	s := newTestServer(t)
	projectID := s.mustCreateProject()
	sessionID := s.mustCreateSession(projectID)
	queueID := s.mustCreateQueue(sessionID)

	resp, task := s.do(http.MethodPost, "/api/tasks", map[string]any{
		"queue_id": queueID, "tool_name": "echo", "task_class": db.TaskClassFastScript, "payload": map[string]any{"x": 1},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, db.TaskStatusQueued, task["status"])
	taskID := task["id"].(string)

	resp, claimed := s.do(http.MethodPost, "/api/tasks/"+queueID+"/claim", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, taskID, claimed["id"])
	assert.Equal(t, db.TaskStatusRunning, claimed["status"])

	resp, completed := s.do(http.MethodPost, "/api/tasks/"+taskID+"/complete", map[string]any{
		"result": map[string]any{"summary": "done"}, "stdout": "ok",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, db.TaskStatusSucceeded, completed["status"])
}

func TestClaimOnEmptyQueueReturnsNotFound(t *testing.T) {
	s := newTestServer(t)
	projectID := s.mustCreateProject()
	sessionID := s.mustCreateSession(projectID)
	queueID := s.mustCreateQueue(sessionID)

	resp, body := s.do(http.MethodPost, "/api/tasks/"+queueID+"/claim", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, body["request_id"])
}

func TestCompleteRequiresSummaryField(t *testing.T) {
	s := newTestServer(t)
	projectID := s.mustCreateProject()
	sessionID := s.mustCreateSession(projectID)
	queueID := s.mustCreateQueue(sessionID)
	_, task := s.do(http.MethodPost, "/api/tasks", map[string]any{
		"queue_id": queueID, "tool_name": "echo", "task_class": db.TaskClassFastScript, "payload": map[string]any{},
	})
	taskID := task["id"].(string)
	s.do(http.MethodPost, "/api/tasks/"+queueID+"/claim", nil)

	resp, body := s.do(http.MethodPost, "/api/tasks/"+taskID+"/complete", map[string]any{"result": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION", body["code"])
}

func TestFailThenRequeue(t *testing.T) {
	s := newTestServer(t)
	projectID := s.mustCreateProject()
	sessionID := s.mustCreateSession(projectID)
	queueID := s.mustCreateQueue(sessionID)
	_, task := s.do(http.MethodPost, "/api/tasks", map[string]any{
		"queue_id": queueID, "tool_name": "echo", "task_class": db.TaskClassFastScript, "payload": map[string]any{},
	})
	taskID := task["id"].(string)
	s.do(http.MethodPost, "/api/tasks/"+queueID+"/claim", nil)

	resp, failed := s.do(http.MethodPost, "/api/tasks/"+taskID+"/fail", map[string]any{"error": "boom"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, db.TaskStatusFailed, failed["status"])

	resp, requeued := s.do(http.MethodPost, "/api/tasks/"+taskID+"/requeue", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, db.TaskStatusQueued, requeued["status"])
	assert.NotEqual(t, taskID, requeued["id"])
}

func TestQueueArchiveUnarchiveAndNameCollision(t *testing.T) {
	s := newTestServer(t)
	projectID := s.mustCreateProject()
	sessionID := s.mustCreateSession(projectID)
	queueID := s.mustCreateQueue(sessionID)

	resp, _ := s.do(http.MethodPut, "/api/queues/"+queueID+"/archive", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// A new queue reuses the now-freed name.
	resp, _ = s.do(http.MethodPost, "/api/queues", map[string]string{"session_id": sessionID, "name": "lane-a"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := s.do(http.MethodPut, "/api/queues/"+queueID+"/unarchive", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "CONFLICT", body["code"])
}

func TestGetQueueReportsNoLiveRunnerByDefault(t *testing.T) {
	s := newTestServer(t)
	projectID := s.mustCreateProject()
	sessionID := s.mustCreateSession(projectID)
	queueID := s.mustCreateQueue(sessionID)

	resp, body := s.do(http.MethodGet, "/api/queues/"+queueID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, body["runner_pid"], "no runner lockfile held, runner_pid must be omitted")
}

func TestListTasksPaginationEnvelope(t *testing.T) {
	s := newTestServer(t)
	projectID := s.mustCreateProject()
	sessionID := s.mustCreateSession(projectID)
	queueID := s.mustCreateQueue(sessionID)
	for i := 0; i < 3; i++ {
		s.do(http.MethodPost, "/api/tasks", map[string]any{
			"queue_id": queueID, "tool_name": "echo", "task_class": db.TaskClassFastScript, "payload": map[string]any{},
		})
	}

	resp, body := s.do(http.MethodGet, "/api/tasks?queue_id="+queueID+"&limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := body["items"].([]any)
	assert.Len(t, items, 2)
	assert.EqualValues(t, 2, body["limit"])
	assert.True(t, body["truncated"].(bool))
	assert.EqualValues(t, 3, body["total_count"])
}

func TestCreateProjectEnforcesSingleton(t *testing.T) {
	s := newTestServer(t)
	s.mustCreateProject()

	resp, body := s.do(http.MethodPost, "/api/projects", map[string]string{"name": "other"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "CONFLICT", body["code"])
}

func TestReloadConfigEndpoint(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.do(http.MethodPost, "/api/config/reload", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["reloaded"])
}

func TestPurgeNowEndpoint(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.do(http.MethodPost, "/api/purge", map[string]int{"older_than_days": 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["deleted"])
}
