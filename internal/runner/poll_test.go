package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparkq/sparkq/internal/db"
)

type scriptedReporter struct {
	result  []byte
	failMsg string
	calls   int
}

func (r *scriptedReporter) Run(ctx context.Context, t *db.Task, queueName, instructions string) (result []byte, stdout, stderr, failMsg string) {
	r.calls++
	return r.result, "", "", r.failMsg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestTickNoopWhenQueueEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(pageEnvelope{Items: nil})
	}))
	defer srv.Close()

	reporter := &scriptedReporter{}
	w := &Worker{Client: NewClient(srv.URL), QueueID: "queue_1", QueueName: "lane", Reporter: reporter, Logger: testLogger(), Out: &bytes.Buffer{}}

	require.NoError(t, w.tick(context.Background()))
	assert.Equal(t, 0, reporter.calls, "reporter must not run when nothing was peeked")
}

func TestTickClaimRaceLossIsNotAnError(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		switch {
		case r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(pageEnvelope{Items: []*db.Task{{ID: "task_1"}}})
		default:
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(errorEnvelope{Error: "no queued task available", Code: "NO_QUEUED_TASK"})
		}
	}))
	defer srv.Close()

	reporter := &scriptedReporter{}
	w := &Worker{Client: NewClient(srv.URL), QueueID: "queue_1", QueueName: "lane", Reporter: reporter, Logger: testLogger(), Out: &bytes.Buffer{}}

	err := w.tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, reporter.calls, "a lost claim race must never reach the reporter")
}

func TestTickHappyPathStreamsAndReportsCompletion(t *testing.T) {
	var completeBody completeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(pageEnvelope{Items: []*db.Task{{ID: "task_1", ToolName: "echo"}}})
		case r.URL.Path == "/api/tasks/queue_1/claim":
			json.NewEncoder(w).Encode(db.Task{ID: "task_1", ToolName: "echo", Payload: json.RawMessage(`{"x":1}`)})
		case r.URL.Path == "/api/tasks/task_1/complete":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&completeBody))
			json.NewEncoder(w).Encode(db.Task{ID: "task_1", Status: db.TaskStatusSucceeded})
		}
	}))
	defer srv.Close()

	reporter := &scriptedReporter{result: json.RawMessage(`{"summary":"done"}`)}
	out := &bytes.Buffer{}
	w := &Worker{Client: NewClient(srv.URL), QueueID: "queue_1", QueueName: "lane", Instructions: "be careful", Reporter: reporter, Logger: testLogger(), Out: out}

	require.NoError(t, w.tick(context.Background()))
	assert.Equal(t, 1, reporter.calls)
	assert.JSONEq(t, `{"summary":"done"}`, string(completeBody.Result))
	assert.Contains(t, out.String(), "task task_1")
	assert.Contains(t, out.String(), "be careful")
}

func TestTickHappyPathReportsFailure(t *testing.T) {
	var failBody failRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(pageEnvelope{Items: []*db.Task{{ID: "task_1"}}})
		case r.URL.Path == "/api/tasks/queue_1/claim":
			json.NewEncoder(w).Encode(db.Task{ID: "task_1"})
		case r.URL.Path == "/api/tasks/task_1/fail":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&failBody))
			json.NewEncoder(w).Encode(db.Task{ID: "task_1", Status: db.TaskStatusFailed})
		}
	}))
	defer srv.Close()

	reporter := &scriptedReporter{failMsg: "tool crashed"}
	w := &Worker{Client: NewClient(srv.URL), QueueID: "queue_1", QueueName: "lane", Reporter: reporter, Logger: testLogger(), Out: &bytes.Buffer{}}

	require.NoError(t, w.tick(context.Background()))
	assert.Equal(t, "tool crashed", failBody.Error)
}

// report must retry on a transient failure and succeed once the server
// starts answering, without exhausting all attempts.
func TestReportRetriesOnceThenSucceeds(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(errorEnvelope{Error: "boom"})
			return
		}
		json.NewEncoder(w).Encode(db.Task{ID: "task_1", Status: db.TaskStatusSucceeded})
	}))
	defer srv.Close()

	w := &Worker{Client: NewClient(srv.URL), QueueID: "queue_1", QueueName: "lane", Logger: testLogger(), Out: &bytes.Buffer{}}
	err := w.report(context.Background(), "task_1", json.RawMessage(`{"summary":"ok"}`), "", "", "")
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}
