package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sparkq/sparkq/internal/db"
	"github.com/sparkq/sparkq/internal/errs"
)

type createTaskRequest struct {
	QueueID   string          `json:"queue_id"`
	ToolName  string          `json:"tool_name"`
	TaskClass string          `json:"task_class"`
	Payload   json.RawMessage `json:"payload"`
	Timeout   int             `json:"timeout"`
}

func (h *handler) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.QueueID == "" || req.ToolName == "" || req.TaskClass == "" {
		h.writeError(w, r, errs.Validationf("MISSING_FIELD", "queue_id, tool_name and task_class are required"))
		return
	}

	t, err := h.engine.Enqueue(r.Context(), req.QueueID, req.ToolName, req.TaskClass, req.Payload, req.Timeout)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, t)
}

func (h *handler) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params, err := db.ParsePageParams(q.Get("limit"), q.Get("offset"), q.Get("cursor"), q.Get("sort_by"), q.Get("sort_dir"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	filter := db.TaskFilter{QueueID: q.Get("queue_id"), Status: q.Get("status")}
	repo := db.NewTaskRepo(h.store.SQL())
	page, err := repo.ListPage(r.Context(), filter, params)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	page.MaxLimit = db.MaxPageLimit
	jsonResponse(w, http.StatusOK, page)
}

func (h *handler) getTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	repo := db.NewTaskRepo(h.store.SQL())
	t, err := repo.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, t)
}

// claimTask implements §4.C's claim contract, whose only input is a
// queue_id: the caller doesn't know which task it will get ahead of time,
// so the {id} path segment on this route names the queue to claim from,
// not a task already selected. On a zero-row match (no queued task, or a
// lost race against another claimer) it returns NotFound so the caller
// backs off, per the runner poll loop in §4.F.
func (h *handler) claimTask(w http.ResponseWriter, r *http.Request) {
	queueID := chi.URLParam(r, "id")
	t, err := h.engine.Claim(r.Context(), queueID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, t)
}

type completeTaskRequest struct {
	Result json.RawMessage `json:"result"`
	Stdout string          `json:"stdout"`
	Stderr string          `json:"stderr"`
}

func (h *handler) completeTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req completeTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	t, err := h.engine.Complete(r.Context(), id, req.Result, req.Stdout, req.Stderr)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, t)
}

type failTaskRequest struct {
	Error  string `json:"error"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

func (h *handler) failTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req failTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	t, err := h.engine.Fail(r.Context(), id, req.Error, req.Stdout, req.Stderr)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, t)
}

func (h *handler) requeueTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := h.engine.Requeue(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, t)
}
