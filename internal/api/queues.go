package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sparkq/sparkq/internal/db"
	"github.com/sparkq/sparkq/internal/errs"
	"github.com/sparkq/sparkq/internal/runner"
	"github.com/sparkq/sparkq/internal/store"
)

type createQueueRequest struct {
	SessionID      string `json:"session_id"`
	Name           string `json:"name"`
	Instructions   string `json:"instructions"`
	ModelProfile   string `json:"model_profile"`
	CodexSessionID string `json:"codex_session_id"`
}

func (h *handler) createQueue(w http.ResponseWriter, r *http.Request) {
	var req createQueueRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.SessionID == "" || req.Name == "" {
		h.writeError(w, r, errs.Validationf("MISSING_FIELD", "session_id and name are required"))
		return
	}

	var created *db.Queue
	err := h.store.WithExclusive(r.Context(), func(ctx context.Context, q store.Queryer) error {
		sessionRepo := db.NewSessionRepo(q)
		if _, err := sessionRepo.Get(ctx, req.SessionID); err != nil {
			return err
		}
		queue := &db.Queue{
			SessionID:      req.SessionID,
			Name:           req.Name,
			Instructions:   req.Instructions,
			ModelProfile:   req.ModelProfile,
			CodexSessionID: req.CodexSessionID,
		}
		queueRepo := db.NewQueueRepo(q)
		if err := queueRepo.Create(ctx, queue); err != nil {
			return err
		}
		created = queue
		return nil
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, created)
}

func (h *handler) listQueues(w http.ResponseWriter, r *http.Request) {
	repo := db.NewQueueRepo(h.store.SQL())
	queues, err := repo.List(r.Context(), db.QueueFilter{
		SessionID:       r.URL.Query().Get("session_id"),
		Status:          r.URL.Query().Get("status"),
		IncludeArchived: r.URL.Query().Get("include_archived") == "true",
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"items": queues})
}

func (h *handler) getQueue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	repo := db.NewQueueRepo(h.store.SQL())
	q, err := repo.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	q.RunnerPID = runner.LiveRunnerPID(q.Name)
	jsonResponse(w, http.StatusOK, q)
}

type updateQueueRequest struct {
	Status string `json:"status"`
}

func (h *handler) updateQueue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateQueueRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Status != db.QueueStatusEnded {
		h.writeError(w, r, errs.Validationf("UNSUPPORTED_TRANSITION", "only status=\"ended\" is supported"))
		return
	}

	var updated *db.Queue
	err := h.store.WithExclusive(r.Context(), func(ctx context.Context, q store.Queryer) error {
		repo := db.NewQueueRepo(q)
		if err := repo.End(ctx, id); err != nil {
			return err
		}
		qr, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		updated = qr
		return nil
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, updated)
}

func (h *handler) deleteQueue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	repo := db.NewQueueRepo(h.store.SQL())
	if err := repo.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusNoContent, nil)
}

func (h *handler) archiveQueue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var updated *db.Queue
	err := h.store.WithExclusive(r.Context(), func(ctx context.Context, q store.Queryer) error {
		repo := db.NewQueueRepo(q)
		if err := repo.Archive(ctx, id); err != nil {
			return err
		}
		qr, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		updated = qr
		return nil
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, updated)
}

// unarchiveQueue fails Conflict rather than clobbering a same-named queue
// created while this one was archived — the decided resolution of the
// unarchive-collision Open Question.
func (h *handler) unarchiveQueue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var updated *db.Queue
	err := h.store.WithExclusive(r.Context(), func(ctx context.Context, q store.Queryer) error {
		repo := db.NewQueueRepo(q)
		if err := repo.Unarchive(ctx, id); err != nil {
			return err
		}
		qr, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		updated = qr
		return nil
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, updated)
}
