// Package api is the thin HTTP translation layer (§4.E): decode and
// validate inputs, call into internal/db and internal/lifecycle, map
// domain errors to status codes, serialize JSON. No business logic lives
// here.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sparkq/sparkq/internal/config"
	"github.com/sparkq/sparkq/internal/lifecycle"
	"github.com/sparkq/sparkq/internal/store"
)

type handler struct {
	store   *store.Store
	engine  *lifecycle.Engine
	cfg     *config.Holder
	logger  *slog.Logger
	buildID string
}

// NewRouter builds the full chi router for the REST surface (§6.3).
func NewRouter(st *store.Store, engine *lifecycle.Engine, cfg *config.Holder, logger *slog.Logger, buildID string) http.Handler {
	h := &handler{store: st, engine: engine, cfg: cfg, logger: logger, buildID: buildID}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/health", h.health)
	r.Get("/api/version", h.version)
	r.Get("/api/health/ready", h.healthReady)
	r.Post("/api/config/reload", h.reloadConfig)
	r.Post("/api/purge", h.purgeNow)

	r.Route("/api/projects", func(r chi.Router) {
		r.Post("/", h.createProject)
		r.Get("/", h.listProjects)
		r.Get("/{id}", h.getProject)
	})

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.createSession)
		r.Get("/", h.listSessions)
		r.Get("/{id}", h.getSession)
		r.Put("/{id}", h.updateSession)
		r.Delete("/{id}", h.deleteSession)
	})

	r.Route("/api/queues", func(r chi.Router) {
		r.Post("/", h.createQueue)
		r.Get("/", h.listQueues)
		r.Get("/{id}", h.getQueue)
		r.Put("/{id}", h.updateQueue)
		r.Delete("/{id}", h.deleteQueue)
		r.Put("/{id}/archive", h.archiveQueue)
		r.Put("/{id}/unarchive", h.unarchiveQueue)
	})

	r.Route("/api/tasks", func(r chi.Router) {
		r.Post("/", h.createTask)
		r.Get("/", h.listTasks)
		r.Get("/{id}", h.getTask)
		r.Post("/{id}/claim", h.claimTask)
		r.Post("/{id}/complete", h.completeTask)
		r.Post("/{id}/fail", h.failTask)
		r.Post("/{id}/requeue", h.requeueTask)
	})

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type,X-Build-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
