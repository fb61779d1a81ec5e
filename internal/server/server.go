// Package server wraps the REST router in an *http.Server with graceful
// shutdown. sparkq has no bundled UI to serve (presentation is explicitly
// out of scope), so unlike the teacher's server.go this never mounts a
// static asset filesystem — the router handles every route itself.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

type Server struct {
	httpServer    *http.Server
	shutdownGrace time.Duration
	logger        *slog.Logger
}

func New(addr string, handler http.Handler, shutdownGraceSeconds int, logger *slog.Logger) *Server {
	if shutdownGraceSeconds <= 0 {
		shutdownGraceSeconds = 10
	}
	return &Server{
		httpServer:    &http.Server{Addr: addr, Handler: handler},
		shutdownGrace: time.Duration(shutdownGraceSeconds) * time.Second,
		logger:        logger,
	}
}

// Start runs the HTTP listener until ctx is cancelled, at which point it
// stops accepting new requests and waits up to shutdownGrace for in-flight
// handlers before returning.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server failed: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining in-flight requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownGrace)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
