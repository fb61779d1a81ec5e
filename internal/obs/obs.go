// Package obs builds the service's structured logger (§4.I): a stdout JSON
// slog.Handler by default, optionally combined with Sentry reporting when
// a DSN is configured, grounded on the ambient stack's
// pkg/logger.NewWithSentry. Only Internal-kind errors are forwarded to
// Sentry as events; Validation/NotFound/Conflict/Busy are expected traffic
// and stay at Info/Warn.
package obs

import (
	"context"
	"log/slog"
	"os"

	"github.com/getsentry/sentry-go"
	sentryslog "github.com/getsentry/sentry-go/slog"

	"github.com/sparkq/sparkq/internal/errs"
)

// NewLogger builds the process-wide slog.Logger and installs it as the
// default via slog.SetDefault. If dsn is empty, logging falls back to
// stdout only — the same graceful degradation the ambient stack's
// NewWithSentry performs.
func NewLogger(dsn, level string) *slog.Logger {
	stdout := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(level)})

	if dsn == "" {
		logger := slog.New(stdout)
		slog.SetDefault(logger)
		return logger
	}

	if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err != nil {
		logger := slog.New(stdout)
		logger.Error("failed to initialize sentry, falling back to stdout-only logging", "error", err)
		slog.SetDefault(logger)
		return logger
	}

	sentryHandler := sentryslog.Option{
		EventLevel: []slog.Level{slog.LevelError},
		LogLevel:   []slog.Level{slog.LevelWarn, slog.LevelError},
	}.NewSentryHandler(context.Background())

	logger := slog.New(newMultiHandler(stdout, sentryHandler))
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogError logs err at a severity matching its errs.Kind: Internal errors
// are unexpected and logged at Error (reaching Sentry when configured);
// Busy is logged at Warn; everything else is expected traffic at Info.
func LogError(logger *slog.Logger, msg string, err error, attrs ...any) {
	kind := errs.KindOf(err)
	args := append([]any{"error", err, "kind", kind.String()}, attrs...)
	switch kind {
	case errs.Internal:
		logger.Error(msg, args...)
	case errs.Busy:
		logger.Warn(msg, args...)
	default:
		logger.Info(msg, args...)
	}
}

// multiHandler forwards log records to multiple handlers, letting stdout
// JSON logging and Sentry reporting run side by side off one *slog.Logger.
type multiHandler struct {
	handlers []slog.Handler
}

func newMultiHandler(handlers ...slog.Handler) slog.Handler {
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, rec slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, rec.Level) {
			if err := handler.Handle(ctx, rec.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return newMultiHandler(handlers...)
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return newMultiHandler(handlers...)
}
