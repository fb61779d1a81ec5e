// Command sparkq-runner is the standalone external worker process described
// by the runner coordination protocol: it binds to one queue, guards against
// a second concurrent runner for that queue via a lockfile, and polls the
// service for work.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sparkq/sparkq/internal/runner"
)

func main() {
	var (
		baseURL      = flag.String("base-url", "http://127.0.0.1:5005", "base URL of the sparkq daemon")
		queueID      = flag.String("queue-id", "", "id of the queue this runner serves (required)")
		queueName    = flag.String("queue-name", "", "name of the queue, used for the lockfile and prompt stream (required)")
		instructions = flag.String("instructions", "", "free-text instructions passed to the prompt stream")
		pollInterval = flag.Duration("poll-interval", 30*time.Second, "interval between polls when the queue is empty")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *queueID == "" || *queueName == "" {
		fmt.Fprintln(os.Stderr, "sparkq-runner: -queue-id and -queue-name are required")
		os.Exit(2)
	}

	lock, err := runner.AcquireLock(*queueName)
	if err != nil {
		var already *runner.ErrAlreadyRunning
		if errors.As(err, &already) {
			fmt.Fprintf(os.Stderr, "sparkq-runner: %s\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "sparkq-runner: failed to acquire lock: %s\n", err)
		os.Exit(1)
	}
	defer lock.Release()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	w := &runner.Worker{
		Client:       runner.NewClient(*baseURL),
		QueueID:      *queueID,
		QueueName:    *queueName,
		Instructions: *instructions,
		PollInterval: *pollInterval,
		Reporter:     &runner.StdinReporter{In: os.Stdin},
		Logger:       logger,
		Out:          os.Stdout,
	}

	logger.Info("sparkq-runner starting", "queue", *queueName, "base_url", *baseURL, "pid", os.Getpid())

	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("runner stopped with error", "error", err)
		os.Exit(1)
	}

	logger.Info("sparkq-runner stopped")
}
