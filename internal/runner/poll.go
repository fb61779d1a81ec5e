package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sparkq/sparkq/internal/db"
	"github.com/sparkq/sparkq/internal/errs"
)

// Reporter executes a claimed task and returns its terminal outcome. The
// Worker streams the prompt to Out before calling it; the default
// implementation (StdinReporter) then blocks on stdin for an operator-typed
// report; tests substitute a scripted one.
type Reporter interface {
	Run(ctx context.Context, t *db.Task, queueName, instructions string) (result []byte, stdout, stderr string, failMsg string)
}

// Worker runs the poll loop described in the runner coordination protocol
// for one queue, bound for its whole lifetime to the lockfile acquired in
// main.
type Worker struct {
	Client       *Client
	QueueID      string
	QueueName    string
	Instructions string
	PollInterval time.Duration
	Reporter     Reporter
	Logger       *slog.Logger
	Out          io.Writer
}

// Run blocks until ctx is cancelled, executing the peek/claim/stream/report
// cycle once per PollInterval.
func (w *Worker) Run(ctx context.Context) error {
	interval := w.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	for {
		if err := w.tick(ctx); err != nil && ctx.Err() == nil {
			w.Logger.Error("poll tick failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// tick implements one iteration of §4.F's poll loop: peek, claim, stream,
// await report, complete/fail. A nil return means either nothing to do
// this round (empty queue or a lost claim race) or that the claimed task's
// outcome was reported successfully.
func (w *Worker) tick(ctx context.Context) error {
	peeked, err := w.Client.PeekOldest(ctx, w.QueueID)
	if err != nil {
		return fmt.Errorf("peek failed: %w", err)
	}
	if peeked == nil {
		return nil
	}

	claimed, err := w.Client.Claim(ctx, w.QueueID)
	if err != nil {
		if errs.KindOf(err) == errs.NotFound {
			// Another runner won the race for this queue's head; normal, not
			// an error worth surfacing.
			return nil
		}
		return fmt.Errorf("claim failed: %w", err)
	}

	w.streamPrompt(claimed)

	result, stdout, stderr, failMsg := w.Reporter.Run(ctx, claimed, w.QueueName, w.Instructions)

	return w.report(ctx, claimed.ID, result, stdout, stderr, failMsg)
}

// streamPrompt writes the textual block described in §6.5. Its exact
// formatting is an operator affordance with no compatibility requirement.
func (w *Worker) streamPrompt(t *db.Task) {
	fmt.Fprintf(w.Out, "=== sparkq task %s ===\n", t.ID)
	fmt.Fprintf(w.Out, "tool: %s\n", t.ToolName)
	fmt.Fprintf(w.Out, "queue: %s\n", w.QueueName)
	if w.Instructions != "" {
		fmt.Fprintf(w.Out, "instructions: %s\n", w.Instructions)
	}
	fmt.Fprintf(w.Out, "payload:\n%s\n", prettyJSON(t.Payload))
	fmt.Fprintln(w.Out, "=== awaiting report ===")
}

// report delivers the captured outcome with bounded exponential backoff on
// network error, per §4.F step 5. The task stays "running" on exhaustion;
// §4.D's auto-fail janitor eventually reclaims it.
func (w *Worker) report(ctx context.Context, taskID string, result []byte, stdout, stderr, failMsg string) error {
	const maxAttempts = 5
	backoff := 500 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		var err error
		if failMsg != "" {
			_, err = w.Client.Fail(ctx, taskID, failMsg, stdout, stderr)
		} else {
			_, err = w.Client.Complete(ctx, taskID, result, stdout, stderr)
		}
		if err == nil {
			return nil
		}
		lastErr = err
		w.Logger.Warn("report attempt failed, retrying", "task", taskID, "attempt", attempt, "error", err)
	}

	w.Logger.Error("giving up reporting task outcome; leaving it for server-side auto-fail", "task", taskID, "error", lastErr)
	return lastErr
}
