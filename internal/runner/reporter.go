package runner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/sparkq/sparkq/internal/db"
)

func prettyJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

// StdinReporter is the default Reporter: it waits for the operator to type
// a line of JSON ({"summary": "..."} at minimum) terminated by a blank line
// or end of input, or a "fail:" prefix followed by a message, on the
// runner's stdin. It has no implicit lease timer; it blocks until input
// arrives or ctx ends.
type StdinReporter struct {
	In io.Reader
}

func (r *StdinReporter) Run(ctx context.Context, t *db.Task, queueName, instructions string) (result []byte, stdout, stderr, failMsg string) {
	done := make(chan []string, 1)
	go func() {
		scanner := bufio.NewScanner(r.In)
		var read []string
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				break
			}
			read = append(read, line)
		}
		done <- read
	}()

	var lines []string
	select {
	case lines = <-done:
	case <-ctx.Done():
		return nil, "", "", fmt.Sprintf("runner stopped before a report was received for task %s", t.ID)
	}

	joined := strings.TrimSpace(strings.Join(lines, "\n"))
	if strings.HasPrefix(joined, "fail:") {
		return nil, "", "", strings.TrimSpace(strings.TrimPrefix(joined, "fail:"))
	}
	if joined == "" {
		return nil, "", "", fmt.Sprintf("no report received for task %s", t.ID)
	}
	return json.RawMessage(joined), "", "", ""
}
