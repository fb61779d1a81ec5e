package runner

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sparkq/sparkq/internal/db"
)

func TestPrettyJSONIndentsValidPayload(t *testing.T) {
	got := prettyJSON(json.RawMessage(`{"a":1}`))
	assert.Equal(t, "{\n  \"a\": 1\n}", got)
}

func TestPrettyJSONEmptyYieldsEmptyObject(t *testing.T) {
	assert.Equal(t, "{}", prettyJSON(nil))
	assert.Equal(t, "{}", prettyJSON(json.RawMessage{}))
}

func TestPrettyJSONFallsBackOnInvalidInput(t *testing.T) {
	assert.Equal(t, "not json", prettyJSON(json.RawMessage("not json")))
}

func TestStdinReporterParsesJSONReport(t *testing.T) {
	in := strings.NewReader("{\"summary\":\"done\"}\n\n")
	r := &StdinReporter{In: in}
	result, stdout, stderr, failMsg := r.Run(context.Background(), &db.Task{ID: "task_1"}, "lane", "")
	assert.Equal(t, "", failMsg)
	assert.Equal(t, "", stdout)
	assert.Equal(t, "", stderr)
	assert.JSONEq(t, `{"summary":"done"}`, string(result))
}

func TestStdinReporterParsesFailPrefix(t *testing.T) {
	in := strings.NewReader("fail: something broke\n")
	r := &StdinReporter{In: in}
	_, _, _, failMsg := r.Run(context.Background(), &db.Task{ID: "task_1"}, "lane", "")
	assert.Equal(t, "something broke", failMsg)
}

func TestStdinReporterEmptyInputYieldsSyntheticFailure(t *testing.T) {
	in := strings.NewReader("")
	r := &StdinReporter{In: in}
	_, _, _, failMsg := r.Run(context.Background(), &db.Task{ID: "task_9"}, "lane", "")
	assert.Contains(t, failMsg, "task_9")
}
