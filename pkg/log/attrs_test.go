package log_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/tartan/pkg/api"
	"github.com/kode4food/tartan/pkg/log"
)

type errStub string

func TestRunID(t *testing.T) {
	attr := log.RunID(api.RunID("run-123"))
	assertAttrEqual(t, attr, "run_id", "run-123")
}

func TestFlowName(t *testing.T) {
	attr := log.FlowName(api.FlowName("checkout"))
	assertAttrEqual(t, attr, "flow", "checkout")
}

func TestStepName(t *testing.T) {
	attr := log.StepName(api.StepName("charge-card"))
	assertAttrEqual(t, attr, "step", "charge-card")
}

func TestStatus(t *testing.T) {
	attr := log.Status(api.RunCompleted)
	assertAttrEqual(t, attr, "status", "completed")
}

func TestAttempt(t *testing.T) {
	attr := log.Attempt(3)
	assert.Equal(t, "attempt", attr.Key)
	assert.Equal(t, int64(3), attr.Value.Int64())
}

func TestError(t *testing.T) {
	attr := log.Error(nil)
	assertAttrEqual(t, attr, "error", "")

	attr = log.Error(errStub("boom"))
	assertAttrEqual(t, attr, "error", "boom")
}

func TestErrorString(t *testing.T) {
	attr := log.ErrorString("badness")
	assertAttrEqual(t, attr, "error", "badness")
}

func (e errStub) Error() string { return string(e) }

func assertAttrEqual(t *testing.T, attr slog.Attr, key, value string) {
	t.Helper()
	assert.Equal(t, key, attr.Key)
	assert.Equal(t, value, attr.Value.String())
}
