package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureLogger returns a debug-level JSON logger and a function that
// decodes every record written so far.
func captureLogger(t *testing.T) (*slog.Logger, func() []map[string]any) {
	t.Helper()
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, func() []map[string]any {
		var records []map[string]any
		for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
			if line == "" {
				continue
			}
			var rec map[string]any
			require.NoError(t, json.Unmarshal([]byte(line), &rec))
			records = append(records, rec)
		}
		return records
	}
}

func TestEnrichLogger(t *testing.T) {
	t.Run("adds session attributes", func(t *testing.T) {
		logger, records := captureLogger(t)
		EnrichLogger(logger, "sess-1", "cleaning@2").Info("hello")

		recs := records()
		require.Len(t, recs, 1)
		assert.Equal(t, "sess-1", recs[0]["session_id"])
		assert.Equal(t, "cleaning@2", recs[0]["flow_version"])
	})

	t.Run("nil logger stays nil", func(t *testing.T) {
		assert.Nil(t, EnrichLogger(nil, "s", "f"))
	})
}

func TestLogHelpers(t *testing.T) {
	logger, records := captureLogger(t)

	LogFlowCompiled(logger, "cleaning@2", 9, 6)
	LogFlowWarning(logger, "cleaning", "orphan", "unreachable_node", "node is unreachable")
	LogStepStart(logger, "s1", "q_name", true)
	LogStepComplete(logger, "s1", "q_name", "q_email", "prompt", 1.5)
	LogStepError(logger, "s1", "q_name", errors.New("boom"))
	LogInvalidAnswer(logger, "s1", "q_email", 2, 3)
	LogEscalation(logger, "s1", "t-1", "high", []string{"human_requested", "negative_sentiment"})
	LogReservation(logger, "s1", "slot-20260102-0900", "held")
	LogFallback(logger, "classify_sentiment", errors.New("timeout"), 4000)

	recs := records()
	require.Len(t, recs, 9)

	assert.Equal(t, "flow compiled", recs[0]["msg"])
	assert.EqualValues(t, 6, recs[0]["questions"])

	assert.Equal(t, "WARN", recs[1]["level"])
	assert.Equal(t, "orphan", recs[1]["node_id"])

	assert.Equal(t, "DEBUG", recs[2]["level"])
	assert.Equal(t, true, recs[2]["has_answer"])

	assert.Equal(t, "q_email", recs[3]["to_node"])
	assert.Equal(t, "prompt", recs[3]["outcome"])

	assert.Equal(t, "ERROR", recs[4]["level"])
	assert.Equal(t, "boom", recs[4]["error"])

	assert.EqualValues(t, 2, recs[5]["attempt"])

	assert.Equal(t, "human_requested,negative_sentiment", recs[6]["reasons"])
	assert.Equal(t, "high", recs[6]["priority"])

	assert.Equal(t, "held", recs[7]["result"])

	assert.Equal(t, "classify_sentiment", recs[8]["kind"])
	assert.Equal(t, "timeout", recs[8]["error"])
}

func TestLogHelpersNilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		LogFlowCompiled(nil, "f", 1, 1)
		LogFlowWarning(nil, "f", "n", "k", "m")
		LogStepStart(nil, "s", "n", false)
		LogStepComplete(nil, "s", "a", "b", "prompt", 0)
		LogStepError(nil, "s", "n", errors.New("x"))
		LogInvalidAnswer(nil, "s", "n", 1, 3)
		LogEscalation(nil, "s", "t", "p", nil)
		LogReservation(nil, "s", "slot", "held")
		LogFallback(nil, "k", errors.New("x"), 0)
	})
}

func TestTimedOperation(t *testing.T) {
	elapsed := TimedOperation()
	time.Sleep(2 * time.Millisecond)
	assert.GreaterOrEqual(t, elapsed(), 1.0)
}
