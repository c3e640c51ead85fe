package httpapi_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/intakeflow/pkg/intakeflow"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/handoff"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/httpapi"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/runtime"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/scheduling"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/store"
)

const gutterFlow = `
id: gutters
name: Gutter cleaning
version: "1"
maxQuestions: 2
startNodeId: stories
nodes:
  - id: stories
    type: question
    question: How many stories is the house?
    inputType: number
    maxAttempts: 1
    next: book
  - id: book
    type: activation
    text: Thanks!
    schedule: {windowDays: 3, maxSlots: 2}
`

var monday = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newServer(t *testing.T) (*httpapi.Server, *clock) {
	t.Helper()
	def, err := intakeflow.DecodeYAML([]byte(gutterFlow))
	require.NoError(t, err)
	g, err := intakeflow.Validate(def, intakeflow.WithValidationLogger(nil))
	require.NoError(t, err)

	st := store.NewMemoryStore()
	require.NoError(t, st.Open(context.Background()))
	c := &clock{now: monday}
	slots := scheduling.NewMemorySlotStore()
	require.NoError(t, slots.Open(context.Background()))
	sched := scheduling.NewScheduler(slots,
		scheduling.WithClock(c.Now), scheduling.WithLocation(time.UTC))

	e := runtime.NewEngine(st,
		runtime.WithScheduler(sched),
		runtime.WithTicketSink(store.TicketSink{Store: st}),
		runtime.WithCallTokens(handoff.NewTokenIssuer(time.Minute, c.Now), "https://intake.example.com"),
	)
	require.NoError(t, e.Register(g))

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	return httpapi.NewServer(e, httpapi.WithLogger(quiet), httpapi.WithSlotDefaults(3, 2)), c
}

func do(t *testing.T, s *httpapi.Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestHealthAndFlows(t *testing.T) {
	s, _ := newServer(t)

	rec, body := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])

	_, body = do(t, s, http.MethodGet, "/v1/flows", "")
	assert.Equal(t, []any{"gutters@1"}, body["flows"])
}

func TestSessionLifecycle(t *testing.T) {
	s, _ := newServer(t)

	rec, body := do(t, s, http.MethodPost, "/v1/flows/gutters@1/sessions", `{"sessionId":"s1","contact":"+15550001111"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "prompt", body["kind"])
	assert.Equal(t, "stories", body["nodeId"])

	rec, _ = do(t, s, http.MethodPost, "/v1/flows/gutters@1/sessions", `{"sessionId":"s1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, body = do(t, s, http.MethodPost, "/v1/sessions/s1/events", `{"answer":{"text":"two"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	outcome := body["outcome"].(map[string]any)
	assert.Equal(t, "Please enter a number.", outcome["error"])

	rec, body = do(t, s, http.MethodPost, "/v1/sessions/s1/events", `{"answer":{"text":"2"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", body["kind"])
	assert.Equal(t, "completed", body["status"])
	assert.Len(t, body["slots"], 2)

	rec, body = do(t, s, http.MethodGet, "/v1/sessions/s1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"stories": float64(2)}, body["collected"])

	rec, _ = do(t, s, http.MethodPost, "/v1/sessions/s1/events", `{"answer":{"text":"3"}}`)
	assert.Equal(t, http.StatusConflict, rec.Code, "closed sessions reject events")
}

func TestErrors(t *testing.T) {
	s, _ := newServer(t)

	rec, body := do(t, s, http.MethodPost, "/v1/flows/nope@1/sessions", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, body["error"], "unknown flow version")

	rec, _ = do(t, s, http.MethodGet, "/v1/sessions/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	do(t, s, http.MethodPost, "/v1/flows/gutters@1/sessions", `{"sessionId":"s2"}`)
	rec, _ = do(t, s, http.MethodPost, "/v1/sessions/s2/events", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/v1/sessions/s2/events", `{"flowVersion":"gutters@2","answer":{"text":"1"}}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/v1/sessions/s2/signals", `{"facts":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, s, http.MethodGet, "/v1/slots?maxSlots=lots", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEscalationAndCallLink(t *testing.T) {
	s, c := newServer(t)

	do(t, s, http.MethodPost, "/v1/flows/gutters@1/sessions", `{"sessionId":"s3","contact":"+15550002222"}`)
	rec, body := do(t, s, http.MethodPost, "/v1/sessions/s3/signals", `{"facts":{"human_requested":true}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "escalated", body["kind"])
	ticket := body["ticket"].(map[string]any)
	assert.Equal(t, []any{handoff.ReasonCustomerRequestedHuman}, ticket["reasonCodes"])

	callURL := body["callUrl"].(string)
	require.True(t, strings.HasPrefix(callURL, "https://intake.example.com/call/"))
	token := strings.TrimPrefix(callURL, "https://intake.example.com/call/")

	_, body = do(t, s, http.MethodGet, "/v1/sessions/s3/tickets", "")
	assert.Len(t, body["tickets"], 1)

	rec, body = do(t, s, http.MethodGet, "/v1/call/"+token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s3", body["sessionId"])
	assert.Equal(t, "+15550002222", body["contact"])

	c.Advance(2 * time.Minute)
	rec, _ = do(t, s, http.MethodGet, "/v1/call/"+token, "")
	assert.Equal(t, http.StatusGone, rec.Code)

	rec, _ = do(t, s, http.MethodGet, "/v1/call/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReservations(t *testing.T) {
	s, _ := newServer(t)
	do(t, s, http.MethodPost, "/v1/flows/gutters@1/sessions", `{"sessionId":"a"}`)
	do(t, s, http.MethodPost, "/v1/flows/gutters@1/sessions", `{"sessionId":"b"}`)

	rec, body := do(t, s, http.MethodGet, "/v1/slots", "")
	require.Equal(t, http.StatusOK, rec.Code)
	slots := body["slots"].([]any)
	require.Len(t, slots, 2)
	slotID := slots[0].(map[string]any)["slotId"].(string)

	rec, held := do(t, s, http.MethodPost, "/v1/sessions/a/reservations", `{"slotId":"`+slotID+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rid := held["reservationId"].(string)

	rec, _ = do(t, s, http.MethodPost, "/v1/sessions/b/reservations", `{"slotId":"`+slotID+`"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/v1/sessions/a/reservations", `{"slotId":"slot-garbage"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/v1/sessions/b/reservations/"+rid+"/confirm", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "another session's reservation")

	rec, booked := do(t, s, http.MethodPost, "/v1/sessions/a/reservations/"+rid+"/confirm", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "confirmed", booked["status"])

	rec, _ = do(t, s, http.MethodDelete, "/v1/sessions/a/reservations/"+rid, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}
