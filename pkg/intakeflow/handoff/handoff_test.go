package handoff_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/intakeflow/pkg/intakeflow/handoff"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/session"
)

func newState(derived map[string]any) *session.State {
	st := session.New("sess-1", "cleaning@1", "q_address")
	for k, v := range derived {
		st.SetFact(k, v)
	}
	return st
}

func TestResolveReasons(t *testing.T) {
	tests := []struct {
		name    string
		derived map[string]any
		want    []string
	}{
		{
			name: "nothing set",
			want: []string{"unknown"},
		},
		{
			name:    "human requested",
			derived: map[string]any{"human_requested": true},
			want:    []string{"customer_requested_human"},
		},
		{
			name: "all conditions in precedence order",
			derived: map[string]any{
				"escalate_to_handoff":         true,
				"max_attempts_exceeded":       true,
				"exceeded_state":              "q_email",
				"negative_sentiment_detected": true,
				"human_requested":             true,
			},
			want: []string{
				"customer_requested_human",
				"negative_sentiment",
				"max_attempts_exceeded_q_email",
				"objection_escalation",
			},
		},
		{
			name: "string flags count",
			derived: map[string]any{
				"negative_sentiment_detected": "true",
				"escalate_to_handoff":         "yes",
			},
			want: []string{"negative_sentiment", "objection_escalation"},
		},
		{
			name:    "false flags ignored",
			derived: map[string]any{"human_requested": false},
			want:    []string{"unknown"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, handoff.ResolveReasons(newState(tt.derived)))
		})
	}
}

func TestResolvePriority(t *testing.T) {
	tests := []struct {
		name    string
		reasons []string
		derived map[string]any
		want    handoff.Priority
	}{
		{"negative sentiment", []string{"negative_sentiment"}, nil, handoff.PriorityHigh},
		{"urgency high", []string{"customer_requested_human"}, map[string]any{"urgency": "high"}, handoff.PriorityHigh},
		{"timeline asap", []string{"unknown"}, map[string]any{"timeline": "asap"}, handoff.PriorityHigh},
		{"urgency low", []string{"customer_requested_human"}, map[string]any{"urgency": "low"}, handoff.PriorityNormal},
		{"default", []string{"objection_escalation"}, nil, handoff.PriorityNormal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, handoff.ResolvePriority(tt.reasons, newState(tt.derived)))
		})
	}
}

func TestCreateTicket(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := newState(map[string]any{"human_requested": true, "timeline": "asap"})
	st.Contact = "+15550001111"
	st.Collected["address"] = "12 Elm St"
	st.Collected["frequency"] = "weekly"

	ticket := handoff.CreateTicket(st,
		handoff.WithIDFunc(func() string { return "t-1" }),
		handoff.WithClock(func() time.Time { return now }),
	)

	assert.Equal(t, "t-1", ticket.TicketID)
	assert.Equal(t, "sess-1", ticket.SessionID)
	assert.Equal(t, handoff.StatusOpen, ticket.Status)
	assert.Equal(t, handoff.PriorityHigh, ticket.Priority)
	assert.Equal(t, []string{"customer_requested_human"}, ticket.ReasonCodes)
	assert.Equal(t, "customer_requested_human", ticket.PrimaryReason())
	assert.Equal(t, now, ticket.CreatedAt)
	assert.Equal(t,
		"Contact: +15550001111 | State: q_address | Reasons: customer_requested_human | Address: 12 Elm St | Frequency: weekly",
		ticket.Summary)
}

func TestCreateTicketDefaults(t *testing.T) {
	ticket := handoff.CreateTicket(newState(nil))
	assert.NotEmpty(t, ticket.TicketID)
	assert.Equal(t, []string{"unknown"}, ticket.ReasonCodes)
	assert.Equal(t, handoff.PriorityNormal, ticket.Priority)
	assert.Contains(t, ticket.Summary, "Contact: unknown")
}

func TestSinks(t *testing.T) {
	ctx := context.Background()
	mem := handoff.NewMemorySink()
	boom := errors.New("helpdesk down")
	failing := handoff.SinkFunc(func(context.Context, handoff.Ticket) error { return boom })

	multi := handoff.MultiSink{failing, mem, handoff.LogSink{}}
	err := multi.Submit(ctx, handoff.Ticket{TicketID: "t-1"})

	require.ErrorIs(t, err, boom)
	require.Len(t, mem.Tickets(), 1, "later sinks still receive the ticket")
	assert.Equal(t, "t-1", mem.Tickets()[0].TicketID)
}
