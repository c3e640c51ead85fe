// Package handoff resolves why and how urgently a session must be handed
// to a human, produces the ticket, and issues click-to-call tokens.
package handoff

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/intakeflow/pkg/intakeflow/session"
)

// Priority orders tickets in the human queue.
type Priority string

// Priorities. Low is never assigned automatically; it exists for manual
// override by an operator.
const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Status is a ticket's lifecycle state.
type Status string

// Ticket states.
const (
	StatusOpen     Status = "open"
	StatusAssigned Status = "assigned"
	StatusResolved Status = "resolved"
	StatusClosed   Status = "closed"
)

// Reason codes. ReasonMaxAttemptsPrefix is followed by the id of the node
// whose attempt limit was exceeded.
const (
	ReasonCustomerRequestedHuman = "customer_requested_human"
	ReasonNegativeSentiment      = "negative_sentiment"
	ReasonMaxAttemptsPrefix      = "max_attempts_exceeded_"
	ReasonObjectionEscalation    = "objection_escalation"
	ReasonUnknown                = "unknown"
)

// SummaryFields are the collected keys appended to a ticket summary when
// present, in order.
var SummaryFields = []string{"address", "service", "frequency"}

// Ticket is a request for a human to take over a session.
type Ticket struct {
	TicketID    string    `json:"ticketId"`
	SessionID   string    `json:"sessionId"`
	Status      Status    `json:"status"`
	Priority    Priority  `json:"priority"`
	ReasonCodes []string  `json:"reasonCodes"`
	Summary     string    `json:"summary"`
	CreatedAt   time.Time `json:"createdAt"`
}

// PrimaryReason returns the first reason code, the primary cause.
func (t Ticket) PrimaryReason() string {
	if len(t.ReasonCodes) == 0 {
		return ReasonUnknown
	}
	return t.ReasonCodes[0]
}

// ResolveReasons lists every escalation condition that holds for the
// session, in precedence order. The result is never empty.
func ResolveReasons(st *session.State) []string {
	var reasons []string
	if st.Flag(session.FactHumanRequested) {
		reasons = append(reasons, ReasonCustomerRequestedHuman)
	}
	if st.Flag(session.FactNegativeSentiment) {
		reasons = append(reasons, ReasonNegativeSentiment)
	}
	if st.Flag(session.FactMaxAttemptsExceeded) {
		reasons = append(reasons, ReasonMaxAttemptsPrefix+st.Fact(session.FactExceededState))
	}
	if st.Flag(session.FactEscalateToHandoff) {
		reasons = append(reasons, ReasonObjectionEscalation)
	}
	if len(reasons) == 0 {
		reasons = []string{ReasonUnknown}
	}
	return reasons
}

// ResolvePriority is high for negative sentiment, high urgency or an asap
// timeline, and normal otherwise.
func ResolvePriority(reasons []string, st *session.State) Priority {
	if slices.Contains(reasons, ReasonNegativeSentiment) {
		return PriorityHigh
	}
	if strings.EqualFold(st.Fact(session.FactUrgency), "high") {
		return PriorityHigh
	}
	if strings.EqualFold(st.Fact(session.FactTimeline), "asap") {
		return PriorityHigh
	}
	return PriorityNormal
}

// TicketOption configures CreateTicket.
type TicketOption func(*ticketConfig)

type ticketConfig struct {
	newID func() string
	now   func() time.Time
}

// WithIDFunc sets the ticket id generator. Defaults to uuid.NewString.
func WithIDFunc(fn func() string) TicketOption {
	return func(c *ticketConfig) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// WithClock sets the clock used for CreatedAt.
func WithClock(now func() time.Time) TicketOption {
	return func(c *ticketConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// CreateTicket builds an open ticket for the session.
func CreateTicket(st *session.State, opts ...TicketOption) Ticket {
	cfg := ticketConfig{newID: uuid.NewString, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	reasons := ResolveReasons(st)
	return Ticket{
		TicketID:    cfg.newID(),
		SessionID:   st.SessionID,
		Status:      StatusOpen,
		Priority:    ResolvePriority(reasons, st),
		ReasonCodes: reasons,
		Summary:     Summarize(st, reasons),
		CreatedAt:   cfg.now().UTC(),
	}
}

// Summarize renders the text digest an agent reads before picking up.
func Summarize(st *session.State, reasons []string) string {
	contact := st.Contact
	if contact == "" {
		contact = "unknown"
	}
	parts := []string{
		"Contact: " + contact,
		"State: " + st.CurrentNodeID,
		"Reasons: " + strings.Join(reasons, ", "),
	}
	for _, key := range SummaryFields {
		if v := st.Value(key); v != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", capitalize(key), v))
		}
	}
	return strings.Join(parts, " | ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
