package event

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Session lifecycle event types.
const (
	TypeSessionStarted   = "session.started"
	TypeSessionStep      = "session.step"
	TypeSessionCompleted = "session.completed"
	TypeSessionEscalated = "session.escalated"
	TypeSlotBooked       = "slot.booked"
)

// Event is one change to a session. Events are values; publishing never
// mutates them.
type Event struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	SessionID   string         `json:"sessionId"`
	FlowVersion string         `json:"flowVersion,omitempty"`
	NodeID      string         `json:"nodeId,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Data        map[string]any `json:"data,omitempty"`
}

// Option configures New.
type Option func(*Event)

// WithID sets the event id. Default: a random UUID.
func WithID(id string) Option {
	return func(e *Event) {
		e.ID = id
	}
}

// WithTimestamp sets when the event happened. Default: time.Now().
func WithTimestamp(t time.Time) Option {
	return func(e *Event) {
		e.Timestamp = t
	}
}

// WithNode records the flow version and node the session was on.
func WithNode(flowVersion, nodeID string) Option {
	return func(e *Event) {
		e.FlowVersion = flowVersion
		e.NodeID = nodeID
	}
}

// WithData attaches a payload.
func WithData(data map[string]any) Option {
	return func(e *Event) {
		e.Data = data
	}
}

// New creates an event for a session.
func New(eventType, sessionID string, opts ...Option) Event {
	e := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// Handler consumes events.
type Handler interface {
	Handle(ctx context.Context, evt Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, evt Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// Publisher accepts events for delivery.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}
