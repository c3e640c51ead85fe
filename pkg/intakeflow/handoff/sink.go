package handoff

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
)

// TicketSink receives issued tickets: a helpdesk, a queue, a table.
type TicketSink interface {
	Submit(ctx context.Context, t Ticket) error
}

// SinkFunc adapts a function to TicketSink.
type SinkFunc func(ctx context.Context, t Ticket) error

// Submit calls f.
func (f SinkFunc) Submit(ctx context.Context, t Ticket) error {
	return f(ctx, t)
}

// MultiSink submits to every sink and joins their errors.
type MultiSink []TicketSink

// Submit delivers t to each sink in order, continuing past failures.
func (m MultiSink) Submit(ctx context.Context, t Ticket) error {
	var errs []error
	for _, s := range m {
		if err := s.Submit(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemorySink keeps tickets in memory. Safe for concurrent use.
type MemorySink struct {
	mu      sync.Mutex
	tickets []Ticket
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Submit appends t.
func (s *MemorySink) Submit(_ context.Context, t Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets = append(s.tickets, t)
	return nil
}

// Tickets returns a copy of everything submitted, oldest first.
func (s *MemorySink) Tickets() []Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Ticket(nil), s.tickets...)
}

// LogSink writes each ticket as a structured log record.
type LogSink struct {
	Logger *slog.Logger
}

// Submit logs t at warn level. A nil logger uses slog.Default.
func (s LogSink) Submit(ctx context.Context, t Ticket) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.WarnContext(ctx, "handoff ticket",
		slog.String("ticket_id", t.TicketID),
		slog.String("session_id", t.SessionID),
		slog.String("priority", string(t.Priority)),
		slog.String("reasons", strings.Join(t.ReasonCodes, ",")),
		slog.String("summary", t.Summary),
	)
	return nil
}
