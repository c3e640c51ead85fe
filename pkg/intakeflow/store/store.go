// Package store persists sessions and handoff tickets.
package store

import (
	"context"
	"errors"
	"strings"

	ierrors "github.com/randalmurphal/intakeflow/pkg/intakeflow/errors"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/handoff"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/session"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/sqldb"
)

// Store persists sessions with optimistic concurrency and records issued
// tickets. Implementations must be safe for concurrent use.
//
// Every store must be opened before use and closed when done.
type Store interface {
	// Open prepares the store (connects, migrates). Opening twice is a no-op.
	Open(ctx context.Context) error

	// Create stores a new session. Returns ErrExists if the id is taken.
	Create(ctx context.Context, st *session.State) error

	// Load returns a copy of a stored session.
	// Returns ErrNotFound if the session doesn't exist.
	Load(ctx context.Context, sessionID string) (*session.State, error)

	// Save writes st if the stored revision equals st.Revision, then
	// increments st.Revision. A stale revision returns a ConflictError
	// wrapping ErrConflict.
	Save(ctx context.Context, st *session.State) error

	// Delete removes a session. Returns nil if it doesn't exist.
	Delete(ctx context.Context, sessionID string) error

	// SaveTicket records a ticket, replacing any earlier copy with the same id.
	SaveTicket(ctx context.Context, t handoff.Ticket) error

	// ListTickets returns a session's tickets oldest first.
	ListTickets(ctx context.Context, sessionID string) ([]handoff.Ticket, error)

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates a session doesn't exist.
	ErrNotFound = errors.New("session not found")

	// ErrExists indicates a session id is already taken.
	ErrExists = errors.New("session already exists")

	// ErrConflict indicates a save lost a race with another writer.
	ErrConflict = errors.New("session revision conflict")

	// ErrNotOpen indicates the store was used before Open.
	ErrNotOpen = errors.New("store not open")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("store closed")
)

func conflict(sessionID string) error {
	return &ierrors.ConflictError{Resource: "session", ID: sessionID, Err: ErrConflict}
}

// MemoryDSN selects the in-memory store in New.
const MemoryDSN = "memory"

// New returns an unopened store for dsn: "memory" (or empty) for
// MemoryStore, a Postgres URL for PostgreSQL, anything else a SQLite path.
func New(dsn string) Store {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" || dsn == MemoryDSN {
		return NewMemoryStore()
	}
	if sqldb.Detect(dsn) == sqldb.Postgres {
		return NewPostgresStore(dsn)
	}
	return NewSQLiteStore(dsn)
}

// TicketSink adapts a Store to handoff.TicketSink.
type TicketSink struct {
	Store Store
}

// Submit saves the ticket.
func (s TicketSink) Submit(ctx context.Context, t handoff.Ticket) error {
	return s.Store.SaveTicket(ctx, t)
}
