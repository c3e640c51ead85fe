package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/randalmurphal/intakeflow/pkg/intakeflow/handoff"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/session"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/sqldb"
)

// Schema shared by SQLite and PostgreSQL. Timestamps are RFC 3339 text.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		flow_version TEXT NOT NULL,
		status TEXT NOT NULL,
		revision BIGINT NOT NULL,
		data TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status)`,
	`CREATE TABLE IF NOT EXISTS handoff_tickets (
		ticket_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		status TEXT NOT NULL,
		priority TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_handoff_tickets_session ON handoff_tickets(session_id)`,
}

// SQLStore persists sessions and tickets to SQLite or PostgreSQL.
type SQLStore struct {
	dsn     string
	dialect sqldb.Dialect
	owned   bool // Close closes db

	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

var _ Store = (*SQLStore)(nil)

// NewSQLiteStore creates a store backed by the SQLite file at path
// (":memory:" for tests). Call Open before use.
func NewSQLiteStore(path string) *SQLStore {
	return &SQLStore{dsn: path, dialect: sqldb.SQLite, owned: true}
}

// NewPostgresStore creates a store for a Postgres DSN. Call Open before use.
func NewPostgresStore(dsn string) *SQLStore {
	return &SQLStore{dsn: dsn, dialect: sqldb.Postgres, owned: true}
}

// NewSQLStore wraps an existing connection. Close does not close db.
func NewSQLStore(db *sql.DB, dialect sqldb.Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Dialect reports the backend in use.
func (s *SQLStore) Dialect() sqldb.Dialect {
	return s.dialect
}

// Open implements Store. It connects if needed and creates tables.
func (s *SQLStore) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if s.db == nil {
		db, dialect, err := sqldb.Open(ctx, s.dsn)
		if err != nil {
			return err
		}
		s.db, s.dialect = db, dialect
	}
	if err := sqldb.Migrate(ctx, s.db, migrations...); err != nil {
		return err
	}
	return nil
}

func (s *SQLStore) conn() (*sql.DB, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}
	if s.db == nil {
		return nil, ErrNotOpen
	}
	return s.db, nil
}

func (s *SQLStore) q(query string) string {
	return sqldb.Rebind(s.dialect, query)
}

// Create implements Store.
func (s *SQLStore) Create(ctx context.Context, st *session.State) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return err
	}

	data, err := st.Marshal()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, s.q(`
		INSERT INTO sessions (session_id, flow_version, status, revision, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO NOTHING
	`), st.SessionID, st.FlowVersion, string(st.Status), st.Revision, string(data),
		sqldb.FormatTime(st.CreatedAt), sqldb.FormatTime(st.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if n == 0 {
		return ErrExists
	}
	return nil
}

// Load implements Store.
func (s *SQLStore) Load(ctx context.Context, sessionID string) (*session.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var data string
	err = db.QueryRowContext(ctx, s.q(`SELECT data FROM sessions WHERE session_id = ?`), sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return session.Unmarshal([]byte(data))
}

// Save implements Store.
func (s *SQLStore) Save(ctx context.Context, st *session.State) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return err
	}

	next := st.Clone()
	next.Revision++
	next.UpdatedAt = time.Now().UTC()
	data, err := next.Marshal()
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, s.q(`
		UPDATE sessions
		SET flow_version = ?, status = ?, revision = ?, data = ?, updated_at = ?
		WHERE session_id = ? AND revision = ?
	`), next.FlowVersion, string(next.Status), next.Revision, string(data),
		sqldb.FormatTime(next.UpdatedAt), st.SessionID, st.Revision)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if n == 0 {
		var one int
		err := db.QueryRowContext(ctx, s.q(`SELECT 1 FROM sessions WHERE session_id = ?`), st.SessionID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		return conflict(st.SessionID)
	}

	st.Revision = next.Revision
	st.UpdatedAt = next.UpdatedAt
	return nil
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, s.q(`DELETE FROM sessions WHERE session_id = ?`), sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// SaveTicket implements Store.
func (s *SQLStore) SaveTicket(ctx context.Context, t handoff.Ticket) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return err
	}

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal ticket %s: %w", t.TicketID, err)
	}
	_, err = db.ExecContext(ctx, s.q(`
		INSERT INTO handoff_tickets (ticket_id, session_id, status, priority, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (ticket_id) DO UPDATE SET
			status = excluded.status,
			priority = excluded.priority,
			data = excluded.data
	`), t.TicketID, t.SessionID, string(t.Status), string(t.Priority), string(data), sqldb.FormatTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("save ticket: %w", err)
	}
	return nil
}

// ListTickets implements Store.
func (s *SQLStore) ListTickets(ctx context.Context, sessionID string) ([]handoff.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, s.q(`
		SELECT data FROM handoff_tickets
		WHERE session_id = ?
		ORDER BY created_at, ticket_id
	`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	tickets := []handoff.Ticket{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		var t handoff.Ticket
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return nil, fmt.Errorf("decode ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tickets: %w", err)
	}
	return tickets, nil
}

// Close implements Store.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.owned && s.db != nil {
		return s.db.Close()
	}
	return nil
}
