package scheduling

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/randalmurphal/intakeflow/pkg/intakeflow/sqldb"
)

// slot_claims has one row per slot that has ever been held. blocks_until
// is when the slot frees up: the hold expiry, the far future for a booking,
// the zero time once released.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS slot_claims (
		slot_id TEXT PRIMARY KEY,
		reservation_id TEXT NOT NULL,
		blocks_until TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS slot_reservations (
		reservation_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		slot_id TEXT NOT NULL,
		status TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_slot_reservations_session ON slot_reservations(session_id)`,
}

var farFuture = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

func blocksUntil(r Reservation) time.Time {
	switch r.Status {
	case StatusConfirmed:
		return farFuture
	case StatusHeld:
		return r.ExpiresAt
	default:
		return time.Time{}
	}
}

// SQLSlotStore persists reservations to SQLite or PostgreSQL. Holds use a
// conditional upsert, so concurrent holds on one slot have a single winner
// on either backend.
type SQLSlotStore struct {
	dsn     string
	dialect sqldb.Dialect
	owned   bool

	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

var _ SlotStore = (*SQLSlotStore)(nil)

// NewSQLiteSlotStore creates a store for the SQLite file at path.
func NewSQLiteSlotStore(path string) *SQLSlotStore {
	return &SQLSlotStore{dsn: path, dialect: sqldb.SQLite, owned: true}
}

// NewSQLSlotStore wraps an existing connection, typically the one the
// session store uses. Close does not close db.
func NewSQLSlotStore(db *sql.DB, dialect sqldb.Dialect) *SQLSlotStore {
	return &SQLSlotStore{db: db, dialect: dialect}
}

// NewSlotStore returns an unopened store for dsn, following the same rules
// as store.New.
func NewSlotStore(dsn string) SlotStore {
	if dsn == "" || dsn == "memory" {
		return NewMemorySlotStore()
	}
	return &SQLSlotStore{dsn: dsn, dialect: sqldb.Detect(dsn), owned: true}
}

// Open implements SlotStore.
func (s *SQLSlotStore) Open(ctx context.Context) error {
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
	return sqldb.Migrate(ctx, s.db, migrations...)
}

func (s *SQLSlotStore) conn() (*sql.DB, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}
	if s.db == nil {
		return nil, ErrNotOpen
	}
	return s.db, nil
}

func (s *SQLSlotStore) q(query string) string {
	return sqldb.Rebind(s.dialect, query)
}

// Hold implements SlotStore.
func (s *SQLSlotStore) Hold(ctx context.Context, r Reservation, now time.Time) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reservation: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin hold: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO slot_claims (slot_id, reservation_id, blocks_until)
		VALUES (?, ?, ?)
		ON CONFLICT (slot_id) DO UPDATE SET
			reservation_id = excluded.reservation_id,
			blocks_until = excluded.blocks_until
		WHERE slot_claims.blocks_until <= ?
	`), r.Slot.SlotID, r.ReservationID, sqldb.FormatTime(blocksUntil(r)), sqldb.FormatTime(now))
	if err != nil {
		return fmt.Errorf("claim slot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim slot: %w", err)
	}
	if n == 0 {
		return ErrSlotUnavailable
	}

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO slot_reservations (reservation_id, session_id, slot_id, status, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), r.ReservationID, r.SessionID, r.Slot.SlotID, string(r.Status), string(data), sqldb.FormatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit hold: %w", err)
	}
	return nil
}

// Get implements SlotStore.
func (s *SQLSlotStore) Get(ctx context.Context, reservationID string) (Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return Reservation{}, err
	}

	var data string
	err = db.QueryRowContext(ctx, s.q(`SELECT data FROM slot_reservations WHERE reservation_id = ?`), reservationID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Reservation{}, ErrReservationNotFound
	}
	if err != nil {
		return Reservation{}, fmt.Errorf("load reservation: %w", err)
	}
	return decodeReservation(data)
}

// Update implements SlotStore.
func (s *SQLSlotStore) Update(ctx context.Context, r Reservation, from ReservationStatus) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reservation: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.q(`
		UPDATE slot_reservations SET status = ?, data = ?
		WHERE reservation_id = ? AND status = ?
	`), string(r.Status), string(data), r.ReservationID, string(from))
	if err != nil {
		return fmt.Errorf("update reservation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update reservation: %w", err)
	}
	if n == 0 {
		var one int
		err := tx.QueryRowContext(ctx, s.q(`SELECT 1 FROM slot_reservations WHERE reservation_id = ?`), r.ReservationID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrReservationNotFound
		}
		if err != nil {
			return fmt.Errorf("update reservation: %w", err)
		}
		return ErrStaleReservation
	}

	_, err = tx.ExecContext(ctx, s.q(`
		UPDATE slot_claims SET blocks_until = ?
		WHERE slot_id = ? AND reservation_id = ?
	`), sqldb.FormatTime(blocksUntil(r)), r.Slot.SlotID, r.ReservationID)
	if err != nil {
		return fmt.Errorf("update claim: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}
	return nil
}

// ListBySession implements SlotStore.
func (s *SQLSlotStore) ListBySession(ctx context.Context, sessionID string) ([]Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, s.q(`
		SELECT data FROM slot_reservations
		WHERE session_id = ?
		ORDER BY created_at, reservation_id
	`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	out := []Reservation{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		r, err := decodeReservation(data)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservations: %w", err)
	}
	return out, nil
}

// Close implements SlotStore.
func (s *SQLSlotStore) Close() error {
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

func decodeReservation(data string) (Reservation, error) {
	var r Reservation
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return Reservation{}, fmt.Errorf("decode reservation: %w", err)
	}
	return r, nil
}
