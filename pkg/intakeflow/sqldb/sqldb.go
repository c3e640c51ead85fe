// Package sqldb opens the SQL databases behind the session and slot stores
// and papers over the placeholder differences between SQLite and Postgres.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"   // Postgres driver
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Dialect names a supported SQL backend. The value is the database/sql
// driver name.
type Dialect string

// Supported dialects.
const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Connection pool defaults for Postgres.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 25
	DefaultConnMaxLifetime = 5 * time.Minute

	// DefaultDirPermissions is used when creating a SQLite file's directory.
	DefaultDirPermissions = 0o755

	// SQLiteBusyTimeout is how long a SQLite writer waits on a locked database.
	SQLiteBusyTimeout = 5 * time.Second
)

// ErrEmptyDSN is returned when no data source name is given.
var ErrEmptyDSN = errors.New("database DSN not set")

// Detect infers the dialect from a DSN. Postgres URLs and key=value
// connection strings are Postgres; anything else is a SQLite path.
func Detect(dsn string) Dialect {
	d := strings.TrimSpace(dsn)
	lower := strings.ToLower(d)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return Postgres
	case strings.Contains(lower, "host=") || strings.Contains(lower, "dbname="):
		return Postgres
	default:
		return SQLite
	}
}

// sqlitePath strips an optional sqlite:// scheme.
func sqlitePath(dsn string) string {
	return strings.TrimPrefix(strings.TrimSpace(dsn), "sqlite://")
}

func isMemoryPath(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// Open connects to dsn, verifies the connection and applies per-dialect
// settings. SQLite databases are limited to one open connection so that
// ":memory:" databases are shared and writers never contend.
func Open(ctx context.Context, dsn string) (*sql.DB, Dialect, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, "", ErrEmptyDSN
	}

	dialect := Detect(dsn)
	switch dialect {
	case Postgres:
		db, err := sql.Open(string(Postgres), dsn)
		if err != nil {
			return nil, "", fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(DefaultMaxOpenConns)
		db.SetMaxIdleConns(DefaultMaxIdleConns)
		db.SetConnMaxLifetime(DefaultConnMaxLifetime)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, "", fmt.Errorf("ping postgres: %w", err)
		}
		return db, Postgres, nil

	default:
		path := sqlitePath(dsn)
		if !isMemoryPath(path) && !strings.HasPrefix(path, "file:") {
			if dir := filepath.Dir(path); dir != "." {
				if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
					return nil, "", fmt.Errorf("create database directory: %w", err)
				}
			}
		}
		db, err := sql.Open(string(SQLite), path)
		if err != nil {
			return nil, "", fmt.Errorf("open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1)

		// Enable WAL mode for better concurrent read performance
		pragmas := []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=" + strconv.Itoa(int(SQLiteBusyTimeout.Milliseconds())),
		}
		for _, p := range pragmas {
			if _, err := db.ExecContext(ctx, p); err != nil {
				db.Close()
				return nil, "", fmt.Errorf("apply %q: %w", p, err)
			}
		}
		return db, SQLite, nil
	}
}

// Rebind rewrites ? placeholders as $1, $2, ... for Postgres. Question
// marks inside single-quoted literals are left alone.
func Rebind(d Dialect, query string) string {
	if d != Postgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Migrate executes each statement in order inside one transaction.
func Migrate(ctx context.Context, db *sql.DB, stmts ...string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("run migration: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

// TimeLayout is RFC 3339 in UTC with fixed-width nanoseconds, so stored
// timestamps sort lexically in both dialects.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders a timestamp for a TEXT column.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime is the inverse of FormatTime. Empty strings yield the zero time.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
