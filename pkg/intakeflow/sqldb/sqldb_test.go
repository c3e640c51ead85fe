package sqldb_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/intakeflow/pkg/intakeflow/sqldb"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		dsn  string
		want sqldb.Dialect
	}{
		{"postgres://u:p@localhost/db?sslmode=disable", sqldb.Postgres},
		{"postgresql://localhost/db", sqldb.Postgres},
		{"host=localhost dbname=intake sslmode=disable", sqldb.Postgres},
		{"/var/lib/intakeflow/state.db", sqldb.SQLite},
		{":memory:", sqldb.SQLite},
		{"sqlite://./data/intake.db", sqldb.SQLite},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			assert.Equal(t, tt.want, sqldb.Detect(tt.dsn))
		})
	}
}

func TestRebind(t *testing.T) {
	q := "SELECT * FROM t WHERE a = ? AND b = '?' AND c = ?"
	assert.Equal(t, q, sqldb.Rebind(sqldb.SQLite, q))
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = '?' AND c = $2", sqldb.Rebind(sqldb.Postgres, q))
}

func TestOpenSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "intake.db")

	db, dialect, err := sqldb.Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, sqldb.SQLite, dialect)

	require.NoError(t, sqldb.Migrate(ctx, db,
		`CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v TEXT NOT NULL)`,
		`INSERT INTO kv (k, v) VALUES ('a', '1')`,
	))

	var v string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT v FROM kv WHERE k = ?`, "a").Scan(&v))
	assert.Equal(t, "1", v)
}

func TestOpenEmptyDSN(t *testing.T) {
	_, _, err := sqldb.Open(context.Background(), "  ")
	assert.ErrorIs(t, err, sqldb.ErrEmptyDSN)
}

func TestTimeRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 30, 0, 123, time.FixedZone("EST", -5*3600))
	got, err := sqldb.ParseTime(sqldb.FormatTime(now))
	require.NoError(t, err)
	assert.True(t, now.Equal(got))

	zero, err := sqldb.ParseTime("")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	_, err = sqldb.ParseTime("yesterday")
	assert.Error(t, err)
}

func TestFormatTimeSortsLexically(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a := sqldb.FormatTime(base)
	b := sqldb.FormatTime(base.Add(100 * time.Millisecond))
	assert.Less(t, a, b)
	assert.Equal(t, "2026-03-01T09:00:00.000000000Z", a)
}
