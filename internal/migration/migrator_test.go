package migration

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	_ "modernc.org/sqlite" // pure-Go SQLite driver registered as "sqlite"
)

func TestParseDialect(t *testing.T) {
	tests := []struct {
		input   string
		want    Dialect
		wantErr bool
	}{
		{"postgres", DialectPostgres, false},
		{"PostgreSQL", DialectPostgres, false},
		{"pg", DialectPostgres, false},
		{"mysql", DialectMySQL, false},
		{"mariadb", DialectMySQL, false},
		{"sqlite", DialectSQLite, false},
		{" sqlite3 ", DialectSQLite, false},
		{"oracle", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDialect(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedDialect)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	for _, d := range []Dialect{DialectPostgres, DialectMySQL, DialectSQLite} {
		t.Run(string(d), func(t *testing.T) {
			files, err := available(d)
			require.NoError(t, err)
			require.Len(t, files, 2)
			assert.Equal(t, migrationFile{version: 1, name: "create_browser_sessions"}, files[0])
			assert.Equal(t, uint(2), files[1].version)
			assert.Equal(t, filepath.ToSlash(filepath.Join("migrations", string(d))), d.Dir())
		})
	}

	_, err := available(Dialect("oracle"))
	assert.ErrorIs(t, err, ErrUnsupportedDialect)
}

func TestNew_RequiresDB(t *testing.T) {
	_, err := New(nil, DialectSQLite)
	assert.ErrorIs(t, err, ErrNilDB)
}

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	return db
}

func newSQLiteMigrator(t *testing.T) (*SchemaMigrator, *sql.DB) {
	t.Helper()
	db := openSQLite(t)
	m, err := New(db, DialectSQLite, WithLogger(zap.NewNop()), WithTable("bf_schema"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, db
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	require.NoError(t, err)
	return n == 1
}

func TestNew_UnsupportedDialect(t *testing.T) {
	db := openSQLite(t)
	defer db.Close()
	_, err := New(db, Dialect("oracle"))
	assert.ErrorIs(t, err, ErrUnsupportedDialect)
}

func TestSchemaMigrator_SQLiteLifecycle(t *testing.T) {
	m, db := newSQLiteMigrator(t)
	ctx := context.Background()

	version, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)

	require.NoError(t, m.Up(ctx))
	assert.True(t, tableExists(t, db, "browser_sessions"))
	assert.True(t, tableExists(t, db, "bf_schema"))

	// the table accepts what SQLStore writes
	_, err = db.Exec(`INSERT INTO browser_sessions (name, data, last_accessed) VALUES (?, ?, ?)`, "default", `{"cookies":[]}`, 1700000000000)
	require.NoError(t, err)

	require.NoError(t, m.Up(ctx), "no change is not an error")

	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Info{CurrentVersion: 2, Total: 2, Applied: 2}, info)

	require.NoError(t, m.Down(ctx))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Status{
		{Version: 1, Name: "create_browser_sessions", Applied: true},
		{Version: 2, Name: "index_browser_sessions_updated_at"},
	}, statuses)

	require.NoError(t, m.Steps(ctx, -1))
	assert.False(t, tableExists(t, db, "browser_sessions"))

	require.NoError(t, m.Goto(ctx, 2))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestSchemaMigrator_Force(t *testing.T) {
	m, db := newSQLiteMigrator(t)
	ctx := context.Background()

	require.NoError(t, m.Force(ctx, 1))
	version, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
	assert.False(t, tableExists(t, db, "browser_sessions"), "force runs no SQL")
}

func TestSchemaMigrator_CancelledContext(t *testing.T) {
	m, _ := newSQLiteMigrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Up(ctx)
	if err != nil {
		assert.True(t, errors.Is(err, context.Canceled))
	}
}

func TestCLI(t *testing.T) {
	m, _ := newSQLiteMigrator(t)
	ctx := context.Background()
	var out bytes.Buffer
	cli := NewCLI(m)
	cli.SetOutput(&out)

	require.NoError(t, cli.Run(ctx, "version"))
	assert.Contains(t, out.String(), "No migrations applied yet.")

	out.Reset()
	require.NoError(t, cli.Run(ctx, "steps", "1"))
	assert.Contains(t, out.String(), "Schema version: 1")

	out.Reset()
	require.NoError(t, cli.Run(ctx, "status"))
	assert.Regexp(t, `000001\s+create_browser_sessions\s+applied`, out.String())
	assert.Regexp(t, `000002\s+index_browser_sessions_updated_at\s+pending`, out.String())
	assert.Contains(t, out.String(), "1 applied, 1 pending")

	out.Reset()
	require.NoError(t, cli.Run(ctx, "info"))
	assert.Contains(t, out.String(), "Pending:")

	assert.Error(t, cli.Run(ctx, "steps"))
	assert.Error(t, cli.Run(ctx, "goto", "x"))
	assert.Error(t, cli.Run(ctx, "goto", "-1"))
	assert.Error(t, cli.Run(ctx, "sideways"))
}
