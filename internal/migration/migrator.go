package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

// DefaultTable records the applied schema version.
const DefaultTable = "schema_migrations"

var (
	ErrUnsupportedDialect = errors.New("unsupported migration dialect")
	ErrNilDB              = errors.New("migration: database handle is required")
)

// Status is one embedded migration and whether it is applied.
type Status struct {
	Version uint   `json:"version"`
	Name    string `json:"name"`
	Applied bool   `json:"applied"`
	Dirty   bool   `json:"dirty"`
}

// Info summarizes the schema state.
type Info struct {
	CurrentVersion uint `json:"current_version"`
	Dirty          bool `json:"dirty"`
	Total          int  `json:"total"`
	Applied        int  `json:"applied"`
	Pending        int  `json:"pending"`
}

// Migrator manages the session schema.
type Migrator interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	Steps(ctx context.Context, n int) error
	Goto(ctx context.Context, version uint) error
	Force(ctx context.Context, version int) error
	Version(ctx context.Context) (uint, bool, error)
	Status(ctx context.Context) ([]Status, error)
	Info(ctx context.Context) (*Info, error)
	Close() error
}

// Option configures a SchemaMigrator.
type Option func(*options)

type options struct {
	table       string
	lockTimeout time.Duration
	logger      *zap.Logger
}

// WithTable overrides DefaultTable.
func WithTable(table string) Option {
	return func(o *options) {
		if table != "" {
			o.table = table
		}
	}
}

// WithLockTimeout bounds how long a run waits for the migration lock.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.lockTimeout = d
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// SchemaMigrator runs the embedded migrations over a *sql.DB. The
// golang-migrate drivers take ownership of the handle: Close closes it.
type SchemaMigrator struct {
	dialect Dialect
	migrate *migrate.Migrate
	logger  *zap.Logger
}

var _ Migrator = (*SchemaMigrator)(nil)

// New prepares a migrator for db. The connection is pinged once.
func New(db *sql.DB, dialect Dialect, opts ...Option) (*SchemaMigrator, error) {
	if db == nil {
		return nil, ErrNilDB
	}
	o := options{table: DefaultTable, lockTimeout: 15 * time.Second, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With(zap.String("component", "migration"), zap.String("dialect", string(dialect)))

	src, err := dialect.source()
	if err != nil {
		return nil, err
	}
	sourceDriver, err := iofs.New(src, ".")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	dbDriver, err := databaseDriver(db, dialect, o.table)
	if err != nil {
		return nil, fmt.Errorf("create %s migration driver: %w", dialect, err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, string(dialect), dbDriver)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	m.LockTimeout = o.lockTimeout
	m.Log = &zapLogger{logger: logger.Sugar(), verbose: logger.Core().Enabled(zap.DebugLevel)}

	return &SchemaMigrator{dialect: dialect, migrate: m, logger: logger}, nil
}

func databaseDriver(db *sql.DB, dialect Dialect, table string) (database.Driver, error) {
	switch dialect {
	case DialectPostgres:
		return postgres.WithInstance(db, &postgres.Config{MigrationsTable: table})
	case DialectMySQL:
		return mysql.WithInstance(db, &mysql.Config{MigrationsTable: table})
	case DialectSQLite:
		// the sqlite3 driver only issues SQL on the handle, so any
		// registered SQLite driver behind db works.
		return sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: table})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDialect, string(dialect))
	}
}

// Dialect returns the migrator's dialect.
func (m *SchemaMigrator) Dialect() Dialect { return m.dialect }

// run executes fn and asks golang-migrate to stop after the current
// migration when ctx is done. ErrNoChange is not an error.
func (m *SchemaMigrator) run(ctx context.Context, op string, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		select {
		case m.migrate.GracefulStop <- true:
		default:
		}
		<-done
		err = ctx.Err()
	}
	if err == nil || errors.Is(err, migrate.ErrNoChange) {
		m.logger.Debug("migration finished", zap.String("op", op))
		return nil
	}
	m.logger.Error("migration failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("migration %s failed: %w", op, err)
}

// Up applies every pending migration.
func (m *SchemaMigrator) Up(ctx context.Context) error {
	return m.run(ctx, "up", m.migrate.Up)
}

// Down rolls back the latest migration.
func (m *SchemaMigrator) Down(ctx context.Context) error {
	return m.run(ctx, "down", func() error { return m.migrate.Steps(-1) })
}

// Steps applies n migrations, or rolls back -n when n is negative.
func (m *SchemaMigrator) Steps(ctx context.Context, n int) error {
	if n == 0 {
		return nil
	}
	return m.run(ctx, "steps "+strconv.Itoa(n), func() error { return m.migrate.Steps(n) })
}

// Goto migrates up or down to version.
func (m *SchemaMigrator) Goto(ctx context.Context, version uint) error {
	return m.run(ctx, fmt.Sprintf("goto %d", version), func() error { return m.migrate.Migrate(version) })
}

// Force records version without running any migration. It clears the
// dirty flag left by a failed run.
func (m *SchemaMigrator) Force(_ context.Context, version int) error {
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("migration force failed: %w", err)
	}
	m.logger.Warn("migration version forced", zap.Int("version", version))
	return nil
}

// Version returns the applied version; 0 when nothing is applied.
func (m *SchemaMigrator) Version(context.Context) (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read migration version: %w", err)
	}
	return version, dirty, nil
}

// Status lists every embedded migration in version order.
func (m *SchemaMigrator) Status(ctx context.Context) ([]Status, error) {
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	files, err := available(m.dialect)
	if err != nil {
		return nil, err
	}
	out := make([]Status, len(files))
	for i, f := range files {
		out[i] = Status{
			Version: f.version,
			Name:    f.name,
			Applied: f.version <= current,
			Dirty:   dirty && f.version == current,
		}
	}
	return out, nil
}

func (m *SchemaMigrator) Info(ctx context.Context) (*Info, error) {
	statuses, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	info := &Info{CurrentVersion: current, Dirty: dirty, Total: len(statuses)}
	for _, s := range statuses {
		if s.Applied {
			info.Applied++
		}
	}
	info.Pending = info.Total - info.Applied
	return info, nil
}

// Close releases the embedded source and the *sql.DB given to New.
func (m *SchemaMigrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	return errors.Join(sourceErr, dbErr)
}

type migrationFile struct {
	version uint
	name    string
}

// available parses NNNNNN_name.up.sql file names of dialect.
func available(dialect Dialect) ([]migrationFile, error) {
	src, err := dialect.source()
	if err != nil {
		return nil, err
	}
	entries, err := fs.ReadDir(src, ".")
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}
	var files []migrationFile
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".up.sql")
		if e.IsDir() || !ok {
			continue
		}
		prefix, rest, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(prefix, 10, 32)
		if err != nil {
			continue
		}
		files = append(files, migrationFile{version: uint(v), name: rest})
	}
	slices.SortFunc(files, func(a, b migrationFile) int { return int(a.version) - int(b.version) })
	return files, nil
}

// zapLogger adapts zap to migrate.Logger.
type zapLogger struct {
	logger  *zap.SugaredLogger
	verbose bool
}

func (l *zapLogger) Printf(format string, v ...any) {
	l.logger.Debugf(strings.TrimSuffix(format, "\n"), v...)
}

func (l *zapLogger) Verbose() bool { return l.verbose }
