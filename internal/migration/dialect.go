package migration

import (
	"fmt"
	"io/fs"
	"path"
	"strings"
)

// Dialect selects the embedded SQL set and the golang-migrate driver.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

// ParseDialect maps a database driver name (as used by internal/database)
// to its migration dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	case "mysql", "mariadb":
		return DialectMySQL, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDialect, driver)
	}
}

// Dir returns the embedded directory holding the dialect's migrations.
func (d Dialect) Dir() string {
	return path.Join("migrations", string(d))
}

// source returns the dialect's migrations as a file system rooted at Dir.
func (d Dialect) source() (fs.FS, error) {
	switch d {
	case DialectPostgres, DialectMySQL, DialectSQLite:
		return fs.Sub(migrationsFS, d.Dir())
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDialect, string(d))
	}
}
