// Package dialect provides database dialect abstractions for multi-database support.
package dialect

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect represents a SQL database dialect.
type Dialect interface {
	// Name returns the dialect name (e.g., "sqlite", "postgres")
	Name() string

	// DriverName returns the database/sql driver name to use
	DriverName() string

	// Rebind converts ? placeholders to the dialect's format.
	// For example, PostgreSQL uses $1, $2, etc.
	Rebind(query string) string

	// TimestampType returns the SQL type for timestamps
	TimestampType() string

	// LikeOperator returns the case-insensitive LIKE operator
	LikeOperator() string

	// PragmaStatements returns dialect-specific initialization statements (e.g., PRAGMA for SQLite)
	PragmaStatements() []string

	// ColumnExistsQuery returns a query to check if a column exists in a table
	ColumnExistsQuery() string
}

// DialectType represents supported database types
type DialectType string

const (
	SQLite   DialectType = "sqlite"
	Postgres DialectType = "postgres"
)

// New creates a new Dialect based on the dialect type
func New(dialectType DialectType) (Dialect, error) {
	switch dialectType {
	case SQLite:
		return &sqliteDialect{}, nil
	case Postgres:
		return &postgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialectType)
	}
}

// FromDriverName returns the dialect for a given driver name
func FromDriverName(driverName string) (Dialect, error) {
	switch strings.ToLower(driverName) {
	case "sqlite", "sqlite3":
		return &sqliteDialect{}, nil
	case "postgres", "postgresql", "pgx":
		return &postgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driverName)
	}
}

// sqliteDialect implements Dialect for SQLite (modernc.org/sqlite)
type sqliteDialect struct{}

func (d *sqliteDialect) Name() string               { return "sqlite" }
func (d *sqliteDialect) DriverName() string         { return "sqlite" }
func (d *sqliteDialect) Rebind(query string) string { return query }
func (d *sqliteDialect) TimestampType() string      { return "TIMESTAMP" }

// LIKE is case-insensitive for ASCII in SQLite.
func (d *sqliteDialect) LikeOperator() string { return "LIKE" }

func (d *sqliteDialect) PragmaStatements() []string {
	return []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
}

func (d *sqliteDialect) ColumnExistsQuery() string {
	return `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`
}

// postgresDialect implements Dialect for PostgreSQL (jackc/pgx stdlib driver)
type postgresDialect struct{}

func (d *postgresDialect) Name() string          { return "postgres" }
func (d *postgresDialect) DriverName() string    { return "pgx" }
func (d *postgresDialect) TimestampType() string { return "TIMESTAMP WITH TIME ZONE" }
func (d *postgresDialect) LikeOperator() string  { return "ILIKE" }

// Rebind converts ? placeholders to $1, $2, etc. Placeholders inside
// single-quoted literals are left alone.
func (d *postgresDialect) Rebind(query string) string {
	var result strings.Builder
	result.Grow(len(query) + 8)
	idx := 1
	inQuote := false
	for _, ch := range query {
		switch {
		case ch == '\'':
			inQuote = !inQuote
			result.WriteRune(ch)
		case ch == '?' && !inQuote:
			result.WriteByte('$')
			result.WriteString(strconv.Itoa(idx))
			idx++
		default:
			result.WriteRune(ch)
		}
	}
	return result.String()
}

func (d *postgresDialect) PragmaStatements() []string {
	return nil
}

func (d *postgresDialect) ColumnExistsQuery() string {
	return `SELECT COUNT(*) FROM information_schema.columns WHERE table_name = $1 AND column_name = $2`
}
