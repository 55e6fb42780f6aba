package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL flavour behind a DB handle.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Driver names accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// DB wraps a sql.DB with its dialect so repositories can build portable queries.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open connects to the configured store. The memory driver is a private in-process SQLite database.
func Open(driver, dsn string) (*DB, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverPostgres, "pgx", "":
		if dsn == "" {
			return nil, errors.New("storage: postgres dsn required")
		}
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("storage: open postgres: %w", err)
		}
		return &DB{DB: db, Dialect: DialectPostgres}, nil
	case DriverSQLite:
		if dsn == "" {
			return nil, errors.New("storage: sqlite path required")
		}
		return openSQLite(dsn)
	case DriverMemory:
		return openSQLite(":memory:")
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", driver)
	}
}

// OpenMemory opens a migrated in-memory store.
func OpenMemory(ctx context.Context) (*DB, error) {
	db, err := Open(DriverMemory, "")
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func openSQLite(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	// single writer; also keeps ":memory:" on one connection
	db.SetMaxOpenConns(1)
	return &DB{DB: db, Dialect: DialectSQLite}, nil
}

// Builder returns a squirrel statement builder bound to the dialect placeholders.
func (d *DB) Builder() sq.StatementBuilderType {
	if d != nil && d.Dialect == DialectPostgres {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

// Ping checks connectivity with a timeout.
func (d *DB) Ping(ctx context.Context) error {
	if d == nil || d.DB == nil {
		return errors.New("storage: nil db")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return d.PingContext(ctx)
}

// NullTime maps a zero time to SQL NULL.
func NullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// TimeFrom unwraps a scanned nullable timestamp.
func TimeFrom(value sql.NullTime) time.Time {
	if !value.Valid {
		return time.Time{}
	}
	return value.Time.UTC()
}

// StringFrom unwraps a scanned nullable string.
func StringFrom(value sql.NullString) string {
	if !value.Valid {
		return ""
	}
	return value.String
}

// NullFloat maps a nil pointer to SQL NULL.
func NullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// FloatFrom unwraps a scanned nullable float.
func FloatFrom(value sql.NullFloat64) *float64 {
	if !value.Valid {
		return nil
	}
	v := value.Float64
	return &v
}

// IsUniqueViolation reports whether err is a unique constraint failure on either dialect.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "sqlstate 23505")
}

// RowScanner is implemented by *sql.Row and *sql.Rows.
type RowScanner interface {
	Scan(dest ...any) error
}
