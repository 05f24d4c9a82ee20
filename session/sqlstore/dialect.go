package sqlstore

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Dialect describes the SQL differences between supported databases
type Dialect interface {
	// Name returns the database/sql driver name the dialect is written for
	Name() string

	// Quote escapes an identifier such as a table or column name
	Quote(ident string) string

	// Placeholder returns the bind parameter for the n-th argument, starting at 1
	Placeholder(n int) string

	// Serialize returns a statement, binding the session id as its only
	// argument, that blocks other writers of the same id until the
	// surrounding transaction ends. It runs before the locking read so a
	// first write for an id is serialized even though no row exists yet.
	Serialize(table, idColumn string) string

	// ForUpdate turns a SELECT into a locking read
	ForUpdate(query string) string

	// Timestamp converts t into the value stored in timestamp columns
	Timestamp(t time.Time) any

	// Payload converts session data into the value bound to the data column
	Payload(data string) any

	// CreateTable returns idempotent DDL for the session table
	CreateTable(table string, c Columns) string
}

var (
	// SQLite is the dialect for modernc.org/sqlite. Timestamps are stored as
	// unix milliseconds.
	SQLite Dialect = sqliteDialect{}

	// Postgres is the dialect for github.com/lib/pq
	Postgres Dialect = postgresDialect{}
)

// DialectFor returns the dialect for a database/sql driver name
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pq":
		return Postgres, nil
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
}

// SQLiteDSN builds a modernc.org/sqlite data source name for a database file.
//
// SQLite has no row locks, so write transactions are started IMMEDIATE: the
// database write lock is taken at BEGIN and concurrent writers queue on the
// busy timeout instead of failing when they try to upgrade a read lock.
func SQLiteDSN(path string) string {
	return filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }

func (sqliteDialect) Quote(ident string) string { return quoteIdent(ident) }

func (sqliteDialect) Placeholder(int) string { return "?" }

// Serialize issues a write that changes nothing. Any write takes the database
// write lock, so a transaction begun DEFERRED still queues other writers on
// the busy timeout instead of failing when it later upgrades its snapshot.
func (d sqliteDialect) Serialize(table, idColumn string) string {
	id := d.Quote(idColumn)
	return fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s = ?", d.Quote(table), id, id, id)
}

// ForUpdate is a no-op, the write lock is already held
func (sqliteDialect) ForUpdate(query string) string { return query }

func (sqliteDialect) Timestamp(t time.Time) any { return toMillis(t) }

// Payload binds data as text. SQLite stores text bytes as given and the
// driver reads them back by length, so NUL and invalid UTF-8 survive.
func (sqliteDialect) Payload(data string) any { return data }

func (d sqliteDialect) CreateTable(table string, c Columns) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    %s TEXT NOT NULL PRIMARY KEY,
    %s BLOB NOT NULL,
    %s INTEGER NOT NULL DEFAULT (CAST((julianday('now') - 2440587.5) * 86400000 AS INTEGER)),
    %s INTEGER NULL
);
`, d.Quote(table), d.Quote(c.SessionID), d.Quote(c.Data), d.Quote(c.CreatedAt), d.Quote(c.ModifiedAt))
}

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) Quote(ident string) string { return quoteIdent(ident) }

func (postgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

// Serialize takes a transaction-scoped advisory lock keyed on the table and
// id. FOR UPDATE alone locks nothing when the row does not exist yet, which
// would let two first writes both insert.
func (postgresDialect) Serialize(table, _ string) string {
	return fmt.Sprintf("SELECT pg_advisory_xact_lock(hashtext(%s), hashtext($1))", quoteLiteral(table))
}

func (postgresDialect) ForUpdate(query string) string { return query + " FOR UPDATE" }

func (postgresDialect) Timestamp(t time.Time) any { return t.UTC() }

// Payload binds data as bytea, TEXT cannot hold NUL or invalid UTF-8
func (postgresDialect) Payload(data string) any { return []byte(data) }

func (d postgresDialect) CreateTable(table string, c Columns) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    %s TEXT NOT NULL PRIMARY KEY,
    %s BYTEA NOT NULL,
    %s TIMESTAMPTZ NOT NULL DEFAULT now(),
    %s TIMESTAMPTZ NULL
);
`, d.Quote(table), d.Quote(c.SessionID), d.Quote(c.Data), d.Quote(c.CreatedAt), d.Quote(c.ModifiedAt))
}

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}
