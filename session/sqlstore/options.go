package sqlstore

import (
	"time"

	"go.uber.org/zap"
)

// DefaultTable is the table sessions are stored in unless WithTable is given
const DefaultTable = "session_data"

// Columns names the session table's columns
type Columns struct {
	SessionID  string
	Data       string
	CreatedAt  string
	ModifiedAt string
}

// DefaultColumns returns the stock column names
func DefaultColumns() Columns {
	return Columns{
		SessionID:  "session_id",
		Data:       "data",
		CreatedAt:  "created_at",
		ModifiedAt: "modified_at",
	}
}

// merge overlays the non-empty names in o onto c
func (c Columns) merge(o Columns) Columns {
	if o.SessionID != "" {
		c.SessionID = o.SessionID
	}
	if o.Data != "" {
		c.Data = o.Data
	}
	if o.CreatedAt != "" {
		c.CreatedAt = o.CreatedAt
	}
	if o.ModifiedAt != "" {
		c.ModifiedAt = o.ModifiedAt
	}

	return c
}

type Option func(*Store)

// WithTable sets the session table name
func WithTable(name string) Option {
	return func(s *Store) {
		s.table = name
	}
}

// WithColumns overrides column names. Empty fields keep their default.
func WithColumns(c Columns) Option {
	return func(s *Store) {
		s.columns = s.columns.merge(c)
	}
}

// WithDialect sets the SQL dialect. The default is SQLite.
func WithDialect(d Dialect) Option {
	return func(s *Store) {
		s.dialect = d
	}
}

// WithMaxLifetime sets how long a session stays readable after its last
// modification. It is the value the host would otherwise pass to gc.
func WithMaxLifetime(d time.Duration) Option {
	return func(s *Store) {
		s.maxLifetime = d
	}
}

// WithLazyWrite controls whether writing an unchanged payload is skipped.
// Lazy writes are enabled by default.
func WithLazyWrite(enabled bool) Option {
	return func(s *Store) {
		s.lazyWrite = enabled
	}
}

// WithClock overrides the time source used for modification times and expiry
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger. Logging is discarded by default.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Store) {
		s.log = l
	}
}
