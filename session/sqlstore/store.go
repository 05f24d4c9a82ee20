// Package sqlstore is a session save handler backed by a relational database.
//
// Concurrent writes to the same session are serialized inside a transaction,
// first on the session key and then with a locking read, so two requests
// racing on one id never both insert and never silently discard each other's
// update. Payloads are stored as bytes and round trip unchanged.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/byuoitav/sessionstore"
	"github.com/byuoitav/sessionstore/session"
)

// Store implements session persistence over a database/sql handle
type Store struct {
	session.Lifecycle

	db          *sql.DB
	dialect     Dialect
	table       string
	columns     Columns
	maxLifetime time.Duration
	lazyWrite   bool
	now         func() time.Time
	log         *zap.SugaredLogger

	q queries
}

var _ sessionstore.Handler = (*Store)(nil)

// queries are rendered once per store from the table, columns and dialect
type queries struct {
	read      string
	serialize string
	lock      string
	insert  string
	update  string
	destroy string
	collect string
}

// New returns a Store over db. The connection is not pooled or owned by the
// store; closing it is the caller's job.
func New(db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, session.ErrNoConnection
	}

	s := &Store{
		db:          db,
		dialect:     SQLite,
		table:       DefaultTable,
		columns:     DefaultColumns(),
		maxLifetime: session.DefaultMaxLifetime,
		lazyWrite:   true,
		now:         time.Now,
		log:         zap.NewNop().Sugar(),
	}

	for _, opt := range opts {
		opt(s)
	}

	switch {
	case strings.TrimSpace(s.table) == "":
		return nil, fmt.Errorf("%w: table name is required", session.ErrInvalidConfig)
	case s.dialect == nil:
		return nil, fmt.Errorf("%w: dialect is required", session.ErrInvalidConfig)
	case s.maxLifetime <= 0:
		return nil, fmt.Errorf("%w: max lifetime must be positive, got %s", session.ErrInvalidConfig, s.maxLifetime)
	case s.now == nil || s.log == nil:
		return nil, fmt.Errorf("%w: clock and logger must not be nil", session.ErrInvalidConfig)
	}

	s.q = s.buildQueries()
	return s, nil
}

func (s *Store) buildQueries() queries {
	d := s.dialect
	table := d.Quote(s.table)
	id := d.Quote(s.columns.SessionID)
	data := d.Quote(s.columns.Data)
	created := d.Quote(s.columns.CreatedAt)
	modified := d.Quote(s.columns.ModifiedAt)
	p := d.Placeholder

	return queries{
		read: fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s AND COALESCE(%s, %s) >= %s",
			data, table, id, p(1), modified, created, p(2)),
		serialize: d.Serialize(s.table, s.columns.SessionID),
		lock: d.ForUpdate(fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
			data, table, id, p(1))),
		insert: fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (%s, %s)",
			table, id, data, p(1), p(2)),
		update: fmt.Sprintf("UPDATE %s SET %s = %s, %s = %s WHERE %s = %s",
			table, data, p(1), modified, p(2), id, p(3)),
		destroy: fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
			table, id, p(1)),
		collect: fmt.Sprintf("DELETE FROM %s WHERE COALESCE(%s, %s) < %s",
			table, modified, created, p(1)),
	}
}

// Open marks the store ready
func (s *Store) Open(_, _ string) bool {
	return s.Lifecycle.Open()
}

// Read returns the payload of a session modified within the max lifetime
func (s *Store) Read(ctx context.Context, id string) (string, error) {
	if !s.IsOpen() {
		return "", nil
	}

	cutoff := session.Cutoff(s.now(), s.maxLifetime)

	var data []byte
	err := s.db.QueryRowContext(ctx, s.q.read, id, s.dialect.Timestamp(cutoff)).Scan(&data)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", nil
	case err != nil:
		s.log.Warnf("failed to read session %s: %s", id, err)
		return "", fmt.Errorf("read session: %w", err)
	}

	return string(data), nil
}

// Write stores data for id.
//
// Inside a transaction the session key is locked and the row is read, which
// blocks any other writer for the same id until this one commits or rolls
// back. An existing
// row is updated (or left alone if lazy writes are on and nothing changed),
// a missing one is inserted with the database's default created_at.
func (s *Store) Write(ctx context.Context, id, data string) (err error) {
	if !s.IsOpen() {
		return session.ErrNotOpen
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.log.Warnf("failed to begin write for session %s: %s", id, err)
		return fmt.Errorf("begin session write: %w", err)
	}

	defer func() {
		if err == nil {
			return
		}

		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Errorf("failed to roll back write for session %s: %s", id, rbErr)
		}

		s.log.Warnf("failed to write session %s: %s", id, err)
	}()

	if _, err = tx.ExecContext(ctx, s.q.serialize, id); err != nil {
		return fmt.Errorf("lock session key: %w", err)
	}

	var stored []byte
	err = tx.QueryRowContext(ctx, s.q.lock, id).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err = tx.ExecContext(ctx, s.q.insert, id, s.dialect.Payload(data)); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
	case err != nil:
		return fmt.Errorf("lock session row: %w", err)
	case s.lazyWrite && string(stored) == data:
		s.log.Debugf("session %s unchanged, skipping write", id)
		if err = tx.Rollback(); err != nil {
			return fmt.Errorf("release session row: %w", err)
		}

		return nil
	default:
		if _, err = tx.ExecContext(ctx, s.q.update, s.dialect.Payload(data), s.dialect.Timestamp(s.now()), id); err != nil {
			return fmt.Errorf("update session: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit session write: %w", err)
	}

	return nil
}

// Destroy deletes the session's row
func (s *Store) Destroy(ctx context.Context, id string) (bool, error) {
	if !s.IsOpen() {
		return false, session.ErrNotOpen
	}

	res, err := s.db.ExecContext(ctx, s.q.destroy, id)
	if err != nil {
		s.log.Warnf("failed to destroy session %s: %s", id, err)
		return false, fmt.Errorf("destroy session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("destroy session rows affected: %w", err)
	}

	return n > 0, nil
}

// Collect deletes every row whose last modification (or creation, if never
// modified) is older than maxLifetime. It runs whether or not the store is
// open so stale rows are always reclaimable.
func (s *Store) Collect(ctx context.Context, maxLifetime time.Duration) (int64, error) {
	if maxLifetime < 0 {
		return sessionstore.CollectFailed, fmt.Errorf("%w: negative max lifetime %s", session.ErrInvalidConfig, maxLifetime)
	}

	cutoff := session.Cutoff(s.now(), maxLifetime)

	res, err := s.db.ExecContext(ctx, s.q.collect, s.dialect.Timestamp(cutoff))
	if err != nil {
		s.log.Warnf("failed to collect sessions: %s", err)
		return sessionstore.CollectFailed, fmt.Errorf("collect sessions: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return sessionstore.CollectFailed, fmt.Errorf("collect sessions rows affected: %w", err)
	}

	s.log.Debugf("collected %d expired sessions from %s", n, s.table)
	return n, nil
}
