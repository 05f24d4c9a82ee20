// Package mongostore is a session save handler backed by a document collection,
// one document per session.
//
// Documents carry no creation time. A session that was never updated after
// being created has no modified time and is never removed by Collect.
//
// Payloads are stored as BSON strings and must be valid UTF-8.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/byuoitav/sessionstore"
	"github.com/byuoitav/sessionstore/session"
)

// ErrNotUTF8 is returned by Write for payloads BSON strings cannot hold
var ErrNotUTF8 = errors.New("session payload is not valid UTF-8")

var (
	errNotInserted = errors.New("no document inserted")
	errVanished    = errors.New("document removed before update")
)

// Store implements session persistence over a Collection
type Store struct {
	session.Lifecycle

	coll        Collection
	maxLifetime time.Duration
	now         func() time.Time
	log         *zap.SugaredLogger

	// last is the payload most recently read or written, used to skip
	// writes that would not change anything
	mu   sync.Mutex
	last lastSeen
}

type lastSeen struct {
	id   string
	data string
	ok   bool
}

var _ sessionstore.Handler = (*Store)(nil)

type Option func(*Store)

// WithMaxLifetime sets how long an updated session stays readable
func WithMaxLifetime(d time.Duration) Option {
	return func(s *Store) {
		s.maxLifetime = d
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

// New returns a Store over coll
func New(coll Collection, opts ...Option) (*Store, error) {
	if coll == nil {
		return nil, session.ErrNoConnection
	}

	s := &Store{
		coll:        coll,
		maxLifetime: session.DefaultMaxLifetime,
		now:         time.Now,
		log:         zap.NewNop().Sugar(),
	}

	for _, opt := range opts {
		opt(s)
	}

	switch {
	case s.maxLifetime <= 0:
		return nil, fmt.Errorf("%w: max lifetime must be positive, got %s", session.ErrInvalidConfig, s.maxLifetime)
	case s.now == nil || s.log == nil:
		return nil, fmt.Errorf("%w: clock and logger must not be nil", session.ErrInvalidConfig)
	}

	return s, nil
}

// Open marks the store ready. The last-seen payload is not restored.
func (s *Store) Open(_, _ string) bool {
	return s.Lifecycle.Open()
}

func (s *Store) remember(id, data string) {
	s.mu.Lock()
	s.last = lastSeen{id: id, data: data, ok: true}
	s.mu.Unlock()
}

func (s *Store) forget() {
	s.mu.Lock()
	s.last = lastSeen{}
	s.mu.Unlock()
}

func (s *Store) unchanged(id, data string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.last.ok && s.last.id == id && s.last.data == data
}

// Read returns the session's payload. Sessions updated longer ago than the
// max lifetime read as empty.
func (s *Store) Read(ctx context.Context, id string) (string, error) {
	if !s.IsOpen() {
		return "", nil
	}

	doc, found, err := s.coll.FindOne(ctx, id)
	if err != nil {
		s.log.Warnf("failed to read session %s: %s", id, err)
		return "", fmt.Errorf("read session: %w", err)
	}

	if !found {
		return "", nil
	}

	if doc.Modified != nil && session.Expired(*doc.Modified, s.maxLifetime, s.now()) {
		return "", nil
	}

	s.remember(id, doc.Data)
	return doc.Data, nil
}

// Write stores data for id. A payload equal to the last one this store saw
// for id is not sent to the backend at all.
func (s *Store) Write(ctx context.Context, id, data string) error {
	if !s.IsOpen() {
		return session.ErrNotOpen
	}

	if !utf8.ValidString(data) {
		return ErrNotUTF8
	}

	if s.unchanged(id, data) {
		s.log.Debugf("session %s unchanged, skipping write", id)
		return nil
	}

	if err := s.write(ctx, id, data); err != nil {
		s.log.Warnf("failed to write session %s: %s", id, err)
		return err
	}

	s.remember(id, data)
	return nil
}

func (s *Store) write(ctx context.Context, id, data string) error {
	n, err := s.coll.Count(ctx, id)
	if err != nil {
		return fmt.Errorf("count session documents: %w", err)
	}

	if n == 0 {
		inserted, err := s.coll.InsertOne(ctx, Document{ID: id, Data: data})
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		if inserted != 1 {
			return fmt.Errorf("insert session: %w", errNotInserted)
		}

		return nil
	}

	// A matched document with nothing changed still holds data, so only a
	// missing match is a failure.
	matched, changed, err := s.coll.UpdateOne(ctx, id, data, s.now())
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	if matched == 0 {
		return fmt.Errorf("update session: %w", errVanished)
	}

	if changed == 0 {
		s.log.Debugf("session %s update matched but changed nothing", id)
	}

	return nil
}

// Destroy deletes the session's document
func (s *Store) Destroy(ctx context.Context, id string) (bool, error) {
	if !s.IsOpen() {
		return false, session.ErrNotOpen
	}

	s.forget()

	n, err := s.coll.DeleteOne(ctx, id)
	if err != nil {
		s.log.Warnf("failed to destroy session %s: %s", id, err)
		return false, fmt.Errorf("destroy session: %w", err)
	}

	return n > 0, nil
}

// Collect deletes every document updated longer ago than maxLifetime
func (s *Store) Collect(ctx context.Context, maxLifetime time.Duration) (int64, error) {
	if maxLifetime < 0 {
		return sessionstore.CollectFailed, fmt.Errorf("%w: negative max lifetime %s", session.ErrInvalidConfig, maxLifetime)
	}

	n, err := s.coll.DeleteModifiedBefore(ctx, session.Cutoff(s.now(), maxLifetime))
	if err != nil {
		s.log.Warnf("failed to collect sessions: %s", err)
		return sessionstore.CollectFailed, fmt.Errorf("collect sessions: %w", err)
	}

	s.log.Debugf("collected %d expired sessions", n)
	return n, nil
}
