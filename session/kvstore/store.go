// Package kvstore is a session save handler backed by a key-value store with
// native expiry, such as memcached or Aerospike.
//
// Every operation is a single point get, put or delete, so there is no
// transaction or locking: concurrent writers to one session are last write
// wins. Expired sessions are removed by the backend itself and Collect does
// nothing.
package kvstore

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/byuoitav/sessionstore"
	"github.com/byuoitav/sessionstore/session"
)

// DefaultLifetime is used when WithLifetime is not given
const DefaultLifetime = 8600 * time.Second

// Store implements session persistence over a Client
type Store struct {
	session.Lifecycle

	client   Client
	prefix   string
	lifetime time.Duration
	log      *zap.SugaredLogger
}

var _ sessionstore.Handler = (*Store)(nil)

type Option func(*Store)

// WithPrefix prepends prefix to every session id to form the key
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithLifetime sets the TTL handed to the backend on every read and write
func WithLifetime(d time.Duration) Option {
	return func(s *Store) {
		s.lifetime = d
	}
}

// WithLogger sets the logger. Logging is discarded by default.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// New returns a Store over client
func New(client Client, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, session.ErrNoConnection
	}

	s := &Store{
		client:   client,
		lifetime: DefaultLifetime,
		log:      zap.NewNop().Sugar(),
	}

	for _, opt := range opts {
		opt(s)
	}

	switch {
	case s.lifetime <= 0:
		return nil, fmt.Errorf("%w: lifetime must be positive, got %s", session.ErrInvalidConfig, s.lifetime)
	case s.log == nil:
		return nil, fmt.Errorf("%w: logger must not be nil", session.ErrInvalidConfig)
	}

	return s, nil
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

// Open marks the store ready
func (s *Store) Open(_, _ string) bool {
	return s.Lifecycle.Open()
}

// Read returns the session's payload, extending its lifetime
func (s *Store) Read(ctx context.Context, id string) (string, error) {
	if !s.IsOpen() {
		return "", nil
	}

	data, found, err := s.client.Get(ctx, s.key(id), s.lifetime)
	if err != nil {
		s.log.Warnf("failed to read session %s: %s", id, err)
		return "", fmt.Errorf("read session: %w", err)
	}

	if !found {
		return "", nil
	}

	return data, nil
}

// Write stores the session's payload with a fresh lifetime
func (s *Store) Write(ctx context.Context, id, data string) error {
	if !s.IsOpen() {
		return session.ErrNotOpen
	}

	if err := s.client.Set(ctx, s.key(id), data, s.lifetime); err != nil {
		s.log.Warnf("failed to write session %s: %s", id, err)
		return fmt.Errorf("write session: %w", err)
	}

	return nil
}

// Destroy deletes the session's key
func (s *Store) Destroy(ctx context.Context, id string) (bool, error) {
	if !s.IsOpen() {
		return false, session.ErrNotOpen
	}

	existed, err := s.client.Delete(ctx, s.key(id))
	if err != nil {
		s.log.Warnf("failed to destroy session %s: %s", id, err)
		return false, fmt.Errorf("destroy session: %w", err)
	}

	return existed, nil
}

// Collect is a no-op, the backend expires keys on its own
func (s *Store) Collect(context.Context, time.Duration) (int64, error) {
	return 0, nil
}
