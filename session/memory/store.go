package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/byuoitav/sessionstore"
	"github.com/byuoitav/sessionstore/session"
)

// SessionStore represents an instantiation of the in-memory session store.
// Records live in a map shared by every handler created from the store.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*entry
	now      func() time.Time
}

// Option configures a SessionStore
type Option func(*SessionStore)

// WithClock overrides the time source used for timestamps and expiry
func WithClock(now func() time.Time) Option {
	return func(s *SessionStore) {
		s.now = now
	}
}

// NewSessionStore returns a new instantiation of an in-memory session store
func NewSessionStore(opts ...Option) *SessionStore {
	s := &SessionStore{
		sessions: make(map[string]*entry),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Handler returns a new save handler over this store. Each handler keeps its
// own lifecycle state; reads treat records older than maxLifetime as absent.
func (s *SessionStore) Handler(maxLifetime time.Duration) *Handler {
	if maxLifetime <= 0 {
		maxLifetime = session.DefaultMaxLifetime
	}

	return &Handler{
		store:       s,
		maxLifetime: maxLifetime,
	}
}

// Len returns the number of records physically held, expired or not
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}

// Handler is a session save handler backed by a SessionStore
type Handler struct {
	session.Lifecycle

	store       *SessionStore
	maxLifetime time.Duration
}

var _ sessionstore.Handler = (*Handler)(nil)

// Open marks the handler ready
func (h *Handler) Open(_, _ string) bool {
	return h.Lifecycle.Open()
}

// Read returns the session's payload if it exists and has not expired
func (h *Handler) Read(_ context.Context, id string) (string, error) {
	if !h.IsOpen() {
		return "", nil
	}

	s := h.store
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok || !e.record(id).Alive(h.maxLifetime, s.now()) {
		return "", nil
	}

	return e.data, nil
}

// Write creates or replaces the session's payload
func (h *Handler) Write(_ context.Context, id, data string) error {
	if !h.IsOpen() {
		return session.ErrNotOpen
	}

	s := h.store
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	switch {
	case !ok:
		s.sessions[id] = &entry{data: data, createdAt: s.now()}
	case e.data != data:
		e.touch(data, s.now())
	}

	return nil
}

// Destroy drops the given session from the store if it exists
func (h *Handler) Destroy(_ context.Context, id string) (bool, error) {
	if !h.IsOpen() {
		return false, session.ErrNotOpen
	}

	s := h.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; ok {
		delete(s.sessions, id)
		return true, nil
	}

	return false, nil
}

// Collect drops every session older than maxLifetime
func (h *Handler) Collect(_ context.Context, maxLifetime time.Duration) (int64, error) {
	if maxLifetime < 0 {
		return sessionstore.CollectFailed, fmt.Errorf("%w: negative max lifetime %s", session.ErrInvalidConfig, maxLifetime)
	}

	s := h.store
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	var n int64
	for id, e := range s.sessions {
		if e.record(id).Alive(maxLifetime, now) {
			continue
		}

		delete(s.sessions, id)
		n++
	}

	return n, nil
}
