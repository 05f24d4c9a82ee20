package session

import (
	"errors"
	"sync/atomic"
)

var (
	// ErrNotOpen is returned when a mutating operation is attempted before Open
	ErrNotOpen = errors.New("session handler is not open")

	// ErrNoConnection is returned by a constructor that was given no backend client
	ErrNoConnection = errors.New("no backend connection given")

	// ErrInvalidConfig is returned by a constructor when an option value is unusable
	ErrInvalidConfig = errors.New("invalid session handler configuration")
)

// Status is the in-process lifecycle state of a handler. It is never persisted.
type Status int32

const (
	// Closed is the initial state, and the state after Close
	Closed Status = iota
	// Open is the state between Open and Close
	Open
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Lifecycle tracks the Open/Closed status of a handler. The zero value is Closed
// and it is safe for concurrent use.
type Lifecycle struct {
	status atomic.Int32
}

// Open transitions to Open
func (l *Lifecycle) Open() bool {
	l.status.Store(int32(Open))
	return true
}

// Close transitions to Closed
func (l *Lifecycle) Close() bool {
	l.status.Store(int32(Closed))
	return true
}

// Status returns the current state
func (l *Lifecycle) Status() Status {
	return Status(l.status.Load())
}

// IsOpen reports whether the handler is currently open
func (l *Lifecycle) IsOpen() bool {
	return l.Status() == Open
}
