// Package sessionstore defines the lifecycle contract a host request runtime
// uses to persist web session state, with backends under session/.
package sessionstore

import (
	"context"
	"time"
)

// CollectFailed is the count returned by Collect when the sweep could not run
const CollectFailed int64 = -1

// Handler defines the requirements for an implementation of a session save handler.
//
// The host calls Open before touching a session and Close when the request is
// done with it. Read, Write and Destroy are only meaningful in between.
type Handler interface {
	// Open marks the handler ready for use. The arguments are startup hints
	// from the host and are not interpreted. It never fails.
	Open(path, name string) bool

	// Close marks the handler as no longer in use.
	Close() bool

	// Read returns the stored payload for id. A missing, expired, or
	// not-yet-opened session reads as the empty string with a nil error;
	// an error is only returned when the backend itself failed.
	Read(ctx context.Context, id string) (string, error)

	// Write persists data for id, creating the record if needed. data is
	// treated as opaque bytes and read back unchanged, except that the
	// document store only accepts valid UTF-8.
	// It returns session.ErrNotOpen without touching storage if the
	// handler has not been opened.
	Write(ctx context.Context, id, data string) error

	// Destroy deletes the record for id. Removing an id that does not exist
	// is not an error; removed reports whether a record was actually deleted.
	// A nil error tells the host to drop any copy it holds in memory.
	Destroy(ctx context.Context, id string) (removed bool, err error)

	// Collect removes every record whose effective age exceeds maxLifetime
	// and returns how many were removed, or CollectFailed and an error.
	Collect(ctx context.Context, maxLifetime time.Duration) (int64, error)
}
