package kvstore

import (
	"context"
	"time"
)

// Client is the point get/put/delete surface of a key-value backend with
// native expiry. Values written with a ttl disappear on their own.
type Client interface {
	// Get returns the value for key. A positive ttl asks the backend to
	// extend the key's expiry to ttl from now where it can.
	Get(ctx context.Context, key string, ttl time.Duration) (value string, found bool, err error)

	// Set stores value under key, expiring after ttl
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key and reports whether it existed
	Delete(ctx context.Context, key string) (bool, error)
}
