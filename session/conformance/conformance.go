// Package conformance holds the behaviour every session save handler must share.
// Backend packages call Run from their own tests with a factory that builds a
// fresh handler over empty storage.
package conformance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byuoitav/sessionstore"
	"github.com/byuoitav/sessionstore/session"
)

// MaxLifetime is the lifetime factories must configure their handlers with
const MaxLifetime = 100 * time.Second

// Backend is a handler under test plus the storage probes the suite needs
type Backend struct {
	Handler sessionstore.Handler

	// Age moves the effective time of the stored record for id back by d
	Age func(t *testing.T, id string, d time.Duration)

	// Exists reports whether a record for id is physically present,
	// regardless of expiry
	Exists func(t *testing.T, id string) bool

	// NativeExpiry is set for backends that leave physical deletion to the
	// backend's own TTL mechanism. Collect is then expected to remove nothing.
	NativeExpiry bool

	// TextOnly is set for backends that store payloads as UTF-8 strings.
	// Binary payloads are then skipped.
	TextOnly bool
}

// Factory builds a Backend over empty storage
type Factory func(t *testing.T) Backend

// payloads exercises delimiters and quoting the query layer could mis-parse
var payloads = []string{
	"",
	"a|s:1:\"b\";",
	"'; DROP TABLE session_data; --",
	"line one\nline two\r\n\ttabbed",
	`{"$set":{"data":"x"},"_id":"y"}`,
	"ünïcødé ✓ 日本語",
	"percent %s %d %% and ? and $1",
}

// binaryPayloads carry NUL bytes or invalid UTF-8
var binaryPayloads = []string{
	"\x00",
	"\x00bin\xff\xfe",
	"trailing nul\x00",
	string([]byte{0xc3, 0x28, 0x80, 0x00, 0xfe, 0xff}),
}

// Run runs the conformance suite against the backends produced by newBackend
func Run(t *testing.T, newBackend Factory) {
	t.Helper()

	t.Run("OpenAndClose", func(t *testing.T) {
		b := newBackend(t)
		assert.True(t, b.Handler.Open("", "PHPSESSID"))
		assert.True(t, b.Handler.Close())
	})

	t.Run("ReadMissing", func(t *testing.T) {
		b := newBackend(t)
		b.Handler.Open("", "")

		data, err := b.Handler.Read(context.Background(), newID())
		require.NoError(t, err)
		assert.Equal(t, "", data)
	})

	t.Run("WriteWhileClosed", func(t *testing.T) {
		b := newBackend(t)
		id := newID()

		err := b.Handler.Write(context.Background(), id, "data")
		assert.True(t, errors.Is(err, session.ErrNotOpen), "expected ErrNotOpen, got %v", err)
		assert.False(t, b.Exists(t, id))
	})

	t.Run("WriteAfterClose", func(t *testing.T) {
		b := newBackend(t)
		id := newID()

		b.Handler.Open("", "")
		b.Handler.Close()

		err := b.Handler.Write(context.Background(), id, "data")
		assert.ErrorIs(t, err, session.ErrNotOpen)
		assert.False(t, b.Exists(t, id))
	})

	t.Run("ReadWhileClosed", func(t *testing.T) {
		b := newBackend(t)
		id := newID()
		ctx := context.Background()

		b.Handler.Open("", "")
		require.NoError(t, b.Handler.Write(ctx, id, "data"))
		b.Handler.Close()

		data, err := b.Handler.Read(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "", data)
	})

	t.Run("ReadAfterWrite", func(t *testing.T) {
		b := newBackend(t)
		id := newID()
		ctx := context.Background()

		b.Handler.Open("", "")
		require.NoError(t, b.Handler.Write(ctx, id, "first"))

		data, err := b.Handler.Read(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "first", data)

		require.NoError(t, b.Handler.Write(ctx, id, "second"))

		data, err = b.Handler.Read(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "second", data)
	})

	t.Run("RepeatedWrite", func(t *testing.T) {
		b := newBackend(t)
		id := newID()
		ctx := context.Background()

		b.Handler.Open("", "")
		require.NoError(t, b.Handler.Write(ctx, id, "same"))
		require.NoError(t, b.Handler.Write(ctx, id, "same"))

		data, err := b.Handler.Read(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "same", data)
	})

	t.Run("OpaquePayload", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		b.Handler.Open("", "")

		all := payloads
		if !b.TextOnly {
			all = append(append([]string(nil), payloads...), binaryPayloads...)
		}

		for _, p := range all {
			id := newID()
			require.NoError(t, b.Handler.Write(ctx, id, p))

			data, err := b.Handler.Read(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, p, data, "payload %q", p)
		}
	})

	t.Run("DestroyMissing", func(t *testing.T) {
		b := newBackend(t)
		id := newID()
		b.Handler.Open("", "")

		removed, err := b.Handler.Destroy(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, removed)
		assert.False(t, b.Exists(t, id))
	})

	t.Run("DestroyExisting", func(t *testing.T) {
		b := newBackend(t)
		id := newID()
		ctx := context.Background()

		b.Handler.Open("", "")
		require.NoError(t, b.Handler.Write(ctx, id, "data"))
		require.True(t, b.Exists(t, id))

		removed, err := b.Handler.Destroy(ctx, id)
		require.NoError(t, err)
		assert.True(t, removed)
		assert.False(t, b.Exists(t, id))

		data, err := b.Handler.Read(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "", data)

		removed, err = b.Handler.Destroy(ctx, id)
		require.NoError(t, err)
		assert.False(t, removed)
	})

	t.Run("DestroyWhileClosed", func(t *testing.T) {
		b := newBackend(t)

		_, err := b.Handler.Destroy(context.Background(), newID())
		assert.ErrorIs(t, err, session.ErrNotOpen)
	})

	t.Run("ExpiredIsInvisible", func(t *testing.T) {
		b := newBackend(t)
		id := newID()
		ctx := context.Background()

		b.Handler.Open("", "")
		require.NoError(t, b.Handler.Write(ctx, id, "data"))
		b.Age(t, id, 2*MaxLifetime)

		data, err := b.Handler.Read(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "", data)

		if !b.NativeExpiry {
			assert.True(t, b.Exists(t, id), "expired record should remain until collected")
		}
	})

	t.Run("CollectSweepsOnlyExpired", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		b.Handler.Open("", "")

		ages := map[string]time.Duration{
			newID(): 0,
			newID(): 50 * time.Second,
			newID(): 200 * time.Second,
		}

		for id, age := range ages {
			require.NoError(t, b.Handler.Write(ctx, id, "data-"+id))
			b.Age(t, id, age)
		}

		n, err := b.Handler.Collect(ctx, MaxLifetime)
		require.NoError(t, err)

		if b.NativeExpiry {
			assert.Equal(t, int64(0), n)
			return
		}

		assert.Equal(t, int64(1), n)
		for id, age := range ages {
			assert.Equal(t, age <= MaxLifetime, b.Exists(t, id), "record aged %s", age)
		}
	})

	t.Run("CollectEmpty", func(t *testing.T) {
		b := newBackend(t)
		b.Handler.Open("", "")

		n, err := b.Handler.Collect(context.Background(), MaxLifetime)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})
}

func newID() string {
	return uuid.NewString()
}
