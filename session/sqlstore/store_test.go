package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/byuoitav/sessionstore/session"
	"github.com/byuoitav/sessionstore/session/conformance"
)

func openTempDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", SQLiteDSN(filepath.Join(t.TempDir(), "sessions.db")))
	require.NoError(t, err)
	require.NoError(t, db.Ping())

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("close sqlite db: %v", err)
		}
	})

	return db
}

func openTempStore(t *testing.T, db *sql.DB, opts ...Option) *Store {
	t.Helper()

	store, err := New(db, opts...)
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(context.Background()))

	return store
}

func rowCount(t *testing.T, db *sql.DB, id string) int {
	t.Helper()

	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM "session_data" WHERE "session_id" = ?`, id).Scan(&n)
	require.NoError(t, err)

	return n
}

func modifiedAt(t *testing.T, db *sql.DB, id string) sql.NullInt64 {
	t.Helper()

	var m sql.NullInt64
	err := db.QueryRow(`SELECT "modified_at" FROM "session_data" WHERE "session_id" = ?`, id).Scan(&m)
	require.NoError(t, err)

	return m
}

func TestConformance(t *testing.T) {
	conformance.Run(t, func(t *testing.T) conformance.Backend {
		db := openTempDB(t)
		store := openTempStore(t, db, WithMaxLifetime(conformance.MaxLifetime))

		return conformance.Backend{
			Handler: store,
			Age: func(t *testing.T, id string, d time.Duration) {
				_, err := db.Exec(`UPDATE "session_data"
SET "created_at" = "created_at" - ?, "modified_at" = "modified_at" - ?
WHERE "session_id" = ?`, d.Milliseconds(), d.Milliseconds(), id)
				require.NoError(t, err)
			},
			Exists: func(t *testing.T, id string) bool {
				return rowCount(t, db, id) == 1
			},
		}
	})
}

func TestNewRequiresConnection(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, session.ErrNoConnection)
}

func TestNewRejectsBadConfig(t *testing.T) {
	db := openTempDB(t)

	tests := map[string]Option{
		"empty table":       WithTable("  "),
		"nil dialect":       WithDialect(nil),
		"zero lifetime":     WithMaxLifetime(0),
		"negative lifetime": WithMaxLifetime(-time.Second),
		"nil clock":         WithClock(nil),
	}

	for name, opt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := New(db, opt)
			assert.ErrorIs(t, err, session.ErrInvalidConfig)
		})
	}
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	db := openTempDB(t)
	store := openTempStore(t, db)

	require.NoError(t, store.EnsureSchema(context.Background()))
}

func TestCreatedAtDefaultedByDatabase(t *testing.T) {
	db := openTempDB(t)
	store := openTempStore(t, db)
	store.Open("", "")

	before := time.Now().Add(-time.Second).UnixMilli()
	require.NoError(t, store.Write(context.Background(), "id", "data"))
	after := time.Now().Add(time.Second).UnixMilli()

	var created int64
	require.NoError(t, db.QueryRow(`SELECT "created_at" FROM "session_data" WHERE "session_id" = 'id'`).Scan(&created))
	assert.GreaterOrEqual(t, created, before)
	assert.LessOrEqual(t, created, after)
	assert.False(t, modifiedAt(t, db, "id").Valid)
}

func TestLazyWrite(t *testing.T) {
	db := openTempDB(t)
	now := time.Now()
	store := openTempStore(t, db, WithClock(func() time.Time { return now }))
	store.Open("", "")
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "id", "a"))
	assert.False(t, modifiedAt(t, db, "id").Valid)

	now = now.Add(time.Second)
	require.NoError(t, store.Write(ctx, "id", "a"))
	assert.False(t, modifiedAt(t, db, "id").Valid, "unchanged payload should not touch modified_at")

	now = now.Add(time.Second)
	updated := now
	require.NoError(t, store.Write(ctx, "id", "b"))
	m := modifiedAt(t, db, "id")
	require.True(t, m.Valid)
	assert.Equal(t, updated.UnixMilli(), m.Int64)

	now = now.Add(time.Second)
	require.NoError(t, store.Write(ctx, "id", "b"))
	assert.Equal(t, updated.UnixMilli(), modifiedAt(t, db, "id").Int64)
}

func TestLazyWriteDisabled(t *testing.T) {
	db := openTempDB(t)
	now := time.Now()
	store := openTempStore(t, db, WithLazyWrite(false), WithClock(func() time.Time { return now }))
	store.Open("", "")
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "id", "a"))

	now = now.Add(time.Second)
	require.NoError(t, store.Write(ctx, "id", "a"))

	m := modifiedAt(t, db, "id")
	require.True(t, m.Valid)
	assert.Equal(t, now.UnixMilli(), m.Int64)
}

func TestReadRespectsModifiedAt(t *testing.T) {
	db := openTempDB(t)
	store := openTempStore(t, db, WithMaxLifetime(time.Minute))
	store.Open("", "")
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "id", "a"))
	require.NoError(t, store.Write(ctx, "id", "b"))

	// created long ago, modified just now
	_, err := db.Exec(`UPDATE "session_data" SET "created_at" = "created_at" - ? WHERE "session_id" = 'id'`,
		time.Hour.Milliseconds())
	require.NoError(t, err)

	data, err := store.Read(ctx, "id")
	require.NoError(t, err)
	assert.Equal(t, "b", data)

	n, err := store.Collect(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

// writeConcurrently races several handlers over db on one id and checks a
// single row holding one of the written payloads survives
func writeConcurrently(t *testing.T, db *sql.DB) {
	t.Helper()

	openTempStore(t, db)
	ctx := context.Background()

	const writers = 8

	payloads := make(map[string]bool, writers)
	for i := 0; i < writers; i++ {
		payloads[fmt.Sprintf("payload-%d", i)] = true
	}

	var wg sync.WaitGroup
	errs := make(chan error, writers)

	for p := range payloads {
		// each request gets its own handler over the shared database
		store, err := New(db)
		require.NoError(t, err)
		store.Open("", "")

		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			errs <- store.Write(ctx, "shared", p)
		}(p)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	assert.Equal(t, 1, rowCount(t, db, "shared"))

	reader := openTempStore(t, db)
	reader.Open("", "")

	data, err := reader.Read(ctx, "shared")
	require.NoError(t, err)
	assert.True(t, payloads[data], "final payload %q was never written", data)
}

func TestConcurrentWritersSameID(t *testing.T) {
	writeConcurrently(t, openTempDB(t))
}

func TestConcurrentWritersDeferredTransactions(t *testing.T) {
	// no _txlock=immediate, transactions begin DEFERRED
	path := filepath.Join(t.TempDir(), "sessions.db")
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	writeConcurrently(t, db)
}

func TestBinaryPayloadRoundTrips(t *testing.T) {
	db := openTempDB(t)
	store := openTempStore(t, db)
	store.Open("", "")
	ctx := context.Background()

	payload := "\x00bin\xff\xfe\x00"
	require.NoError(t, store.Write(ctx, "id", payload))

	var raw []byte
	require.NoError(t, db.QueryRow(`SELECT "data" FROM "session_data" WHERE "session_id" = 'id'`).Scan(&raw))
	assert.Equal(t, []byte(payload), raw)

	// an equal binary payload is still recognised as unchanged
	require.NoError(t, store.Write(ctx, "id", payload))
	assert.False(t, modifiedAt(t, db, "id").Valid)
}

func TestFailedWriteRollsBack(t *testing.T) {
	db := openTempDB(t)
	good := openTempStore(t, db)
	good.Open("", "")
	ctx := context.Background()

	require.NoError(t, good.Write(ctx, "id", "a"))

	// the locking read succeeds but the update names a missing column
	broken, err := New(db, WithColumns(Columns{ModifiedAt: "no_such_column"}))
	require.NoError(t, err)
	broken.Open("", "")

	err = broken.Write(ctx, "id", "b")
	require.Error(t, err)

	// a dangling transaction would hold the write lock and time this out
	done := make(chan error, 1)
	go func() { done <- good.Write(ctx, "id", "c") }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("write blocked, previous transaction was left open")
	}

	data, err := good.Read(ctx, "id")
	require.NoError(t, err)
	assert.Equal(t, "c", data)
}

func TestCanceledContextFailsWrite(t *testing.T) {
	db := openTempDB(t)
	store := openTempStore(t, db)
	store.Open("", "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Error(t, store.Write(ctx, "id", "data"))
	assert.Equal(t, 0, rowCount(t, db, "id"))
}

func TestCollectWhileClosed(t *testing.T) {
	db := openTempDB(t)
	store := openTempStore(t, db)
	store.Open("", "")
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "old", "data"))
	_, err := db.Exec(`UPDATE "session_data" SET "created_at" = "created_at" - ?`, time.Hour.Milliseconds())
	require.NoError(t, err)

	store.Close()

	n, err := store.Collect(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCollectRejectsNegativeLifetime(t *testing.T) {
	store := openTempStore(t, openTempDB(t))

	n, err := store.Collect(context.Background(), -time.Second)
	assert.ErrorIs(t, err, session.ErrInvalidConfig)
	assert.Equal(t, int64(-1), n)
}

func TestCustomTableAndColumns(t *testing.T) {
	db := openTempDB(t)
	store := openTempStore(t, db,
		WithTable("php_sessions"),
		WithColumns(Columns{SessionID: "sid", Data: "payload"}),
	)
	store.Open("", "")
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "id", "data"))

	var payload string
	require.NoError(t, db.QueryRow(`SELECT "payload" FROM "php_sessions" WHERE "sid" = 'id'`).Scan(&payload))
	assert.Equal(t, "data", payload)
}

func TestBackendFailureSurfaces(t *testing.T) {
	db := openTempDB(t)
	store, err := New(db, WithTable("missing_table"))
	require.NoError(t, err)
	store.Open("", "")
	ctx := context.Background()

	_, err = store.Read(ctx, "id")
	assert.Error(t, err)

	assert.Error(t, store.Write(ctx, "id", "data"))

	_, err = store.Destroy(ctx, "id")
	assert.Error(t, err)

	n, err := store.Collect(ctx, time.Minute)
	assert.Error(t, err)
	assert.Equal(t, int64(-1), n)
}

func TestPostgresQueries(t *testing.T) {
	store, err := New(openTempDB(t), WithDialect(Postgres), WithTable(`odd"name`))
	require.NoError(t, err)

	assert.Equal(t, `SELECT pg_advisory_xact_lock(hashtext('odd"name'), hashtext($1))`, store.q.serialize)
	assert.Equal(t, `SELECT "data" FROM "odd""name" WHERE "session_id" = $1 FOR UPDATE`, store.q.lock)
	assert.Equal(t, `UPDATE "odd""name" SET "data" = $1, "modified_at" = $2 WHERE "session_id" = $3`, store.q.update)
	assert.Equal(t, `DELETE FROM "odd""name" WHERE COALESCE("modified_at", "created_at") < $1`, store.q.collect)
	assert.True(t, strings.Contains(Postgres.CreateTable("t", DefaultColumns()), "TIMESTAMPTZ NOT NULL DEFAULT now()"))
	assert.True(t, strings.Contains(Postgres.CreateTable("t", DefaultColumns()), `"data" BYTEA NOT NULL`))
	assert.Equal(t, []byte("a\x00b"), Postgres.Payload("a\x00b"))
}

func TestPostgresSerializeQuotesTableLiteral(t *testing.T) {
	assert.Equal(t, `SELECT pg_advisory_xact_lock(hashtext('it''s'), hashtext($1))`, Postgres.Serialize("it's", "session_id"))
}

func TestSQLiteQueries(t *testing.T) {
	store, err := New(openTempDB(t))
	require.NoError(t, err)

	assert.Equal(t, `SELECT "data" FROM "session_data" WHERE "session_id" = ?`, store.q.lock)
	assert.Equal(t, `UPDATE "session_data" SET "session_id" = "session_id" WHERE "session_id" = ?`, store.q.serialize)
}

func TestDialectFor(t *testing.T) {
	d, err := DialectFor("sqlite")
	require.NoError(t, err)
	assert.Equal(t, SQLite, d)

	d, err = DialectFor("postgres")
	require.NoError(t, err)
	assert.Equal(t, Postgres, d)

	_, err = DialectFor("oracle")
	assert.Error(t, err)
}
