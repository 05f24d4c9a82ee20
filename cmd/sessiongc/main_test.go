package main

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/byuoitav/sessionstore/internal/config"
	"github.com/byuoitav/sessionstore/session/sqlstore"
)

func TestOpenBackendUnknown(t *testing.T) {
	_, _, err := openBackend(context.Background(), config.Config{Backend: "tape"}, zap.NewNop().Sugar())
	assert.Error(t, err)
}

func TestRunSQLiteOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	cfg := config.Config{
		Backend:     "sqlite",
		DSN:         path,
		Table:       sqlstore.DefaultTable,
		MaxLifetime: time.Minute,
		LogLevel:    "info",
	}
	log := zap.NewNop().Sugar()
	ctx := context.Background()

	handler, release, err := openBackend(ctx, cfg, log)
	require.NoError(t, err)

	handler.Open("", "")
	require.NoError(t, handler.Write(ctx, "stale", "a"))
	require.NoError(t, handler.Write(ctx, "fresh", "b"))
	release()

	db, err := sql.Open("sqlite", sqlstore.SQLiteDSN(path))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`UPDATE "session_data" SET "created_at" = "created_at" - ? WHERE "session_id" = 'stale'`,
		time.Hour.Milliseconds())
	require.NoError(t, err)

	require.NoError(t, run(ctx, cfg, log))

	var ids []string
	rows, err := db.Query(`SELECT "session_id" FROM "session_data"`)
	require.NoError(t, err)
	defer rows.Close()

	for rows.Next() {
		var id string
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}
	require.NoError(t, rows.Err())

	assert.Equal(t, []string{"fresh"}, ids)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := config.Config{
		Backend:     "sqlite",
		DSN:         filepath.Join(t.TempDir(), "sessions.db"),
		Table:       sqlstore.DefaultTable,
		MaxLifetime: time.Minute,
		Interval:    10 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	assert.NoError(t, run(ctx, cfg, zap.NewNop().Sugar()))
}

func TestRunRejectsNonPositiveLifetime(t *testing.T) {
	for _, lifetime := range []time.Duration{0, -time.Second} {
		cfg := config.Config{
			Backend:     "sqlite",
			DSN:         filepath.Join(t.TempDir(), "sessions.db"),
			MaxLifetime: lifetime,
		}

		err := run(context.Background(), cfg, zap.NewNop().Sugar())
		assert.ErrorContains(t, err, "SESSION_MAX_LIFETIME must be positive")
	}
}
