// Command sessiongc removes expired sessions from a session backend, once or
// on an interval. It is meant for cron jobs and sidecars where the host
// runtime's own probabilistic gc is disabled.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/byuoitav/sessionstore"
	"github.com/byuoitav/sessionstore/internal/config"
	"github.com/byuoitav/sessionstore/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sessiongc: %s\n", err)
		os.Exit(2)
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sessiongc: %s\n", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Errorf("sessiongc failed: %s", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	handler, release, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer release()

	log.Infof("collecting %s sessions older than %s", cfg.Backend, cfg.MaxLifetime)

	if cfg.Interval <= 0 {
		_, err := sweep(ctx, handler, cfg.MaxLifetime, log)
		return err
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		// a failed sweep is retried on the next tick
		_, _ = sweep(ctx, handler, cfg.MaxLifetime, log)

		select {
		case <-ctx.Done():
			log.Infof("stopping")
			return nil
		case <-ticker.C:
		}
	}
}

func sweep(ctx context.Context, h sessionstore.Handler, maxLifetime time.Duration, log *zap.SugaredLogger) (int64, error) {
	start := time.Now()

	n, err := h.Collect(ctx, maxLifetime)
	if err != nil {
		log.Warnf("failed to collect sessions: %s", err)
		return n, err
	}

	log.Infow("collected sessions", "removed", n, "took", time.Since(start))
	return n, nil
}
