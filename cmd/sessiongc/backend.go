package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	as "github.com/aerospike/aerospike-client-go/v7"
	"github.com/bradfitz/gomemcache/memcache"
	_ "github.com/lib/pq"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/byuoitav/sessionstore"
	"github.com/byuoitav/sessionstore/internal/config"
	"github.com/byuoitav/sessionstore/session/kvstore"
	"github.com/byuoitav/sessionstore/session/mongostore"
	"github.com/byuoitav/sessionstore/session/sqlstore"
)

// openBackend connects to the configured backend. The returned func releases
// the connection.
func openBackend(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) (sessionstore.Handler, func(), error) {
	switch cfg.Backend {
	case "sqlite", "postgres":
		return openSQL(ctx, cfg, log)
	case "mongo":
		return openMongo(ctx, cfg, log)
	case "memcache":
		client := kvstore.NewMemcacheClient(memcache.New(cfg.MemcacheServers...))
		store, err := kvstore.New(client, kvstore.WithPrefix(cfg.Prefix), kvstore.WithLogger(log))
		if err != nil {
			return nil, nil, err
		}

		return store, func() {}, nil
	case "aerospike":
		client, aerr := as.NewClient(cfg.AerospikeHost, cfg.AerospikePort)
		if aerr != nil {
			return nil, nil, fmt.Errorf("connect to aerospike: %w", aerr)
		}

		store, err := kvstore.New(
			kvstore.NewAerospikeClient(client, cfg.AerospikeNamespace, cfg.AerospikeSet),
			kvstore.WithPrefix(cfg.Prefix),
			kvstore.WithLogger(log),
		)
		if err != nil {
			client.Close()
			return nil, nil, err
		}

		return store, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}

func openSQL(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) (sessionstore.Handler, func(), error) {
	dialect, err := sqlstore.DialectFor(cfg.Backend)
	if err != nil {
		return nil, nil, err
	}

	dsn := cfg.DSN
	if dialect == sqlstore.SQLite {
		dsn = sqlstore.SQLiteDSN(cfg.DSN)
	}

	db, err := sql.Open(dialect.Name(), dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s db: %w", dialect.Name(), err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping %s db: %w", dialect.Name(), err)
	}

	closeDB := func() {
		if err := db.Close(); err != nil {
			log.Warnf("failed to close db: %s", err)
		}
	}

	store, err := sqlstore.New(db,
		sqlstore.WithDialect(dialect),
		sqlstore.WithTable(cfg.Table),
		sqlstore.WithMaxLifetime(cfg.MaxLifetime),
		sqlstore.WithLogger(log),
	)
	if err != nil {
		closeDB()
		return nil, nil, err
	}

	if err := store.EnsureSchema(ctx); err != nil {
		closeDB()
		return nil, nil, err
	}

	return store, closeDB, nil
}

func openMongo(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) (sessionstore.Handler, func(), error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to mongo: %w", err)
	}

	disconnect := func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := client.Disconnect(dctx); err != nil {
			log.Warnf("failed to disconnect from mongo: %s", err)
		}
	}

	coll := mongostore.NewMongoCollection(client.Database(cfg.MongoDatabase).Collection(cfg.MongoCollection))
	if err := coll.EnsureIndexes(ctx); err != nil {
		disconnect()
		return nil, nil, err
	}

	store, err := mongostore.New(coll, mongostore.WithMaxLifetime(cfg.MaxLifetime), mongostore.WithLogger(log))
	if err != nil {
		disconnect()
		return nil, nil, err
	}

	return store, disconnect, nil
}
