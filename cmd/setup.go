package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadtool/internal/collect"
	"github.com/sells-group/leadtool/internal/config"
	"github.com/sells-group/leadtool/internal/ingest"
	"github.com/sells-group/leadtool/internal/model"
	"github.com/sells-group/leadtool/internal/resilience"
	"github.com/sells-group/leadtool/internal/store"
	"github.com/sells-group/leadtool/pkg/notion"
)

// notionRPS stays under Notion's documented 3 requests/second.
const notionRPS = 2.5

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "leadtool.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		var poolCfg *store.PoolConfig
		if cfg.Store.MaxConns > 0 || cfg.Store.MinConns > 0 {
			poolCfg = &store.PoolConfig{MaxConns: cfg.Store.MaxConns, MinConns: cfg.Store.MinConns}
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, poolCfg)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens the configured store and applies migrations.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// initNotion returns nil when no token is configured; sources that need
// Notion then fail at build time with a clear error.
func initNotion() notion.Client {
	if cfg.Notion.Token == "" {
		return nil
	}
	return notion.NewClient(cfg.Notion.Token, notion.WithRateLimit(notionRPS))
}

func engineConfig(ic config.IngestConfig) ingest.Config {
	ec := ingest.DefaultConfig()
	ec.Workers = ic.Workers
	ec.QueueSize = ic.QueueSize
	ec.RetentionDays = ic.RetentionDays
	ec.Retry = resilience.FromSettings(ic.MaxAttempts, ic.InitialBackoffMs, ic.MaxBackoffMs)
	if ic.RecordTimeoutSecs > 0 {
		ec.RecordTimeout = time.Duration(ic.RecordTimeoutSecs) * time.Second
	}
	if ic.RunTimeoutMins > 0 {
		ec.RunTimeout = time.Duration(ic.RunTimeoutMins) * time.Minute
	}
	if ic.StaleLockAfterMins > 0 {
		ec.StaleLockAfter = time.Duration(ic.StaleLockAfterMins) * time.Minute
	}
	return ec
}

// sourceFactory loads the sources file on every call so edits take effect
// on the next run without a restart.
func sourceFactory(path string, deps collect.Deps) func(model.Period) (collect.Source, error) {
	return func(period model.Period) (collect.Source, error) {
		sc, err := collect.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		multi, err := sc.Build(period, deps)
		if err != nil {
			return nil, err
		}
		zap.L().Debug("sources built", zap.String("file", path), zap.Int("sources", len(multi)))
		return multi, nil
	}
}
