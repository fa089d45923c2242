package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/notify"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/pipeline"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/store"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/vendorspec"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/worker"
)

// env bundles the wired application dependencies shared by the commands.
type env struct {
	Store   store.Store
	Catalog *vendorspec.Catalog
	Runner  *pipeline.Runner
	Pool    *worker.Pool
	Service *pipeline.Service
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func loadCatalog() (*vendorspec.Catalog, error) {
	if cfg.Pipeline.FormatsDir != "" {
		return vendorspec.LoadDir(cfg.Pipeline.FormatsDir)
	}
	return vendorspec.LoadDefault()
}

func initEnv(ctx context.Context) (*env, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	catalog, err := loadCatalog()
	if err != nil {
		st.Close()
		return nil, eris.Wrap(err, "load format catalog")
	}
	zap.L().Info("format catalog loaded", zap.Int("formats", catalog.Len()))

	var notifier notify.Notifier = notify.NewLogNotifier()
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewWebhook(cfg.Notify.WebhookURL, nil)
	}

	runner := pipeline.NewRunner(st, catalog, notifier, pipeline.Config{
		MinConfidence:     cfg.Pipeline.MinConfidence,
		BatchSize:         cfg.Pipeline.BatchSize,
		MaxInsertAttempts: cfg.Pipeline.MaxInsertAttempts,
		JobTimeout:        cfg.Pipeline.JobTimeout(),
		ReportingCurrency: cfg.Pipeline.ReportingCurrency,
		MinYear:           cfg.Pipeline.MinYear,
		MaxYear:           cfg.Pipeline.MaxYear,
	})
	pool := worker.New(runner.Run, cfg.Worker.QueueDepth)

	return &env{
		Store:   st,
		Catalog: catalog,
		Runner:  runner,
		Pool:    pool,
		Service: pipeline.NewService(st, pool, cfg.Pipeline.SpoolDir),
	}, nil
}

func (e *env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}
