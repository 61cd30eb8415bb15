package service

import (
	"context"
	"fmt"
	"log/slog"

	"productrag/config"
	"productrag/loader/internal"
	"productrag/model"
	"productrag/store"
)

// Open connects the store and the embedding provider described by cfg and
// returns a ready Service with the function that releases them. With dryRun
// records are kept in memory and the database is never contacted.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger, dryRun bool) (*Service, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	embedder, err := model.NewEmbedderFromConfig(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("create embedder: %w", err)
	}

	var storer store.DBStorer
	if dryRun {
		logger.Info("dry run, records are kept in memory")
		storer = store.NewMemoryStore(embedder.Dimension())
	} else {
		pg, err := store.NewPostgresStore(ctx, cfg.Postgres.ConnString(), cfg.Table, embedder.Dimension(), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("error to connect to Postgres database: %w", err)
		}
		storer = pg
	}

	if err := storer.Init(ctx); err != nil {
		_ = storer.Close()
		return nil, nil, fmt.Errorf("error to create tables: %w", err)
	}

	if err := internal.CreateDirectories(cfg.SourceDir, cfg.ArchiveDir, cfg.BadDir); err != nil {
		_ = storer.Close()
		return nil, nil, fmt.Errorf("create directories: %w", err)
	}

	svc := New(storer, embedder,
		WithLogger(logger),
		WithSource(cfg.SourceDir, cfg.DocumentExt),
		WithStopOnError(!cfg.ContinueOnError),
		WithArchiver(internal.NewArchiver(cfg.ArchiveDir, cfg.BadDir)),
		WithStableAfter(cfg.StableAfter),
	)

	closeFn := func() {
		if err := storer.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}
	}
	return svc, closeFn, nil
}
