package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/embeddings"
	"github.com/fyrsmithlabs/recalld/internal/engine"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/queue"
	"github.com/fyrsmithlabs/recalld/internal/secrets"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

// cliEnv holds the wired pipeline for one-shot commands. The daemon's
// background loops are not started; commands drive the engine directly.
type cliEnv struct {
	cfg    *config.Config
	engine *engine.Engine
	queue  *queue.Queue
	logger *logging.Logger
}

// withEngine loads configuration, wires the pipeline, runs fn, and
// tears everything down.
func withEngine(ctx context.Context, fn func(context.Context, *cliEnv) error) error {
	cfg, err := config.Load(configPath, zap.NewNop())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New("warn", "console", nil)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, err := vectorstore.NewQdrant(cfg.VectorStore, logger.Named("vectorstore"))
	if err != nil {
		return fmt.Errorf("connecting to vector store: %w", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("ensuring collection: %w", err)
	}

	embedder, err := embeddings.NewDispatcher(cfg.Embeddings)
	if err != nil {
		return fmt.Errorf("initializing embeddings: %w", err)
	}

	q, err := queue.Open(cfg.Queue, secrets.MustNew(secrets.DefaultRules()), logger.Named("queue"))
	if err != nil {
		return fmt.Errorf("opening queue: %w", err)
	}
	defer func() { _ = q.Close() }()

	eng, err := engine.New(*cfg, store, embedder, q, logger.Named("engine"))
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}
	defer func() { _ = eng.Close() }()

	return fn(ctx, &cliEnv{cfg: cfg, engine: eng, queue: q, logger: logger})
}

// withQueue opens just the durable queue, for operator commands that
// never touch the backend.
func withQueue(fn func(*cliEnv) error) error {
	cfg, err := config.Load(configPath, zap.NewNop())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger, err := logging.New("warn", "console", nil)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	q, err := queue.Open(cfg.Queue, secrets.MustNew(secrets.DefaultRules()), logger.Named("queue"))
	if err != nil {
		return fmt.Errorf("opening queue: %w", err)
	}
	defer func() { _ = q.Close() }()
	return fn(&cliEnv{cfg: cfg, queue: q, logger: logger})
}
