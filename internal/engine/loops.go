package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/queue"
)

// Run starts the background loops: the persistence worker, the queue
// drainer, the embedding backfill pass, and (when enabled) the
// reclassification worker. It blocks until the context is canceled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.store.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("ensuring collection: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.persistLoop(ctx) })

	drainer := queue.NewDrainer(e.queue, e.FlushEntry, e.cfg.Queue.DrainInterval, e.logger.Named("drainer"))
	g.Go(func() error { return drainer.Run(ctx) })

	g.Go(func() error { return e.backfillLoop(ctx) })

	if e.classifier != nil {
		g.Go(func() error { return e.classifier.Run(ctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// backfillLoop periodically re-embeds records stored vectorless.
func (e *Engine) backfillLoop(ctx context.Context) error {
	interval := e.cfg.Embeddings.BackfillInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := e.Backfill(ctx)
			if err != nil {
				e.logger.Warn(ctx, "embedding backfill failed", zap.Error(err))
			} else if n > 0 {
				e.logger.Info(ctx, "embedding backfill completed", zap.Int("records", n))
			}
		}
	}
}

// Backfill re-embeds one batch of pending records and re-upserts them
// complete. Idempotent: a record is only fetched while pending, and the
// upsert overwrites in place. Returns how many records were completed.
func (e *Engine) Backfill(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "Engine.Backfill")
	defer span.End()

	batch := e.cfg.Embeddings.BackfillBatchSize
	if batch <= 0 {
		batch = 64
	}
	records, err := e.store.FetchByStatus(ctx, memory.EmbeddingPending, batch)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	e.embedBatch(ctx, records)

	done := make([]*memory.Record, 0, len(records))
	for _, rec := range records {
		if rec.EmbeddingStatus == memory.EmbeddingComplete {
			done = append(done, rec)
		}
	}
	if len(done) == 0 {
		return 0, nil
	}
	if err := e.store.UpsertRecords(ctx, done); err != nil {
		return 0, err
	}
	for _, rec := range done {
		e.deduper.Admit(rec)
	}
	metricBackfilled.Add(float64(len(done)))
	return len(done), nil
}
