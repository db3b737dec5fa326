// Package engine is the boundary of the memory pipeline. Ingestion is
// accepted synchronously after validation and chunking; all network
// work (embedding, dedup, persistence) happens on a detached worker so
// callers never block on the backend. Retrieval runs bounded-latency
// search, decay ranking, and budget assembly.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fyrsmithlabs/recalld/internal/assemble"
	"github.com/fyrsmithlabs/recalld/internal/chunk"
	"github.com/fyrsmithlabs/recalld/internal/classify"
	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/dedup"
	"github.com/fyrsmithlabs/recalld/internal/embeddings"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/queue"
	"github.com/fyrsmithlabs/recalld/internal/score"
	"github.com/fyrsmithlabs/recalld/internal/validate"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

var tracer = otel.Tracer("recalld.engine")

// jobBuffer bounds in-flight ingestion batches awaiting persistence.
// When full, new batches spill to the durable queue instead of blocking
// the caller.
const jobBuffer = 64

// Engine wires the pipeline stages together.
type Engine struct {
	cfg    config.Config
	store  vectorstore.Store
	embed  *embeddings.Dispatcher
	queue  *queue.Queue
	logger *logging.Logger

	validator  *validate.Validator
	chunker    *chunk.Chunker
	deduper    *dedup.Deduper
	scorer     *score.Scorer
	assembler  *assemble.Assembler
	classifier *classify.Worker

	jobs chan []*memory.Record
}

// New assembles an Engine from its external collaborators. The internal
// stages (validation, chunking, dedup, scoring, assembly) are built
// from configuration.
func New(cfg config.Config, store vectorstore.Store, embed *embeddings.Dispatcher, q *queue.Queue, logger *logging.Logger) (*Engine, error) {
	e := &Engine{
		cfg:       cfg,
		store:     store,
		embed:     embed,
		queue:     q,
		logger:    logger,
		validator: validate.New(cfg.Ingest),
		chunker:   chunk.New(cfg.Ingest),
		deduper:   dedup.New(store, cfg.Ingest),
		scorer:    score.New(cfg.Decay),
		assembler: assemble.New(cfg.Injection, logger),
		jobs:      make(chan []*memory.Record, jobBuffer),
	}

	if cfg.Classify.Enabled {
		// Rule-only operation is valid; the chain is optional.
		var chain *classify.Chain
		if len(cfg.Classify.Providers) > 0 {
			var err error
			chain, err = classify.NewChain(cfg.Classify, logger.Named("classify"))
			if err != nil {
				return nil, fmt.Errorf("building classifier chain: %w", err)
			}
		}
		e.classifier = classify.NewWorker(store, chain, cfg.Classify, logger.Named("classify"))
	}
	return e, nil
}

// Close releases embedding resources. The store and queue are owned by
// the caller.
func (e *Engine) Close() error {
	return e.embed.Close()
}

// searchTimeout bounds a retrieval round trip.
func (e *Engine) searchTimeout() time.Duration {
	if t := e.cfg.VectorStore.SearchTimeout; t > 0 {
		return t
	}
	return 2 * time.Second
}

// withSearchTimeout derives a bounded context for retrieval paths.
func (e *Engine) withSearchTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.searchTimeout())
}
