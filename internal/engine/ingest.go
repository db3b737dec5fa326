package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/queue"
	"github.com/fyrsmithlabs/recalld/internal/validate"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

// IngestRequest is one memory submission.
type IngestRequest struct {
	ScopeID    string             `json:"scope_id"`
	Content    string             `json:"content"`
	Type       memory.RecordType  `json:"type"`
	Kind       memory.ContentKind `json:"kind"`
	Source     string             `json:"source"`
	Importance float64            `json:"importance"`
}

// IngestResult reports what was accepted. Persistence happens after the
// call returns; only validation failures are synchronous.
type IngestResult struct {
	// RecordIDs are the deterministic IDs the content will be stored
	// under, one per chunk.
	RecordIDs []string `json:"record_ids"`

	// Chunks is how many pieces the content was split into.
	Chunks int `json:"chunks"`

	// Queued is true when the batch went straight to the durable spool
	// because the in-memory pipeline was saturated.
	Queued bool `json:"queued,omitempty"`
}

// Ingest validates and chunks content, then hands the batch to the
// persistence worker. The caller never waits on the network: if the
// worker's buffer is full the batch spills to the durable queue.
func (e *Engine) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	ctx, span := tracer.Start(ctx, "Engine.Ingest")
	defer span.End()
	span.SetAttributes(
		attribute.String("scope_id", req.ScopeID),
		attribute.String("type", string(req.Type)),
	)

	refs, err := e.validator.Validate(validate.Input{
		Content:    req.Content,
		ScopeID:    req.ScopeID,
		Type:       req.Type,
		Kind:       req.Kind,
		Source:     req.Source,
		Importance: req.Importance,
	})
	if err != nil {
		metricIngested.WithLabelValues("rejected").Inc()
		span.RecordError(err)
		return nil, err
	}

	records := e.buildRecords(req, refs, time.Now().UTC())
	result := &IngestResult{Chunks: len(records)}
	for _, r := range records {
		result.RecordIDs = append(result.RecordIDs, r.ID)
	}

	select {
	case e.jobs <- records:
		metricIngested.WithLabelValues("accepted").Inc()
	default:
		// Worker saturated. The spool is durable, so acceptance still
		// holds; the drainer picks the batch up.
		if _, qerr := e.queue.Enqueue(ctx, records); qerr != nil {
			metricIngested.WithLabelValues("failed").Inc()
			span.RecordError(qerr)
			return nil, qerr
		}
		result.Queued = true
		metricIngested.WithLabelValues("spilled").Inc()
	}
	return result, nil
}

// buildRecords turns a validated request into storage records, one per
// chunk. Oversized content is split; everything else passes through as
// a single record.
func (e *Engine) buildRecords(req IngestRequest, refs []memory.FileRef, now time.Time) []*memory.Record {
	chunks := e.chunker.Split(req.Content, req.Kind)
	parentHash := memory.HashContent(req.Content)

	records := make([]*memory.Record, 0, len(chunks))
	for _, c := range chunks {
		hash := memory.HashContent(c.Content)
		rec := &memory.Record{
			ID:              memory.RecordID(req.ScopeID, hash),
			ScopeID:         req.ScopeID,
			Content:         c.Content,
			ContentHash:     hash,
			Kind:            req.Kind,
			Type:            req.Type,
			EmbeddingStatus: memory.EmbeddingPending,
			ClassifyState:   memory.ClassifyPending,
			CreatedAt:       now,
			LastSeen:        now,
			Occurrences:     1,
			Importance:      req.Importance,
			Source:          req.Source,
			Refs:            refs,
		}
		if len(chunks) > 1 {
			rec.ChunkRef = &memory.ChunkRef{
				ParentHash: parentHash,
				Index:      c.Index,
				Count:      len(chunks),
				StartByte:  c.StartByte,
				EndByte:    c.EndByte,
			}
		}
		records = append(records, rec)
	}
	return records
}

// ProcessPending persists every batch waiting in the in-memory buffer
// and returns. One-shot callers flush with it before exit; the daemon's
// worker loop makes it unnecessary there.
func (e *Engine) ProcessPending(ctx context.Context) {
	for {
		select {
		case records := <-e.jobs:
			e.persist(ctx, records)
		default:
			return
		}
	}
}

// persistLoop drains accepted batches until the context is canceled.
func (e *Engine) persistLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case records := <-e.jobs:
			e.persist(ctx, records)
		}
	}
}

// persist embeds and stores one batch. Failures never lose data: an
// unreachable backend diverts the batch to the durable queue, and an
// embedding failure stores records vectorless for later backfill.
func (e *Engine) persist(ctx context.Context, records []*memory.Record) {
	ctx, span := tracer.Start(ctx, "Engine.persist")
	defer span.End()
	span.SetAttributes(attribute.Int("batch_size", len(records)))

	e.embedBatch(ctx, records)

	keep := make([]*memory.Record, 0, len(records))
	for i, rec := range records {
		err := e.deduper.Check(ctx, rec)
		if err == nil {
			keep = append(keep, rec)
			continue
		}
		if dup, ok := memory.IsDuplicate(err); ok {
			e.merge(ctx, dup)
			continue
		}
		// Backend trouble during the exact-match probe. Spool everything
		// not yet settled rather than guessing which records are new.
		e.logger.Warn(ctx, "dedup probe failed, spooling batch", zap.Error(err))
		e.spool(ctx, append(keep, records[i:]...))
		return
	}
	if len(keep) == 0 {
		return
	}

	if err := e.store.UpsertRecords(ctx, keep); err != nil {
		e.logger.Warn(ctx, "upsert failed, spooling batch",
			zap.Int("records", len(keep)), zap.Error(err))
		e.spool(ctx, keep)
		return
	}
	for _, rec := range keep {
		e.deduper.Admit(rec)
	}
}

// merge folds a duplicate submission into its existing record.
func (e *Engine) merge(ctx context.Context, dup *memory.DuplicateError) {
	existing, err := e.store.FetchByID(ctx, dup.ExistingID)
	if err != nil {
		e.logger.Warn(ctx, "duplicate merge target unavailable",
			zap.String("record_id", dup.ExistingID), zap.Error(err))
		return
	}
	fields := map[string]any{
		vectorstore.FieldLastSeen:    time.Now().UTC(),
		vectorstore.FieldOccurrences: existing.Occurrences + 1,
	}
	if err := e.store.UpdatePayload(ctx, dup.ExistingID, fields); err != nil {
		e.logger.Warn(ctx, "duplicate merge failed",
			zap.String("record_id", dup.ExistingID), zap.Error(err))
		return
	}
	metricMerged.Inc()
	e.logger.Debug(ctx, "duplicate merged",
		zap.String("record_id", dup.ExistingID),
		zap.Bool("exact", dup.Exact),
		zap.Float64("similarity", dup.Similarity))
}

// spool diverts records to the durable queue.
func (e *Engine) spool(ctx context.Context, records []*memory.Record) {
	if len(records) == 0 {
		return
	}
	if _, err := e.queue.Enqueue(ctx, records); err != nil {
		// Disk and backend both failing. Nothing left but the log.
		e.logger.Error(ctx, "spool failed, records lost",
			zap.Int("records", len(records)), zap.Error(err))
	}
}

// embedBatch fills vectors in place. On route failure records keep
// their zero vector and pending status for the backfill pass.
func (e *Engine) embedBatch(ctx context.Context, records []*memory.Record) {
	byKind := map[memory.ContentKind][]*memory.Record{}
	for _, rec := range records {
		byKind[rec.Kind] = append(byKind[rec.Kind], rec)
	}
	for kind, group := range byKind {
		texts := make([]string, len(group))
		for i, rec := range group {
			texts[i] = rec.Content
		}
		vectors, err := e.embed.EmbedDocuments(ctx, kind, texts)
		if err != nil || len(vectors) != len(group) {
			e.logger.Warn(ctx, "embedding failed, storing pending",
				zap.String("kind", string(kind)),
				zap.Int("records", len(group)),
				zap.Error(err))
			continue
		}
		for i, rec := range group {
			rec.Vector = vectors[i]
			rec.EmbeddingStatus = memory.EmbeddingComplete
		}
	}
}

// FlushEntry persists one queue entry's records. Used as the drainer's
// flush function; a nil return lets the drainer delete the entry.
func (e *Engine) FlushEntry(ctx context.Context, entry *queue.Entry) error {
	records := entry.Records
	for _, rec := range records {
		if rec.EmbeddingStatus == memory.EmbeddingPending && len(rec.Vector) == 0 {
			// Try to complete the vector now; backfill catches any
			// that still fail.
			if vec, err := e.embed.EmbedDocuments(ctx, rec.Kind, []string{rec.Content}); err == nil && len(vec) == 1 {
				rec.Vector = vec[0]
				rec.EmbeddingStatus = memory.EmbeddingComplete
			}
		}
	}
	if err := e.store.UpsertRecords(ctx, records); err != nil {
		return err
	}
	for _, rec := range records {
		e.deduper.Admit(rec)
	}
	return nil
}
