package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/assemble"
	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

// slotTypes maps bootstrap slot names to the record types that feed them.
var slotTypes = map[string][]memory.RecordType{
	"recent_handoff":   {memory.TypeHandoff},
	"top_insights":     {memory.TypeInsight, memory.TypeDecision},
	"external_changes": {memory.TypeExternalChange},
}

// QueryRequest is one retrieval round trip.
type QueryRequest struct {
	ScopeID       string              `json:"scope_id"`
	Query         string              `json:"query"`
	Kind          memory.ContentKind  `json:"kind,omitempty"`
	Types         []memory.RecordType `json:"types,omitempty"`
	Limit         int                 `json:"limit,omitempty"`
	IncludeShared bool                `json:"include_shared,omitempty"`
}

// QueryResult carries ranked records. Degraded is set when the backend
// could not answer in time and the result is empty rather than an error.
type QueryResult struct {
	Records  []memory.ScoredRecord `json:"records"`
	Degraded bool                  `json:"degraded,omitempty"`
}

// Query embeds the query text, searches the scope, and ranks results by
// the blended semantic/temporal score. Retrieval is advisory for the
// caller's flow, so an unreachable or slow backend degrades to an empty
// result instead of failing.
func (e *Engine) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	ctx, span := tracer.Start(ctx, "Engine.Query")
	defer span.End()
	span.SetAttributes(attribute.String("scope_id", req.ScopeID))
	start := time.Now()
	defer func() { metricQueryDuration.Observe(time.Since(start).Seconds()) }()

	if req.ScopeID == "" {
		return nil, memory.NewValidationError("scope_id", "required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	ctx, cancel := e.withSearchTimeout(ctx)
	defer cancel()

	vec, err := e.embed.EmbedQuery(ctx, req.Kind, req.Query)
	if err != nil {
		e.logger.Warn(ctx, "query embedding failed, degrading to empty result", zap.Error(err))
		metricQueries.WithLabelValues("degraded").Inc()
		return &QueryResult{Degraded: true}, nil
	}

	overfetch := e.cfg.VectorStore.SearchOverfetch
	if overfetch <= 0 {
		overfetch = 3
	}
	candidates, err := e.store.Search(ctx, vectorstore.SearchRequest{
		ScopeID:       req.ScopeID,
		IncludeShared: req.IncludeShared,
		Vector:        vec,
		Types:         req.Types,
		Limit:         limit * overfetch,
	})
	if err != nil {
		e.logger.Warn(ctx, "search failed, degrading to empty result", zap.Error(err))
		metricQueries.WithLabelValues("degraded").Inc()
		return &QueryResult{Degraded: true}, nil
	}

	ranked := e.scorer.Rank(candidates, time.Now().UTC())
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	metricQueries.WithLabelValues("ok").Inc()
	span.SetAttributes(attribute.Int("results", len(ranked)))
	return &QueryResult{Records: ranked}, nil
}

// Supersede flags a record as stale beyond policy. The record stays in
// storage for audit but drops out of every retrieval path; the store
// filters the flag on search and bootstrap reads.
func (e *Engine) Supersede(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Engine.Supersede")
	defer span.End()
	span.SetAttributes(attribute.String("record_id", id))

	if id == "" {
		return memory.NewValidationError("id", "required")
	}
	if err := e.store.UpdatePayload(ctx, id, map[string]any{
		vectorstore.FieldSuperseded: true,
	}); err != nil {
		span.RecordError(err)
		return err
	}
	e.logger.Info(ctx, "record superseded", zap.String("record_id", id))
	return nil
}

// PerTurnContext runs a query and assembles the per-turn injection
// block. Low-confidence results skip injection entirely.
func (e *Engine) PerTurnContext(ctx context.Context, req QueryRequest) (*assemble.Context, error) {
	res, err := e.Query(ctx, req)
	if err != nil {
		return nil, err
	}
	if res.Degraded {
		return &assemble.Context{Skipped: true, SkipReason: "backend degraded"}, nil
	}
	return e.assembler.PerTurn(res.Records), nil
}

// BootstrapContext assembles the session-start injection block. There
// is no query; each slot draws from its own record types, ranked purely
// by decay so the newest usable items win.
func (e *Engine) BootstrapContext(ctx context.Context, scopeID string) (*assemble.Context, error) {
	ctx, span := tracer.Start(ctx, "Engine.BootstrapContext")
	defer span.End()
	span.SetAttributes(attribute.String("scope_id", scopeID))

	if scopeID == "" {
		return nil, memory.NewValidationError("scope_id", "required")
	}
	ctx, cancel := e.withSearchTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	candidates := make(map[string][]memory.ScoredRecord, len(e.cfg.Injection.Slots))
	for _, slot := range e.cfg.Injection.Slots {
		types, ok := slotTypes[slot.Name]
		if !ok {
			e.logger.Warn(ctx, "unknown bootstrap slot", zap.String("slot", slot.Name))
			continue
		}
		records, err := e.store.FetchByTypes(ctx, scopeID, types, 32)
		if err != nil {
			e.logger.Warn(ctx, "bootstrap fetch failed, slot left empty",
				zap.String("slot", slot.Name), zap.Error(err))
			continue
		}
		scored := make([]memory.ScoredRecord, len(records))
		for i, rec := range records {
			scored[i] = memory.ScoredRecord{Record: rec}
		}
		candidates[slot.Name] = e.scorer.Rank(scored, now)
	}
	return e.assembler.Bootstrap(candidates), nil
}
