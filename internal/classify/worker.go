package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

const instrumentationName = "github.com/fyrsmithlabs/recalld/internal/classify"

// Worker scans for pending records and refines their types. Rules run
// first; unresolved content goes to the provider chain. Outcomes are
// written back as payload patches, never full rewrites, so vectors and
// content stay untouched.
type Worker struct {
	store  vectorstore.Store
	rules  *RuleEngine
	chain  *Chain
	cfg    config.ClassifyConfig
	logger *logging.Logger

	skipTypes map[memory.RecordType]bool
	outcomes  metric.Int64Counter
}

// NewWorker wires the worker. chain may be nil when no providers are
// configured; rule matches still apply and everything else is skipped.
func NewWorker(store vectorstore.Store, chain *Chain, cfg config.ClassifyConfig, logger *logging.Logger) *Worker {
	skip := make(map[memory.RecordType]bool, len(cfg.SkipTypes))
	for _, t := range cfg.SkipTypes {
		skip[memory.RecordType(t)] = true
	}
	w := &Worker{
		store:     store,
		rules:     NewRuleEngine(nil, cfg.RuleConfidence),
		chain:     chain,
		cfg:       cfg,
		logger:    logger,
		skipTypes: skip,
	}
	w.outcomes, _ = otel.Meter(instrumentationName).Int64Counter(
		"recalld.classify.outcomes_total",
		metric.WithDescription("Reclassification outcomes by result and source"),
		metric.WithUnit("{record}"),
	)
	return w
}

// Run scans on the configured interval until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	interval := w.cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.ScanOnce(ctx); err != nil {
				w.logger.Warn(ctx, "reclassification scan failed", zap.Error(err))
			}
		}
	}
}

// ScanOnce processes one batch of pending records.
func (w *Worker) ScanOnce(ctx context.Context) error {
	records, err := w.store.FetchPendingClassify(ctx, w.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("fetching candidates: %w", err)
	}
	for _, rec := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.Process(ctx, rec)
	}
	return nil
}

// Process runs the full decision for one record.
func (w *Worker) Process(ctx context.Context, rec *memory.Record) {
	if w.skipTypes[rec.Type] || len(rec.Content) < w.cfg.MinContentChars {
		w.finish(ctx, rec, nil, "ineligible")
		return
	}

	if proposal := w.rules.Match(rec.Content); proposal != nil {
		if proposal.Confidence >= w.cfg.ConfidenceThreshold {
			w.finish(ctx, rec, proposal, "rule")
		} else {
			w.finish(ctx, rec, nil, "rule_below_threshold")
		}
		return
	}

	if w.chain == nil {
		w.finish(ctx, rec, nil, "no_provider")
		return
	}

	proposal, err := w.classifyLLM(ctx, rec)
	if err != nil {
		// Transient provider failure: leave the record pending so a
		// later scan retries it.
		w.logger.Warn(ctx, "llm classification failed, will retry",
			zap.String("record_id", rec.ID), zap.Error(err))
		return
	}
	if proposal.Confidence >= w.cfg.ConfidenceThreshold {
		w.finish(ctx, rec, proposal, "llm")
	} else {
		w.finish(ctx, rec, nil, "llm_below_threshold")
	}
}

// llmResult is the JSON shape the prompt demands.
type llmResult struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

func (w *Worker) classifyLLM(ctx context.Context, rec *memory.Record) (*Proposal, error) {
	prompt := w.buildPrompt(rec)
	out, provider, err := w.chain.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	parsed, err := parseResult(out)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", provider, err)
	}
	t := memory.RecordType(parsed.Type)
	if !memory.ValidTypes[t] {
		return nil, fmt.Errorf("provider %s proposed unknown type %q", provider, parsed.Type)
	}
	if parsed.Confidence < 0 || parsed.Confidence > 1 {
		return nil, fmt.Errorf("provider %s confidence out of range: %v", provider, parsed.Confidence)
	}
	return &Proposal{Type: t, Confidence: parsed.Confidence, Source: provider}, nil
}

// buildPrompt truncates content for the prompt only. Stored content is
// never touched.
func (w *Worker) buildPrompt(rec *memory.Record) string {
	content := rec.Content
	if w.cfg.MaxPromptChars > 0 && len(content) > w.cfg.MaxPromptChars {
		content = content[:w.cfg.MaxPromptChars]
	}

	var b strings.Builder
	b.WriteString("Classify this development memory into exactly one category.\n\nCategories:\n")
	b.WriteString("- conversation: raw session dialogue with no distilled signal\n")
	b.WriteString("- decision: an architectural or design choice, including rejected alternatives\n")
	b.WriteString("- implementation: a concrete code change referencing files\n")
	b.WriteString("- insight: a distilled lesson, root cause, or observation\n")
	b.WriteString("- handoff: an end-of-session summary for the next session\n")
	b.WriteString("- external_change: an upstream change such as a merged PR or release\n")
	b.WriteString("- preference: a stated user or project preference\n\n")
	b.WriteString("Respond with JSON only: {\"type\": \"<category>\", \"confidence\": <0.0-1.0>}\n\nContent:\n")
	b.WriteString(content)
	return b.String()
}

// parseResult tolerates code fences and surrounding prose around the
// JSON object.
func parseResult(out string) (*llmResult, error) {
	start := strings.Index(out, "{")
	end := strings.LastIndex(out, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}
	var r llmResult
	if err := json.Unmarshal([]byte(out[start:end+1]), &r); err != nil {
		return nil, fmt.Errorf("parsing classification: %w", err)
	}
	return &r, nil
}

// finish writes the terminal state. A nil proposal marks the record
// skipped; otherwise the proposed type is applied.
func (w *Worker) finish(ctx context.Context, rec *memory.Record, proposal *Proposal, reason string) {
	fields := map[string]any{}
	outcome := "skipped"
	if proposal != nil && proposal.Type != rec.Type {
		fields[vectorstore.FieldType] = string(proposal.Type)
		fields[vectorstore.FieldClassifyState] = string(memory.ClassifyApplied)
		outcome = "applied"
	} else if proposal != nil {
		// Same type confirmed; still terminal.
		fields[vectorstore.FieldClassifyState] = string(memory.ClassifyApplied)
		outcome = "confirmed"
	} else {
		fields[vectorstore.FieldClassifyState] = string(memory.ClassifySkipped)
	}

	if err := w.store.UpdatePayload(ctx, rec.ID, fields); err != nil {
		w.logger.Error(ctx, "failed to persist classification outcome",
			zap.String("record_id", rec.ID), zap.Error(err))
		return
	}

	if w.outcomes != nil {
		w.outcomes.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("reason", reason),
		))
	}
	logFields := []zap.Field{
		zap.String("record_id", rec.ID),
		zap.String("outcome", outcome),
		zap.String("reason", reason),
	}
	if proposal != nil {
		logFields = append(logFields,
			zap.String("proposed_type", string(proposal.Type)),
			zap.Float64("confidence", proposal.Confidence),
			zap.String("source", proposal.Source))
	}
	w.logger.Debug(ctx, "classification finished", logFields...)
}
