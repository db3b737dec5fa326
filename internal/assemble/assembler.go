// Package assemble turns ranked search results into token-budgeted
// context blocks. Items are included whole or not at all; a partial
// record is worse than a missing one.
package assemble

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// Item is one record admitted into an assembled context.
type Item struct {
	Record *memory.Record
	Slot   string
	Tokens int
	Score  float64
}

// Context is an assembled injection payload.
type Context struct {
	Items  []Item
	Tokens int

	// Skipped is set when the profile decided to inject nothing.
	Skipped    bool
	SkipReason string
}

// Assembler fills the bootstrap and per-turn budget profiles.
type Assembler struct {
	cfg     config.InjectionConfig
	counter *Counter
	logger  *logging.Logger
}

// New builds an Assembler. A failed encoding load is logged and the
// counter falls back to heuristic counting.
func New(cfg config.InjectionConfig, logger *logging.Logger) *Assembler {
	counter, err := NewCounter(cfg.TokenEncoding)
	if err != nil {
		logger.Warn(context.Background(), "token encoding unavailable, using heuristic counts",
			zap.String("encoding", cfg.TokenEncoding), zap.Error(err))
	}
	return &Assembler{cfg: cfg, counter: counter, logger: logger}
}

// Bootstrap fills each configured slot independently from its own
// ranked candidate list, then enforces the overall ceiling. Candidates
// are keyed by slot name and must already be in rank order.
func (a *Assembler) Bootstrap(candidates map[string][]memory.ScoredRecord) *Context {
	out := &Context{}
	ceiling := a.cfg.Bootstrap.CeilingTokens

	for _, slot := range a.cfg.Slots {
		remaining := slot.Tokens
		for _, cand := range candidates[slot.Name] {
			tokens := a.counter.Count(cand.Record.Content)
			if tokens > remaining || out.Tokens+tokens > ceiling {
				continue
			}
			out.Items = append(out.Items, Item{
				Record: cand.Record,
				Slot:   slot.Name,
				Tokens: tokens,
				Score:  cand.Final,
			})
			out.Tokens += tokens
			remaining -= tokens
		}
	}

	if len(out.Items) == 0 {
		out.Skipped = true
		out.SkipReason = "no candidates fit any slot"
	}
	return out
}

// PerTurn fills the floor/ceiling per-turn budget from a single ranked
// candidate list. Injection is skipped entirely when the top candidate
// is below the confidence threshold or when nothing meeting the floor
// can be packed.
func (a *Assembler) PerTurn(candidates []memory.ScoredRecord) *Context {
	out := &Context{}
	if len(candidates) == 0 {
		out.Skipped = true
		out.SkipReason = "no candidates"
		return out
	}
	if candidates[0].Final < a.cfg.PerTurn.ConfidenceThreshold {
		out.Skipped = true
		out.SkipReason = fmt.Sprintf("top score %.2f below confidence threshold %.2f",
			candidates[0].Final, a.cfg.PerTurn.ConfidenceThreshold)
		return out
	}

	ceiling := a.cfg.PerTurn.CeilingTokens
	for _, cand := range candidates {
		tokens := a.counter.Count(cand.Record.Content)
		if out.Tokens+tokens > ceiling {
			continue
		}
		out.Items = append(out.Items, Item{
			Record: cand.Record,
			Tokens: tokens,
			Score:  cand.Final,
		})
		out.Tokens += tokens
	}

	if out.Tokens < a.cfg.PerTurn.FloorTokens {
		return &Context{
			Skipped: true,
			SkipReason: fmt.Sprintf("packed %d tokens, below floor %d",
				out.Tokens, a.cfg.PerTurn.FloorTokens),
		}
	}
	return out
}

// Render formats the context as a markdown block for host injection.
func (c *Context) Render() string {
	if c.Skipped || len(c.Items) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Relevant memory\n")
	currentSlot := ""
	for _, item := range c.Items {
		if item.Slot != "" && item.Slot != currentSlot {
			currentSlot = item.Slot
			fmt.Fprintf(&b, "\n### %s\n", strings.ReplaceAll(currentSlot, "_", " "))
		}
		fmt.Fprintf(&b, "\n- [%s] %s\n", item.Record.Type, item.Record.Content)
	}
	return b.String()
}
