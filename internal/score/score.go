// Package score blends semantic similarity with exponential time decay
// to rank retrieval candidates.
//
// For each candidate:
//
//	temporal = 0.5 ^ (age_days / half_life_days)
//	final    = w*semantic + (1-w)*temporal
//
// Half-lives are per record type, so conversational noise fades in days
// while decisions and preferences persist for months.
package score

import (
	"math"
	"sort"
	"time"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// Freshness tier boundaries in units of half-life.
const (
	freshWithin = 0.5
	agingWithin = 1.0
	staleWithin = 2.0
)

// Scorer applies the decay policy.
type Scorer struct {
	cfg config.DecayConfig
}

// New creates a Scorer.
func New(cfg config.DecayConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Temporal returns the decay component for one record at now.
// A non-positive half-life disables decay for the type (temporal = 1).
func (s *Scorer) Temporal(rec *memory.Record, now time.Time) float64 {
	halfLife := s.cfg.HalfLifeFor(rec.Type)
	if halfLife <= 0 {
		return 1.0
	}
	age := rec.AgeDays(now)
	if age <= 0 {
		return 1.0
	}
	return math.Pow(0.5, age/halfLife)
}

// Blend computes the final score from a semantic score and a temporal
// component.
func (s *Scorer) Blend(semantic, temporal float64) float64 {
	w := s.cfg.SemanticWeight
	return w*semantic + (1-w)*temporal
}

// Freshness classifies a record's staleness relative to its half-life.
// Tiers inform refresh flagging downstream and never change ranking.
func (s *Scorer) Freshness(rec *memory.Record, now time.Time) memory.FreshnessTier {
	halfLife := s.cfg.HalfLifeFor(rec.Type)
	if halfLife <= 0 {
		return memory.FreshnessFresh
	}
	ratio := rec.AgeDays(now) / halfLife
	switch {
	case ratio <= freshWithin:
		return memory.FreshnessFresh
	case ratio <= agingWithin:
		return memory.FreshnessAging
	case ratio <= staleWithin:
		return memory.FreshnessStale
	default:
		return memory.FreshnessExpired
	}
}

// Rank fills in temporal, final, and freshness for every candidate and
// sorts by final score descending. Ties break on recency, newer first.
func (s *Scorer) Rank(candidates []memory.ScoredRecord, now time.Time) []memory.ScoredRecord {
	for i := range candidates {
		c := &candidates[i]
		c.Temporal = s.Temporal(c.Record, now)
		c.Final = s.Blend(c.Semantic, c.Temporal)
		c.Freshness = s.Freshness(c.Record, now)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Final != candidates[j].Final {
			return candidates[i].Final > candidates[j].Final
		}
		return candidates[i].Record.CreatedAt.After(candidates[j].Record.CreatedAt)
	})
	return candidates
}
