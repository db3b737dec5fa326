package score

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/memory"
)

var scoreNow = time.Date(2026, time.August, 28, 12, 0, 0, 0, time.UTC)

func testScorer() *Scorer {
	return New(config.DecayConfig{
		SemanticWeight: 0.7,
		TemporalWeight: 0.3,
		HalfLifeDays: map[string]float64{
			string(memory.TypeImplementation): 14,
			string(memory.TypeConversation):   2,
			string(memory.TypePreference):     180,
		},
		DefaultHalfLifeDays: 30,
	})
}

func recordAged(t memory.RecordType, ageDays float64) *memory.Record {
	return &memory.Record{
		Type:      t,
		CreatedAt: scoreNow.Add(-time.Duration(ageDays * 24 * float64(time.Hour))),
	}
}

func TestTemporalAtHalfLife(t *testing.T) {
	s := testScorer()
	rec := recordAged(memory.TypeImplementation, 14)
	assert.InDelta(t, 0.5, s.Temporal(rec, scoreNow), 1e-9)
}

func TestTemporalFreshRecord(t *testing.T) {
	s := testScorer()
	assert.Equal(t, 1.0, s.Temporal(recordAged(memory.TypeImplementation, 0), scoreNow))
}

func TestTemporalMonotonicallyDecreasing(t *testing.T) {
	s := testScorer()
	prev := math.Inf(1)
	for age := 1.0; age <= 120; age += 1.0 {
		cur := s.Temporal(recordAged(memory.TypeImplementation, age), scoreNow)
		assert.Less(t, cur, prev, "temporal must strictly decrease at age %v", age)
		prev = cur
	}
}

func TestBlendWorkedExample(t *testing.T) {
	// 30 days old, 14-day half-life, w=0.7, semantic 0.9:
	// final = 0.7*0.9 + 0.3*0.5^(30/14) ≈ 0.69
	s := testScorer()
	rec := recordAged(memory.TypeImplementation, 30)
	final := s.Blend(0.9, s.Temporal(rec, scoreNow))
	assert.InDelta(t, 0.69, final, 0.005)
}

func TestPerTypeHalfLives(t *testing.T) {
	s := testScorer()
	age := 14.0
	conv := s.Temporal(recordAged(memory.TypeConversation, age), scoreNow)
	impl := s.Temporal(recordAged(memory.TypeImplementation, age), scoreNow)
	pref := s.Temporal(recordAged(memory.TypePreference, age), scoreNow)
	assert.Less(t, conv, impl, "conversation must fade faster than implementation")
	assert.Less(t, impl, pref, "implementation must fade faster than preference")
}

func TestDefaultHalfLifeApplies(t *testing.T) {
	s := testScorer()
	// insight has no explicit half-life; 30-day default puts age 30 at 0.5.
	rec := recordAged(memory.TypeInsight, 30)
	assert.InDelta(t, 0.5, s.Temporal(rec, scoreNow), 1e-9)
}

func TestFreshnessTiers(t *testing.T) {
	s := testScorer()
	tests := []struct {
		ageDays float64
		want    memory.FreshnessTier
	}{
		{3, memory.FreshnessFresh},    // 0.21 half-lives
		{10, memory.FreshnessAging},   // 0.71
		{20, memory.FreshnessStale},   // 1.43
		{40, memory.FreshnessExpired}, // 2.86
	}
	for _, tt := range tests {
		rec := recordAged(memory.TypeImplementation, tt.ageDays)
		assert.Equal(t, tt.want, s.Freshness(rec, scoreNow), "age %v days", tt.ageDays)
	}
}

func TestRankOrdersByFinalScore(t *testing.T) {
	s := testScorer()
	candidates := []memory.ScoredRecord{
		{Record: recordAged(memory.TypeImplementation, 60), Semantic: 0.95},
		{Record: recordAged(memory.TypeImplementation, 1), Semantic: 0.80},
		{Record: recordAged(memory.TypeImplementation, 1), Semantic: 0.95},
	}
	ranked := s.Rank(candidates, scoreNow)

	// The fresh high-similarity record wins; the stale one loses to the
	// fresh lower-similarity record only if decay outweighs the gap.
	assert.Equal(t, 0.95, ranked[0].Semantic)
	assert.InDelta(t, 1.0, ranked[0].Temporal, 0.05)
	for i := 1; i < len(ranked); i++ {
		assert.GreaterOrEqual(t, ranked[i-1].Final, ranked[i].Final)
	}
}

func TestRankTiesBreakNewerFirst(t *testing.T) {
	older := recordAged(memory.TypePreference, 2)
	newer := recordAged(memory.TypePreference, 1)
	// Full semantic weight forces identical final scores, leaving only
	// the recency tie-break.
	s := New(config.DecayConfig{
		SemanticWeight:      1.0,
		HalfLifeDays:        map[string]float64{string(memory.TypePreference): 180},
		DefaultHalfLifeDays: 30,
	})
	ranked := s.Rank([]memory.ScoredRecord{
		{Record: older, Semantic: 0.5},
		{Record: newer, Semantic: 0.5},
	}, scoreNow)
	assert.Equal(t, newer, ranked[0].Record)
}

func TestFreshnessNeverAffectsRanking(t *testing.T) {
	s := testScorer()
	stale := memory.ScoredRecord{Record: recordAged(memory.TypeImplementation, 25), Semantic: 0.99}
	fresh := memory.ScoredRecord{Record: recordAged(memory.TypeImplementation, 1), Semantic: 0.10}
	ranked := s.Rank([]memory.ScoredRecord{fresh, stale}, scoreNow)

	// The stale record still outranks on final score; its tier is
	// surfaced alongside, not used to demote it.
	assert.Equal(t, memory.FreshnessStale, ranked[0].Freshness)
	assert.Equal(t, 0.99, ranked[0].Semantic)
}
