package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

func TestRuleEngineMatchesByRule(t *testing.T) {
	engine := NewRuleEngine(nil, 0.9)

	tests := []struct {
		name     string
		content  string
		wantType memory.RecordType
		wantRule string
	}{
		{
			name:     "explicit decision",
			content:  "We decided to use Qdrant over pgvector for payload filtering support.",
			wantType: memory.TypeDecision,
			wantRule: "explicit_decision",
		},
		{
			name:     "anti pattern",
			content:  "Never use global mutable state in handlers because it breaks test isolation.",
			wantType: memory.TypeDecision,
			wantRule: "anti_pattern",
		},
		{
			name:     "implementation change with file ref",
			content:  "Refactored the retry loop in internal/queue/queue.go:118 to cap the backoff schedule.",
			wantType: memory.TypeImplementation,
			wantRule: "implementation_change",
		},
		{
			name:     "lesson learned",
			content:  "Turns out the scheduler drops ticks when the receiver is slow.",
			wantType: memory.TypeInsight,
			wantRule: "lesson_learned",
		},
		{
			name:     "root cause",
			content:  "The root cause was a deadline firing when two drainers start at once.",
			wantType: memory.TypeInsight,
			wantRule: "root_cause",
		},
		{
			name:     "upstream change",
			content:  "Upstream merged PR #4821 which renames the payload schema fields.",
			wantType: memory.TypeExternalChange,
			wantRule: "upstream_change",
		},
		{
			name:     "stated preference",
			content:  "I prefer table-driven tests with one assertion block per case.",
			wantType: memory.TypePreference,
			wantRule: "stated_preference",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.Match(tt.content)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, "rule:"+tt.wantRule, got.Source)
			assert.Equal(t, 0.9, got.Confidence)
		})
	}
}

func TestRuleEngineNoMatch(t *testing.T) {
	engine := NewRuleEngine(nil, 0.9)

	assert.Nil(t, engine.Match("The weather in Lisbon was mild and the whole team went out for lunch."))
	assert.Nil(t, engine.Match(""))
}

func TestRuleEngineFirstMatchWins(t *testing.T) {
	engine := NewRuleEngine(nil, 0.8)

	// Matches both explicit_decision and stated_preference; the ordered
	// pass must report the earlier rule.
	got := engine.Match("We decided to use tabs everywhere, though some of us prefer spaces.")
	require.NotNil(t, got)
	assert.Equal(t, memory.TypeDecision, got.Type)
	assert.Equal(t, "rule:explicit_decision", got.Source)
}

func TestRuleEngineCarriesConfiguredConfidence(t *testing.T) {
	low := NewRuleEngine(nil, 0.4)

	got := low.Match("Lesson learned: keep in mind that the cache key includes the scope.")
	require.NotNil(t, got)
	assert.Equal(t, 0.4, got.Confidence)
}
