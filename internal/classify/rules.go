// Package classify refines record types after ingestion. An ordered
// regex rule pass runs first; content no rule claims goes to an LLM
// provider chain guarded by a rate limiter and circuit breakers.
package classify

import (
	"regexp"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// Rule maps a content pattern to a record type. Rules are ordered:
// the first match wins.
type Rule struct {
	Name string
	Type memory.RecordType

	regex *regexp.Regexp
}

// Proposal is a classification outcome from either pass.
type Proposal struct {
	Type       memory.RecordType
	Confidence float64

	// Source is "rule:<name>" or the LLM provider name.
	Source string
}

// DefaultRules covers the type signals common in coding assistant
// transcripts. Ordered from most to least specific.
func DefaultRules() []Rule {
	return compileRules([]Rule{
		{
			Name: "explicit_decision",
			Type: memory.TypeDecision,
		},
		{
			Name: "anti_pattern",
			Type: memory.TypeDecision,
		},
		{
			Name: "implementation_change",
			Type: memory.TypeImplementation,
		},
		{
			Name: "lesson_learned",
			Type: memory.TypeInsight,
		},
		{
			Name: "root_cause",
			Type: memory.TypeInsight,
		},
		{
			Name: "upstream_change",
			Type: memory.TypeExternalChange,
		},
		{
			Name: "stated_preference",
			Type: memory.TypePreference,
		},
	})
}

// rulePatterns holds the pattern for each named rule. Split from the
// rule list so ordering and typing read as a table.
var rulePatterns = map[string]string{
	"explicit_decision":     `(?i)\b(?:decided to|let's (?:go with|use|choose|pick)|choosing .+ over|the approach (?:is|will be)|we (?:will|chose|settled on))\b`,
	"anti_pattern":          `(?i)\b(?:don't (?:do|use)|avoid|never)\b.*\b(?:because|since|due to)\b`,
	"implementation_change": `(?i)\b(?:implement(?:ed|ing)?|refactor(?:ed|ing)?|add(?:ed|ing)?|fix(?:ed|ing)?|renam(?:ed|ing)|extract(?:ed|ing)?)\b.*[\w./\\-]+\.[A-Za-z]{1,8}:\d+`,
	"lesson_learned":        `(?i)\b(?:lesson|takeaway|turns out|learned that|the trick (?:is|was)|gotcha|keep in mind)\b`,
	"root_cause":            `(?i)\b(?:root cause|race condition|deadlock|stack ?trace|regression|flaky)\b.*\b(?:when|because|caused|due to)\b`,
	"upstream_change":       `(?i)\b(?:merged|upstream|PR #\d+|pull request|issue #\d+|breaking change|released? v?\d+\.\d+)\b`,
	"stated_preference":     `(?i)\b(?:prefer(?:s|red)?|always use|convention (?:is|here)|style guide|house style|we format)\b`,
}

func compileRules(rules []Rule) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		pattern, ok := rulePatterns[r.Name]
		if !ok {
			continue
		}
		r.regex = regexp.MustCompile(pattern)
		out = append(out, r)
	}
	return out
}

// RuleEngine runs the ordered rule pass.
type RuleEngine struct {
	rules      []Rule
	confidence float64
}

// NewRuleEngine creates an engine with the given fixed match confidence.
func NewRuleEngine(rules []Rule, confidence float64) *RuleEngine {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &RuleEngine{rules: rules, confidence: confidence}
}

// Match returns the first matching rule's proposal, or nil. Every rule
// match carries the same fixed confidence.
func (e *RuleEngine) Match(content string) *Proposal {
	for _, r := range e.rules {
		if r.regex.MatchString(content) {
			return &Proposal{
				Type:       r.Type,
				Confidence: e.confidence,
				Source:     "rule:" + r.Name,
			}
		}
	}
	return nil
}
