// Package secrets redacts credential material from content before it is
// written to the durable retry queue. Queue entry files outlive the
// process and may be synced or backed up, so secrets must never land in
// them.
package secrets

import (
	"fmt"
	"regexp"
	"sort"
)

// RedactionString replaces each detected secret span.
const RedactionString = "[REDACTED]"

// Rule is a single detection pattern. Keywords, when present, gate the
// pattern: the rule only runs if at least one keyword matches first.
type Rule struct {
	ID       string
	Pattern  string
	Keywords []string
}

// Finding records one detected secret span in the original content.
type Finding struct {
	RuleID     string
	StartIndex int
	EndIndex   int
}

type compiledRule struct {
	id       string
	pattern  *regexp.Regexp
	keywords []*regexp.Regexp
}

// Scrubber detects and redacts secrets using a fixed rule set.
type Scrubber struct {
	rules []compiledRule
}

// New compiles the given rules. Passing nil uses DefaultRules.
func New(rules []Rule) (*Scrubber, error) {
	if rules == nil {
		rules = DefaultRules()
	}
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		p, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile rule %s: %w", r.ID, err)
		}
		cr := compiledRule{id: r.ID, pattern: p}
		for _, kw := range r.Keywords {
			k, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(kw))
			if err != nil {
				return nil, fmt.Errorf("compile keyword for rule %s: %w", r.ID, err)
			}
			cr.keywords = append(cr.keywords, k)
		}
		compiled = append(compiled, cr)
	}
	return &Scrubber{rules: compiled}, nil
}

// MustNew compiles rules, panicking on error. The default rule set is
// static so a panic means a programming error.
func MustNew(rules []Rule) *Scrubber {
	s, err := New(rules)
	if err != nil {
		panic(err)
	}
	return s
}

// Scrub returns content with all detected secret spans replaced and the
// findings that drove each replacement. Overlapping spans are merged
// before replacement.
func (s *Scrubber) Scrub(content string) (string, []Finding) {
	var findings []Finding
	for _, rule := range s.rules {
		if !rule.keywordHit(content) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringIndex(content, -1) {
			findings = append(findings, Finding{
				RuleID:     rule.id,
				StartIndex: m[0],
				EndIndex:   m[1],
			})
		}
	}
	if len(findings) == 0 {
		return content, nil
	}

	sort.Slice(findings, func(i, j int) bool {
		return findings[i].StartIndex < findings[j].StartIndex
	})
	spans := mergeSpans(findings)

	scrubbed := content
	for i := len(spans) - 1; i >= 0; i-- {
		sp := spans[i]
		scrubbed = scrubbed[:sp[0]] + RedactionString + scrubbed[sp[1]:]
	}
	return scrubbed, findings
}

// HasSecrets reports whether content contains any detectable secret.
func (s *Scrubber) HasSecrets(content string) bool {
	for _, rule := range s.rules {
		if !rule.keywordHit(content) {
			continue
		}
		if rule.pattern.MatchString(content) {
			return true
		}
	}
	return false
}

func (r compiledRule) keywordHit(content string) bool {
	if len(r.keywords) == 0 {
		return true
	}
	for _, kw := range r.keywords {
		if kw.MatchString(content) {
			return true
		}
	}
	return false
}

// mergeSpans collapses overlapping or adjacent findings into disjoint
// [start, end) spans sorted ascending.
func mergeSpans(findings []Finding) [][2]int {
	spans := [][2]int{{findings[0].StartIndex, findings[0].EndIndex}}
	for _, f := range findings[1:] {
		last := &spans[len(spans)-1]
		if f.StartIndex <= last[1] {
			if f.EndIndex > last[1] {
				last[1] = f.EndIndex
			}
			continue
		}
		spans = append(spans, [2]int{f.StartIndex, f.EndIndex})
	}
	return spans
}
