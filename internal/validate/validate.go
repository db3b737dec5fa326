// Package validate rejects malformed ingestion payloads before any network
// work happens. Validation errors are the only ingestion errors surfaced
// synchronously to callers.
package validate

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// fileRefPattern matches file:line shaped references such as
// "parser.py:42" or "internal/queue/queue.go:118".
var fileRefPattern = regexp.MustCompile(`(?m)([\w./\\-]+\.[A-Za-z]{1,8}):(\d{1,6})\b`)

// placeholderPatterns match content that is boilerplate rather than signal.
var placeholderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*(todo|tbd|fixme|placeholder|n/a|none|null|undefined)[\s.!]*$`),
	regexp.MustCompile(`(?i)^\s*lorem ipsum`),
	regexp.MustCompile(`^\s*[-=_*#\s]+$`),
}

// typesRequiringRefs must carry at least one file:line reference to be
// actionable.
var typesRequiringRefs = map[memory.RecordType]bool{
	memory.TypeImplementation: true,
}

// Input is a raw ingestion payload plus required metadata.
type Input struct {
	Content    string
	ScopeID    string
	Type       memory.RecordType
	Kind       memory.ContentKind
	Source     string
	Importance float64
}

// Validator checks ingestion inputs against configured bounds.
type Validator struct {
	cfg config.IngestConfig
}

// New creates a Validator.
func New(cfg config.IngestConfig) *Validator {
	return &Validator{cfg: cfg}
}

// Validate checks the input and returns the file references it found.
// All failures are *memory.ValidationError.
func (v *Validator) Validate(in Input) ([]memory.FileRef, error) {
	if in.ScopeID == "" {
		return nil, memory.NewValidationError("scope_id", "required")
	}
	if in.Source == "" {
		return nil, memory.NewValidationError("source", "required")
	}
	if !memory.ValidTypes[in.Type] {
		return nil, memory.NewValidationError("type", "unknown record type "+strconv.Quote(string(in.Type)))
	}
	if in.Kind != memory.KindProse && in.Kind != memory.KindCode {
		return nil, memory.NewValidationError("kind", "must be prose or code")
	}
	if in.Importance < 0 || in.Importance > 1 {
		return nil, memory.NewValidationError("importance", "must be in [0,1]")
	}

	content := strings.TrimSpace(in.Content)
	if len(content) < v.cfg.MinContentChars {
		return nil, memory.NewValidationError("content",
			"too short: "+strconv.Itoa(len(content))+" chars (min "+strconv.Itoa(v.cfg.MinContentChars)+")")
	}
	if len(content) > v.cfg.MaxContentChars {
		return nil, memory.NewValidationError("content",
			"too long: "+strconv.Itoa(len(content))+" chars (max "+strconv.Itoa(v.cfg.MaxContentChars)+")")
	}
	if isPlaceholder(content) {
		return nil, memory.NewValidationError("content", "placeholder-like content")
	}

	refs := ExtractFileRefs(in.Content)
	if typesRequiringRefs[in.Type] && len(refs) == 0 {
		return nil, memory.NewValidationError("content",
			"type "+string(in.Type)+" requires at least one file:line reference")
	}

	return refs, nil
}

// ExtractFileRefs pulls file:line references out of content.
func ExtractFileRefs(content string) []memory.FileRef {
	matches := fileRefPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	refs := make([]memory.FileRef, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		line, err := strconv.Atoi(m[2])
		if err != nil || line <= 0 {
			continue
		}
		key := m[1] + ":" + m[2]
		if seen[key] {
			continue
		}
		seen[key] = true
		refs = append(refs, memory.FileRef{Path: m[1], Line: line})
	}
	return refs
}

// isPlaceholder reports whether the whole content is boilerplate.
func isPlaceholder(content string) bool {
	for _, p := range placeholderPatterns {
		if p.MatchString(content) {
			return true
		}
	}
	return false
}
