package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/memory"
)

func testValidator() *Validator {
	return New(config.IngestConfig{
		MinContentChars: 50,
		MaxContentChars: 50000,
	})
}

func validInput() Input {
	return Input{
		Content:    "We decided to keep the retry queue on local disk because the vector store is the thing that fails.",
		ScopeID:    "project-a",
		Type:       memory.TypeDecision,
		Kind:       memory.KindProse,
		Source:     "session",
		Importance: 0.6,
	}
}

func TestValidateAccepts(t *testing.T) {
	refs, err := testValidator().Validate(validInput())
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Input)
		wantField string
	}{
		{
			name:      "missing scope",
			mutate:    func(in *Input) { in.ScopeID = "" },
			wantField: "scope_id",
		},
		{
			name:      "missing source",
			mutate:    func(in *Input) { in.Source = "" },
			wantField: "source",
		},
		{
			name:      "unknown type",
			mutate:    func(in *Input) { in.Type = "musing" },
			wantField: "type",
		},
		{
			name:      "unknown kind",
			mutate:    func(in *Input) { in.Kind = "binary" },
			wantField: "kind",
		},
		{
			name:      "importance out of range",
			mutate:    func(in *Input) { in.Importance = 1.5 },
			wantField: "importance",
		},
		{
			name:      "too short",
			mutate:    func(in *Input) { in.Content = "tiny" },
			wantField: "content",
		},
		{
			name:      "too long",
			mutate:    func(in *Input) { in.Content = strings.Repeat("a", 50001) },
			wantField: "content",
		},
		{
			name: "whitespace padding does not satisfy minimum",
			mutate: func(in *Input) {
				in.Content = "short" + strings.Repeat(" ", 100)
			},
			wantField: "content",
		},
		{
			name: "placeholder content",
			mutate: func(in *Input) {
				in.Content = "TODO " + strings.Repeat(".", 60)
			},
			wantField: "content",
		},
		{
			name: "implementation without file reference",
			mutate: func(in *Input) {
				in.Type = memory.TypeImplementation
				in.Content = "Refactored the drain loop to coalesce filesystem events into a single wake channel."
			},
			wantField: "content",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			_, err := testValidator().Validate(in)
			require.Error(t, err)
			var verr *memory.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestValidateImplementationWithRef(t *testing.T) {
	in := validInput()
	in.Type = memory.TypeImplementation
	in.Content = "Moved the breaker reset into retry() so half-open probes share the backoff path, see internal/vectorstore/qdrant.go:442 for the call site."

	refs, err := testValidator().Validate(in)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "internal/vectorstore/qdrant.go", refs[0].Path)
	assert.Equal(t, 442, refs[0].Line)
}

func TestExtractFileRefs(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []memory.FileRef
	}{
		{
			name:    "none",
			content: "no references here",
			want:    nil,
		},
		{
			name:    "simple",
			content: "bug in parser.py:42 again",
			want:    []memory.FileRef{{Path: "parser.py", Line: 42}},
		},
		{
			name:    "deduplicated",
			content: "see main.go:10 and again main.go:10",
			want:    []memory.FileRef{{Path: "main.go", Line: 10}},
		},
		{
			name:    "multiple distinct",
			content: "a.go:1 touches b.go:2",
			want: []memory.FileRef{
				{Path: "a.go", Line: 1},
				{Path: "b.go", Line: 2},
			},
		},
		{
			name:    "line zero rejected",
			content: "weird ref main.go:0",
			want:    nil,
		},
		{
			name:    "timestamp not a ref",
			content: "happened at 12:30 today",
			want:    nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractFileRefs(tt.content)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
