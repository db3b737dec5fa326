package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"single line", "a short note", "a short note"},
		{"collapses whitespace", "first line\n\tsecond   line\n", "first line second line"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, summarize(tt.in))
		})
	}
}

func TestSummarizeTruncatesLongContent(t *testing.T) {
	got := summarize(strings.Repeat("word ", 50))
	assert.Len(t, got, 103)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestPluralY(t *testing.T) {
	assert.Equal(t, "ies", pluralY(0))
	assert.Equal(t, "y", pluralY(1))
	assert.Equal(t, "ies", pluralY(2))
}
