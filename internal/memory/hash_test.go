package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeContent(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "crlf to lf",
			input:    "line one\r\nline two",
			expected: "line one\nline two",
		},
		{
			name:     "trailing whitespace stripped per line",
			input:    "line one   \nline two\t",
			expected: "line one\nline two",
		},
		{
			name:     "outer whitespace trimmed",
			input:    "\n\n  content  \n\n",
			expected: "content",
		},
		{
			name:     "interior blank lines preserved",
			input:    "para one\n\npara two",
			expected: "para one\n\npara two",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeContent(tt.input))
		})
	}
}

func TestHashContentStableAcrossFormatting(t *testing.T) {
	// Formatting variants of the same content must collide so exact
	// dedup catches re-submissions.
	a := HashContent("we chose gRPC over REST\n")
	b := HashContent("we chose gRPC over REST")
	c := HashContent("we chose gRPC over REST  \r\n")
	assert.Equal(t, a, b)
	assert.Equal(t, a, c)

	d := HashContent("we chose REST over gRPC")
	assert.NotEqual(t, a, d)
}

func TestRecordIDDeterministic(t *testing.T) {
	hash := HashContent("some insight")

	id1 := RecordID("project-a", hash)
	id2 := RecordID("project-a", hash)
	assert.Equal(t, id1, id2, "same scope and hash must yield the same ID")

	other := RecordID("project-b", hash)
	assert.NotEqual(t, id1, other, "scopes must not share IDs")
}

func TestRecordIDIsUUID(t *testing.T) {
	id := RecordID("scope", HashContent("content"))
	assert.Len(t, id, 36)
	assert.Equal(t, byte('-'), id[8])
}
