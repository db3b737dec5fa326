package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/memory"
)

func testChunker() *Chunker {
	// 256-1024 token bounds at ~4 chars each.
	return New(config.IngestConfig{
		ChunkMinTokens:  256,
		ChunkMaxTokens:  1024,
		ChunkOverlapPct: 0.15,
	})
}

func TestSplitShortContentPassthrough(t *testing.T) {
	content := "short note about the retry queue"
	chunks := testChunker().Split(content, memory.KindProse)

	require.Len(t, chunks, 1)
	assert.Equal(t, content, chunks[0].Content)
	assert.Equal(t, 0, chunks[0].StartByte)
	assert.Equal(t, len(content), chunks[0].EndByte)
	assert.Equal(t, 0, chunks[0].OverlapBytes)
}

func buildProse(paragraphs int) string {
	var b strings.Builder
	for i := 0; i < paragraphs; i++ {
		b.WriteString("This paragraph discusses the drain loop and how backoff schedules interact with the spool directory. ")
		b.WriteString("Entries move from ready to waiting and back as attempts accumulate over the session.\n\n")
	}
	return strings.TrimSuffix(b.String(), "\n\n")
}

func TestSplitProseBounds(t *testing.T) {
	c := testChunker()
	content := buildProse(60)
	require.Greater(t, len(content), c.maxBytes)

	chunks := c.Split(content, memory.KindProse)
	require.Greater(t, len(chunks), 1)

	for i, ch := range chunks {
		body := ch.Content[ch.OverlapBytes:]
		assert.LessOrEqual(t, len(body), c.maxBytes, "chunk %d over max", i)
		if i < len(chunks)-1 {
			assert.GreaterOrEqual(t, len(body), c.minBytes, "chunk %d under min", i)
		}
		if i == 0 {
			assert.Equal(t, 0, ch.OverlapBytes)
		} else {
			assert.Greater(t, ch.OverlapBytes, 0, "chunk %d missing overlap", i)
		}
		assert.Equal(t, i, ch.Index)
	}
}

// paragraphOfBytes builds an n-byte paragraph of full sentences,
// padded to the exact length and terminated by a blank line.
func paragraphOfBytes(n int) string {
	const sentence = "The drainer retries the batch after the backoff elapses. "
	var b strings.Builder
	for b.Len()+len(sentence) <= n-2 {
		b.WriteString(sentence)
	}
	for b.Len() < n-2 {
		b.WriteByte('x')
	}
	b.WriteString("\n\n")
	return b.String()
}

func TestSplitUnevenParagraphsHoldBounds(t *testing.T) {
	c := testChunker()
	// Paragraph sizes chosen so naive greedy packing would emit a
	// short leading chunk and fold the tail past the max bound.
	content := paragraphOfBytes(900) +
		paragraphOfBytes(3300) +
		paragraphOfBytes(4000) +
		paragraphOfBytes(600)

	chunks := c.Split(content, memory.KindProse)
	require.Greater(t, len(chunks), 1)

	for i, ch := range chunks {
		body := ch.Content[ch.OverlapBytes:]
		assert.LessOrEqual(t, len(body), c.maxBytes, "chunk %d over max bound", i)
		if i < len(chunks)-1 {
			assert.GreaterOrEqual(t, len(body), c.minBytes, "chunk %d under min bound", i)
		}
	}
	assert.Equal(t, content, Reassemble(chunks))
}

func TestSplitOffsetsAddressOriginal(t *testing.T) {
	c := testChunker()
	content := buildProse(60)
	chunks := c.Split(content, memory.KindProse)

	prevEnd := 0
	for _, ch := range chunks {
		assert.Equal(t, prevEnd, ch.StartByte)
		body := ch.Content[ch.OverlapBytes:]
		assert.Equal(t, content[ch.StartByte:ch.EndByte], body)
		prevEnd = ch.EndByte
	}
	assert.Equal(t, len(content), prevEnd)
}

func TestReassembleExact(t *testing.T) {
	c := testChunker()
	tests := []struct {
		name    string
		content string
		kind    memory.ContentKind
	}{
		{"prose", buildProse(60), memory.KindProse},
		{"code", buildCode(120), memory.KindCode},
		{"unicode prose", strings.Repeat("résumé über naïve façade. ", 400), memory.KindProse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := c.Split(tt.content, tt.kind)
			assert.Equal(t, tt.content, Reassemble(chunks))
		})
	}
}

func buildCode(funcs int) string {
	var b strings.Builder
	for i := 0; i < funcs; i++ {
		b.WriteString("func handleEntry(e *Entry) error {\n")
		b.WriteString("\tif e == nil {\n\t\treturn errNil\n\t}\n")
		b.WriteString("\treturn persist(e)\n")
		b.WriteString("}\n")
	}
	return b.String()
}

func TestSplitCodePrefersUnitBoundaries(t *testing.T) {
	c := testChunker()
	content := buildCode(120)
	chunks := c.Split(content, memory.KindCode)
	require.Greater(t, len(chunks), 1)

	// Every chunk body should end at a line boundary rather than
	// mid-statement.
	for i, ch := range chunks[:len(chunks)-1] {
		body := ch.Content[ch.OverlapBytes:]
		assert.True(t, strings.HasSuffix(body, "\n"), "chunk %d cut mid-line", i)
	}
}

func TestHardSplitRuneSafe(t *testing.T) {
	s := strings.Repeat("é", 100)
	pieces := hardSplit(s, 7)
	var rebuilt strings.Builder
	for _, p := range pieces {
		assert.True(t, len(p) <= 7)
		assert.Equal(t, p, string([]rune(p)), "piece split a rune")
		rebuilt.WriteString(p)
	}
	assert.Equal(t, s, rebuilt.String())
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens("abc"))
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("a", 100)))
}
