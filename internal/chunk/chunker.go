// Package chunk splits oversized content into embedding-sized pieces.
// Chunks partition the source exactly: concatenating chunk contents with
// each chunk's overlap prefix stripped reproduces the original bytes.
package chunk

import (
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// charsPerToken is the byte-length estimator shared with context assembly.
const charsPerToken = 4

// EstimateTokens approximates the token count of s.
func EstimateTokens(s string) int {
	return len(s) / charsPerToken
}

// Chunker splits content by kind within configured token bounds.
type Chunker struct {
	minBytes   int
	maxBytes   int
	overlapPct float64
}

// New creates a Chunker from ingest bounds.
func New(cfg config.IngestConfig) *Chunker {
	return &Chunker{
		minBytes:   cfg.ChunkMinTokens * charsPerToken,
		maxBytes:   cfg.ChunkMaxTokens * charsPerToken,
		overlapPct: cfg.ChunkOverlapPct,
	}
}

// Split chunks content. Content at or under the max bound comes back as a
// single chunk with zero overlap.
func (c *Chunker) Split(content string, kind memory.ContentKind) []memory.Chunk {
	if len(content) <= c.maxBytes {
		return []memory.Chunk{{
			Index:   0,
			Content: content,
			EndByte: len(content),
		}}
	}

	var segments []string
	if kind == memory.KindCode {
		segments = splitCodeUnits(content)
	} else {
		segments = splitParagraphs(content)
	}
	segments = c.refine(segments, kind)

	pieces := c.pack(segments, kind)
	return c.withOverlap(content, pieces)
}

// refine re-splits any segment still over the max bound. Prose falls back
// to sentence boundaries, code to line boundaries, both to a hard byte
// split on rune boundaries.
func (c *Chunker) refine(segments []string, kind memory.ContentKind) []string {
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		if len(seg) <= c.maxBytes {
			out = append(out, seg)
			continue
		}
		var finer []string
		if kind == memory.KindCode {
			finer = splitLines(seg)
		} else {
			finer = splitSentences(seg)
		}
		for _, f := range finer {
			if len(f) <= c.maxBytes {
				out = append(out, f)
			} else {
				out = append(out, hardSplit(f, c.maxBytes)...)
			}
		}
	}
	return out
}

// pack greedily merges adjacent segments into runs between the min and
// max bounds. No piece ever exceeds the max bound; only the final piece
// may fall under the min bound, and only when folding it into its
// predecessor would overflow.
func (c *Chunker) pack(segments []string, kind memory.ContentKind) []string {
	var pieces []string
	var b strings.Builder
	for _, seg := range segments {
		if b.Len() > 0 && b.Len()+len(seg) > c.maxBytes {
			if b.Len() < c.minBytes {
				// The buffer alone is too small to stand as a chunk.
				// Borrow finer units off the front of seg to lift it
				// over the min bound, then carry the remainder on.
				head, tail := c.borrow(c.minBytes-b.Len(), c.maxBytes-b.Len(), seg, kind)
				b.WriteString(head)
				seg = tail
			}
			pieces = append(pieces, b.String())
			b.Reset()
			if seg == "" {
				continue
			}
		}
		b.WriteString(seg)
		if b.Len() >= c.minBytes {
			pieces = append(pieces, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		last := b.String()
		if n := len(pieces); n > 0 && len(last) < c.minBytes && len(pieces[n-1])+len(last) <= c.maxBytes {
			pieces[n-1] += last
		} else {
			pieces = append(pieces, last)
		}
	}
	return pieces
}

// borrow takes whole finer units off the front of seg until at least
// need bytes are taken, never exceeding room. Units come from sentence
// boundaries for prose and line boundaries for code, so the cut stays
// on a natural boundary.
func (c *Chunker) borrow(need, room int, seg string, kind memory.ContentKind) (head, tail string) {
	var units []string
	if kind == memory.KindCode {
		units = splitLines(seg)
	} else {
		units = splitSentences(seg)
	}
	taken := 0
	for _, u := range units {
		if taken >= need || taken+len(u) > room {
			break
		}
		taken += len(u)
	}
	return seg[:taken], seg[taken:]
}

// withOverlap assigns byte offsets and prepends each chunk after the
// first with the tail of its predecessor. Offsets address the original
// content; the overlap prefix is bookkeeping for embedding continuity.
func (c *Chunker) withOverlap(content string, pieces []string) []memory.Chunk {
	chunks := make([]memory.Chunk, 0, len(pieces))
	offset := 0
	for i, p := range pieces {
		ch := memory.Chunk{
			Index:     i,
			StartByte: offset,
			EndByte:   offset + len(p),
		}
		if i == 0 {
			ch.Content = p
		} else {
			overlap := c.overlapFor(pieces[i-1])
			ch.Content = overlap + p
			ch.OverlapBytes = len(overlap)
		}
		chunks = append(chunks, ch)
		offset += len(p)
	}
	return chunks
}

// overlapFor takes the rune-aligned tail of prev sized by the overlap
// percentage of the max bound.
func (c *Chunker) overlapFor(prev string) string {
	n := int(float64(c.maxBytes) * c.overlapPct)
	if n >= len(prev) {
		return prev
	}
	start := len(prev) - n
	for start < len(prev) && !utf8.RuneStart(prev[start]) {
		start++
	}
	return prev[start:]
}

// Reassemble concatenates chunks with overlap prefixes stripped.
func Reassemble(chunks []memory.Chunk) string {
	var b strings.Builder
	for _, ch := range chunks {
		b.WriteString(ch.Content[ch.OverlapBytes:])
	}
	return b.String()
}

// splitParagraphs splits on blank lines, keeping separators attached to
// the preceding segment so segments concatenate back to the source.
func splitParagraphs(s string) []string {
	return splitAfter(s, "\n\n")
}

// splitSentences splits after sentence-ending punctuation followed by
// whitespace.
func splitSentences(s string) []string {
	var segs []string
	start := 0
	for i := 0; i < len(s)-1; i++ {
		if (s[i] == '.' || s[i] == '!' || s[i] == '?') && (s[i+1] == ' ' || s[i+1] == '\n') {
			segs = append(segs, s[start:i+2])
			start = i + 2
			i++
		}
	}
	if start < len(s) {
		segs = append(segs, s[start:])
	}
	return segs
}

// splitCodeUnits splits at top-level unit boundaries: lines with no
// leading whitespace that open a new block after a closing line. Falls
// back to paragraph-style splitting for flat scripts.
func splitCodeUnits(s string) []string {
	lines := splitLines(s)
	var segs []string
	var b strings.Builder
	for _, line := range lines {
		if b.Len() > 0 && isTopLevelStart(line) {
			segs = append(segs, b.String())
			b.Reset()
		}
		b.WriteString(line)
	}
	if b.Len() > 0 {
		segs = append(segs, b.String())
	}
	if len(segs) <= 1 {
		return splitParagraphs(s)
	}
	return segs
}

// isTopLevelStart reports whether line begins a new top-level unit:
// non-blank, unindented, and not a continuation token.
func isTopLevelStart(line string) bool {
	if len(line) == 0 {
		return false
	}
	c := line[0]
	if c == ' ' || c == '\t' || c == '\n' || c == '}' || c == ')' || c == ']' {
		return false
	}
	return true
}

// splitLines splits keeping the trailing newline on each line.
func splitLines(s string) []string {
	return splitAfter(s, "\n")
}

// splitAfter is strings.SplitAfter without producing a trailing empty
// segment.
func splitAfter(s, sep string) []string {
	parts := strings.SplitAfter(s, sep)
	if n := len(parts); n > 0 && parts[n-1] == "" {
		parts = parts[:n-1]
	}
	return parts
}

// hardSplit cuts s into max-byte pieces on rune boundaries.
func hardSplit(s string, max int) []string {
	var out []string
	for len(s) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			cut = max
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	if len(s) > 0 {
		out = append(out, s)
	}
	return out
}
