// Package memory defines the core record model shared by the ingestion
// pipeline, the reclassification worker, and retrieval.
package memory

import (
	"time"
)

// RecordType categorizes what a memory record captures.
// The type is mutable: the reclassification worker may rewrite it
// after ingestion when a more precise category can be derived.
type RecordType string

const (
	// TypeConversation is raw conversational content captured from a session.
	TypeConversation RecordType = "conversation"

	// TypeDecision is an architectural or design decision.
	TypeDecision RecordType = "decision"

	// TypeImplementation is a concrete code change with file references.
	TypeImplementation RecordType = "implementation"

	// TypeInsight is a distilled lesson or observation.
	TypeInsight RecordType = "insight"

	// TypeHandoff is an end-of-session summary for the next session.
	TypeHandoff RecordType = "handoff"

	// TypeExternalChange records upstream changes (PRs, issue updates)
	// captured from external producers.
	TypeExternalChange RecordType = "external_change"

	// TypePreference is a user or project preference.
	TypePreference RecordType = "preference"
)

// ValidTypes is the set of record types accepted at ingestion.
var ValidTypes = map[RecordType]bool{
	TypeConversation:   true,
	TypeDecision:       true,
	TypeImplementation: true,
	TypeInsight:        true,
	TypeHandoff:        true,
	TypeExternalChange: true,
	TypePreference:     true,
}

// ContentKind selects the embedding route and the chunking strategy.
type ContentKind string

const (
	// KindProse is natural-language content (conversation, decisions, notes).
	KindProse ContentKind = "prose"

	// KindCode is source code or code-dominant content.
	KindCode ContentKind = "code"
)

// EmbeddingStatus tracks whether a record's vector has been generated.
type EmbeddingStatus string

const (
	// EmbeddingComplete means the record carries a real vector.
	EmbeddingComplete EmbeddingStatus = "complete"

	// EmbeddingPending means the record was stored with a zero vector
	// because the embedding route was unavailable. The backfill pass
	// re-attempts generation for pending records.
	EmbeddingPending EmbeddingStatus = "pending"
)

// ClassifyState tracks a record's position in the reclassification
// lifecycle. Only terminal and resting states persist; transient
// in-flight states live in the worker.
type ClassifyState string

const (
	// ClassifyPending means the record awaits a reclassification pass.
	ClassifyPending ClassifyState = "pending"

	// ClassifyApplied means a proposed type met the confidence threshold
	// and was written back.
	ClassifyApplied ClassifyState = "applied"

	// ClassifySkipped means the record was ruled out: skip-listed type,
	// short content, or a proposal below the confidence threshold.
	ClassifySkipped ClassifyState = "skipped"
)

// FreshnessTier is a coarse staleness classification surfaced alongside
// search results. Tiers never alter ranking; they only drive downstream
// refresh flagging.
type FreshnessTier string

const (
	FreshnessFresh   FreshnessTier = "fresh"
	FreshnessAging   FreshnessTier = "aging"
	FreshnessStale   FreshnessTier = "stale"
	FreshnessExpired FreshnessTier = "expired"
)

// FileRef is a file:line reference back into the codebase.
type FileRef struct {
	Path string `json:"path"`
	Line int    `json:"line"`
}

// Record is the unit of storage.
//
// Within a scope no two live records share ContentHash: the ID is derived
// deterministically from scope and hash, so re-ingesting identical content
// resolves to the same record instead of a new row.
type Record struct {
	// ID is the stable identifier, deterministic from scope + content hash.
	ID string `json:"id"`

	// ScopeID is the tenant/project isolation key. Queries and dedup never
	// cross scopes except the explicitly shared scope.
	ScopeID string `json:"scope_id"`

	// Content is the full text. Never truncated by any pipeline stage.
	Content string `json:"content"`

	// ContentHash is the SHA-256 digest of normalized content.
	ContentHash string `json:"content_hash"`

	// Kind selects the embedding route (prose vs code).
	Kind ContentKind `json:"kind"`

	// Type is the record category. Mutable; rewritten by reclassification.
	Type RecordType `json:"type"`

	// Vector is the dense embedding. Zeroed while EmbeddingStatus is pending.
	Vector []float32 `json:"vector,omitempty"`

	// EmbeddingStatus tracks vector generation state.
	EmbeddingStatus EmbeddingStatus `json:"embedding_status"`

	// CreatedAt anchors decay scoring. Immutable.
	CreatedAt time.Time `json:"created_at"`

	// LastSeen is updated when a semantic duplicate merges into this record.
	LastSeen time.Time `json:"last_seen"`

	// Occurrences counts how many times duplicate content merged in.
	// Starts at 1.
	Occurrences int `json:"occurrences"`

	// Importance is a caller-supplied weight in [0,1].
	Importance float64 `json:"importance"`

	// Source names the producer (session capture, github sync, manual save).
	Source string `json:"source,omitempty"`

	// Refs are file:line references extracted from or supplied with content.
	Refs []FileRef `json:"refs,omitempty"`

	// UpstreamChanges counts source modifications observed since capture.
	// Feeds freshness tiering, never ranking.
	UpstreamChanges int `json:"upstream_changes"`

	// Superseded marks a record flagged stale beyond policy. Superseded
	// records stay in storage for audit but are excluded from every
	// retrieval path.
	Superseded bool `json:"superseded,omitempty"`

	// ClassifyState tracks the reclassification lifecycle.
	ClassifyState ClassifyState `json:"classify_state,omitempty"`

	// ChunkRef is set on records produced by chunking oversized content.
	// Nil for unchunked records.
	ChunkRef *ChunkRef `json:"chunk_ref,omitempty"`
}

// AgeDays returns the record age in days at the given instant.
func (r *Record) AgeDays(now time.Time) float64 {
	return now.Sub(r.CreatedAt).Hours() / 24.0
}

// Chunk is a token-bounded slice of a record's content. StartByte/EndByte
// reference the chunk's position in the original content for traceability.
type Chunk struct {
	// Index is the chunk's ordinal within its record, starting at 0.
	Index int `json:"index"`

	// Content is the chunk text, including any leading overlap.
	Content string `json:"content"`

	// StartByte and EndByte locate Content within the source text.
	StartByte int `json:"start_byte"`
	EndByte   int `json:"end_byte"`

	// OverlapBytes is the length of the prefix shared with the previous
	// chunk. Stripping it from every chunk after the first reconstructs
	// the original content exactly.
	OverlapBytes int `json:"overlap_bytes"`
}

// ChunkRef links a chunk record back to the logical item it was split
// from. ParentHash is the content hash of the full original text.
type ChunkRef struct {
	ParentHash string `json:"parent_hash"`
	Index      int    `json:"index"`
	Count      int    `json:"count"`
	StartByte  int    `json:"start_byte"`
	EndByte    int    `json:"end_byte"`
}

// ScoredRecord pairs a record with retrieval scores.
type ScoredRecord struct {
	Record *Record

	// Semantic is the raw similarity score from vector search.
	Semantic float64

	// Temporal is the decay component, 0.5^(age/halfLife).
	Temporal float64

	// Final is the blended score used for ranking.
	Final float64

	// Freshness is surfaced to callers but does not affect ranking.
	Freshness FreshnessTier
}
