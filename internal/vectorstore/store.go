// Package vectorstore persists memory records in Qdrant over gRPC and
// exposes the narrow surface the engine needs: upsert, scoped search,
// hash lookup, payload updates, and deletion.
package vectorstore

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// Store errors beyond the sentinels in the memory package.
var (
	ErrInvalidConfig         = errors.New("vectorstore: invalid config")
	ErrInvalidCollectionName = errors.New("vectorstore: invalid collection name")
	ErrConnectionFailed      = errors.New("vectorstore: connection failed")
)

// SearchRequest describes a scoped similarity search.
type SearchRequest struct {
	// ScopeID restricts results to one scope. Required.
	ScopeID string

	// IncludeShared additionally matches the shared scope, when one is
	// configured.
	IncludeShared bool

	// Vector is the query embedding.
	Vector []float32

	// Types restricts results to the given record types. Empty means all.
	Types []memory.RecordType

	// Limit caps the result count.
	Limit int
}

// Store is the persistence surface used by the engine and the
// reclassification worker.
type Store interface {
	// EnsureCollection creates the backing collection if it is missing.
	EnsureCollection(ctx context.Context) error

	// UpsertRecords writes records. Existing IDs are overwritten, which
	// makes re-ingestion of identical content idempotent.
	UpsertRecords(ctx context.Context, records []*memory.Record) error

	// Search runs a scoped similarity query. Results carry the raw
	// semantic score; decay blending happens in the ranking layer.
	Search(ctx context.Context, req SearchRequest) ([]memory.ScoredRecord, error)

	// FetchByHash returns the record with the given content hash in the
	// scope, or memory.ErrNotFound.
	FetchByHash(ctx context.Context, scopeID, contentHash string) (*memory.Record, error)

	// FetchByID returns one record by point ID, or memory.ErrNotFound.
	FetchByID(ctx context.Context, id string) (*memory.Record, error)

	// FetchByStatus returns up to limit records with the given embedding
	// status in any scope. Used by the backfill pass.
	FetchByStatus(ctx context.Context, status memory.EmbeddingStatus, limit int) ([]*memory.Record, error)

	// FetchPendingClassify returns up to limit records awaiting
	// reclassification.
	FetchPendingClassify(ctx context.Context, limit int) ([]*memory.Record, error)

	// FetchByTypes returns up to limit records of the given types within
	// a scope, without similarity ranking. Used for bootstrap assembly,
	// where recency matters and there is no query vector.
	FetchByTypes(ctx context.Context, scopeID string, types []memory.RecordType, limit int) ([]*memory.Record, error)

	// UpdatePayload patches payload fields on one record without
	// touching its vector.
	UpdatePayload(ctx context.Context, id string, fields map[string]any) error

	// Delete removes records by ID.
	Delete(ctx context.Context, ids []string) error

	// Health checks backend reachability.
	Health(ctx context.Context) error

	// Close releases the connection.
	Close() error
}
