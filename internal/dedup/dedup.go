// Package dedup suppresses duplicate ingestion. Two barriers run in
// order: an exact content-hash lookup against the store, then a
// semantic similarity check against a bounded window of recent records
// in the same scope and type.
package dedup

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

// Deduper runs both duplicate barriers for the ingestion path.
type Deduper struct {
	store     vectorstore.Store
	window    *Window
	threshold float64
}

// New creates a Deduper over the given store and a fresh recent window.
func New(store vectorstore.Store, cfg config.IngestConfig) *Deduper {
	return &Deduper{
		store:     store,
		window:    NewWindow(cfg.DedupWindow),
		threshold: cfg.DedupThreshold,
	}
}

// Check inspects a candidate record before it is persisted.
//
// A nil error means the record is novel; the caller should persist it
// and then call Admit. A *memory.DuplicateError identifies the existing
// record the duplicate should merge into. Any other error means a
// barrier could not run.
//
// Records without a vector skip the semantic barrier: a pending
// embedding cannot be compared.
func (d *Deduper) Check(ctx context.Context, rec *memory.Record) error {
	existing, err := d.store.FetchByHash(ctx, rec.ScopeID, rec.ContentHash)
	if err == nil {
		return &memory.DuplicateError{ExistingID: existing.ID, Exact: true, Similarity: 1.0}
	}
	if !errors.Is(err, memory.ErrNotFound) {
		return err
	}

	if len(rec.Vector) == 0 {
		return nil
	}
	if hit := d.window.Nearest(rec.ScopeID, rec.Type, rec.Vector); hit != nil && hit.Similarity >= d.threshold {
		return &memory.DuplicateError{ExistingID: hit.ID, Similarity: hit.Similarity}
	}
	return nil
}

// Admit registers a persisted record in the recent window so later
// near-duplicates resolve against it.
func (d *Deduper) Admit(rec *memory.Record) {
	if len(rec.Vector) == 0 {
		return
	}
	d.window.Add(rec.ScopeID, rec.Type, rec.ID, rec.Vector)
}

// Forget drops a record from the window, used when a record is deleted.
func (d *Deduper) Forget(rec *memory.Record) {
	d.window.Remove(rec.ScopeID, rec.Type, rec.ID)
}
