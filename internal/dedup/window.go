package dedup

import (
	"context"
	"errors"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// Hit is the nearest recent record to a candidate vector.
type Hit struct {
	ID         string
	Similarity float64
}

// Window is an in-memory vector index over the most recent records,
// partitioned by scope and type. The bound is a record count per
// partition; the oldest entry is evicted when a partition fills.
//
// The window is advisory. Losing it on restart only means the next
// near-duplicate of a pre-restart record is stored instead of merged.
type Window struct {
	db       *chromem.DB
	capacity int

	mu    sync.Mutex
	order map[string][]string
}

// NewWindow creates an empty window with the given per-partition bound.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = 256
	}
	return &Window{
		db:       chromem.NewDB(),
		capacity: capacity,
		order:    make(map[string][]string),
	}
}

// noEmbed guards against accidental text-path use. Every document and
// query in the window carries a precomputed vector.
func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errors.New("dedup window requires precomputed embeddings")
}

func partitionKey(scopeID string, t memory.RecordType) string {
	return scopeID + "/" + string(t)
}

func (w *Window) collection(key string) (*chromem.Collection, error) {
	return w.db.GetOrCreateCollection(key, nil, noEmbed)
}

// Add inserts a record vector, evicting the oldest entry if the
// partition is at capacity.
func (w *Window) Add(scopeID string, t memory.RecordType, id string, vector []float32) {
	key := partitionKey(scopeID, t)
	coll, err := w.collection(key)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	ctx := context.Background()
	if err := coll.AddDocuments(ctx, []chromem.Document{{
		ID:        id,
		Content:   id,
		Embedding: vector,
	}}, 1); err != nil {
		return
	}

	order := append(w.order[key], id)
	for len(order) > w.capacity {
		oldest := order[0]
		order = order[1:]
		_ = coll.Delete(ctx, nil, nil, oldest)
	}
	w.order[key] = order
}

// Nearest returns the most similar recent record in the partition, or
// nil when the partition is empty.
func (w *Window) Nearest(scopeID string, t memory.RecordType, vector []float32) *Hit {
	coll := w.db.GetCollection(partitionKey(scopeID, t), noEmbed)
	if coll == nil || coll.Count() == 0 {
		return nil
	}
	results, err := coll.QueryEmbedding(context.Background(), vector, 1, nil, nil)
	if err != nil || len(results) == 0 {
		return nil
	}
	return &Hit{ID: results[0].ID, Similarity: float64(results[0].Similarity)}
}

// Remove drops one record from the partition.
func (w *Window) Remove(scopeID string, t memory.RecordType, id string) {
	key := partitionKey(scopeID, t)
	coll := w.db.GetCollection(key, noEmbed)
	if coll == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	_ = coll.Delete(context.Background(), nil, nil, id)
	order := w.order[key]
	for i, existing := range order {
		if existing == id {
			w.order[key] = append(order[:i], order[i+1:]...)
			break
		}
	}
}
