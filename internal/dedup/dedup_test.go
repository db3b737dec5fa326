package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

// hashStore stubs the exact barrier: a map of "scope/hash" to the
// existing record. Everything else on the Store surface is unused.
type hashStore struct {
	byHash   map[string]*memory.Record
	fetchErr error
}

func newHashStore() *hashStore {
	return &hashStore{byHash: make(map[string]*memory.Record)}
}

func (s *hashStore) FetchByHash(_ context.Context, scopeID, contentHash string) (*memory.Record, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	if rec, ok := s.byHash[scopeID+"/"+contentHash]; ok {
		return rec, nil
	}
	return nil, memory.ErrNotFound
}

func (s *hashStore) EnsureCollection(context.Context) error                { return nil }
func (s *hashStore) UpsertRecords(context.Context, []*memory.Record) error { return nil }
func (s *hashStore) Search(context.Context, vectorstore.SearchRequest) ([]memory.ScoredRecord, error) {
	return nil, nil
}
func (s *hashStore) FetchByID(context.Context, string) (*memory.Record, error) {
	return nil, memory.ErrNotFound
}
func (s *hashStore) FetchByStatus(context.Context, memory.EmbeddingStatus, int) ([]*memory.Record, error) {
	return nil, nil
}
func (s *hashStore) FetchPendingClassify(context.Context, int) ([]*memory.Record, error) {
	return nil, nil
}
func (s *hashStore) FetchByTypes(context.Context, string, []memory.RecordType, int) ([]*memory.Record, error) {
	return nil, nil
}
func (s *hashStore) UpdatePayload(context.Context, string, map[string]any) error { return nil }
func (s *hashStore) Delete(context.Context, []string) error                      { return nil }
func (s *hashStore) Health(context.Context) error                                { return nil }
func (s *hashStore) Close() error                                                { return nil }

func testDeduper(store vectorstore.Store) *Deduper {
	return New(store, config.IngestConfig{
		DedupThreshold: 0.9,
		DedupWindow:    16,
	})
}

func insightRecord(id, hash string, vector []float32) *memory.Record {
	return &memory.Record{
		ID:          id,
		ScopeID:     "proj-a",
		ContentHash: hash,
		Type:        memory.TypeInsight,
		Vector:      vector,
	}
}

func TestCheckExactHashDuplicate(t *testing.T) {
	store := newHashStore()
	store.byHash["proj-a/hash-1"] = insightRecord("existing", "hash-1", nil)
	d := testDeduper(store)

	err := d.Check(context.Background(), insightRecord("candidate", "hash-1", []float32{1, 0, 0}))

	dup, ok := memory.IsDuplicate(err)
	require.True(t, ok)
	assert.True(t, dup.Exact)
	assert.Equal(t, "existing", dup.ExistingID)
	assert.Equal(t, 1.0, dup.Similarity)
}

func TestCheckPropagatesStoreError(t *testing.T) {
	store := newHashStore()
	store.fetchErr = errors.New("connection refused")
	d := testDeduper(store)

	err := d.Check(context.Background(), insightRecord("candidate", "hash-1", nil))

	require.Error(t, err)
	_, ok := memory.IsDuplicate(err)
	assert.False(t, ok)
}

func TestCheckSemanticDuplicateInWindow(t *testing.T) {
	d := testDeduper(newHashStore())
	ctx := context.Background()

	d.Admit(insightRecord("existing", "hash-1", []float32{1, 0, 0}))

	err := d.Check(ctx, insightRecord("candidate", "hash-2", []float32{1, 0, 0}))
	dup, ok := memory.IsDuplicate(err)
	require.True(t, ok)
	assert.False(t, dup.Exact)
	assert.Equal(t, "existing", dup.ExistingID)
	assert.GreaterOrEqual(t, dup.Similarity, 0.9)
}

func TestCheckDissimilarContentIsNovel(t *testing.T) {
	d := testDeduper(newHashStore())
	ctx := context.Background()

	d.Admit(insightRecord("existing", "hash-1", []float32{1, 0, 0}))

	// Orthogonal vector: similarity well below the threshold.
	assert.NoError(t, d.Check(ctx, insightRecord("candidate", "hash-2", []float32{0, 1, 0})))
}

func TestCheckVectorlessSkipsSemanticBarrier(t *testing.T) {
	d := testDeduper(newHashStore())
	ctx := context.Background()

	d.Admit(insightRecord("existing", "hash-1", []float32{1, 0, 0}))

	// Pending embedding: only the hash barrier can run.
	assert.NoError(t, d.Check(ctx, insightRecord("candidate", "hash-2", nil)))
}

func TestAdmitVectorlessIsNoop(t *testing.T) {
	d := testDeduper(newHashStore())

	d.Admit(insightRecord("pending", "hash-1", nil))

	assert.NoError(t, d.Check(context.Background(), insightRecord("candidate", "hash-2", []float32{1, 0, 0})))
}

func TestWindowPartitionsByScopeAndType(t *testing.T) {
	d := testDeduper(newHashStore())
	ctx := context.Background()

	d.Admit(insightRecord("existing", "hash-1", []float32{1, 0, 0}))

	otherScope := insightRecord("candidate", "hash-2", []float32{1, 0, 0})
	otherScope.ScopeID = "proj-b"
	assert.NoError(t, d.Check(ctx, otherScope), "same vector in another scope is novel")

	otherType := insightRecord("candidate", "hash-3", []float32{1, 0, 0})
	otherType.Type = memory.TypeDecision
	assert.NoError(t, d.Check(ctx, otherType), "same vector under another type is novel")
}

func TestForgetRemovesFromWindow(t *testing.T) {
	d := testDeduper(newHashStore())
	ctx := context.Background()

	rec := insightRecord("existing", "hash-1", []float32{1, 0, 0})
	d.Admit(rec)
	d.Forget(rec)

	assert.NoError(t, d.Check(ctx, insightRecord("candidate", "hash-2", []float32{1, 0, 0})))
}

func TestWindowEvictsOldestAtCapacity(t *testing.T) {
	w := NewWindow(2)

	w.Add("proj-a", memory.TypeInsight, "a", []float32{1, 0, 0})
	w.Add("proj-a", memory.TypeInsight, "b", []float32{0, 1, 0})
	w.Add("proj-a", memory.TypeInsight, "c", []float32{0, 0, 1})

	// "a" was evicted; querying its vector can only hit the survivors.
	hit := w.Nearest("proj-a", memory.TypeInsight, []float32{1, 0, 0})
	if hit != nil {
		assert.NotEqual(t, "a", hit.ID)
	}

	hit = w.Nearest("proj-a", memory.TypeInsight, []float32{0, 0, 1})
	require.NotNil(t, hit)
	assert.Equal(t, "c", hit.ID)
	assert.InDelta(t, 1.0, hit.Similarity, 1e-4)
}

func TestWindowEmptyPartition(t *testing.T) {
	w := NewWindow(4)

	assert.Nil(t, w.Nearest("proj-a", memory.TypeInsight, []float32{1, 0, 0}))
	w.Remove("proj-a", memory.TypeInsight, "missing")
}
