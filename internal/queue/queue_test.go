package queue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/secrets"
)

func testConfig(dir string) config.QueueConfig {
	return config.QueueConfig{
		Dir:        dir,
		MaxRetries: 3,
		Backoff:    []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute},
	}
}

func openQueue(t *testing.T, cfg config.QueueConfig) *Queue {
	t.Helper()
	q, err := Open(cfg, secrets.MustNew(nil), logging.NewNop())
	require.NoError(t, err)
	return q
}

func testRecord(content string) *memory.Record {
	hash := memory.HashContent(content)
	return &memory.Record{
		ID:          memory.RecordID("scope-a", hash),
		ScopeID:     "scope-a",
		Content:     content,
		ContentHash: hash,
		Kind:        memory.KindProse,
		Type:        memory.TypeInsight,
		CreatedAt:   time.Now().UTC(),
		LastSeen:    time.Now().UTC(),
		Occurrences: 1,
	}
}

func TestEnqueueSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	q := openQueue(t, cfg)

	id, err := q.Enqueue(context.Background(), []*memory.Record{testRecord("the drain loop coalesces fsnotify events")})
	require.NoError(t, err)
	assert.Equal(t, 1, q.Len())

	// Simulate a restart: a fresh queue over the same directory must see
	// the entry intact.
	require.NoError(t, q.Close())
	q2 := openQueue(t, cfg)
	require.Equal(t, 1, q2.Len())

	due := q2.Due(time.Now())
	require.Len(t, due, 1)
	assert.Equal(t, id, due[0].ID)
	assert.Equal(t, "the drain loop coalesces fsnotify events", due[0].Records[0].Content)
}

func TestMarkDoneDeletesFile(t *testing.T) {
	dir := t.TempDir()
	q := openQueue(t, testConfig(dir))

	id, err := q.Enqueue(context.Background(), []*memory.Record{testRecord("x")})
	require.NoError(t, err)

	path := filepath.Join(dir, id+entryExt)
	_, err = os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, q.MarkDone(context.Background(), id))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, 0, q.Len())
}

func TestBackoffStates(t *testing.T) {
	dir := t.TempDir()
	q := openQueue(t, testConfig(dir))
	ctx := context.Background()

	id, err := q.Enqueue(ctx, []*memory.Record{testRecord("y")})
	require.NoError(t, err)

	now := time.Now()
	require.Len(t, q.Due(now), 1, "fresh entry must be ready")

	require.NoError(t, q.RecordFailure(ctx, id, errors.New("connection refused")))
	assert.Empty(t, q.Due(now), "entry must wait out its backoff")

	// First backoff interval is one minute.
	snapshot := q.Snapshot(now)
	require.Len(t, snapshot[StateWaiting], 1)
	assert.Len(t, q.Due(now.Add(61*time.Second)), 1, "entry must be ready after backoff")
}

func TestExhaustionRetainsEntry(t *testing.T) {
	dir := t.TempDir()
	q := openQueue(t, testConfig(dir))
	ctx := context.Background()

	id, err := q.Enqueue(ctx, []*memory.Record{testRecord("z")})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.RecordFailure(ctx, id, errors.New("still down")))
	}

	farFuture := time.Now().Add(24 * time.Hour)
	assert.Empty(t, q.Due(farFuture), "exhausted entries are never due")

	snapshot := q.Snapshot(farFuture)
	require.Len(t, snapshot[StateExhausted], 1)
	assert.Equal(t, "still down", snapshot[StateExhausted][0].LastError)

	// Still on disk for the operator.
	_, err = os.Stat(filepath.Join(dir, id+entryExt))
	assert.NoError(t, err)
}

func TestRequeueResetsExhausted(t *testing.T) {
	dir := t.TempDir()
	q := openQueue(t, testConfig(dir))
	ctx := context.Background()

	id, err := q.Enqueue(ctx, []*memory.Record{testRecord("w")})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.RecordFailure(ctx, id, errors.New("down")))
	}

	require.NoError(t, q.Requeue(ctx, id))
	assert.Len(t, q.Due(time.Now()), 1)
}

func TestCorruptEntryQuarantined(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	q := openQueue(t, cfg)

	_, err := q.Enqueue(context.Background(), []*memory.Record{testRecord("good entry")})
	require.NoError(t, err)

	// Drop a garbage file into the spool.
	bad := filepath.Join(dir, "deadbeef-0000-0000-0000-000000000000.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0600))

	require.NoError(t, q.Close())
	q2 := openQueue(t, cfg)
	assert.Equal(t, 1, q2.Len(), "good entry loads, corrupt one does not")

	_, err = os.Stat(bad)
	assert.True(t, os.IsNotExist(err), "corrupt file must leave the spool")
	_, err = os.Stat(filepath.Join(dir, quarantineDir, filepath.Base(bad)))
	assert.NoError(t, err, "corrupt file must land in quarantine")
}

func TestTamperedEntryQuarantined(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	q := openQueue(t, cfg)

	id, err := q.Enqueue(context.Background(), []*memory.Record{testRecord("original content here")})
	require.NoError(t, err)

	// Flip the content on disk without recomputing the checksum.
	path := filepath.Join(dir, id+entryExt)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), "original content here", "attacker content here", 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0600))

	require.NoError(t, q.Close())
	q2 := openQueue(t, cfg)
	assert.Equal(t, 0, q2.Len())
	_, err = os.Stat(filepath.Join(dir, quarantineDir, id+entryExt))
	assert.NoError(t, err)
}

func TestAttemptBookkeepingDoesNotBreakChecksum(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	q := openQueue(t, cfg)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, []*memory.Record{testRecord("v")})
	require.NoError(t, err)
	require.NoError(t, q.RecordFailure(ctx, id, errors.New("transient")))

	require.NoError(t, q.Close())
	q2 := openQueue(t, cfg)
	assert.Equal(t, 1, q2.Len(), "entry with updated counters must still verify")
}

func TestOpenRefusesHeldSpool(t *testing.T) {
	cfg := testConfig(t.TempDir())
	q := openQueue(t, cfg)

	_, err := Open(cfg, secrets.MustNew(nil), logging.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "held by another process")

	// Releasing the lock hands the spool to the next owner.
	require.NoError(t, q.Close())
	q2 := openQueue(t, cfg)
	require.NoError(t, q2.Close())
}

func TestEnqueueScrubsSecrets(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.ScrubSecrets = true
	q := openQueue(t, cfg)

	content := "rotate the token ghp_" + strings.Repeat("a", 36) + " before release"
	rec := testRecord(content)
	originalID := rec.ID

	_, err := q.Enqueue(context.Background(), []*memory.Record{rec})
	require.NoError(t, err)

	due := q.Due(time.Now())
	require.Len(t, due, 1)
	stored := due[0].Records[0]
	assert.NotContains(t, stored.Content, "ghp_")
	assert.Contains(t, stored.Content, secrets.RedactionString)
	// Hash and ID must track the scrubbed bytes.
	assert.Equal(t, memory.HashContent(stored.Content), stored.ContentHash)
	assert.NotEqual(t, originalID, stored.ID)

	// Nothing secret on disk either.
	raw, err := os.ReadFile(filepath.Join(dir, due[0].ID+entryExt))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "ghp_")
}

func TestEnqueueRejectsEmpty(t *testing.T) {
	q := openQueue(t, testConfig(t.TempDir()))
	_, err := q.Enqueue(context.Background(), nil)
	assert.Error(t, err)
}
