package queue

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/secrets"
)

const (
	entryExt       = ".json"
	quarantineDir  = "quarantine"
	maxEntrySize   = 10 * 1024 * 1024
	maxRecordCount = 10000
	hmacKeySize    = 32
)

// Queue is the on-disk spool. One JSON file per entry under the spool
// directory, written atomically via temp file + rename with 0600
// permissions.
type Queue struct {
	dir      string
	cfg      config.QueueConfig
	scrubber *secrets.Scrubber
	logger   *logging.Logger

	hmacKey []byte
	keyPath string
	lock    *os.File

	mu      sync.Mutex
	entries map[string]*Entry
}

// Open loads or creates the spool directory and reads every entry.
// Corrupt or tampered files move to the quarantine subdirectory rather
// than blocking startup.
func Open(cfg config.QueueConfig, scrubber *secrets.Scrubber, logger *logging.Logger) (*Queue, error) {
	dir := filepath.Clean(config.ExpandPath(cfg.Dir))
	if strings.Contains(dir, "..") {
		return nil, fmt.Errorf("queue: dir contains traversal: %s", cfg.Dir)
	}
	if err := os.MkdirAll(filepath.Join(dir, quarantineDir), 0700); err != nil {
		return nil, fmt.Errorf("queue: creating spool dir: %w", err)
	}

	// One owner per spool: a second process opening the same directory
	// would double-flush entries and race the retry bookkeeping.
	lock, err := acquireLock(dir)
	if err != nil {
		return nil, err
	}

	q := &Queue{
		dir:      dir,
		cfg:      cfg,
		scrubber: scrubber,
		logger:   logger,
		lock:     lock,
		entries:  make(map[string]*Entry),
	}
	if err := q.initHMACKey(); err != nil {
		q.Close()
		return nil, err
	}
	if err := q.load(); err != nil {
		q.Close()
		return nil, err
	}

	logger.Info(context.Background(), "queue opened",
		zap.String("dir", dir),
		zap.Int("entries_loaded", len(q.entries)))
	return q, nil
}

// Dir returns the spool directory, for the drainer's watcher.
func (q *Queue) Dir() string {
	return q.dir
}

// Close releases the spool lock. Entries stay on disk for the next
// owner.
func (q *Queue) Close() error {
	if q.lock == nil {
		return nil
	}
	err := q.lock.Close()
	q.lock = nil
	return err
}

// Enqueue persists records as a new entry and returns its ID. Content
// is scrubbed of secret material before it touches disk when the queue
// is configured to do so.
func (q *Queue) Enqueue(ctx context.Context, records []*memory.Record) (string, error) {
	if len(records) == 0 {
		return "", fmt.Errorf("queue: no records to enqueue")
	}
	if len(records) > maxRecordCount {
		return "", fmt.Errorf("queue: entry exceeds max records (%d > %d)", len(records), maxRecordCount)
	}

	if q.cfg.ScrubSecrets && q.scrubber != nil {
		for _, r := range records {
			scrubbed, findings := q.scrubber.Scrub(r.Content)
			if len(findings) > 0 {
				r.Content = scrubbed
				// The stored hash must track what is actually persisted.
				r.ContentHash = memory.HashContent(scrubbed)
				r.ID = memory.RecordID(r.ScopeID, r.ContentHash)
				q.logger.Debug(ctx, "secrets redacted from queued record",
					zap.String("record_id", r.ID),
					zap.Int("findings", len(findings)))
			}
		}
	}

	entry := &Entry{
		ID:        uuid.New().String(),
		Records:   records,
		CreatedAt: time.Now().UTC(),
	}
	entry.Checksum = hex.EncodeToString(q.computeHMAC(entry))

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.writeEntry(entry); err != nil {
		return "", err
	}
	q.entries[entry.ID] = entry

	metricEnqueued.Inc()
	metricDepth.Set(float64(len(q.entries)))
	return entry.ID, nil
}

// Due returns entries ready for a flush attempt, oldest first.
func (q *Queue) Due(now time.Time) []*Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []*Entry
	for _, e := range q.entries {
		if e.StateAt(now, q.cfg.MaxRetries, q.cfg.Backoff) == StateReady {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	return due
}

// Snapshot returns a copy of all entries with their derived states.
func (q *Queue) Snapshot(now time.Time) map[State][]*Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[State][]*Entry)
	for _, e := range q.entries {
		st := e.StateAt(now, q.cfg.MaxRetries, q.cfg.Backoff)
		out[st] = append(out[st], e)
	}
	return out
}

// Len returns the number of live entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// MarkDone removes a flushed entry. The file is deleted only here,
// after the backend confirmed the write.
func (q *Queue) MarkDone(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[id]; !ok {
		return fmt.Errorf("queue: entry not found: %s", id)
	}
	if err := os.Remove(q.entryPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("queue: removing flushed entry: %w", err)
	}
	delete(q.entries, id)

	metricDrained.Inc()
	metricDepth.Set(float64(len(q.entries)))
	return nil
}

// RecordFailure bumps an entry's attempt counter after a failed flush
// and persists the updated bookkeeping.
func (q *Queue) RecordFailure(ctx context.Context, id string, attemptErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return fmt.Errorf("queue: entry not found: %s", id)
	}
	e.Attempts++
	e.LastAttempt = time.Now().UTC()
	if attemptErr != nil {
		e.LastError = attemptErr.Error()
	}
	e.Checksum = hex.EncodeToString(q.computeHMAC(e))

	if err := q.writeEntry(e); err != nil {
		return err
	}
	if e.Attempts >= q.cfg.MaxRetries {
		metricExhausted.Inc()
		q.logger.Warn(ctx, "queue entry exhausted",
			zap.String("entry_id", e.ID),
			zap.Int("attempts", e.Attempts),
			zap.String("last_error", e.LastError))
	}
	return nil
}

// Requeue resets an exhausted entry for another retry cycle. Operator
// action via the CLI.
func (q *Queue) Requeue(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return fmt.Errorf("queue: entry not found: %s", id)
	}
	e.Attempts = 0
	e.LastError = ""
	e.Checksum = hex.EncodeToString(q.computeHMAC(e))
	return q.writeEntry(e)
}

// Drop deletes an entry without flushing it. Operator action.
func (q *Queue) Drop(ctx context.Context, id string) error {
	return q.MarkDone(ctx, id)
}

func (q *Queue) entryPath(id string) string {
	return filepath.Join(q.dir, id+entryExt)
}

// writeEntry writes atomically: temp file with 0600 from creation,
// fsync, then rename.
func (q *Queue) writeEntry(e *Entry) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("queue: encoding entry: %w", err)
	}
	if len(data) > maxEntrySize {
		return fmt.Errorf("queue: entry exceeds max size (%d > %d bytes)", len(data), maxEntrySize)
	}

	path := q.entryPath(e.ID)
	tmp := path + ".tmp." + randomSuffix()
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("queue: creating entry file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("queue: writing entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("queue: syncing entry: %w", err)
	}
	f.Close()

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("queue: finalizing entry: %w", err)
	}
	return nil
}

// load reads every entry file. Undecodable files and checksum failures
// are moved to quarantine and logged, never silently deleted.
func (q *Queue) load() error {
	files, err := filepath.Glob(filepath.Join(q.dir, "*"+entryExt))
	if err != nil {
		return fmt.Errorf("queue: listing entries: %w", err)
	}

	ctx := context.Background()
	for _, file := range files {
		entry, err := q.readEntry(file)
		if err != nil {
			q.quarantine(ctx, file, err)
			continue
		}
		if !q.validateChecksum(entry) {
			q.quarantine(ctx, file, fmt.Errorf("%w: checksum mismatch", memory.ErrQueueCorruption))
			continue
		}
		q.entries[entry.ID] = entry
	}
	metricDepth.Set(float64(len(q.entries)))
	return nil
}

func (q *Queue) readEntry(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) > maxEntrySize {
		return nil, fmt.Errorf("%w: oversized entry file", memory.ErrQueueCorruption)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", memory.ErrQueueCorruption, err)
	}
	if entry.ID == "" || len(entry.Records) == 0 {
		return nil, fmt.Errorf("%w: missing id or records", memory.ErrQueueCorruption)
	}
	return &entry, nil
}

// quarantine moves a bad file aside so the drainer never reprocesses it
// but an operator can still inspect it.
func (q *Queue) quarantine(ctx context.Context, path string, cause error) {
	dest := filepath.Join(q.dir, quarantineDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		q.logger.Error(ctx, "failed to quarantine queue entry",
			zap.String("file", path), zap.Error(err))
		return
	}
	metricQuarantined.Inc()
	q.logger.Warn(ctx, "quarantined corrupt queue entry",
		zap.String("file", filepath.Base(path)),
		zap.Error(cause))
}

// initHMACKey loads or generates the integrity key. Filesystem
// permissions are the only protection on the key file.
func (q *Queue) initHMACKey() error {
	q.keyPath = filepath.Join(q.dir, ".hmac_key")

	if data, err := os.ReadFile(q.keyPath); err == nil {
		if len(data) != hmacKeySize {
			return fmt.Errorf("queue: invalid HMAC key size: %d", len(data))
		}
		q.hmacKey = data
		if info, err := os.Stat(q.keyPath); err == nil {
			if perm := info.Mode().Perm(); perm != 0600 {
				q.logger.Warn(context.Background(), "queue HMAC key has loose permissions",
					zap.String("path", q.keyPath),
					zap.String("permissions", fmt.Sprintf("%04o", perm)))
			}
		}
		return nil
	}

	key := make([]byte, hmacKeySize)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("queue: generating HMAC key: %w", err)
	}

	tmp := q.keyPath + ".tmp." + randomSuffix()
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("queue: creating key file: %w", err)
	}
	if _, err := f.Write(key); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("queue: writing key: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("queue: syncing key: %w", err)
	}
	f.Close()
	if err := os.Rename(tmp, q.keyPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("queue: finalizing key: %w", err)
	}

	q.hmacKey = key
	return nil
}

func (q *Queue) computeHMAC(e *Entry) []byte {
	h := hmac.New(sha256.New, q.hmacKey)
	h.Write([]byte(e.ID))
	h.Write([]byte(e.CreatedAt.Format(time.RFC3339Nano)))
	for _, r := range e.Records {
		h.Write([]byte(r.ID))
		h.Write([]byte(r.ContentHash))
		h.Write([]byte(r.Content))
	}
	return h.Sum(nil)
}

func (q *Queue) validateChecksum(e *Entry) bool {
	sum, err := hex.DecodeString(e.Checksum)
	if err != nil {
		return false
	}
	// The checksum covers identity and content, not retry counters, so
	// attempt bookkeeping updates don't churn record bytes.
	return subtle.ConstantTimeCompare(sum, q.computeHMAC(e)) == 1
}

func randomSuffix() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
