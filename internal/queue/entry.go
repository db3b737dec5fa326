// Package queue is the durable retry spool for deferred writes. When
// the vector backend is unreachable at ingestion time, accepted records
// are persisted here as one file per entry and flushed by the drainer.
// Entries survive process restarts; a file is only removed after its
// records are confirmed in the backend.
package queue

import (
	"time"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// State is an entry's lifecycle position, derived from its counters.
type State string

const (
	// StateReady means the entry is due for a flush attempt.
	StateReady State = "ready"

	// StateWaiting means the entry failed recently and its backoff
	// interval has not elapsed.
	StateWaiting State = "waiting"

	// StateExhausted means the retry ceiling was hit. Exhausted entries
	// are retained on disk for operator attention, never deleted
	// automatically.
	StateExhausted State = "exhausted"
)

// Entry is one deferred write: the records captured from a single
// ingestion call, plus retry bookkeeping.
type Entry struct {
	ID        string           `json:"id"`
	Records   []*memory.Record `json:"records"`
	CreatedAt time.Time        `json:"created_at"`

	// Attempts counts failed flushes so far.
	Attempts    int       `json:"attempts"`
	LastAttempt time.Time `json:"last_attempt,omitempty"`
	LastError   string    `json:"last_error,omitempty"`

	// Checksum is hex HMAC-SHA256 over the entry's identity and record
	// contents. Entries failing verification are quarantined on load.
	Checksum string `json:"checksum"`
}

// StateAt derives the entry's state from its counters at the given
// instant, using the queue's retry policy.
func (e *Entry) StateAt(now time.Time, maxRetries int, backoff []time.Duration) State {
	if e.Attempts >= maxRetries {
		return StateExhausted
	}
	if e.Attempts == 0 {
		return StateReady
	}
	if now.Before(e.LastAttempt.Add(backoffFor(e.Attempts, backoff))) {
		return StateWaiting
	}
	return StateReady
}

// backoffFor returns the wait after the given number of failures.
// Attempts beyond the schedule reuse the final interval.
func backoffFor(attempts int, backoff []time.Duration) time.Duration {
	if len(backoff) == 0 {
		return time.Minute
	}
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(backoff) {
		idx = len(backoff) - 1
	}
	return backoff[idx]
}
