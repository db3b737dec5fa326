package queue

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/logging"
)

// FlushFunc attempts to persist one entry's records in the backend.
// A nil return means the entry is durably stored and can be removed.
type FlushFunc func(ctx context.Context, e *Entry) error

// Drainer flushes due entries on a periodic tick, woken early by
// filesystem events on the spool directory so fresh entries don't wait
// a full interval.
type Drainer struct {
	queue    *Queue
	flush    FlushFunc
	interval time.Duration
	logger   *logging.Logger
}

// NewDrainer wires a drainer to a queue and a flush function.
func NewDrainer(q *Queue, flush FlushFunc, interval time.Duration, logger *logging.Logger) *Drainer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Drainer{queue: q, flush: flush, interval: interval, logger: logger}
}

// Run drains until the context is canceled. The fsnotify watcher is
// best effort: if it cannot be established the ticker alone drives
// draining.
func (d *Drainer) Run(ctx context.Context) error {
	var events chan struct{}
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err := watcher.Add(d.queue.Dir()); err == nil {
			events = make(chan struct{}, 1)
			go d.forwardEvents(ctx, watcher, events)
		} else {
			d.logger.Warn(ctx, "queue watch failed, tick-only draining", zap.Error(err))
			watcher.Close()
		}
	} else {
		d.logger.Warn(ctx, "fsnotify unavailable, tick-only draining", zap.Error(err))
	}
	if watcher != nil {
		defer watcher.Close()
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	// Initial pass picks up entries that accumulated while down.
	d.DrainOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.DrainOnce(ctx)
		case <-events:
			d.DrainOnce(ctx)
		}
	}
}

// forwardEvents coalesces watcher events into wake signals. Only entry
// creation matters; bookkeeping rewrites are ignored to avoid drain
// storms.
func (d *Drainer) forwardEvents(ctx context.Context, watcher *fsnotify.Watcher, wake chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !ev.Op.Has(fsnotify.Create) {
				continue
			}
			select {
			case wake <- struct{}{}:
			default:
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			d.logger.Warn(ctx, "queue watcher error", zap.Error(err))
		}
	}
}

// DrainOnce attempts every due entry once. Failures update retry
// bookkeeping; successes remove the entry file.
func (d *Drainer) DrainOnce(ctx context.Context) {
	start := time.Now()
	defer func() {
		metricDrainDuration.Observe(time.Since(start).Seconds())
	}()

	due := d.queue.Due(time.Now())
	if len(due) == 0 {
		return
	}
	d.logger.Debug(ctx, "draining queue", zap.Int("due", len(due)))

	for _, entry := range due {
		if ctx.Err() != nil {
			return
		}
		if err := d.flush(ctx, entry); err != nil {
			d.logger.Warn(ctx, "queue flush failed",
				zap.String("entry_id", entry.ID),
				zap.Int("attempts", entry.Attempts+1),
				zap.Error(err))
			if rerr := d.queue.RecordFailure(ctx, entry.ID, err); rerr != nil {
				d.logger.Error(ctx, "failed to record queue failure",
					zap.String("entry_id", entry.ID), zap.Error(rerr))
			}
			continue
		}
		if err := d.queue.MarkDone(ctx, entry.ID); err != nil {
			d.logger.Error(ctx, "failed to remove flushed entry",
				zap.String("entry_id", entry.ID), zap.Error(err))
		}
	}
}
