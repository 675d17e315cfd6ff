package batch

import (
	"context"
	"log/slog"
	"time"
)

// FlushTimer is the background task that forces rotation of a stale
// batch. Grounded on original_source/fuse/batch.c's batch_timer_handler:
// a nanosleep+EINTR retry loop followed by a lock+check-age+flush.
// time.Timer's Reset already absorbs spurious wakeups the way the
// original's retry loop absorbs EINTR, so no manual retry is needed
// here (spec §9: "replace goto-retry loops with a bounded loop").
type FlushTimer struct {
	writer    *Writer
	ageBudget time.Duration
	log       *slog.Logger
	stopped   chan struct{}
}

// NewFlushTimer returns a FlushTimer that checks writer once every
// ageBudget and force-rotates the open batch if it is at least
// ageBudget old, so a batch can stay open for up to about twice
// ageBudget.
func NewFlushTimer(writer *Writer, ageBudget time.Duration, log *slog.Logger) *FlushTimer {
	if log == nil {
		log = slog.Default()
	}
	return &FlushTimer{
		writer:    writer,
		ageBudget: ageBudget,
		log:       log,
		stopped:   make(chan struct{}),
	}
}

// Run blocks, periodically calling ForceRotateIfStale, until ctx is
// canceled. Intended to run on its own goroutine (spec §4.4, §5: "The
// FlushTimer has no cancellation API" at the host-process level — ctx
// here stands in for process shutdown, the Go-idiomatic equivalent).
func (t *FlushTimer) Run(ctx context.Context) {
	defer close(t.stopped)

	timer := time.NewTimer(t.ageBudget)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := t.writer.ForceRotateIfStale(t.ageBudget); err != nil {
				t.log.Error("flush timer rotate failed", "error", err)
			}
			timer.Reset(t.ageBudget)
		}
	}
}

// Stopped returns a channel closed once Run has returned.
func (t *FlushTimer) Stopped() <-chan struct{} {
	return t.stopped
}
