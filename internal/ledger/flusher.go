package ledger

import (
	"context"
	"log/slog"
	"time"
)

// Flusher moves persistence off the caller's goroutine. Save queues the
// snapshot and returns; Run writes queued snapshots to the wrapped Persister.
// Only the newest pending snapshot is kept, since every snapshot is a full
// copy of the state. Save must be called from a single goroutine.
type Flusher struct {
	next     Persister
	pending  chan Snapshot
	logger   *slog.Logger
	observer Observer
	timeout  time.Duration
}

// NewFlusher wraps next.
func NewFlusher(next Persister, logger *slog.Logger, observer Observer) *Flusher {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Flusher{
		next:     next,
		pending:  make(chan Snapshot, 1),
		logger:   logger,
		observer: observer,
		timeout:  5 * time.Second,
	}
}

// Save implements Persister. It never blocks on I/O.
func (f *Flusher) Save(_ context.Context, snap Snapshot) error {
	select {
	case f.pending <- snap:
		return nil
	default:
	}
	// Replace the stale snapshot. Run may have taken it meanwhile, either
	// way the buffer has room after this.
	select {
	case <-f.pending:
	default:
	}
	f.pending <- snap
	return nil
}

// Run writes snapshots until ctx is done, then writes whatever is still
// pending and returns.
func (f *Flusher) Run(ctx context.Context) error {
	for {
		select {
		case snap := <-f.pending:
			f.write(ctx, snap)
		case <-ctx.Done():
			select {
			case snap := <-f.pending:
				f.write(ctx, snap)
			default:
			}
			return nil
		}
	}
}

// write detaches from ctx so a snapshot taken before shutdown still lands.
func (f *Flusher) write(ctx context.Context, snap Snapshot) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()
	if err := f.next.Save(ctx, snap); err != nil {
		f.observer.FlushFailed(err)
		f.logger.Error("background flush", slog.Any("error", err))
	}
}
