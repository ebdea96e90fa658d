package ledger

import "context"

// Persister writes the full ledger state, overwriting what was stored before.
type Persister interface {
	Save(ctx context.Context, snap Snapshot) error
}

// Loader reads the ledger state back. Missing parts load as empty.
type Loader interface {
	Load(ctx context.Context) (Snapshot, error)
}

// Store is a persistence backend.
type Store interface {
	Persister
	Loader
	Close() error
}

// Observer receives notifications about ledger activity, e.g. for metrics.
type Observer interface {
	SaleRecorded(sale Sale)
	EventUndone(e Event)
	TallyReset()
	StateChanged(units, orders int)
	FlushFailed(err error)
}

type nopObserver struct{}

func (nopObserver) SaleRecorded(Sale) {}
func (nopObserver) EventUndone(Event) {}
func (nopObserver) TallyReset() {}
func (nopObserver) StateChanged(int, int) {}
func (nopObserver) FlushFailed(error) {}
