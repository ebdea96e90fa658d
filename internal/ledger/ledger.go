// Package ledger keeps the stall's order history and the tally derived from it.
//
// The history is an append-only list of sales and reset checkpoints. The
// tally (active units) is always the flattened sales after the last
// checkpoint, so undo can pop any event and re-derive the tally from what is
// left. A Ledger has a single owner; its methods must not be called
// concurrently.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stalltally/internal/catalog"
)

// Ledger owns the order history, the active units and the order quantity.
type Ledger struct {
	catalog       catalog.Catalog
	log           []Event
	active        []SoldUnit
	orderQuantity uint
	// index of the last checkpoint in log, -1 when there is none
	lastCheckpoint int

	persister Persister
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time
	newID     func() uuid.UUID
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithPersister flushes the state to p after every mutation.
func WithPersister(p Persister) Option {
	return func(l *Ledger) { l.persister = p }
}

// WithObserver wires activity notifications.
func WithObserver(o Observer) Option {
	return func(l *Ledger) {
		if o != nil {
			l.observer = o
		}
	}
}

// WithLogger sets the logger used for persistence diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock replaces the time source for sold units.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithOrderQuantity sets the initial order quantity.
func WithOrderQuantity(n uint) Option {
	return func(l *Ledger) { l.orderQuantity = n }
}

// New creates an empty ledger for the catalog.
func New(cat catalog.Catalog, opts ...Option) *Ledger {
	l := &Ledger{
		catalog:        cat,
		orderQuantity:  DefaultOrderQuantity,
		lastCheckpoint: -1,
		observer:       nopObserver{},
		logger:         slog.Default(),
		now:            time.Now,
		newID:          uuid.New,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Catalog returns the catalog the ledger sells from.
func (l *Ledger) Catalog() catalog.Catalog {
	return l.catalog
}

// RecordSale sells the current order quantity of item.
func (l *Ledger) RecordSale(ctx context.Context, item string) (Sale, error) {
	return l.RecordSaleN(ctx, item, l.orderQuantity)
}

// RecordSaleN sells quantity units of item. A zero quantity is logged as an
// order that adds nothing to the tally.
func (l *Ledger) RecordSaleN(ctx context.Context, item string, quantity uint) (Sale, error) {
	key, ok := l.catalog.Resolve(item)
	if !ok {
		return Sale{}, fmt.Errorf("%w: %q", ErrUnknownItem, item)
	}
	// the order time is the first replica's stamp
	orderedAt := l.now().UTC()
	var stamps []time.Time
	if quantity > 0 {
		stamps = make([]time.Time, quantity)
		stamps[0] = orderedAt
		for i := 1; i < len(stamps); i++ {
			stamps[i] = l.now().UTC()
		}
	}
	sale := Sale{
		ID:       l.newID(),
		Unit:     SoldUnit{Name: key, SoldAt: orderedAt},
		Quantity: quantity,
		Stamps:   stamps,
	}
	l.active = append(l.active, sale.Units()...)
	l.log = append(l.log, sale)

	l.observer.SaleRecorded(sale)
	l.changed(ctx)
	return sale, nil
}

// OrderQuantity returns the units sold per press.
func (l *Ledger) OrderQuantity() uint {
	return l.orderQuantity
}

// SetOrderQuantity sets the units sold per press. It is not part of the
// persisted state.
func (l *Ledger) SetOrderQuantity(n uint) {
	l.orderQuantity = n
}

// AdjustOrderQuantity moves the order quantity by delta, stopping at zero,
// and returns the new value.
func (l *Ledger) AdjustOrderQuantity(delta int) uint {
	switch {
	case delta >= 0:
		l.orderQuantity += uint(delta)
	case uint(-delta) >= l.orderQuantity:
		l.orderQuantity = 0
	default:
		l.orderQuantity -= uint(-delta)
	}
	return l.orderQuantity
}

// Reset clears the tally and starts a new epoch. Earlier sales stay in the
// history so the reset can be undone.
func (l *Ledger) Reset(ctx context.Context) {
	clear(l.active)
	l.active = l.active[:0]
	l.log = append(l.log, Checkpoint{})
	l.lastCheckpoint = len(l.log) - 1

	l.observer.TallyReset()
	l.changed(ctx)
}

// Undo removes the most recent event and reports it. It returns false when
// the history is empty.
func (l *Ledger) Undo(ctx context.Context) (Event, bool) {
	n := len(l.log)
	if n == 0 {
		return nil, false
	}
	last := l.log[n-1]
	l.log[n-1] = nil
	l.log = l.log[:n-1]

	switch e := last.(type) {
	case Sale:
		l.dropTail(e)
	case Checkpoint:
		l.lastCheckpoint = lastCheckpoint(l.log)
		l.active = l.rebuild()
	default:
		l.logger.Error("undo unknown event", slog.String("type", fmt.Sprintf("%T", last)))
	}

	l.observer.EventUndone(last)
	l.changed(ctx)
	return last, true
}

func (l *Ledger) dropTail(sale Sale) {
	k := len(l.active)
	if uint(k) > sale.Quantity {
		k = int(sale.Quantity)
	} else if uint(k) < sale.Quantity {
		l.logger.Warn("tally shorter than undone order",
			slog.String("item", sale.Unit.Name),
			slog.Uint64("quantity", uint64(sale.Quantity)),
			slog.Int("active", k))
	}
	tail := len(l.active) - k
	clear(l.active[tail:])
	l.active = l.active[:tail]
}

func (l *Ledger) rebuild() []SoldUnit {
	start := l.lastCheckpoint + 1
	return fold(l.log[start:], func(pos int, e Event) {
		l.logger.Error("unexpected event inside epoch",
			slog.Int("position", start+pos),
			slog.String("kind", string(e.Kind())))
	})
}

// OrderCount returns the number of orders since the last reset.
func (l *Ledger) OrderCount() int {
	return len(l.log) - 1 - l.lastCheckpoint
}

// UnitCount returns the number of units in the tally.
func (l *Ledger) UnitCount() int {
	return len(l.active)
}

// PerItemCounts tallies the active units per catalog item, in catalog order.
func (l *Ledger) PerItemCounts() []ItemCount {
	counts := make([]ItemCount, l.catalog.Len())
	for i := range counts {
		counts[i].Name = l.catalog.At(i)
	}
	for _, u := range l.active {
		if i := l.catalog.Index(u.Name); i >= 0 {
			counts[i].Count++
		}
	}
	return counts
}

// ActiveUnits returns a copy of the tally.
func (l *Ledger) ActiveUnits() []SoldUnit {
	out := make([]SoldUnit, len(l.active))
	copy(out, l.active)
	return out
}

// Events returns a copy of the history.
func (l *Ledger) Events() []Event {
	out := make([]Event, len(l.log))
	copy(out, l.log)
	return out
}

// Snapshot copies the persisted state. Events are values that are never
// modified once logged, so the copy is safe to hand to another goroutine.
func (l *Ledger) Snapshot() Snapshot {
	return Snapshot{Units: l.ActiveUnits(), Events: l.Events()}
}

// Restore replaces the state with a loaded snapshot. The history wins: units
// that do not match what the history derives are rebuilt from it.
func (l *Ledger) Restore(snap Snapshot) {
	l.log = append([]Event(nil), snap.Events...)
	l.lastCheckpoint = lastCheckpoint(l.log)
	for _, ev := range l.log {
		if sale, ok := ev.(Sale); ok && !l.catalog.Contains(sale.Unit.Name) {
			l.logger.Warn("history names item outside catalog", slog.String("item", sale.Unit.Name))
		}
	}

	derived := l.rebuild()
	if sameItems(snap.Units, derived) {
		l.active = append([]SoldUnit(nil), snap.Units...)
	} else {
		l.logger.Warn("stored tally disagrees with history, rebuilding",
			slog.Int("stored", len(snap.Units)),
			slog.Int("derived", len(derived)))
		l.active = derived
	}
	l.observer.StateChanged(len(l.active), l.OrderCount())
}

// Reload loads state from src. On error the current state is kept and the
// error is returned for the caller to log.
func (l *Ledger) Reload(ctx context.Context, src Loader) error {
	snap, err := src.Load(ctx)
	if err != nil {
		return fmt.Errorf("ledger: reload: %w", err)
	}
	l.Restore(snap)
	return nil
}

// Recover loads state from src at startup. Unlike Reload it keeps whatever
// parts did load: a broken tally is derived from the history, and a broken
// history leaves the loaded tally in place with no history behind it. The
// load error is still returned for the caller to log.
func (l *Ledger) Recover(ctx context.Context, src Loader) error {
	snap, err := src.Load(ctx)
	if err == nil {
		l.Restore(snap)
		return nil
	}
	if len(snap.Events) == 0 && len(snap.Units) > 0 {
		l.logger.Warn("history unreadable, keeping stored tally", slog.Int("units", len(snap.Units)))
		l.log = nil
		l.lastCheckpoint = -1
		l.active = append([]SoldUnit(nil), snap.Units...)
		l.observer.StateChanged(len(l.active), l.OrderCount())
	} else {
		l.Restore(snap)
	}
	return fmt.Errorf("ledger: recover: %w", err)
}

// Flush writes the current state immediately.
func (l *Ledger) Flush(ctx context.Context) error {
	if l.persister == nil {
		return nil
	}
	if err := l.persister.Save(ctx, l.Snapshot()); err != nil {
		l.observer.FlushFailed(err)
		return fmt.Errorf("ledger: flush: %w", err)
	}
	return nil
}

func (l *Ledger) changed(ctx context.Context) {
	l.observer.StateChanged(len(l.active), l.OrderCount())
	if err := l.Flush(ctx); err != nil {
		l.logger.Error("flush ledger", slog.Any("error", err))
	}
}

func sameItems(a, b []SoldUnit) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name {
			return false
		}
	}
	return true
}
