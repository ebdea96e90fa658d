package ledger

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/odyssey-erp/stalltally/internal/catalog"
)

type memoryStore struct {
	saved   []Snapshot
	loadErr error
	saveErr error
	load    Snapshot
}

func (m *memoryStore) Save(ctx context.Context, snap Snapshot) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, snap)
	return nil
}

func (m *memoryStore) Load(ctx context.Context) (Snapshot, error) {
	return m.load, m.loadErr
}

func (m *memoryStore) Close() error { return nil }

func (m *memoryStore) last() Snapshot {
	return m.saved[len(m.saved)-1]
}

type countingObserver struct {
	sales, undos, resets, failures int
	units, orders                  int
}

func (o *countingObserver) SaleRecorded(Sale) { o.sales++ }
func (o *countingObserver) EventUndone(Event) { o.undos++ }
func (o *countingObserver) TallyReset() { o.resets++ }
func (o *countingObserver) FlushFailed(error) { o.failures++ }
func (o *countingObserver) StateChanged(units, orders int) {
	o.units, o.orders = units, orders
}

// tickClock returns strictly increasing times so every replica is distinct.
func tickClock() func() time.Time {
	t := time.Date(2025, 10, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Millisecond)
		return t
	}
}

func twoItems(t *testing.T) catalog.Catalog {
	t.Helper()
	c, err := catalog.New("A", "B")
	require.NoError(t, err)
	return c
}

type LedgerSuite struct {
	suite.Suite
	ctx   context.Context
	store *memoryStore
	obs   *countingObserver
	l     *Ledger
}

func (s *LedgerSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = &memoryStore{}
	s.obs = &countingObserver{}
	s.l = New(twoItems(s.T()), WithPersister(s.store), WithObserver(s.obs), WithClock(tickClock()))
}

func (s *LedgerSuite) record(item string, q uint) Sale {
	sale, err := s.l.RecordSaleN(s.ctx, item, q)
	s.Require().NoError(err)
	return sale
}

func (s *LedgerSuite) counts() map[string]int {
	out := map[string]int{}
	for _, c := range s.l.PerItemCounts() {
		out[c.Name] = c.Count
	}
	return out
}

func (s *LedgerSuite) TestRecordResetUndoScenario() {
	s.record("A", 3)
	s.Equal(3, s.l.UnitCount())
	s.Equal(map[string]int{"A": 3, "B": 0}, s.counts())

	s.record("B", 2)
	s.Equal(map[string]int{"A": 3, "B": 2}, s.counts())

	s.l.Reset(s.ctx)
	s.Equal(map[string]int{"A": 0, "B": 0}, s.counts())
	s.Len(s.l.Events(), 3)

	ev, ok := s.l.Undo(s.ctx)
	s.True(ok)
	s.Equal(KindCheckpoint, ev.Kind())
	s.Equal(map[string]int{"A": 3, "B": 2}, s.counts())
	s.Len(s.l.Events(), 2)
}

func (s *LedgerSuite) TestUndoSaleKeepsEarlierOrder() {
	s.record("A", 3)
	s.record("B", 2)
	ev, ok := s.l.Undo(s.ctx)
	s.True(ok)
	s.Equal(KindSale, ev.Kind())

	s.Equal(map[string]int{"A": 3, "B": 0}, s.counts())
	for _, u := range s.l.ActiveUnits() {
		s.Equal("A", u.Name)
	}
}

func (s *LedgerSuite) TestPerItemCountsFollowCatalogOrder() {
	s.record("B", 1)
	s.record("A", 1)
	counts := s.l.PerItemCounts()
	s.Require().Len(counts, 2)
	s.Equal("A", counts[0].Name)
	s.Equal("B", counts[1].Name)
}

func (s *LedgerSuite) TestOrderCountSinceLastCheckpoint() {
	s.record("A", 1)
	s.record("B", 1)
	s.l.Reset(s.ctx)
	s.record("A", 1)
	s.Equal(1, s.l.OrderCount())

	s.l.Undo(s.ctx)
	s.Equal(0, s.l.OrderCount())
	s.l.Undo(s.ctx)
	s.Equal(2, s.l.OrderCount())
}

func (s *LedgerSuite) TestDoubleResetUndo() {
	s.record("A", 2)
	s.l.Reset(s.ctx)
	s.l.Reset(s.ctx)
	before := len(s.l.Events())

	s.l.Undo(s.ctx)
	s.Empty(s.l.ActiveUnits())
	s.Len(s.l.Events(), before-1)
	s.Equal(0, s.l.OrderCount())
}

func (s *LedgerSuite) TestZeroQuantityIsLoggedOnly() {
	s.record("A", 0)
	s.Equal(0, s.l.UnitCount())
	s.Len(s.l.Events(), 1)
	s.Equal(1, s.l.OrderCount())

	s.l.Undo(s.ctx)
	s.Empty(s.l.Events())
}

func (s *LedgerSuite) TestRecordSaleUsesOrderQuantity() {
	s.Equal(DefaultOrderQuantity, s.l.OrderQuantity())
	_, err := s.l.RecordSale(s.ctx, "a")
	s.Require().NoError(err)
	s.Equal(3, s.l.UnitCount())

	s.l.SetOrderQuantity(1)
	_, err = s.l.RecordSale(s.ctx, "B")
	s.Require().NoError(err)
	s.Equal(map[string]int{"A": 3, "B": 1}, s.counts())
}

func (s *LedgerSuite) TestUnknownItemRejected() {
	_, err := s.l.RecordSale(s.ctx, "C")
	s.ErrorIs(err, ErrUnknownItem)
	s.Empty(s.l.Events())
	s.Empty(s.store.saved)
}

func (s *LedgerSuite) TestUndoOnEmptyHistory() {
	ev, ok := s.l.Undo(s.ctx)
	s.False(ok)
	s.Nil(ev)
	s.Empty(s.store.saved)
}

func (s *LedgerSuite) TestEveryMutationFlushes() {
	s.record("A", 1)
	s.l.Reset(s.ctx)
	s.l.Undo(s.ctx)
	s.l.SetOrderQuantity(5)
	s.Len(s.store.saved, 3)

	last := s.store.last()
	s.Equal(s.l.ActiveUnits(), last.Units)
	s.Equal(s.l.Events(), last.Events)
	s.Equal(1, s.obs.sales)
	s.Equal(1, s.obs.resets)
	s.Equal(1, s.obs.undos)
	s.Equal(1, s.obs.units)
	s.Equal(1, s.obs.orders)
}

func (s *LedgerSuite) TestSnapshotIsIsolated() {
	s.record("A", 2)
	snap := s.l.Snapshot()
	s.l.Reset(s.ctx)
	s.record("B", 1)
	s.Len(snap.Units, 2)
	s.Len(snap.Events, 1)
	s.Equal("A", snap.Units[0].Name)
}

func (s *LedgerSuite) TestFlushFailureKeepsState() {
	s.store.saveErr = errors.New("disk full")
	s.record("A", 2)
	s.Equal(2, s.l.UnitCount())
	s.Len(s.l.Events(), 1)
	s.Equal(1, s.obs.failures)

	s.Error(s.l.Flush(s.ctx))
}

func (s *LedgerSuite) TestReplicasKeepOwnTimestamps() {
	sale := s.record("A", 3)
	units := s.l.ActiveUnits()
	s.Require().Len(units, 3)
	s.NotEqual(units[0].SoldAt, units[1].SoldAt)
	s.Equal(sale.Stamps[2], units[2].SoldAt)

	s.l.Reset(s.ctx)
	s.l.Undo(s.ctx)
	s.Equal(units, s.l.ActiveUnits())
}

func (s *LedgerSuite) TestOrderTimeIsFirstStamp() {
	sale := s.record("B", 2)
	s.Equal(sale.Stamps[0], sale.Unit.SoldAt)
	s.Equal(sale.Unit.SoldAt, s.l.ActiveUnits()[0].SoldAt)
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerSuite))
}

func TestAdjustOrderQuantityClampsAtZero(t *testing.T) {
	l := New(twoItems(t), WithOrderQuantity(1))
	require.Equal(t, uint(0), l.AdjustOrderQuantity(-1))
	require.Equal(t, uint(0), l.AdjustOrderQuantity(-1))
	require.Equal(t, uint(0), l.AdjustOrderQuantity(-100))
	require.Equal(t, uint(1), l.AdjustOrderQuantity(1))
	require.Equal(t, uint(4), l.AdjustOrderQuantity(3))
	require.Equal(t, uint(2), l.AdjustOrderQuantity(-2))
}

func TestUndoSaleRestoresPriorState(t *testing.T) {
	ctx := context.Background()
	for _, item := range []string{"A", "B"} {
		for q := uint(0); q <= 4; q++ {
			l := New(twoItems(t), WithClock(tickClock()))
			_, err := l.RecordSaleN(ctx, "A", 2)
			require.NoError(t, err)
			l.Reset(ctx)
			_, err = l.RecordSaleN(ctx, "B", 1)
			require.NoError(t, err)
			before := l.Snapshot()

			_, err = l.RecordSaleN(ctx, item, q)
			require.NoError(t, err)
			l.Undo(ctx)
			require.Equal(t, before, l.Snapshot(), "item %s quantity %d", item, q)
		}
	}
}

func TestRandomHistoriesStayConsistent(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	l := New(twoItems(t), WithClock(tickClock()))

	for step := 0; step < 2000; step++ {
		switch op := rng.Intn(10); {
		case op < 6:
			item := []string{"A", "B"}[rng.Intn(2)]
			_, err := l.RecordSaleN(ctx, item, uint(rng.Intn(5)))
			require.NoError(t, err)
		case op < 8:
			before := l.Snapshot()
			l.Reset(ctx)
			if rng.Intn(2) == 0 {
				l.Undo(ctx)
				require.Equal(t, before, l.Snapshot(), "step %d", step)
			}
		default:
			l.Undo(ctx)
		}

		events := l.Events()
		require.Equal(t, Derive(events), nilIfEmpty(l.ActiveUnits()), "step %d", step)

		orders := 0
		for _, e := range events[lastCheckpoint(events)+1:] {
			if _, ok := e.(Sale); ok {
				orders++
			}
		}
		require.Equal(t, orders, l.OrderCount(), "step %d", step)
	}
}

func nilIfEmpty(units []SoldUnit) []SoldUnit {
	if len(units) == 0 {
		return nil
	}
	return units
}

func TestDeriveHistory(t *testing.T) {
	a := Sale{Unit: SoldUnit{Name: "A"}, Quantity: 2}
	b := Sale{Unit: SoldUnit{Name: "B"}, Quantity: 1}

	require.Len(t, Derive([]Event{a, b}), 3)
	require.Len(t, Derive([]Event{a, Checkpoint{}, b}), 1)
	require.Empty(t, Derive([]Event{a, b, Checkpoint{}}))
	require.Empty(t, Derive(nil))
}

func TestRestorePrefersHistory(t *testing.T) {
	l := New(twoItems(t))
	history := []Event{
		Sale{Unit: SoldUnit{Name: "A"}, Quantity: 2},
		Checkpoint{},
		Sale{Unit: SoldUnit{Name: "B"}, Quantity: 1},
	}

	stored := []SoldUnit{{Name: "B", SoldAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}}
	l.Restore(Snapshot{Units: stored, Events: history})
	require.Equal(t, stored, l.ActiveUnits())
	require.Equal(t, 1, l.OrderCount())

	l.Restore(Snapshot{Units: []SoldUnit{{Name: "A"}}, Events: history})
	require.Equal(t, []SoldUnit{{Name: "B"}}, l.ActiveUnits())

	l.Undo(context.Background())
	l.Undo(context.Background())
	require.Equal(t, []SoldUnit{{Name: "A"}, {Name: "A"}}, l.ActiveUnits())
}

func TestReloadKeepsStateOnError(t *testing.T) {
	ctx := context.Background()
	l := New(twoItems(t))
	_, err := l.RecordSaleN(ctx, "A", 1)
	require.NoError(t, err)

	src := &memoryStore{loadErr: ErrDecode}
	err = l.Reload(ctx, src)
	require.ErrorIs(t, err, ErrDecode)
	require.Equal(t, 1, l.UnitCount())

	src = &memoryStore{load: Snapshot{Events: []Event{Checkpoint{}}}}
	require.NoError(t, l.Reload(ctx, src))
	require.Equal(t, 0, l.UnitCount())
	require.Equal(t, 0, l.OrderCount())
}

func TestFoldReportsStrayCheckpoint(t *testing.T) {
	a := Sale{Unit: SoldUnit{Name: "A"}, Quantity: 2}
	b := Sale{Unit: SoldUnit{Name: "B"}, Quantity: 1}

	var positions []int
	units := fold([]Event{a, Checkpoint{}, b}, func(pos int, e Event) {
		require.Equal(t, KindCheckpoint, e.Kind())
		positions = append(positions, pos)
	})
	require.Equal(t, []int{1}, positions)
	require.Equal(t, []SoldUnit{{Name: "A"}, {Name: "A"}, {Name: "B"}}, units)

	require.Len(t, fold([]Event{a, Checkpoint{}}, nil), 2)
}

func TestRecoverKeepsLoadedParts(t *testing.T) {
	ctx := context.Background()
	history := []Event{
		Sale{Unit: SoldUnit{Name: "A"}, Quantity: 2},
		Checkpoint{},
		Sale{Unit: SoldUnit{Name: "B"}, Quantity: 1},
	}

	// tally part broken: derived from the history
	l := New(twoItems(t))
	err := l.Recover(ctx, &memoryStore{load: Snapshot{Events: history}, loadErr: ErrDecode})
	require.ErrorIs(t, err, ErrDecode)
	require.Equal(t, history, l.Events())
	require.Equal(t, []SoldUnit{{Name: "B"}}, l.ActiveUnits())
	require.Equal(t, 1, l.OrderCount())

	// history part broken: stored tally kept
	units := []SoldUnit{{Name: "A"}, {Name: "B"}}
	l = New(twoItems(t))
	err = l.Recover(ctx, &memoryStore{load: Snapshot{Units: units}, loadErr: ErrDecode})
	require.ErrorIs(t, err, ErrDecode)
	require.Empty(t, l.Events())
	require.Equal(t, units, l.ActiveUnits())
	require.Equal(t, 0, l.OrderCount())

	// both broken: empty
	l = New(twoItems(t))
	require.Error(t, l.Recover(ctx, &memoryStore{loadErr: ErrIO}))
	require.Zero(t, l.UnitCount())

	// no error behaves like Reload
	l = New(twoItems(t))
	require.NoError(t, l.Recover(ctx, &memoryStore{load: Snapshot{Events: history}}))
	require.Equal(t, 1, l.UnitCount())
}
