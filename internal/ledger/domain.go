package ledger

import (
	"time"

	"github.com/google/uuid"
)

// DefaultOrderQuantity is the number of units a single button press sells
// until the operator changes it.
const DefaultOrderQuantity uint = 3

// SoldUnit is one physical unit handed over the counter.
type SoldUnit struct {
	Name   string    `json:"name"`
	SoldAt time.Time `json:"time"`
}

// EventKind tags the variants of Event in storage.
type EventKind string

const (
	// KindSale marks a recorded order.
	KindSale EventKind = "sale"
	// KindCheckpoint marks a reset boundary.
	KindCheckpoint EventKind = "checkpoint"
)

// Event is an entry of the order history. The only implementations are Sale
// and Checkpoint.
type Event interface {
	Kind() EventKind
	event()
}

// Sale is one order: Quantity units of a single item sold by one press.
// Stamps carries one timestamp per replica; entries written without stamps
// replicate Unit instead.
type Sale struct {
	ID       uuid.UUID
	Unit     SoldUnit
	Quantity uint
	Stamps   []time.Time
}

// Kind implements Event.
func (Sale) Kind() EventKind { return KindSale }

func (Sale) event() {}

// Units expands the order into the units it put in the tally.
func (s Sale) Units() []SoldUnit {
	if s.Quantity == 0 {
		return nil
	}
	units := make([]SoldUnit, s.Quantity)
	if uint(len(s.Stamps)) == s.Quantity {
		for i, at := range s.Stamps {
			units[i] = SoldUnit{Name: s.Unit.Name, SoldAt: at}
		}
		return units
	}
	for i := range units {
		units[i] = s.Unit
	}
	return units
}

// Checkpoint is a reset marker. Sales before it leave the tally but stay in
// the history.
type Checkpoint struct{}

// Kind implements Event.
func (Checkpoint) Kind() EventKind { return KindCheckpoint }

func (Checkpoint) event() {}

// ItemCount is the tally of one catalog item.
type ItemCount struct {
	Name  string
	Count int
}

// Snapshot is a point-in-time copy of the persisted ledger state.
type Snapshot struct {
	Units  []SoldUnit
	Events []Event
}

// Derive returns the units in the tally for the given history: every sale
// after the last checkpoint, flattened in order.
func Derive(events []Event) []SoldUnit {
	return fold(events[lastCheckpoint(events)+1:], nil)
}

func lastCheckpoint(events []Event) int {
	for i := len(events) - 1; i >= 0; i-- {
		if _, ok := events[i].(Checkpoint); ok {
			return i
		}
	}
	return -1
}

// fold flattens sales. Anything that is not a sale is reported through
// unexpected and skipped.
func fold(events []Event, unexpected func(pos int, e Event)) []SoldUnit {
	var units []SoldUnit
	for i, ev := range events {
		switch e := ev.(type) {
		case Sale:
			units = append(units, e.Units()...)
		case Checkpoint:
			if unexpected != nil {
				unexpected(i, e)
			}
		default:
			if unexpected != nil {
				unexpected(i, e)
			}
		}
	}
	return units
}
