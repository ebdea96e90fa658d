// Package pgstore persists the ledger in PostgreSQL.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stalltally/internal/ledger"
	"github.com/odyssey-erp/stalltally/internal/platform/db"
)

const schema = `
CREATE TABLE IF NOT EXISTS tally_active_units (
    pos      INTEGER     PRIMARY KEY,
    name     TEXT        NOT NULL,
    sold_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS tally_event_log (
    seq       INTEGER       PRIMARY KEY,
    kind      TEXT          NOT NULL CHECK (kind IN ('sale', 'checkpoint')),
    order_id  UUID,
    item      TEXT,
    sold_at   TIMESTAMPTZ,
    quantity  BIGINT        NOT NULL DEFAULT 0 CHECK (quantity >= 0),
    stamps    TIMESTAMPTZ[]
);
`

var _ ledger.Store = (*Store)(nil)

// Store persists the ledger through a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. Call Migrate before first use.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := db.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: %w: %w", ledger.ErrIO, err)
	}
	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("pgstore: apply schema: %w: %w", ledger.ErrIO, err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Save replaces both tables in one transaction.
func (s *Store) Save(ctx context.Context, snap ledger.Snapshot) error {
	unitRows := make([][]any, 0, len(snap.Units))
	for i, u := range snap.Units {
		unitRows = append(unitRows, []any{int32(i), u.Name, u.SoldAt})
	}
	eventRows := make([][]any, 0, len(snap.Events))
	for i, ev := range snap.Events {
		switch e := ev.(type) {
		case ledger.Sale:
			eventRows = append(eventRows, []any{
				int32(i), string(ledger.KindSale),
				pgtype.UUID{Bytes: e.ID, Valid: true},
				e.Unit.Name, e.Unit.SoldAt, int64(e.Quantity), e.Stamps,
			})
		case ledger.Checkpoint:
			eventRows = append(eventRows, []any{int32(i), string(ledger.KindCheckpoint), nil, nil, nil, int64(0), nil})
		default:
			return fmt.Errorf("pgstore: cannot store event %T", ev)
		}
	}

	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM tally_active_units`); err != nil {
			return fmt.Errorf("pgstore: clear units: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM tally_event_log`); err != nil {
			return fmt.Errorf("pgstore: clear log: %w", err)
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"tally_active_units"},
			[]string{"pos", "name", "sold_at"}, pgx.CopyFromRows(unitRows)); err != nil {
			return fmt.Errorf("pgstore: copy units: %w", err)
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"tally_event_log"},
			[]string{"seq", "kind", "order_id", "item", "sold_at", "quantity", "stamps"},
			pgx.CopyFromRows(eventRows)); err != nil {
			return fmt.Errorf("pgstore: copy log: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrIO, err)
	}
	return nil
}

// Load reads both tables independently.
func (s *Store) Load(ctx context.Context) (ledger.Snapshot, error) {
	var snap ledger.Snapshot
	units, unitsErr := s.loadUnits(ctx)
	if unitsErr == nil {
		snap.Units = units
	}
	events, eventsErr := s.loadEvents(ctx)
	if eventsErr == nil {
		snap.Events = events
	}
	return snap, errors.Join(unitsErr, eventsErr)
}

func (s *Store) loadUnits(ctx context.Context) ([]ledger.SoldUnit, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, sold_at FROM tally_active_units ORDER BY pos`)
	if err != nil {
		return nil, fmt.Errorf("pgstore: query units: %w: %w", ledger.ErrIO, err)
	}
	units, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.SoldUnit, error) {
		var u ledger.SoldUnit
		if err := row.Scan(&u.Name, &u.SoldAt); err != nil {
			return ledger.SoldUnit{}, err
		}
		u.SoldAt = u.SoldAt.UTC()
		return u, nil
	})
	if err != nil {
		return nil, fmt.Errorf("pgstore: scan units: %w: %w", ledger.ErrIO, err)
	}
	return units, nil
}

type eventRow struct {
	kind     string
	orderID  pgtype.UUID
	item     pgtype.Text
	soldAt   pgtype.Timestamptz
	quantity int64
	stamps   []time.Time
}

func (s *Store) loadEvents(ctx context.Context) ([]ledger.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT kind, order_id, item, sold_at, quantity, stamps
		FROM   tally_event_log
		ORDER  BY seq`)
	if err != nil {
		return nil, fmt.Errorf("pgstore: query log: %w: %w", ledger.ErrIO, err)
	}
	raw, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (eventRow, error) {
		var r eventRow
		err := row.Scan(&r.kind, &r.orderID, &r.item, &r.soldAt, &r.quantity, &r.stamps)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("pgstore: scan log: %w: %w", ledger.ErrIO, err)
	}

	events := make([]ledger.Event, 0, len(raw))
	for i, r := range raw {
		switch ledger.EventKind(r.kind) {
		case ledger.KindCheckpoint:
			events = append(events, ledger.Checkpoint{})
		case ledger.KindSale:
			sale, err := r.sale()
			if err != nil {
				return nil, fmt.Errorf("pgstore: event %d: %w", i, err)
			}
			events = append(events, sale)
		default:
			return nil, fmt.Errorf("pgstore: %w: unknown event kind %q", ledger.ErrDecode, r.kind)
		}
	}
	return events, nil
}

func (r eventRow) sale() (ledger.Sale, error) {
	if !r.item.Valid || !r.soldAt.Valid {
		return ledger.Sale{}, fmt.Errorf("%w: sale without item or time", ledger.ErrDecode)
	}
	if r.quantity < 0 {
		return ledger.Sale{}, fmt.Errorf("%w: negative quantity %d", ledger.ErrDecode, r.quantity)
	}
	sale := ledger.Sale{
		Unit:     ledger.SoldUnit{Name: r.item.String, SoldAt: r.soldAt.Time.UTC()},
		Quantity: uint(r.quantity),
	}
	if r.orderID.Valid {
		sale.ID = uuid.UUID(r.orderID.Bytes)
	}
	if len(r.stamps) > 0 {
		if uint(len(r.stamps)) != sale.Quantity {
			return ledger.Sale{}, fmt.Errorf("%w: %d stamps for quantity %d", ledger.ErrDecode, len(r.stamps), sale.Quantity)
		}
		sale.Stamps = make([]time.Time, len(r.stamps))
		for i, at := range r.stamps {
			sale.Stamps[i] = at.UTC()
		}
	}
	return sale, nil
}
