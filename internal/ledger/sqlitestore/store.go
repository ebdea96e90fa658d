// Package sqlitestore provides a SQLite-backed ledger.Store.
//
// The two parts of the ledger live in their own tables. A save replaces the
// contents of both inside one transaction, so readers never see a tally from
// one save next to a history from another.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	// Pure-Go driver, registered as "sqlite".
	_ "modernc.org/sqlite"

	"github.com/odyssey-erp/stalltally/internal/ledger"
)

const schema = `
CREATE TABLE IF NOT EXISTS active_units (
    pos      INTEGER PRIMARY KEY,
    name     TEXT    NOT NULL,
    sold_at  TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS event_log (
    seq       INTEGER PRIMARY KEY,
    kind      TEXT    NOT NULL,
    order_id  TEXT    NOT NULL DEFAULT '',
    item      TEXT    NOT NULL DEFAULT '',
    sold_at   TEXT    NOT NULL DEFAULT '',
    quantity  INTEGER NOT NULL DEFAULT 0,
    -- JSON array of per-unit timestamps, empty for legacy rows
    stamps    TEXT    NOT NULL DEFAULT '[]'
);
`

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

var _ ledger.Store = (*Store)(nil)

// Store is the SQLite implementation of ledger.Store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %q: %w: %w", path, ledger.ErrIO, err)
	}
	// one writer; the ledger has a single owner anyway
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: apply schema: %w: %w", ledger.ErrIO, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save replaces both tables with the snapshot.
func (s *Store) Save(ctx context.Context, snap ledger.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin: %w: %w", ledger.ErrIO, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := replaceUnits(ctx, tx, snap.Units); err != nil {
		return err
	}
	if err := replaceEvents(ctx, tx, snap.Events); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlitestore: commit: %w: %w", ledger.ErrIO, err)
	}
	return nil
}

func replaceUnits(ctx context.Context, tx *sql.Tx, units []ledger.SoldUnit) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM active_units`); err != nil {
		return fmt.Errorf("sqlitestore: clear units: %w: %w", ledger.ErrIO, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO active_units (pos, name, sold_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlitestore: prepare units: %w: %w", ledger.ErrIO, err)
	}
	defer stmt.Close()
	for i, u := range units {
		if _, err := stmt.ExecContext(ctx, i, u.Name, formatTime(u.SoldAt)); err != nil {
			return fmt.Errorf("sqlitestore: insert unit %d: %w: %w", i, ledger.ErrIO, err)
		}
	}
	return nil
}

func replaceEvents(ctx context.Context, tx *sql.Tx, events []ledger.Event) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM event_log`); err != nil {
		return fmt.Errorf("sqlitestore: clear log: %w: %w", ledger.ErrIO, err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO event_log (seq, kind, order_id, item, sold_at, quantity, stamps)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlitestore: prepare log: %w: %w", ledger.ErrIO, err)
	}
	defer stmt.Close()

	for i, ev := range events {
		var args []any
		switch e := ev.(type) {
		case ledger.Sale:
			stamps, err := encodeStamps(e.Stamps)
			if err != nil {
				return err
			}
			args = []any{i, string(ledger.KindSale), e.ID.String(), e.Unit.Name, formatTime(e.Unit.SoldAt), int64(e.Quantity), stamps}
		case ledger.Checkpoint:
			args = []any{i, string(ledger.KindCheckpoint), "", "", "", 0, "[]"}
		default:
			return fmt.Errorf("sqlitestore: cannot store event %T", ev)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("sqlitestore: insert event %d: %w: %w", i, ledger.ErrIO, err)
		}
	}
	return nil
}

// Load reads both tables. Empty tables load as an empty snapshot.
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
	rows, err := s.db.QueryContext(ctx, `SELECT name, sold_at FROM active_units ORDER BY pos`)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: query units: %w: %w", ledger.ErrIO, err)
	}
	defer rows.Close()

	var units []ledger.SoldUnit
	for rows.Next() {
		var (
			u      ledger.SoldUnit
			soldAt string
		)
		if err := rows.Scan(&u.Name, &soldAt); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan unit: %w: %w", ledger.ErrIO, err)
		}
		if u.SoldAt, err = parseTime(soldAt); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitestore: iterate units: %w: %w", ledger.ErrIO, err)
	}
	return units, nil
}

func (s *Store) loadEvents(ctx context.Context) ([]ledger.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, order_id, item, sold_at, quantity, stamps
		FROM   event_log
		ORDER  BY seq`)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: query log: %w: %w", ledger.ErrIO, err)
	}
	defer rows.Close()

	var events []ledger.Event
	for rows.Next() {
		var (
			kind, orderID, item, soldAt, stamps string
			quantity                            int64
		)
		if err := rows.Scan(&kind, &orderID, &item, &soldAt, &quantity, &stamps); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan event: %w: %w", ledger.ErrIO, err)
		}
		switch ledger.EventKind(kind) {
		case ledger.KindCheckpoint:
			events = append(events, ledger.Checkpoint{})
		case ledger.KindSale:
			sale, err := decodeSale(orderID, item, soldAt, quantity, stamps)
			if err != nil {
				return nil, err
			}
			events = append(events, sale)
		default:
			return nil, fmt.Errorf("sqlitestore: %w: unknown event kind %q", ledger.ErrDecode, kind)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitestore: iterate log: %w: %w", ledger.ErrIO, err)
	}
	return events, nil
}

func decodeSale(orderID, item, soldAt string, quantity int64, stamps string) (ledger.Sale, error) {
	if quantity < 0 {
		return ledger.Sale{}, fmt.Errorf("sqlitestore: %w: negative quantity %d", ledger.ErrDecode, quantity)
	}
	sale := ledger.Sale{Unit: ledger.SoldUnit{Name: item}, Quantity: uint(quantity)}
	var err error
	if orderID != "" {
		if sale.ID, err = uuid.Parse(orderID); err != nil {
			return ledger.Sale{}, fmt.Errorf("sqlitestore: %w: order id: %w", ledger.ErrDecode, err)
		}
	}
	if sale.Unit.SoldAt, err = parseTime(soldAt); err != nil {
		return ledger.Sale{}, err
	}
	if err := json.Unmarshal([]byte(stamps), &sale.Stamps); err != nil {
		return ledger.Sale{}, fmt.Errorf("sqlitestore: %w: stamps: %w", ledger.ErrDecode, err)
	}
	if len(sale.Stamps) == 0 {
		sale.Stamps = nil
	} else if uint(len(sale.Stamps)) != sale.Quantity {
		return ledger.Sale{}, fmt.Errorf("sqlitestore: %w: %d stamps for quantity %d", ledger.ErrDecode, len(sale.Stamps), sale.Quantity)
	}
	return sale, nil
}

func encodeStamps(stamps []time.Time) (string, error) {
	if len(stamps) == 0 {
		return "[]", nil
	}
	raw, err := json.Marshal(stamps)
	if err != nil {
		return "", fmt.Errorf("sqlitestore: encode stamps: %w", err)
	}
	return string(raw), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlitestore: %w: parse time %q: %w", ledger.ErrDecode, s, err)
	}
	return t, nil
}
