// Package redisstore keeps the ledger in two Redis lists, one element per
// unit and one per event.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stalltally/internal/ledger"
	"github.com/odyssey-erp/stalltally/internal/platform/cache"
)

var _ ledger.Store = (*Store)(nil)

// Store is the Redis implementation of ledger.Store.
type Store struct {
	client   *redis.Client
	unitsKey string
	logKey   string
}

// New uses client with keys under prefix.
func New(client *redis.Client, prefix string) *Store {
	return &Store{
		client:   client,
		unitsKey: cache.Key(prefix, "active_units"),
		logKey:   cache.Key(prefix, "event_log"),
	}
}

// Open connects to addr and returns a store owning the client.
func Open(ctx context.Context, addr, prefix string) (*Store, error) {
	client, err := cache.New(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("redisstore: %w: %w", ledger.ErrIO, err)
	}
	return New(client, prefix), nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Save replaces both lists atomically.
func (s *Store) Save(ctx context.Context, snap ledger.Snapshot) error {
	units := make([]any, 0, len(snap.Units))
	for _, u := range snap.Units {
		raw, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("redisstore: encode unit: %w", err)
		}
		units = append(units, string(raw))
	}
	events := make([]any, 0, len(snap.Events))
	for _, e := range snap.Events {
		raw, err := ledger.MarshalEvent(e)
		if err != nil {
			return fmt.Errorf("redisstore: encode event: %w", err)
		}
		events = append(events, string(raw))
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.unitsKey, s.logKey)
		if len(units) > 0 {
			pipe.RPush(ctx, s.unitsKey, units...)
		}
		if len(events) > 0 {
			pipe.RPush(ctx, s.logKey, events...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstore: save: %w: %w", ledger.ErrIO, err)
	}
	return nil
}

// Load reads both lists. Missing keys load as empty.
func (s *Store) Load(ctx context.Context) (ledger.Snapshot, error) {
	var (
		snap ledger.Snapshot
		errs []error
	)
	if raws, err := s.client.LRange(ctx, s.unitsKey, 0, -1).Result(); err != nil {
		errs = append(errs, fmt.Errorf("redisstore: read units: %w: %w", ledger.ErrIO, err))
	} else if units, err := decodeUnits(raws); err != nil {
		errs = append(errs, fmt.Errorf("redisstore: %s: %w", s.unitsKey, err))
	} else {
		snap.Units = units
	}

	if raws, err := s.client.LRange(ctx, s.logKey, 0, -1).Result(); err != nil {
		errs = append(errs, fmt.Errorf("redisstore: read log: %w: %w", ledger.ErrIO, err))
	} else if events, err := decodeEvents(raws); err != nil {
		errs = append(errs, fmt.Errorf("redisstore: %s: %w", s.logKey, err))
	} else {
		snap.Events = events
	}
	return snap, errors.Join(errs...)
}

func decodeUnits(raws []string) ([]ledger.SoldUnit, error) {
	if len(raws) == 0 {
		return nil, nil
	}
	units := make([]ledger.SoldUnit, 0, len(raws))
	for i, raw := range raws {
		var u ledger.SoldUnit
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			return nil, fmt.Errorf("unit %d: %w: %w", i, ledger.ErrDecode, err)
		}
		units = append(units, u)
	}
	return units, nil
}

func decodeEvents(raws []string) ([]ledger.Event, error) {
	if len(raws) == 0 {
		return nil, nil
	}
	events := make([]ledger.Event, 0, len(raws))
	for i, raw := range raws {
		e, err := ledger.UnmarshalEvent([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		events = append(events, e)
	}
	return events, nil
}
