package main

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stalltally/internal/catalog"
	"github.com/odyssey-erp/stalltally/internal/ledger"
)

type recordingStore struct {
	mu    sync.Mutex
	saved []ledger.Snapshot
}

func (r *recordingStore) Save(_ context.Context, snap ledger.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, snap)
	return nil
}

func (r *recordingStore) last() ledger.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saved[len(r.saved)-1]
}

func TestServeWritesFinalSnapshotAfterCancel(t *testing.T) {
	store := &recordingStore{}
	flusher := ledger.NewFlusher(store, slog.Default(), nil)
	l := ledger.New(catalog.Default(), ledger.WithPersister(flusher))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// the front end sees the cancellation and still mutates on its way out
	front := func(ctx context.Context) error {
		<-ctx.Done()
		_, err := l.RecordSaleN(context.Background(), "チョコ", 2)
		return err
	}
	require.NoError(t, serve(ctx, slog.Default(), l, front, flusher))

	last := store.last()
	require.Len(t, last.Events, 1)
	require.Len(t, last.Units, 2)
}

func TestServeStopsBackgroundWithFrontEnd(t *testing.T) {
	store := &recordingStore{}
	l := ledger.New(catalog.Default(), ledger.WithPersister(store))

	stopped := make(chan struct{})
	background := func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return nil
	}
	front := func(context.Context) error {
		_, err := l.RecordSaleN(context.Background(), "いちご", 1)
		return err
	}
	require.NoError(t, serve(context.Background(), slog.Default(), l, front, nil, background))

	<-stopped
	require.Len(t, store.last().Events, 1)
}
