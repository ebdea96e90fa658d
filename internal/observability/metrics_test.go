package observability

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stalltally/internal/catalog"
	"github.com/odyssey-erp/stalltally/internal/ledger"
)

func TestMetricsFollowLedger(t *testing.T) {
	ctx := context.Background()
	metrics := NewMetrics()
	l := ledger.New(catalog.Default(), ledger.WithObserver(metrics))

	_, err := l.RecordSaleN(ctx, "チョコ", 3)
	require.NoError(t, err)
	_, err = l.RecordSaleN(ctx, "チョコ", 2)
	require.NoError(t, err)
	l.Reset(ctx)
	l.Undo(ctx)
	l.Undo(ctx)

	require.Equal(t, 2.0, testutil.ToFloat64(metrics.orders.WithLabelValues("チョコ")))
	require.Equal(t, 5.0, testutil.ToFloat64(metrics.units.WithLabelValues("チョコ")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.resets))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.undos.WithLabelValues("checkpoint")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.undos.WithLabelValues("sale")))
	require.Equal(t, 3.0, testutil.ToFloat64(metrics.activeUnits))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.orderCount))
}

func TestRunTextfileWritesOnShutdown(t *testing.T) {
	metrics := NewMetrics()
	metrics.FlushFailed(nil)
	path := filepath.Join(t.TempDir(), "stalltally.prom")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, metrics.RunTextfile(ctx, path, time.Hour, slog.Default()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(data), "stalltally_flush_failures_total 1"), string(data))
}
