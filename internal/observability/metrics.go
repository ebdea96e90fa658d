package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/stalltally/internal/ledger"
)

var _ ledger.Observer = (*Metrics)(nil)

// Metrics collects Prometheus metrics for the tally. There is no HTTP
// endpoint; the registry is written to a node_exporter textfile instead.
type Metrics struct {
	registry    *prometheus.Registry
	orders      *prometheus.CounterVec
	units       *prometheus.CounterVec
	undos       *prometheus.CounterVec
	resets      prometheus.Counter
	flushFailed prometheus.Counter
	activeUnits prometheus.Gauge
	orderCount  prometheus.Gauge
}

// NewMetrics initialises the registry and the ledger metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stalltally_orders_total",
			Help: "Orders recorded per item.",
		}, []string{"item"}),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stalltally_units_total",
			Help: "Units sold per item.",
		}, []string{"item"}),
		undos: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stalltally_undos_total",
			Help: "Undone events by kind.",
		}, []string{"kind"}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stalltally_resets_total",
			Help: "Tally resets.",
		}),
		flushFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stalltally_flush_failures_total",
			Help: "Failed persistence flushes.",
		}),
		activeUnits: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stalltally_active_units",
			Help: "Units in the current tally.",
		}),
		orderCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stalltally_order_count",
			Help: "Orders since the last reset.",
		}),
	}
	m.registry.MustRegister(m.orders, m.units, m.undos, m.resets, m.flushFailed, m.activeUnits, m.orderCount)
	return m
}

// Registerer exposes the registry for extra collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// SaleRecorded implements ledger.Observer.
func (m *Metrics) SaleRecorded(sale ledger.Sale) {
	m.orders.WithLabelValues(sale.Unit.Name).Inc()
	m.units.WithLabelValues(sale.Unit.Name).Add(float64(sale.Quantity))
}

// EventUndone implements ledger.Observer.
func (m *Metrics) EventUndone(e ledger.Event) {
	m.undos.WithLabelValues(string(e.Kind())).Inc()
}

// TallyReset implements ledger.Observer.
func (m *Metrics) TallyReset() {
	m.resets.Inc()
}

// StateChanged implements ledger.Observer.
func (m *Metrics) StateChanged(units, orders int) {
	m.activeUnits.Set(float64(units))
	m.orderCount.Set(float64(orders))
}

// FlushFailed implements ledger.Observer.
func (m *Metrics) FlushFailed(error) {
	m.flushFailed.Inc()
}

// WriteTextfile writes the registry in the text exposition format. The file
// is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("observability: write textfile: %w", err)
	}
	return nil
}

// RunTextfile rewrites path every interval until ctx is done, then once more.
func (m *Metrics) RunTextfile(ctx context.Context, path string, every time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := m.WriteTextfile(path); err != nil {
				logger.Warn("metrics textfile", slog.Any("error", err))
			}
		case <-ctx.Done():
			if err := m.WriteTextfile(path); err != nil {
				logger.Warn("metrics textfile", slog.Any("error", err))
			}
			return nil
		}
	}
}
