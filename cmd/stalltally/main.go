package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/stalltally/internal/app"
	"github.com/odyssey-erp/stalltally/internal/console"
	"github.com/odyssey-erp/stalltally/internal/ledger"
	"github.com/odyssey-erp/stalltally/internal/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger, closeLog, err := app.NewLogger(cfg)
	if err != nil {
		slog.Default().Error("init logger", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := closeLog(); err != nil {
			slog.Default().Warn("close log file", slog.Any("error", err))
		}
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("stalltally stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	cat, err := cfg.ItemCatalog()
	if err != nil {
		return err
	}

	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("close store", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	var (
		persister ledger.Persister = store
		flusher   *ledger.Flusher
	)
	if cfg.AsyncFlush() {
		flusher = ledger.NewFlusher(store, logger, metrics)
		persister = flusher
	}

	opts := append(cfg.LedgerOptions(),
		ledger.WithPersister(persister),
		ledger.WithObserver(metrics),
		ledger.WithLogger(logger),
	)
	l := ledger.New(cat, opts...)
	if err := l.Recover(ctx, store); err != nil {
		logger.Error("load tally, continuing with what loaded", slog.Any("error", err))
	}
	logger.Info("stalltally ready",
		slog.String("store", cfg.StoreDriver),
		slog.String("flush", cfg.FlushMode),
		slog.Int("units", l.UnitCount()),
		slog.Int("orders", l.OrderCount()))

	front := console.New(l, os.Stdin, os.Stdout, console.WithLoader(store), console.WithLogger(logger))
	var background []func(context.Context) error
	if cfg.MetricsTextfile != "" {
		background = append(background, func(ctx context.Context) error {
			return metrics.RunTextfile(ctx, cfg.MetricsTextfile, cfg.MetricsInterval, logger)
		})
	}
	return serve(ctx, logger, l, front.Run, flusher, background...)
}

// serve runs the front end next to the background tasks. The flusher gets
// its own context and is stopped only after the front end has returned and
// the final snapshot is queued, so that snapshot is always written.
func serve(ctx context.Context, logger *slog.Logger, l *ledger.Ledger, front func(context.Context) error,
	flusher *ledger.Flusher, background ...func(context.Context) error) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	flushCtx, stopFlush := context.WithCancel(context.WithoutCancel(ctx))
	defer stopFlush()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancel()
		defer stopFlush()
		err := front(gctx)
		if ferr := l.Flush(context.WithoutCancel(gctx)); ferr != nil {
			logger.Error("final flush", slog.Any("error", ferr))
		}
		return err
	})
	if flusher != nil {
		g.Go(func() error { return flusher.Run(flushCtx) })
	}
	for _, task := range background {
		g.Go(func() error { return task(gctx) })
	}
	return g.Wait()
}
