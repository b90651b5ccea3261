// cmd/tierbank/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FairForge/tierbank/internal/api"
	"github.com/FairForge/tierbank/internal/bank"
	"github.com/FairForge/tierbank/internal/config"
	"github.com/FairForge/tierbank/internal/filebank"
	"github.com/FairForge/tierbank/internal/hotstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", config.GetEnvOrDefault("TIERBANK_CONFIG", ""), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tierbank: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tierbank: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("tierbank failed", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	if lvl == zapcore.DebugLevel {
		return zap.NewDevelopment()
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []bank.Option{bank.WithRegisterer(reg)}
	if !cfg.Bank.DisableHotStorage {
		store, err := hotstore.Open(ctx, cfg.HotStoreOptions())
		if err != nil {
			return fmt.Errorf("open hot store: %w", err)
		}
		opts = append(opts, bank.WithHotStore(store))
		// a custom store outlives the bank
		defer func() { _ = store.Close() }()
	}

	fb, err := filebank.New(cfg.Watch.Dir, cfg.Watch.Extensions, cfg.ToBankConfig(), filebank.Builder{}, logger, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := fb.Close(); err != nil {
			logger.Error("close bank", zap.Error(err))
		}
	}()

	n, err := fb.Scan(fb.Root())
	if err != nil {
		return err
	}
	logger.Info("bank ready",
		zap.String("name", fb.Name()),
		zap.String("root", fb.Root()),
		zap.Int("items", n),
		zap.Bool("background", fb.Async()),
	)

	cancelObserver := fb.ObserveCacheLevel(func(e bank.LevelEvent) {
		logger.Debug("cache level changed",
			zap.String("item", e.Path),
			zap.Stringer("from", e.From),
			zap.Stringer("to", e.To),
		)
	})
	defer cancelObserver()

	watcher, err := filebank.NewWatcher(fb, logger)
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()
	go func() {
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("watcher stopped", zap.Error(err))
		}
	}()

	go pumpNotifications(ctx, fb)
	go purgeLoop(ctx, fb, cfg.Bank.PurgeInterval)

	metrics, err := api.NewMetrics(reg)
	if err != nil {
		return err
	}
	server := api.NewServer(cfg.Server.Addr, fb, metrics, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	return nil
}

// pumpNotifications delivers background notifications on this goroutine
func pumpNotifications(ctx context.Context, fb *filebank.Bank) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-fb.NotifyReady():
			fb.DispatchNotifications()
		}
	}
}

func purgeLoop(ctx context.Context, fb *filebank.Bank, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fb.Purge()
		}
	}
}
