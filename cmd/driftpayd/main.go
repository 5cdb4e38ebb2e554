// Command driftpayd runs the transfer relay daemon: it keeps the on-device
// ledger, accepts relayed payloads from a local peer, broadcasts to the
// network node, and drains the offline backlog whenever connectivity returns.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"driftpay/broadcast"
	"driftpay/config"
	"driftpay/db"
	"driftpay/delivery"
	"driftpay/ledger"
	"driftpay/peer"
	"driftpay/queue"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("daemon exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	ldg := ledger.NewService(store, logger)

	node := broadcast.NewClient(cfg.NodeAPIURL, cfg.AttemptTimeout, logger)

	var peerTransport delivery.PeerTransport
	var peerClient *peer.Client
	if cfg.PeerURL != "" {
		peerClient = peer.NewClient(cfg.PeerURL, logger)
		defer peerClient.Close()
		peerTransport = peerClient
	}

	processor := queue.NewProcessor(ldg, nil, logger)
	orchestrator := delivery.NewOrchestrator(ldg, peerTransport, node, delivery.Config{
		NetworkPrefix:  cfg.NetworkPrefix,
		AttemptTimeout: cfg.AttemptTimeout,
		Online:         processor.Online,
		Logger:         logger,
	})
	processor.SetDeliverer(orchestrator)

	if cfg.PeerListenAddr != "" {
		listener := peer.NewListener(cfg.PeerListenAddr, orchestrator, logger)
		go func() {
			if err := listener.Start(); err != nil {
				logger.Error("peer listener failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			listener.Shutdown(shutdownCtx)
		}()
	}

	events, unsubscribe := ldg.Subscribe()
	defer unsubscribe()
	go logTransitions(logger, events)

	go watchConnectivity(ctx, cfg.ConnectivityInterval, node, processor, logger)

	logger.Info("driftpayd started",
		zap.String("network_prefix", cfg.NetworkPrefix),
		zap.String("node_api", cfg.NodeAPIURL),
		zap.Bool("peer_channel", peerTransport != nil))

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (ledger.Store, func(), error) {
	if cfg.PostgresDSN != "" {
		pool, err := db.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := ledger.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("ledger backed by postgres")
		return ledger.NewPostgresStore(pool), pool.Close, nil
	}

	database, err := db.OpenBadger(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}
	store, err := ledger.NewBadgerStore(database)
	if err != nil {
		database.Close()
		return nil, nil, err
	}
	logger.Info("ledger backed by badger", zap.String("path", cfg.DataDir))
	return store, func() {
		store.Close()
		database.Close()
	}, nil
}

// watchConnectivity probes the node on an interval and feeds the edge into the
// processor, which triggers the backlog drain on each reconnect.
func watchConnectivity(ctx context.Context, interval time.Duration, node *broadcast.Client, processor *queue.Processor, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		probeCtx, cancel := context.WithTimeout(ctx, interval)
		err := node.Health(probeCtx)
		cancel()

		online := err == nil
		if online != processor.Online() {
			logger.Info("connectivity changed", zap.Bool("online", online))
		}
		processor.SetOnline(ctx, online)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func logTransitions(logger *zap.Logger, events <-chan ledger.Event) {
	for ev := range events {
		fields := []zap.Field{
			zap.String("id", ev.RecordID),
			zap.String("status", string(ev.Status)),
		}
		if ev.Previous != "" {
			fields = append(fields, zap.String("previous", string(ev.Previous)))
		}
		if ev.NetworkID != "" {
			fields = append(fields, zap.String("network_id", ev.NetworkID))
		}
		if ev.Terminal {
			logger.Info("record reached terminal status", fields...)
			continue
		}
		logger.Debug("record status changed", fields...)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
