// Triarb — a triangular-arbitrage bot for a single crypto spot exchange.
//
// Architecture:
//
//	main.go                — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go       — orchestrator: wires feeds → evaluator → trade pipeline, owns every goroutine
//	market/data.go         — book-top cache plus the triangle catalog precomputed for the allowed coins
//	arbitrage/evaluator.go — walks each triangle both ways, compounding fees, and emits the results
//	arbitrage/loop.go      — debounces ticker bursts and schedules evaluation rounds
//	bus/bus.go             — bounded queues between the stages, plus the global stop-trading flag
//	trade/manager.go       — gates positive chains (duplicates, profit, balances, filters), fires orders
//	trade/executor.go      — worker pool posting break-even limit orders and persisting the acks
//	trade/cancelator.go    — reaps our stale open orders so capital is not parked forever
//	trade/watcher.go       — consumes execution reports, persists fills, releases in-flight slots
//	balance/registry.go    — cached balances and rates, optimistically reduced as orders fire
//	risk/checker.go        — stop-loss watchdog flipping the stop-trading flag on drawdown
//	exchange/client.go     — signed REST client (orders, balances, catalog, fees)
//	exchange/ws.go         — WebSocket feeds (book tops + user data) with auto-reconnect
//	storage/               — Postgres or JSON-file persistence for orders and evaluated chains
//
// How it makes money:
//
//	Three markets connecting three coins sometimes disagree on the combined
//	exchange rate, so converting A→B→C→A ends with more A than it started
//	with. The bot watches every such triangle over the configured coins and
//	fires all three legs at once when a loop stays profitable after fees,
//	each leg priced at its own break-even so a partial fill cannot lose.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"triarb/internal/api"
	"triarb/internal/config"
	"triarb/internal/engine"
)

func main() {
	// Load config
	cfgPath := "config.yaml"
	if p := os.Getenv("TRIARB_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	// Create and start engine
	eng, err := engine.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	// Start status API server if enabled
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg.API, eng, *cfg, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("status server failed", "error", err)
			}
		}()
		logger.Info("status API started", "addr", cfg.API.ListenAddr)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.Exchange.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	// Stop the status API first
	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop status server", "error", err)
		}
	}

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
