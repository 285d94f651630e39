// Package engine is the central orchestrator of the arbitrage bot.
//
// It wires together all subsystems:
//
//  1. The ticker feed mirrors book-tops into the market data and queues every
//     update for evaluation.
//  2. The arbitrage loop evaluates the triangles touching each updated market
//     and queues positive chains for trading.
//  3. The trade manager gates each chain (stop flag, duplicates, profit,
//     balances, exchange filters), shrinks volumes and fires break-even limit
//     orders through the executor pool.
//  4. The user-data feed reports order state changes to the watcher, which
//     persists them and releases in-flight slots.
//  5. Around the pipeline: the balance updater and stop-loss checker, the
//     stale-order cancelator, the optional rebalancer and the two telemetry
//     sinks.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"triarb/internal/arbitrage"
	"triarb/internal/balance"
	"triarb/internal/bus"
	"triarb/internal/config"
	"triarb/internal/exchange"
	"triarb/internal/market"
	"triarb/internal/metrics"
	"triarb/internal/risk"
	"triarb/internal/storage"
	"triarb/internal/telemetry"
	"triarb/internal/trade"
	"triarb/pkg/types"
)

// queueSampleInterval is how often the bus queue depths are exported as
// gauges.
const queueSampleInterval = 5 * time.Second

// shutdownTimeout bounds the drain and the open-order reap during Stop.
const shutdownTimeout = 10 * time.Second

// fileChains adapts the file store's chain side to the telemetry sink
// interface, whose Put takes a chain rather than an order.
type fileChains struct {
	fs *storage.FileStore
}

func (w fileChains) Put(ctx context.Context, c *types.Chain) error {
	return w.fs.PutChain(ctx, c)
}

// Engine orchestrates all components of the arbitrage system. It owns the
// lifecycle of every goroutine; the components only know the bus and their
// direct collaborators.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	bus         *bus.Bus
	client      *exchange.Client
	limitations *exchange.Limitations
	registry    *balance.Registry
	inFlight    *trade.InFlight
	metricsSrv  *metrics.Server

	// Persistence seams. Both backends satisfy the same three interfaces;
	// closeStore tears down whichever one was opened.
	orders       trade.OrderWriter
	chainWriter  telemetry.ChainWriter
	chainBatches telemetry.ChainBatchWriter
	closeStore   func() error

	// Built during bootstrap, once the exchange catalog is known.
	// dataMu guards data against the status API reading it mid-bootstrap.
	dataMu     sync.RWMutex
	data       *market.Data
	cancelator *trade.Cancelator

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the engine and everything that does not depend on the exchange
// catalog. Opening the order store happens here; the catalog-dependent parts
// (market data, feeds, evaluator) are built by Start.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	signer := exchange.NewSigner(cfg.Exchange.APIKey, cfg.Exchange.APISecret)
	signer.SetRecvWindow(cfg.Exchange.RecvWindowMs)
	client := exchange.NewClient(cfg.Exchange, signer, logger)

	e := &Engine{
		cfg:         cfg,
		logger:      logger.With("component", "engine"),
		bus:         bus.New(busSizes(cfg.Bus), logger),
		client:      client,
		limitations: exchange.NewLimitations(logger),
		registry:    balance.NewRegistry(cfg.Coins.USDCoin, logger),
		inFlight:    trade.NewInFlight(),
	}

	if err := e.openStore(cfg.Storage, logger); err != nil {
		return nil, err
	}

	if cfg.Metrics.ListenAddr != "" {
		e.metricsSrv = metrics.NewServer(cfg.Metrics.ListenAddr, logger)
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e, nil
}

// openStore picks the persistence backend: Postgres when a DSN is set,
// otherwise JSON files.
func (e *Engine) openStore(cfg config.StorageConfig, logger *slog.Logger) error {
	if cfg.DSN != "" {
		db, err := storage.Open(context.Background(), cfg.DSN)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		if err := storage.EnsureSchema(context.Background(), db); err != nil {
			db.Close()
			return fmt.Errorf("ensure schema: %w", err)
		}
		e.orders = storage.NewOrders(db)
		chains := storage.NewChains(db)
		e.chainWriter = chains
		e.chainBatches = chains
		e.closeStore = db.Close
		logger.Info("using database storage")
		return nil
	}

	fs, err := storage.OpenFileStore(cfg.Dir)
	if err != nil {
		return fmt.Errorf("open file store: %w", err)
	}
	e.orders = fs
	e.chainWriter = fileChains{fs}
	e.chainBatches = fs
	e.closeStore = fs.Close
	logger.Info("using file storage", "dir", cfg.Dir)
	return nil
}

// Start fetches the exchange catalog, builds the market model and launches
// every pipeline goroutine.
func (e *Engine) Start() error {
	cfg := e.cfg
	logger := e.logger

	// ------------------------------------------------------------------
	// Bootstrap: catalog, filters, fees
	// ------------------------------------------------------------------
	info, err := e.client.ExchangeInfo(e.ctx)
	if err != nil {
		return fmt.Errorf("fetch exchange info: %w", err)
	}
	e.limitations.Refresh(info)

	data := market.New(exchange.MarketsOf(info), cfg.Coins.List)
	if data.CycleCount() == 0 {
		return fmt.Errorf("no triangular cycles exist for coins %v", cfg.Coins.List)
	}
	e.dataMu.Lock()
	e.data = data
	e.dataMu.Unlock()

	fees := map[string]float64{}
	if reported, err := e.client.TradeFees(e.ctx); err != nil {
		logger.Warn("trade fees unavailable, falling back to configured fees", "err", err)
	} else {
		fees = reported
	}
	for sym, fee := range cfg.Arbitrage.Fees {
		fees[sym] = fee
	}

	markets := data.Markets()
	symbols := make([]string, len(markets))
	for i, mkt := range markets {
		symbols[i] = types.SymbolOf(mkt)
	}
	sort.Strings(symbols)

	logger.Info("market model built",
		"markets", len(markets), "cycles", data.CycleCount(), "coins", cfg.Coins.List)

	// ------------------------------------------------------------------
	// Components
	// ------------------------------------------------------------------
	tickerFeed := exchange.NewTickerFeed(cfg.Exchange.WSBaseURL, symbols, data, e.bus, logger)
	userFeed := exchange.NewUserFeed(cfg.Exchange.WSBaseURL, e.client, logger)
	refresher := exchange.NewRefresher(e.client, e.limitations,
		time.Duration(cfg.Exchange.CatalogRefreshPeriodSeconds)*time.Second, logger)

	evaluator := arbitrage.NewEvaluator(data, fees, cfg.Arbitrage.DefaultFee, logger)
	loop := arbitrage.NewLoop(e.bus, evaluator,
		time.Duration(cfg.Arbitrage.StartupDelayMs)*time.Millisecond,
		cfg.Arbitrage.FireChainASAP, logger)

	updater := balance.NewUpdater(e.client, e.registry,
		time.Duration(cfg.Balance.RefreshPeriodSeconds)*time.Second, logger)
	checker := risk.NewChecker(e.bus, e.registry, cfg.Coins.List,
		cfg.Risk.StopLossRatio,
		time.Duration(cfg.Risk.CheckPeriodSeconds)*time.Second,
		cfg.Coins.USDCoin, logger)

	manager := trade.NewManager(e.bus, e.limitations, e.registry, e.inFlight, trade.ManagerConfig{
		Exchange:           cfg.Exchange.Name,
		FireOnlyTop:        cfg.Trade.FireOnlyTop,
		SortByROI:          cfg.Trade.SortByROI,
		ProfitThresholdUsd: cfg.Trade.ProfitThresholdUsd,
		MaxBalanceRatio:    cfg.Trade.MaxBalanceRatioPerOrder,
		BreakEvenBySteps:   cfg.Trade.BreakEvenByLegs,
		DuplicateTTL:       time.Duration(cfg.Trade.DedupTTLMs) * time.Millisecond,
	}, logger)

	e.cancelator = trade.NewCancelator(e.client,
		time.Duration(cfg.Trade.OrderTTLMs)*time.Millisecond,
		time.Duration(cfg.Trade.CancelPeriodMs)*time.Millisecond, logger)
	watcher := trade.NewWatcher(userFeed.ExecutionReports(), e.orders, e.inFlight, logger)

	storeSink := telemetry.NewStoreSink(e.bus, e.chainWriter, logger)
	allSink := telemetry.NewAllSink(e.bus, e.chainBatches, cfg.Storage.TelemetryMaxBatchSize, logger)

	// ------------------------------------------------------------------
	// Goroutines
	// ------------------------------------------------------------------
	if e.metricsSrv != nil {
		e.runGoroutine(func() {
			if err := e.metricsSrv.Start(); err != nil {
				logger.Error("metrics server failed", "err", err)
			}
		})
	}

	e.runGoroutine(func() {
		if err := tickerFeed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			logger.Error("ticker feed error", "err", err)
		}
	})
	e.runGoroutine(func() {
		if err := userFeed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			logger.Error("user feed error", "err", err)
		}
	})

	e.runGoroutine(func() { refresher.Run(e.ctx) })
	e.runGoroutine(func() { updater.Run(e.ctx) })
	e.runGoroutine(func() { checker.Run(e.ctx) })
	e.runGoroutine(func() { loop.Run(e.ctx) })
	e.runGoroutine(func() { manager.Run(e.ctx) })

	for i := 1; i <= cfg.Trade.Executors; i++ {
		exec := trade.NewExecutor(i, e.bus, e.client, e.orders,
			types.TimeInForce(cfg.Trade.TimeInForce), logger)
		e.runGoroutine(func() { exec.Run(e.ctx) })
	}

	e.runGoroutine(func() { e.cancelator.Run(e.ctx) })
	e.runGoroutine(func() { watcher.Run(e.ctx) })
	e.runGoroutine(func() { storeSink.Run(e.ctx) })
	e.runGoroutine(func() { allSink.Run(e.ctx) })

	if cfg.Balance.Rebalance.Enabled {
		rb := balance.NewRebalancer(e.registry, data, e.limitations, e.client,
			cfg.Coins.List, cfg.Balance.Rebalance.Deviation,
			time.Duration(cfg.Balance.Rebalance.PeriodSeconds)*time.Second,
			cfg.Coins.USDCoin, logger)
		e.runGoroutine(func() { rb.Run(e.ctx) })
	}

	e.runGoroutine(e.sampleQueueDepths)

	logger.Info("arbitrage engine started",
		"executors", cfg.Trade.Executors,
		"fire_only_top", cfg.Trade.FireOnlyTop,
		"profit_threshold_usd", cfg.Trade.ProfitThresholdUsd,
		"dry_run", cfg.Exchange.DryRun)
	return nil
}

func (e *Engine) runGoroutine(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

// Stop shuts the pipeline down: sentinels ask the manager and the executors
// to drain what is already queued (best effort), the context cancel stops
// everything else, and a final reap removes our open orders from the book so
// no break-even bets outlive the bot.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), shutdownTimeout)
	_ = e.bus.PushPositiveBatch(drainCtx, nil)
	_ = e.bus.PushFireOrder(drainCtx, nil)
	cancelDrain()

	e.cancel()
	if e.metricsSrv != nil {
		if err := e.metricsSrv.Stop(); err != nil {
			e.logger.Error("metrics server shutdown failed", "err", err)
		}
	}
	e.wg.Wait()

	if e.cancelator != nil {
		reapCtx, cancelReap := context.WithTimeout(context.Background(), shutdownTimeout)
		e.cancelator.CancelAllOurs(reapCtx)
		cancelReap()
	}

	if err := e.closeStore(); err != nil {
		e.logger.Error("closing the store failed", "err", err)
	}
	e.logger.Info("shutdown complete")
}

func (e *Engine) sampleQueueDepths() {
	tick := time.NewTicker(queueSampleInterval)
	defer tick.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-tick.C:
			d := e.bus.QueueDepths()
			metrics.QueueDepth.WithLabelValues("tickers").Set(float64(d.Tickers))
			metrics.QueueDepth.WithLabelValues("positive_cycles").Set(float64(d.PositiveCycles))
			metrics.QueueDepth.WithLabelValues("store_cycles").Set(float64(d.StoreCycles))
			metrics.QueueDepth.WithLabelValues("all_cycles").Set(float64(d.AllCycles))
			metrics.QueueDepth.WithLabelValues("fire_orders").Set(float64(d.FireOrders))
		}
	}
}

func busSizes(cfg config.BusConfig) bus.Sizes {
	return bus.Sizes{
		Tickers:        cfg.Tickers,
		PositiveCycles: cfg.PositiveCycles,
		StoreCycles:    cfg.StoreCycles,
		AllCycles:      cfg.AllCycles,
		FireOrders:     cfg.FireOrders,
	}
}

// ----------------------------------------------------------------------------
// Status API accessors
// ----------------------------------------------------------------------------

// Balances returns a copy of the cached balance snapshot.
func (e *Engine) Balances() map[string]float64 { return e.registry.Balances() }

// TotalBalanceUsd sums the configured coins' balances in USD terms. Coins
// without a known rate contribute nothing.
func (e *Engine) TotalBalanceUsd() float64 {
	var total float64
	for _, coin := range e.cfg.Coins.List {
		if usd, ok := e.registry.BalanceUsd(coin); ok {
			total += usd
		}
	}
	return total
}

// QueueDepths samples the bus queue fill levels.
func (e *Engine) QueueDepths() bus.Depths { return e.bus.QueueDepths() }

// DroppedChains reports how many telemetry chains were dropped on a full
// queue.
func (e *Engine) DroppedChains() int64 { return e.bus.DroppedChains() }

// StopTrading reports whether the stop-loss flag is engaged.
func (e *Engine) StopTrading() bool { return e.bus.StopTrading() }

// InFlightChains counts arbitrage chains with at least one unresolved order.
func (e *Engine) InFlightChains() int { return e.inFlight.Chains() }

// InFlightOrders counts fired orders not yet in a terminal state.
func (e *Engine) InFlightOrders() int { return e.inFlight.Orders() }

// CycleCount reports the number of evaluable triangles. Zero until Start has
// built the market model.
func (e *Engine) CycleCount() int {
	e.dataMu.RLock()
	defer e.dataMu.RUnlock()
	if e.data == nil {
		return 0
	}
	return e.data.CycleCount()
}

// MarketCount reports the number of markets surviving the coin allowlist.
func (e *Engine) MarketCount() int {
	e.dataMu.RLock()
	defer e.dataMu.RUnlock()
	if e.data == nil {
		return 0
	}
	return len(e.data.Markets())
}
