package trade

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"triarb/internal/balance"
	"triarb/internal/bus"
	"triarb/internal/exchange"
	"triarb/internal/metrics"
	"triarb/pkg/types"
)

// ManagerConfig carries the trading knobs.
type ManagerConfig struct {
	Exchange           string
	FireOnlyTop        bool
	SortByROI          bool
	ProfitThresholdUsd float64
	MaxBalanceRatio    float64
	BreakEvenBySteps   bool
	DuplicateTTL       time.Duration
}

// Manager consumes positive-cycle batches, applies the trading gates and
// turns the surviving chains into limit orders on the execution queue. Every
// chain leaves annotated with its outcome on the store-cycles queue.
type Manager struct {
	bus         *bus.Bus
	limitations *exchange.Limitations
	registry    *balance.Registry
	filter      *RecentFilter
	inFlight    *InFlight
	cfg         ManagerConfig
	logger      *slog.Logger
}

// NewManager wires the trade manager.
func NewManager(b *bus.Bus, lim *exchange.Limitations, reg *balance.Registry,
	inFlight *InFlight, cfg ManagerConfig, logger *slog.Logger) *Manager {
	return &Manager{
		bus:         b,
		limitations: lim,
		registry:    reg,
		filter:      NewRecentFilter(cfg.DuplicateTTL),
		inFlight:    inFlight,
		cfg:         cfg,
		logger:      logger.With("component", "trade-manager"),
	}
}

// Run blocks until ctx is cancelled or the shutdown sentinel (a nil batch)
// arrives.
func (m *Manager) Run(ctx context.Context) {
	m.logger.Info("trade manager started",
		"fire_only_top", m.cfg.FireOnlyTop,
		"sort_by_roi", m.cfg.SortByROI,
		"profit_threshold_usd", m.cfg.ProfitThresholdUsd,
		"max_balance_ratio", m.cfg.MaxBalanceRatio)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("trade manager stopped")
			return
		case batch := <-m.bus.PositiveBatches():
			if batch == nil {
				m.logger.Info("shutdown sentinel received, trade manager stopping")
				return
			}
			m.processBatch(ctx, batch)
		}
	}
}

func (m *Manager) processBatch(ctx context.Context, batch []*types.Chain) {
	m.sortChains(batch)

	if m.cfg.FireOnlyTop && len(batch) > 1 {
		top := batch[0]
		m.logger.Debug("processing only the top chain of the batch",
			"hash8", top.Hash8(), "batch_size", len(batch))
		skipped := fmt.Sprintf("not fired: top chain [%d] of the batch took precedence", top.Hash8())
		for _, c := range batch[1:] {
			c.Comment = skipped
			metrics.ChainsRejected.WithLabelValues("not_top").Inc()
		}
		m.processChain(ctx, top)
	} else {
		for _, c := range batch {
			m.processChain(ctx, c)
		}
	}

	// Everything, fired or not, goes downstream for saving.
	for _, c := range batch {
		if err := m.bus.PushStoreCycle(ctx, c); err != nil {
			return
		}
	}
}

func (m *Manager) processChain(ctx context.Context, c *types.Chain) {
	comment, reason := m.evaluateChain(ctx, c)
	c.Comment = comment
	if reason != "" {
		metrics.ChainsRejected.WithLabelValues(reason).Inc()
	}
	m.logger.Debug("chain processed", "hash8", c.Hash8(), "comment", comment)
}

// evaluateChain runs the gates in order and fires the orders when every gate
// passes. The returned comment is stored with the chain; reason is the
// rejection metric label, empty on success.
func (m *Manager) evaluateChain(ctx context.Context, c *types.Chain) (comment, reason string) {
	if m.bus.StopTrading() {
		return "stop trading flag is set, ignoring arbitrage chain", "stop_trading"
	}
	if m.filter.RegisterAndContained(c) {
		return "duplicate of a recent arbitrage within the duplication timeframe", "duplicate"
	}
	if c.ProfitUsd < m.cfg.ProfitThresholdUsd {
		m.logger.Info("chain profit below threshold, skipping",
			"hash8", c.Hash8(), "profit_usd", c.ProfitUsd, "threshold_usd", m.cfg.ProfitThresholdUsd)
		return "arbitrage profit is too low", "profit_too_low"
	}
	if coin, bal, bad := m.zeroBalanceCoin(c); bad {
		return fmt.Sprintf("%s balance is 0 or below: %v", coin, bal), "balance_zero"
	}

	m.shrinkVolumes(c)

	orders := m.buildOrders(c)
	for _, o := range orders {
		m.limitations.Adjust(o)
	}
	if failReason, ok := m.checkOrders(orders); !ok {
		return failReason, "exchange_filter"
	}

	if err := m.fireOrders(ctx, orders); err != nil {
		return "shutdown while enqueuing orders", "shutdown"
	}
	m.reduceBalances(orders, c)

	return "orders created successfully", ""
}

func (m *Manager) sortChains(batch []*types.Chain) {
	if m.cfg.SortByROI {
		sort.Slice(batch, func(i, j int) bool { return batch[i].ROI > batch[j].ROI })
		return
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Profit > batch[j].Profit })
}

// zeroBalanceCoin finds a spending coin whose balance is known and not
// positive. Coins the registry has never seen pass; the exchange will be the
// judge.
func (m *Manager) zeroBalanceCoin(c *types.Chain) (coin string, bal float64, bad bool) {
	for _, step := range c.Steps {
		coin := step.SpendingCoin()
		if bal, ok := m.registry.Balance(coin); ok && bal <= 0 {
			return coin, bal, true
		}
	}
	return "", 0, false
}

// shrinkVolumes caps each leg's spend at MaxBalanceRatio of its spending
// coin's balance. All three volumes shrink by the same factor so the legs
// stay proportional.
func (m *Manager) shrinkVolumes(c *types.Chain) {
	if m.registry.IsEmpty() {
		m.logger.Warn("no balances set (yet?)")
		return
	}

	maxRatio := 0.0
	for _, step := range c.Steps {
		bal, ok := m.registry.Balance(step.SpendingCoin())
		if !ok || bal <= 0 {
			continue
		}
		ratio := step.ProposedVolume() / bal
		if ratio > m.cfg.MaxBalanceRatio && ratio > maxRatio {
			maxRatio = ratio
		}
	}
	if maxRatio == 0 {
		return
	}

	factor := maxRatio / m.cfg.MaxBalanceRatio
	m.logger.Warn("cutting order volumes because of insufficient balance",
		"hash8", c.Hash8(), "factor", factor)
	for i := range c.Steps {
		c.Steps[i].Volume /= factor
	}
}

// buildOrders derives one limit order per step. Prices move to break even:
// BUY prices rise and SELL prices fall by the chain's margin, so a full fill
// cannot lose money.
func (m *Manager) buildOrders(c *types.Chain) []*types.Order {
	factor := c.ROI
	if m.cfg.BreakEvenBySteps {
		factor = c.ROI / float64(len(c.Steps))
	}
	nowMs := time.Now().UnixMilli()

	orders := make([]*types.Order, 0, len(c.Steps))
	for i, step := range c.Steps {
		price := step.Price * (1 + factor)
		if !step.IsBuy() {
			price = step.Price * (1 - factor)
		}
		orders = append(orders, &types.Order{
			ClientOrderID:  types.NewClientOrderID(c.Hash8(), i+1),
			Side:           step.Side,
			Symbol:         types.SymbolOf(step.Market),
			Quantity:       decimal.NewFromFloat(step.Volume),
			Price:          decimal.NewFromFloat(price),
			CreatedAtMs:    nowMs,
			Status:         types.OrderStatusNew,
			Exchange:       m.cfg.Exchange,
			ArbitrageHash8: c.Hash8(),
		})
	}
	return orders
}

// checkOrders validates every leg; one failing leg rejects the whole chain.
// Partial submission is never allowed.
func (m *Manager) checkOrders(orders []*types.Order) (string, bool) {
	for _, o := range orders {
		if ok, reason := m.limitations.Check(o); !ok {
			m.logger.Warn("order fails exchange filters, skipping the whole chain",
				"order", o.String(), "reason", reason)
			return reason, false
		}
	}
	return "", true
}

// fireOrders enqueues the legs in random order to spread balance contention
// across the leg coins.
func (m *Manager) fireOrders(ctx context.Context, orders []*types.Order) error {
	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ClientOrderID
	}
	m.inFlight.Add(orders[0].ArbitrageHash8, ids...)

	shuffled := append([]*types.Order(nil), orders...)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	for _, o := range shuffled {
		if err := m.bus.PushFireOrder(ctx, o); err != nil {
			return err
		}
		m.logger.Debug("order enqueued", "order", o.String())
	}
	return nil
}

// reduceBalances debits the registry before the fills land, so the next chain
// in the same window cannot spend funds an in-flight order already claims.
// The next full refresh discards these reductions.
func (m *Manager) reduceBalances(orders []*types.Order, c *types.Chain) {
	for i, o := range orders {
		m.registry.Reduce(c.Steps[i].SpendingCoin(), o.ProposedVolume().InexactFloat64())
	}
}
