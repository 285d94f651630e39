package balance

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"triarb/internal/market"
	"triarb/pkg/types"
)

// MarketOrderPlacer submits a market order to the exchange.
type MarketOrderPlacer interface {
	PutMarketOrder(ctx context.Context, o *types.Order) (*types.Order, error)
}

// OrderAdjuster rounds an order to the exchange's declared steps.
type OrderAdjuster interface {
	Adjust(o *types.Order)
}

// Rebalancer periodically evens out the portfolio: when one coin's USD value
// runs too far ahead of another's, it moves value from the richest coin to
// the poorest through a direct market order.
type Rebalancer struct {
	registry  *Registry
	data      *market.Data
	limits    OrderAdjuster
	placer    MarketOrderPlacer
	coins     []string
	deviation float64 // (max-min)/mean threshold that triggers a move
	period    time.Duration
	usdCoin   string
	logger    *slog.Logger
}

// NewRebalancer wires the optional portfolio rebalancer over the given coins.
func NewRebalancer(registry *Registry, data *market.Data, limits OrderAdjuster, placer MarketOrderPlacer,
	coins []string, deviation float64, period time.Duration, usdCoin string, logger *slog.Logger) *Rebalancer {
	return &Rebalancer{
		registry:  registry,
		data:      data,
		limits:    limits,
		placer:    placer,
		coins:     coins,
		deviation: deviation,
		period:    period,
		usdCoin:   usdCoin,
		logger:    logger.With("component", "rebalancer"),
	}
}

// Run rebalances on every period tick until ctx is cancelled.
func (rb *Rebalancer) Run(ctx context.Context) {
	rb.logger.Info("rebalancer started", "period", rb.period, "deviation", rb.deviation)
	tick := time.NewTicker(rb.period)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			rb.logger.Info("rebalancer stopped")
			return
		case <-tick.C:
			if err := rb.rebalanceOnce(ctx); err != nil {
				rb.logger.Error("rebalance failed", "err", err)
			}
		}
	}
}

// rebalanceOnce inspects the portfolio and moves value when the spread
// between the richest and poorest coin exceeds the deviation threshold.
func (rb *Rebalancer) rebalanceOnce(ctx context.Context) error {
	if rb.registry.IsEmpty() {
		return nil
	}

	values := make(map[string]float64, len(rb.coins))
	var total float64
	for _, coin := range rb.coins {
		v, ok := rb.registry.BalanceUsd(coin)
		if !ok {
			v = 0
		}
		values[coin] = v
		total += v
	}
	if len(values) == 0 || total <= 0 {
		return nil
	}

	richest, poorest := rb.coins[0], rb.coins[0]
	for _, coin := range rb.coins {
		if values[coin] > values[richest] {
			richest = coin
		}
		if values[coin] < values[poorest] {
			poorest = coin
		}
	}
	mean := total / float64(len(rb.coins))
	spread := (values[richest] - values[poorest]) / mean
	if spread <= rb.deviation {
		return nil
	}
	moveUsd := mean - values[poorest]

	order, ok := rb.buildMoveOrder(richest, poorest, moveUsd)
	if !ok {
		return nil
	}
	rb.limits.Adjust(order)

	rb.logger.Info("rebalancing portfolio",
		"from", richest, "to", poorest, "value_usd", moveUsd,
		"symbol", order.Symbol, "side", order.Side, "quantity", order.Quantity)
	_, err := rb.placer.PutMarketOrder(ctx, order)
	return err
}

// buildMoveOrder picks the direct market between the two coins: a BUY on
// poorest/richest when that market exists, else a SELL on richest/poorest.
func (rb *Rebalancer) buildMoveOrder(richest, poorest string, moveUsd float64) (*types.Order, bool) {
	if _, ok := rb.data.MarketOf(poorest + richest); ok {
		qty, ok := rb.usdToCoin(moveUsd, poorest)
		if !ok {
			return nil, false
		}
		return rb.marketOrder(poorest+richest, types.BUY, qty), true
	}
	if _, ok := rb.data.MarketOf(richest + poorest); ok {
		qty, ok := rb.usdToCoin(moveUsd, richest)
		if !ok {
			return nil, false
		}
		return rb.marketOrder(richest+poorest, types.SELL, qty), true
	}
	rb.logger.Warn("no direct market between coins", "a", poorest, "b", richest)
	return nil, false
}

func (rb *Rebalancer) usdToCoin(valueUsd float64, coin string) (float64, bool) {
	if coin == rb.usdCoin || market.IsUsdEquivalent(coin) {
		return valueUsd, true
	}
	rate, ok := rb.registry.ExchangeRate(coin + rb.usdCoin)
	if !ok || rate <= 0 {
		rb.logger.Warn("no USD rate for coin, skipping rebalance", "coin", coin)
		return 0, false
	}
	return valueUsd / rate, true
}

// marketOrder builds an unpriced order; the client stamps the exchange name.
func (rb *Rebalancer) marketOrder(symbol string, side types.Side, qty float64) *types.Order {
	return &types.Order{
		Side:        side,
		Symbol:      symbol,
		Quantity:    decimal.NewFromFloat(qty),
		CreatedAtMs: time.Now().UnixMilli(),
		Status:      types.OrderStatusNew,
	}
}
