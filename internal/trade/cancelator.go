package trade

import (
	"context"
	"log/slog"
	"time"

	"triarb/internal/metrics"
	"triarb/pkg/types"
)

// OpenOrdersClient lists and cancels open orders on the exchange.
type OpenOrdersClient interface {
	OpenOrders(ctx context.Context) ([]types.OpenOrder, error)
	CancelOrder(ctx context.Context, symbol, clientOrderID string) (*types.CancelOrderResponse, error)
}

// Cancelator periodically reaps our own open orders that outlived their TTL.
// A break-even limit order that has not filled within the TTL is a stale bet;
// leaving it on the book only locks balance.
type Cancelator struct {
	client OpenOrdersClient
	ttl    time.Duration
	period time.Duration
	logger *slog.Logger
}

// NewCancelator wires the order reaper.
func NewCancelator(client OpenOrdersClient, ttl, period time.Duration, logger *slog.Logger) *Cancelator {
	return &Cancelator{
		client: client,
		ttl:    ttl,
		period: period,
		logger: logger.With("component", "order-cancelator"),
	}
}

// Run blocks until ctx is cancelled.
func (c *Cancelator) Run(ctx context.Context) {
	c.logger.Info("order cancelator started", "order_ttl", c.ttl, "period", c.period)
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("order cancelator stopped")
			return
		case <-ticker.C:
			c.cancelStale(ctx)
		}
	}
}

// cancelStale cancels every one of our open orders older than the TTL.
func (c *Cancelator) cancelStale(ctx context.Context) {
	c.reap(ctx, c.ttl)
}

// CancelAllOurs cancels every one of our open orders regardless of age. The
// engine calls it once on shutdown so no break-even orders outlive the bot.
func (c *Cancelator) CancelAllOurs(ctx context.Context) {
	c.reap(ctx, 0)
}

// reap cancels our open orders older than minAge. Individual cancel failures
// are logged and skipped; the exchange may have filled or cancelled the order
// since we listed it.
func (c *Cancelator) reap(ctx context.Context, minAge time.Duration) {
	open, err := c.client.OpenOrders(ctx)
	if err != nil {
		c.logger.Warn("listing open orders failed", "err", err)
		return
	}

	nowMs := time.Now().UnixMilli()
	var stale []types.OpenOrder
	for _, o := range open {
		if !types.IsOurClientOrderID(o.ClientOrderID) {
			continue
		}
		if minAge > 0 && nowMs-o.TimeMs <= minAge.Milliseconds() {
			continue
		}
		stale = append(stale, o)
	}
	if len(stale) == 0 {
		return
	}

	c.logger.Info("cancelling stale orders", "count", len(stale))
	for _, o := range stale {
		if _, err := c.client.CancelOrder(ctx, o.Symbol, o.ClientOrderID); err != nil {
			c.logger.Warn("cancel failed", "symbol", o.Symbol, "client_order_id", o.ClientOrderID, "err", err)
			continue
		}
		metrics.OrdersCancelled.Inc()
		c.logger.Debug("order cancelled", "symbol", o.Symbol, "client_order_id", o.ClientOrderID)
	}
}
