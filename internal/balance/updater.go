package balance

import (
	"context"
	"log/slog"
	"time"
)

// AccountSource is the slice of the exchange API the updater needs.
type AccountSource interface {
	// Balances returns free amounts per coin.
	Balances(ctx context.Context) (map[string]float64, error)
	// LatestPrices returns the latest price per exchange symbol.
	LatestPrices(ctx context.Context) (map[string]float64, error)
}

// Updater periodically pulls balances and prices from the exchange and
// wholesale-replaces the registry's snapshots.
type Updater struct {
	source   AccountSource
	registry *Registry
	period   time.Duration
	logger   *slog.Logger
}

// NewUpdater wires the periodic balance refresher.
func NewUpdater(source AccountSource, registry *Registry, period time.Duration, logger *slog.Logger) *Updater {
	return &Updater{
		source:   source,
		registry: registry,
		period:   period,
		logger:   logger.With("component", "balance-updater"),
	}
}

// Run refreshes immediately, then on every period tick, until ctx is
// cancelled. Individual refresh failures are logged and retried on the next
// tick.
func (u *Updater) Run(ctx context.Context) {
	u.logger.Info("balance updater started", "period", u.period)
	if err := u.refresh(ctx); err != nil {
		u.logger.Error("initial balance refresh failed", "err", err)
	}

	tick := time.NewTicker(u.period)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			u.logger.Info("balance updater stopped")
			return
		case <-tick.C:
			if err := u.refresh(ctx); err != nil {
				u.logger.Error("balance refresh failed", "err", err)
			}
		}
	}
}

func (u *Updater) refresh(ctx context.Context) error {
	balances, err := u.source.Balances(ctx)
	if err != nil {
		return err
	}
	u.registry.UpdateBalances(balances)

	prices, err := u.source.LatestPrices(ctx)
	if err != nil {
		return err
	}
	u.registry.UpdateRates(prices)

	u.logger.Debug("registry refreshed", "coins", len(balances), "rates", len(prices))
	return nil
}
