// Package risk watches the portfolio value and halts trading on drawdown.
//
// The checker sums the USD value of the coins of interest on every period
// tick. The first non-empty reading is latched as the initial balance; when
// the total drops to initial·(1−stopLossRatio) or below, the checker raises
// the bus stop-trading flag. The trade manager reads that flag before firing
// and skips every chain while it is set. Once the total recovers above the
// limit the flag is cleared and trading resumes.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"triarb/internal/balance"
	"triarb/internal/bus"
	"triarb/internal/metrics"
)

// Checker enforces the stop-loss limit over the whole trading portfolio.
type Checker struct {
	bus           *bus.Bus
	registry      *balance.Registry
	coins         []string
	stopLossRatio float64
	period        time.Duration
	usdCoin       string
	logger        *slog.Logger

	initialUsd float64
	latched    bool
}

// NewChecker creates the stop-loss watcher over the given coins of interest.
func NewChecker(b *bus.Bus, registry *balance.Registry, coins []string,
	stopLossRatio float64, period time.Duration, usdCoin string, logger *slog.Logger) *Checker {
	sorted := make([]string, len(coins))
	copy(sorted, coins)
	sort.Strings(sorted)

	c := &Checker{
		bus:           b,
		registry:      registry,
		coins:         sorted,
		stopLossRatio: stopLossRatio,
		period:        period,
		usdCoin:       usdCoin,
		logger:        logger.With("component", "balances-checker"),
	}
	c.logger.Info("watching balance for coins", "coins", sorted)
	c.logger.Info(fmt.Sprintf(
		"trading will be forcibly stopped if the total balance loses %.1f%% of its initial value",
		stopLossRatio*100))
	return c
}

// Run checks the balance immediately and then on every period tick until
// ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	c.CheckBalance()

	tick := time.NewTicker(c.period)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("balances checker stopped")
			return
		case <-tick.C:
			c.CheckBalance()
		}
	}
}

// CheckBalance evaluates the stop-loss condition once and returns the total
// USD value it observed. An empty registry is skipped entirely: the limit is
// only meaningful against a consistent snapshot.
func (c *Checker) CheckBalance() float64 {
	if c.registry.IsEmpty() {
		c.logger.Debug("no balances received yet, skipping check")
		return 0
	}

	total := c.totalUsd()
	metrics.TotalBalanceUsd.Set(total)

	if !c.latched {
		c.initialUsd = total
		c.latched = true
		c.logger.Info("initial trading balance latched",
			"balance_usd", total, "stop_loss_usd", c.stopLossUsd())
	}

	limit := c.stopLossUsd()
	if total <= limit {
		if !c.bus.StopTrading() {
			c.logger.Error(fmt.Sprintf(
				"Current trading balance $%.5f fell below STOP TRADING limit $%.5f. Trading is stopped",
				total, limit))
		}
		c.bus.SetStopTrading(true)
	} else if c.bus.StopTrading() {
		c.logger.Info(fmt.Sprintf(
			"Current trading balance $%.5f raised above STOP TRADING limit $%.5f. Resuming trading",
			total, limit))
		c.bus.SetStopTrading(false)
	}

	if c.bus.StopTrading() {
		metrics.StopTrading.Set(1)
	} else {
		metrics.StopTrading.Set(0)
	}

	c.logger.Info(c.balancesReport())
	return total
}

func (c *Checker) stopLossUsd() float64 {
	return c.initialUsd * (1 - c.stopLossRatio)
}

func (c *Checker) totalUsd() float64 {
	var total float64
	for _, coin := range c.coins {
		if v, ok := c.registry.BalanceUsd(coin); ok {
			total += v
		}
	}
	return total
}

func (c *Checker) balancesReport() string {
	var b strings.Builder
	b.WriteString("\n=== Current balances: ===\n")
	var total float64
	for _, coin := range c.coins {
		value, _ := c.registry.Balance(coin)
		valueUsd, _ := c.registry.BalanceUsd(coin)
		total += valueUsd
		fmt.Fprintf(&b, "%s \t\t %.5f \t\t $%.5f\n", coin, value, valueUsd)
	}
	fmt.Fprintf(&b, "=== Total: $%.5f %s ===", total, c.usdCoin)
	return b.String()
}
