package arbitrage

import (
	"context"
	"log/slog"
	"time"

	"triarb/internal/bus"
	"triarb/internal/metrics"
	"triarb/pkg/types"
)

// Loop drains the ticker queue and runs the evaluator for each updated
// market. Positive chains go to the positive-cycles queue: one batch per
// evaluation, or one single-chain batch per find when fireChainASAP is set.
// Every evaluated chain is cloned onto the all-cycles telemetry queue.
type Loop struct {
	bus           *bus.Bus
	evaluator     *Evaluator
	startupDelay  time.Duration
	fireChainASAP bool
	logger        *slog.Logger
}

// NewLoop wires the arbitrage loop.
func NewLoop(b *bus.Bus, ev *Evaluator, startupDelay time.Duration, fireChainASAP bool, logger *slog.Logger) *Loop {
	return &Loop{
		bus:           b,
		evaluator:     ev,
		startupDelay:  startupDelay,
		fireChainASAP: fireChainASAP,
		logger:        logger.With("component", "arbitrage-loop"),
	}
}

// Run blocks until ctx is cancelled. The initial delay lets the first
// book-tops arrive before evaluation starts.
func (l *Loop) Run(ctx context.Context) {
	if l.startupDelay > 0 {
		select {
		case <-time.After(l.startupDelay):
		case <-ctx.Done():
			return
		}
	}
	l.logger.Info("arbitrage loop started", "fire_chain_asap", l.fireChainASAP)

	var iterations int64
	var busyTime time.Duration

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("arbitrage loop stopped")
			return
		case ticker := <-l.bus.Tickers():
			started := time.Now()
			l.evaluate(ctx, ticker)

			iterations++
			busyTime += time.Since(started)
			metrics.TickersConsumed.Inc()
			metrics.EvaluationSeconds.Observe(time.Since(started).Seconds())
			if iterations%1000 == 0 {
				l.logger.Debug("evaluation pace",
					"iterations", iterations,
					"avg_us", busyTime.Microseconds()/iterations)
			}
		}
	}
}

func (l *Loop) evaluate(ctx context.Context, ticker types.Ticker) {
	var positives []*types.Chain
	all := l.evaluator.Find([]string{ticker.Market}, func(c *types.Chain) {
		metrics.PositiveCycles.Inc()
		l.logger.Debug("positive chain found", "hash8", c.Hash8(), "chain", c.String())
		if l.fireChainASAP {
			if err := l.bus.PushPositiveBatch(ctx, []*types.Chain{c}); err != nil {
				l.logger.Warn("positive chain dropped on shutdown", "err", err)
			}
			return
		}
		positives = append(positives, c)
	})
	metrics.CyclesEvaluated.Add(float64(len(all)))

	if len(positives) > 0 {
		if err := l.bus.PushPositiveBatch(ctx, positives); err != nil {
			l.logger.Warn("positive batch dropped on shutdown", "err", err)
		}
	}
	if len(all) > 0 {
		// Telemetry gets its own copies: the trade manager annotates the
		// originals concurrently.
		cloned := make([]*types.Chain, len(all))
		for i, c := range all {
			cloned[i] = c.Clone()
		}
		l.bus.PushAllCycles(cloned)
	}
}
