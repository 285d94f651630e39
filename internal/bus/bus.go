// Package bus provides the typed, bounded in-process queues that couple the
// pipeline workers, plus the process-wide stop-trading flag.
//
// Workers communicate exclusively through the bus; no worker reaches into
// another worker's state. Every queue is FIFO and independently backpressured:
// a full queue blocks its producer, except the all-cycles telemetry queue
// which drops its oldest batch instead so the evaluation path never stalls on
// a slow telemetry sink.
package bus

import (
	"context"
	"log/slog"
	"sync/atomic"

	"triarb/pkg/types"
)

// Sizes configures the per-queue capacities.
type Sizes struct {
	Tickers        int
	PositiveCycles int
	StoreCycles    int
	AllCycles      int
	FireOrders     int
}

// DefaultSizes returns the queue capacities used when none are configured.
func DefaultSizes() Sizes {
	return Sizes{
		Tickers:        1024,
		PositiveCycles: 128,
		StoreCycles:    1024,
		AllCycles:      256,
		FireOrders:     128,
	}
}

// Bus owns the five pipeline queues and the stop-trading flag.
//
// Shutdown sentinels: a nil chain batch on the positive-cycles queue stops the
// trade manager; a nil order on the fire-orders queue stops an executor, which
// re-enqueues it so its peers stop too.
type Bus struct {
	tickers        chan types.Ticker
	positiveCycles chan []*types.Chain
	storeCycles    chan *types.Chain
	allCycles      chan []*types.Chain
	fireOrders     chan *types.Order

	stopTrading atomic.Bool
	dropped     atomic.Int64

	logger *slog.Logger
}

// New builds a bus with the given queue sizes. Sizes below 1 fall back to the
// defaults.
func New(sizes Sizes, logger *slog.Logger) *Bus {
	def := DefaultSizes()
	if sizes.Tickers < 1 {
		sizes.Tickers = def.Tickers
	}
	if sizes.PositiveCycles < 1 {
		sizes.PositiveCycles = def.PositiveCycles
	}
	if sizes.StoreCycles < 1 {
		sizes.StoreCycles = def.StoreCycles
	}
	if sizes.AllCycles < 1 {
		sizes.AllCycles = def.AllCycles
	}
	if sizes.FireOrders < 1 {
		sizes.FireOrders = def.FireOrders
	}
	return &Bus{
		tickers:        make(chan types.Ticker, sizes.Tickers),
		positiveCycles: make(chan []*types.Chain, sizes.PositiveCycles),
		storeCycles:    make(chan *types.Chain, sizes.StoreCycles),
		allCycles:      make(chan []*types.Chain, sizes.AllCycles),
		fireOrders:     make(chan *types.Order, sizes.FireOrders),
		logger:         logger.With("component", "bus"),
	}
}

// PushTicker blocks until the ticker is enqueued or ctx is cancelled.
func (b *Bus) PushTicker(ctx context.Context, t types.Ticker) error {
	select {
	case b.tickers <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tickers is the consumer side of the book-top queue.
func (b *Bus) Tickers() <-chan types.Ticker { return b.tickers }

// PushPositiveBatch blocks until the batch is enqueued or ctx is cancelled.
// A nil batch is the trade-manager shutdown sentinel.
func (b *Bus) PushPositiveBatch(ctx context.Context, batch []*types.Chain) error {
	select {
	case b.positiveCycles <- batch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PositiveBatches is the consumer side of the positive-cycles queue. One batch
// per evaluator invocation, so the consumer can apply batch-level policy.
func (b *Bus) PositiveBatches() <-chan []*types.Chain { return b.positiveCycles }

// PushStoreCycle blocks until the annotated chain is enqueued or ctx is
// cancelled.
func (b *Bus) PushStoreCycle(ctx context.Context, c *types.Chain) error {
	select {
	case b.storeCycles <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StoreCycles is the consumer side of the annotated-chain telemetry queue.
func (b *Bus) StoreCycles() <-chan *types.Chain { return b.storeCycles }

// PushAllCycles enqueues a telemetry batch without ever blocking the caller.
// When the queue is full the oldest batch is discarded to make room.
func (b *Bus) PushAllCycles(batch []*types.Chain) {
	for {
		select {
		case b.allCycles <- batch:
			return
		default:
		}
		select {
		case old := <-b.allCycles:
			b.dropped.Add(int64(len(old)))
			b.logger.Warn("allCycles queue full, dropping oldest batch", "dropped_chains", len(old))
		default:
		}
	}
}

// AllCycles is the consumer side of the evaluated-chains telemetry queue.
func (b *Bus) AllCycles() <-chan []*types.Chain { return b.allCycles }

// DroppedChains reports how many evaluated chains were discarded because the
// telemetry queue was saturated.
func (b *Bus) DroppedChains() int64 { return b.dropped.Load() }

// PushFireOrder blocks until the order is enqueued or ctx is cancelled.
// A nil order is the executor-pool shutdown sentinel.
func (b *Bus) PushFireOrder(ctx context.Context, o *types.Order) error {
	select {
	case b.fireOrders <- o:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FireOrders is the consumer side of the execution queue.
func (b *Bus) FireOrders() <-chan *types.Order { return b.fireOrders }

// StopTrading reports whether the stop-loss flag is engaged.
func (b *Bus) StopTrading() bool { return b.stopTrading.Load() }

// SetStopTrading flips the stop-loss flag. Only the balances checker writes
// it; everyone else reads.
func (b *Bus) SetStopTrading(v bool) { b.stopTrading.Store(v) }

// Depths is a point-in-time view of the queue fill levels, for metrics and
// status reporting.
type Depths struct {
	Tickers        int
	PositiveCycles int
	StoreCycles    int
	AllCycles      int
	FireOrders     int
}

// QueueDepths samples the current length of every queue.
func (b *Bus) QueueDepths() Depths {
	return Depths{
		Tickers:        len(b.tickers),
		PositiveCycles: len(b.positiveCycles),
		StoreCycles:    len(b.storeCycles),
		AllCycles:      len(b.allCycles),
		FireOrders:     len(b.fireOrders),
	}
}
