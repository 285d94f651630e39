package trade

import (
	"context"
	"log/slog"
	"time"

	"triarb/internal/bus"
	"triarb/internal/metrics"
	"triarb/pkg/types"
)

// OrderPlacer submits a limit order to the exchange.
type OrderPlacer interface {
	PutLimitOrder(ctx context.Context, o *types.Order, tif types.TimeInForce) (*types.Order, error)
}

// OrderWriter persists an order record.
type OrderWriter interface {
	Put(ctx context.Context, o *types.Order) error
}

// Executor is one worker of the execution pool. All workers consume the same
// fire-orders queue; a nil order is the shutdown sentinel, re-enqueued so the
// peers stop too. Workers share nothing but the bus and the repository.
type Executor struct {
	bus    *bus.Bus
	client OrderPlacer
	orders OrderWriter
	tif    types.TimeInForce
	logger *slog.Logger
}

// NewExecutor wires one execution worker. id distinguishes workers in logs;
// timeInForce is stamped on every limit order ("" lets the client default it).
func NewExecutor(id int, b *bus.Bus, client OrderPlacer, orders OrderWriter, timeInForce types.TimeInForce, logger *slog.Logger) *Executor {
	return &Executor{
		bus:    b,
		client: client,
		orders: orders,
		tif:    timeInForce,
		logger: logger.With("component", "order-executor", "worker", id),
	}
}

// Run blocks until ctx is cancelled or the sentinel arrives.
func (e *Executor) Run(ctx context.Context) {
	e.logger.Info("order executor started")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("order executor stopped")
			return
		case o := <-e.bus.FireOrders():
			if o == nil {
				e.logger.Info("shutdown sentinel received, re-enqueuing for peers")
				// The peers must see it no matter what happened to ctx.
				_ = e.bus.PushFireOrder(context.Background(), nil)
				return
			}
			e.process(ctx, o)
		}
	}
}

func (e *Executor) process(ctx context.Context, o *types.Order) {
	placed := e.post(ctx, o)
	if err := e.orders.Put(ctx, placed); err != nil {
		e.logger.Error("order persist failed", "order", placed.String(), "err", err)
	}
}

// post fires the order and returns the record to persist. A placement failure
// is not retried; the order is marked ERROR with the error text so the record
// tells the story.
func (e *Executor) post(ctx context.Context, o *types.Order) *types.Order {
	e.logger.Info("placing order", "order", o.String())
	o.FiredAtMs = time.Now().UnixMilli()

	placed, err := e.client.PutLimitOrder(ctx, o, e.tif)
	if err != nil {
		e.logger.Error("error placing order", "order", o.String(), "err", err)
		o.Status = types.OrderStatusError
		o.Comment = err.Error()
		metrics.OrdersFired.WithLabelValues("error").Inc()
		return o
	}

	metrics.OrdersFired.WithLabelValues("ok").Inc()
	e.logger.Debug("order placed", "order", placed.String())
	return placed
}
