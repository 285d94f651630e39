package trade

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"triarb/pkg/types"
)

// Watcher folds execution reports from the user-data stream back into the
// order records. Every report is upserted; the repository keeps the fields
// only the first write knew (creation time, arbitrage hash8, comment).
// Terminal reports release the order's in-flight slot.
type Watcher struct {
	reports  <-chan types.WSExecutionReport
	orders   OrderWriter
	inFlight *InFlight
	logger   *slog.Logger
}

// NewWatcher wires the execution-report watcher.
func NewWatcher(reports <-chan types.WSExecutionReport, orders OrderWriter, inFlight *InFlight, logger *slog.Logger) *Watcher {
	return &Watcher{
		reports:  reports,
		orders:   orders,
		inFlight: inFlight,
		logger:   logger.With("component", "order-watcher"),
	}
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	w.logger.Info("order watcher started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("order watcher stopped")
			return
		case r := <-w.reports:
			w.handle(ctx, r)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, r types.WSExecutionReport) {
	w.logger.Info("order changed status", "client_order_id", r.ClientOrderID, "status", r.Status)

	o := w.rebuild(r)
	if err := w.orders.Put(ctx, o); err != nil {
		w.logger.Error("order update persist failed", "client_order_id", r.ClientOrderID, "err", err)
	}

	if isTerminalStatus(o.Status) {
		w.inFlight.MarkDone(o.ClientOrderID)
	}
}

// rebuild turns the wire event into an order record. The hash8 comes back out
// of the client order id; foreign ids (manual trades on the same account) get
// zero and are stored all the same.
func (w *Watcher) rebuild(r types.WSExecutionReport) *types.Order {
	hash8, _ := types.ArbitrageHash8FromClientOrderID(r.ClientOrderID)
	return &types.Order{
		ClientOrderID:  r.ClientOrderID,
		OrderID:        r.OrderID,
		Side:           types.Side(r.Side),
		Symbol:         r.Symbol,
		Quantity:       w.parseDecimal(r.Quantity, r.ClientOrderID),
		Price:          w.parseDecimal(r.Price, r.ClientOrderID),
		Status:         types.OrderStatus(r.Status),
		ArbitrageHash8: hash8,
		TransactTimeMs: r.TransactTime,
		UpdatedAtMs:    r.EventTimeMs,
	}
}

func (w *Watcher) parseDecimal(s, clientOrderID string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		w.logger.Warn("unparseable number in execution report", "client_order_id", clientOrderID, "value", s)
		return decimal.Zero
	}
	return d
}

// isTerminalStatus reports whether the order is off the book for good.
func isTerminalStatus(s types.OrderStatus) bool {
	switch s {
	case types.OrderStatusFilled, types.OrderStatusCanceled, types.OrderStatusRejected, types.OrderStatusExpired:
		return true
	}
	return false
}
