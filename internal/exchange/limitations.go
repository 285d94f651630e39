// limitations.go tracks the order constraints the exchange declares per
// symbol: price tick size, quantity lot step, and the minimum quote-side
// notional. Orders are rounded down to the steps on exact decimal values,
// never on binary floats, so the serialized price and quantity strings are
// exactly what the exchange accepts.
package exchange

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"triarb/pkg/types"
)

// Limitation holds one symbol's order constraints.
type Limitation struct {
	MinPriceStep  decimal.Decimal // PRICE_FILTER tickSize
	MinVolumeStep decimal.Decimal // LOT_SIZE stepSize
	MinNotional   decimal.Decimal // MIN_NOTIONAL / NOTIONAL quote minimum
}

// Limitations is the constraint table for all symbols, refreshed from the
// exchange info snapshot.
type Limitations struct {
	mu       sync.RWMutex
	bySymbol map[string]Limitation
	logger   *slog.Logger
}

// NewLimitations creates an empty constraint table.
func NewLimitations(logger *slog.Logger) *Limitations {
	return &Limitations{
		bySymbol: make(map[string]Limitation),
		logger:   logger.With("component", "limitations"),
	}
}

// Refresh replaces the whole table from a fresh exchange info snapshot.
func (l *Limitations) Refresh(info *types.ExchangeInfo) {
	bySymbol := make(map[string]Limitation, len(info.Symbols))
	for _, s := range info.Symbols {
		var lim Limitation
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				lim.MinPriceStep = parseDecimal(f.TickSize)
			case "LOT_SIZE":
				lim.MinVolumeStep = parseDecimal(f.StepSize)
			case "MIN_NOTIONAL", "NOTIONAL":
				lim.MinNotional = parseDecimal(f.MinNotional)
			}
		}
		bySymbol[s.Symbol] = lim
	}

	l.mu.Lock()
	l.bySymbol = bySymbol
	l.mu.Unlock()
	l.logger.Info("exchange limitations refreshed", "symbols", len(bySymbol))
}

// Get returns the constraints declared for a symbol.
func (l *Limitations) Get(symbol string) (Limitation, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	lim, ok := l.bySymbol[symbol]
	return lim, ok
}

// Adjust rounds the order's price down to a multiple of the symbol's tick
// size and its quantity down to a multiple of the lot step. A symbol without
// declared constraints passes through unchanged.
func (l *Limitations) Adjust(o *types.Order) {
	lim, ok := l.Get(o.Symbol)
	if !ok {
		return
	}
	o.Price = floorToStep(o.Price, lim.MinPriceStep)
	o.Quantity = floorToStep(o.Quantity, lim.MinVolumeStep)
}

// Check verifies the order clears the symbol's minimum notional. The reason
// string is empty when the order is fine.
func (l *Limitations) Check(o *types.Order) (bool, string) {
	lim, ok := l.Get(o.Symbol)
	if !ok || lim.MinNotional.IsZero() {
		return true, ""
	}
	notional := o.Quantity.Mul(o.Price)
	if notional.LessThan(lim.MinNotional) {
		return false, fmt.Sprintf("order notional %s on %s is below the exchange minimum %s",
			notional, o.Symbol, lim.MinNotional)
	}
	return true, ""
}

// floorToStep rounds v down to a multiple of step.
func floorToStep(v, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
