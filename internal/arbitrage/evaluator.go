// Package arbitrage contains the triangle evaluator, the volume solver and
// the loop that drives them from the ticker queue.
package arbitrage

import (
	"log/slog"
	"strings"
	"time"

	"triarb/internal/market"
	"triarb/pkg/types"
)

// Evaluator turns the current book-tops into evaluated arbitrage chains. It
// never writes to the market data and keeps no per-call state, so a single
// instance is driven by the arbitrage loop.
type Evaluator struct {
	data       *market.Data
	fees       map[string]float64 // symbol -> taker fee fraction
	defaultFee float64
	logger     *slog.Logger
}

// NewEvaluator builds an evaluator over the given market model. fees is keyed
// by exchange symbol ("BTCUSDT"); markets not listed use defaultFee.
func NewEvaluator(data *market.Data, fees map[string]float64, defaultFee float64, logger *slog.Logger) *Evaluator {
	normalized := make(map[string]float64, len(fees))
	for sym, fee := range fees {
		normalized[strings.ToUpper(sym)] = fee
	}
	return &Evaluator{
		data:       data,
		fees:       normalized,
		defaultFee: defaultFee,
		logger:     logger.With("component", "evaluator"),
	}
}

func (e *Evaluator) fee(mkt string) float64 {
	if f, ok := e.fees[types.SymbolOf(mkt)]; ok {
		return f
	}
	return e.defaultFee
}

// makeStep derives the chain step that acquires the given coin on the market
// the ticker belongs to. Acquiring the base coin is a BUY against the ask;
// acquiring the quote is a SELL against the bid. Prices carry the trade fee;
// volume is the book-top capacity (for a SELL, expressed through the price so
// that the solver sees the quote-side depth).
func makeStep(t types.Ticker, acquire string, fee float64) (types.ChainStep, bool) {
	if acquire == types.BaseCoin(t.Market) {
		if t.BestAsk <= 0 {
			return types.ChainStep{}, false
		}
		return types.ChainStep{
			Market: t.Market,
			Side:   types.BUY,
			Price:  t.BestAsk * (1 + fee),
			Volume: t.BestAskQty,
		}, true
	}
	if t.BestBid <= 0 {
		return types.ChainStep{}, false
	}
	price := t.BestBid * (1 - fee)
	return types.ChainStep{
		Market: t.Market,
		Side:   types.SELL,
		Price:  price,
		Volume: t.BestBidQty * price,
	}, true
}

// Find evaluates every cycle touching the given markets against the current
// book-tops. Cycles missing a ticker (or quoting a zero price) are skipped
// entirely. onPositive, when non-nil, is invoked for each chain whose profit
// is positive, in evaluation order. The returned slice holds every evaluated
// chain.
func (e *Evaluator) Find(markets []string, onPositive func(*types.Chain)) []*types.Chain {
	nowMs := time.Now().UnixMilli()
	cycles := e.data.CyclesForMarkets(markets)

	chains := make([]*types.Chain, 0, len(cycles))
cycleLoop:
	for _, cy := range cycles {
		steps := make([]types.ChainStep, 3)
		roiProduct := 1.0
		for i := 0; i < 3; i++ {
			ticker, ok := e.data.Ticker(cy.Markets[i])
			if !ok {
				continue cycleLoop
			}
			acquire := cy.Coins[(i+1)%3]
			step, ok := makeStep(ticker, acquire, e.fee(ticker.Market))
			if !ok {
				continue cycleLoop
			}
			steps[i] = step
			if step.IsBuy() {
				roiProduct *= step.Price
			} else {
				roiProduct /= step.Price
			}
		}

		resolved, startVolume := resolveMaxVolume(steps)
		chain := &types.Chain{
			InitialCoin: cy.Coins[0],
			Steps:       resolved,
			ROI:         1 - roiProduct,
			TimeMs:      nowMs,
		}
		chain.Profit = startVolume * chain.ROI
		chain.ProfitUsd = e.profitUsd(chain)
		chains = append(chains, chain)

		if chain.Profit > 0 && onPositive != nil {
			onPositive(chain)
		}
	}
	return chains
}

// profitUsd expresses the chain's profit in USD terms. When the initial coin
// has no USD market yet the value is -1, which downstream gates treat as
// below any sane threshold.
func (e *Evaluator) profitUsd(c *types.Chain) float64 {
	if market.IsUsdEquivalent(c.InitialCoin) {
		return c.Profit
	}
	price, ok := e.data.UsdPrice(c.InitialCoin)
	if !ok {
		return -1
	}
	return c.Profit * price
}
