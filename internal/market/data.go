// Package market holds the current book-top per market and the precomputed
// triangle index.
//
// MarketData is updated from one source, the websocket listener via Put, and
// read by the evaluator and the reporting layers. The ticker map is guarded by
// an RWMutex; the index structures are built once at construction and never
// mutated, so they are read lock-free.
package market

import (
	"sort"
	"strings"
	"sync"
	"time"

	"triarb/pkg/types"
)

// usdEquivalents is the fixed probe order for expressing a coin in USD terms.
var usdEquivalents = []string{"USDT", "BUSD", "USDC"}

// IsUsdEquivalent reports whether the coin is treated as a USD stable.
func IsUsdEquivalent(coin string) bool {
	for _, c := range usdEquivalents {
		if c == coin {
			return true
		}
	}
	return false
}

// Data is the in-memory market model: current book-tops keyed by canonical
// market, plus the triangle index over the tradable universe.
type Data struct {
	mu           sync.RWMutex
	tickers      map[string]types.Ticker
	lastUpdateMs map[string]int64

	symbolToMarket map[string]string   // "BTCUSDT" -> "BTC/USDT"
	markets        map[string]struct{} // canonical markets surviving the allowlist
	tradingCoins   map[string]struct{}
	marketPaths    map[string][]string // coin -> markets touching it
	cycles         []Cycle
	marketToCycles map[string][]int // symbol -> indices into cycles
}

// New builds the model from the exchange's symbol→market mapping, keeping only
// markets whose base and quote both lie in the coin allowlist. A nil or empty
// allowlist keeps everything.
func New(symbolToMarket map[string]string, allowedCoins []string) *Data {
	allow := make(map[string]struct{}, len(allowedCoins))
	for _, c := range allowedCoins {
		allow[strings.ToUpper(c)] = struct{}{}
	}
	allowed := func(coin string) bool {
		if len(allow) == 0 {
			return true
		}
		_, ok := allow[coin]
		return ok
	}

	d := &Data{
		tickers:        make(map[string]types.Ticker),
		lastUpdateMs:   make(map[string]int64),
		symbolToMarket: make(map[string]string),
		markets:        make(map[string]struct{}),
		tradingCoins:   make(map[string]struct{}),
		marketPaths:    make(map[string][]string),
		marketToCycles: make(map[string][]int),
	}

	for symbol, mkt := range symbolToMarket {
		base, quote := types.BaseCoin(mkt), types.QuoteCoin(mkt)
		if quote == "" || !allowed(base) || !allowed(quote) {
			continue
		}
		d.symbolToMarket[strings.ToUpper(symbol)] = mkt
		d.markets[mkt] = struct{}{}
		d.tradingCoins[base] = struct{}{}
		d.tradingCoins[quote] = struct{}{}
		d.marketPaths[base] = append(d.marketPaths[base], mkt)
		d.marketPaths[quote] = append(d.marketPaths[quote], mkt)
	}
	// Deterministic enumeration order regardless of map iteration.
	for coin := range d.marketPaths {
		sort.Strings(d.marketPaths[coin])
	}

	d.cycles = buildCycles(d.tradingCoins, d.marketPaths)
	for i, cy := range d.cycles {
		for _, mkt := range cy.Markets {
			sym := types.SymbolOf(mkt)
			d.marketToCycles[sym] = append(d.marketToCycles[sym], i)
		}
	}
	return d
}

// Put records the book-top for the ticker's market and stamps its last-update
// time. Tickers for markets outside the tradable universe are ignored.
func (d *Data) Put(t types.Ticker) bool {
	if _, ok := d.markets[t.Market]; !ok {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tickers[t.Market] = t
	d.lastUpdateMs[t.Market] = time.Now().UnixMilli()
	return true
}

// Ticker returns the current book-top for one market.
func (d *Data) Ticker(market string) (types.Ticker, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tickers[market]
	return t, ok
}

// Get returns a copy of the whole ticker map, safe to iterate without locks.
func (d *Data) Get() map[string]types.Ticker {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]types.Ticker, len(d.tickers))
	for m, t := range d.tickers {
		out[m] = t
	}
	return out
}

// LastUpdateMs reports when the market's book-top last changed, 0 if never.
func (d *Data) LastUpdateMs(market string) int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastUpdateMs[market]
}

// UsdPrice expresses one unit of coin in USD terms by probing coin/stable
// (best bid) then stable/coin (reciprocal best ask) across the fixed stable
// list. ok is false when no such market has a ticker yet.
func (d *Data) UsdPrice(coin string) (float64, bool) {
	if IsUsdEquivalent(coin) {
		return 1, true
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, stable := range usdEquivalents {
		if t, ok := d.tickers[coin+"/"+stable]; ok && t.BestBid > 0 {
			return t.BestBid, true
		}
		if t, ok := d.tickers[stable+"/"+coin]; ok && t.BestAsk > 0 {
			return 1 / t.BestAsk, true
		}
	}
	return 0, false
}

// CyclesForMarkets returns the union of cycles touching the given markets.
// Markets are accepted in symbol or canonical form, case-insensitively. A nil
// restriction returns every cycle.
func (d *Data) CyclesForMarkets(markets []string) []Cycle {
	if markets == nil {
		out := make([]Cycle, len(d.cycles))
		copy(out, d.cycles)
		return out
	}
	seen := make(map[int]struct{})
	var out []Cycle
	for _, m := range markets {
		sym := strings.ToUpper(strings.ReplaceAll(m, "/", ""))
		for _, i := range d.marketToCycles[sym] {
			if _, dup := seen[i]; dup {
				continue
			}
			seen[i] = struct{}{}
			out = append(out, d.cycles[i])
		}
	}
	return out
}

// Markets lists the canonical markets in the tradable universe, sorted.
func (d *Data) Markets() []string {
	out := make([]string, 0, len(d.markets))
	for m := range d.markets {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// MarketOf resolves an exchange symbol to its canonical market.
func (d *Data) MarketOf(symbol string) (string, bool) {
	m, ok := d.symbolToMarket[strings.ToUpper(symbol)]
	return m, ok
}

// TradingCoins lists the coins of the tradable universe, sorted.
func (d *Data) TradingCoins() []string {
	out := make([]string, 0, len(d.tradingCoins))
	for c := range d.tradingCoins {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// CycleCount reports the size of the precomputed triangle index.
func (d *Data) CycleCount() int { return len(d.cycles) }
