// Package balance maintains the locally-cached view of account balances and
// exchange rates, refreshes it from the exchange and, optionally, rebalances
// the portfolio across coins.
package balance

import (
	"log/slog"
	"sync"

	"triarb/internal/market"
)

// Registry caches coin balances and market rates.
//
// The trade manager optimistically reduces a coin's balance the moment it
// fires an order, before the exchange confirms anything. The periodic updater
// then wholesale-replaces the snapshot, discarding every optimistic reduction.
// That discard is the correction step, not a bug: between refreshes the
// reduced view prevents overspend, and each refresh resynchronizes the cache
// with what the exchange actually holds.
//
// All access goes through one mutex; readers get value snapshots, never live
// references.
type Registry struct {
	mu       sync.Mutex
	balances map[string]float64 // coin -> amount
	rates    map[string]float64 // symbol -> latest price, e.g. "BTCUSDT" -> 55100
	usdCoin  string
	filled   bool // set by the first UpdateBalances

	logger *slog.Logger
}

// NewRegistry builds an empty registry. usdCoin is the designated coin for
// expressing balances in USD terms, e.g. "USDT".
func NewRegistry(usdCoin string, logger *slog.Logger) *Registry {
	return &Registry{
		balances: make(map[string]float64),
		rates:    make(map[string]float64),
		usdCoin:  usdCoin,
		logger:   logger.With("component", "balances-registry"),
	}
}

// UpdateBalances wholesale-replaces the balance snapshot. Optimistic
// reductions made since the previous update are deliberately discarded.
func (r *Registry) UpdateBalances(balances map[string]float64) {
	cp := make(map[string]float64, len(balances))
	for coin, amount := range balances {
		cp[coin] = amount
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances = cp
	r.filled = true
}

// UpdateRates wholesale-replaces the rate snapshot. Keys are exchange symbols.
func (r *Registry) UpdateRates(rates map[string]float64) {
	cp := make(map[string]float64, len(rates))
	for symbol, price := range rates {
		cp[symbol] = price
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rates = cp
}

// Reduce subtracts an in-flight spend from a coin's cached balance. A
// resulting negative value is tolerated and kept: the next wholesale refresh
// corrects it.
func (r *Registry) Reduce(coin string, amount float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.balances[coin] - amount
	if next < 0 {
		r.logger.Warn("balance reduced below zero, awaiting refresh", "coin", coin, "balance", next)
	}
	r.balances[coin] = next
}

// Balance returns a coin's cached amount. ok is false when the coin has never
// been reported.
func (r *Registry) Balance(coin string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.balances[coin]
	return v, ok
}

// Balances returns a copy of the whole balance snapshot.
func (r *Registry) Balances() map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make(map[string]float64, len(r.balances))
	for coin, amount := range r.balances {
		cp[coin] = amount
	}
	return cp
}

// ExchangeRate returns the cached latest price for an exchange symbol.
func (r *Registry) ExchangeRate(symbol string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.rates[symbol]
	return v, ok
}

// BalanceUsd expresses a coin's balance in USD terms: the balance itself for
// USD-equivalent coins, otherwise balance times the coin/usdCoin rate. ok is
// false when the coin or the rate is unknown.
func (r *Registry) BalanceUsd(coin string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	amount, ok := r.balances[coin]
	if !ok {
		return 0, false
	}
	if coin == r.usdCoin || market.IsUsdEquivalent(coin) {
		return amount, true
	}
	rate, ok := r.rates[coin+r.usdCoin]
	if !ok {
		return 0, false
	}
	return amount * rate, true
}

// IsEmpty reports whether the registry has never been filled.
func (r *Registry) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.filled
}
