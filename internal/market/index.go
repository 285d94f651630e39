package market

import (
	"sort"
	"strings"

	"triarb/pkg/types"
)

// Cycle is one precomputed triangular path: the ordered coins A→B→C→A plus
// the market realizing each conversion. Markets keep whatever orientation the
// exchange lists them in, so the same triangle appears as six distinct cycles
// (three rotations in each direction).
type Cycle struct {
	Coins   [3]string // A, B, C; the cycle closes back to A
	Markets [3]string // canonical "BASE/QUOTE" markets for A→B, B→C, C→A
}

// CoinPath renders the coin cycle, e.g. "BTC -> ETH -> USDT -> BTC".
func (c Cycle) CoinPath() string {
	return c.Coins[0] + " -> " + c.Coins[1] + " -> " + c.Coins[2] + " -> " + c.Coins[0]
}

// MarketPath renders the market cycle, e.g. "BTC/ETH -> ETH/USDT -> BTC/USDT".
func (c Cycle) MarketPath() string {
	return strings.Join(c.Markets[:], " -> ")
}

// otherCoin returns the counterpart coin of a two-coin market, "" when the
// coin is not part of the market.
func otherCoin(market, coin string) string {
	switch coin {
	case types.BaseCoin(market):
		return types.QuoteCoin(market)
	case types.QuoteCoin(market):
		return types.BaseCoin(market)
	}
	return ""
}

// buildCycles enumerates every three-leg cycle over the market graph:
// A→B from marketPaths[A], then B→C, then C→A, rejecting coin repeats except
// the closing step and rejecting degenerate edges. Coins are walked in sorted
// order so the cycle index is stable across runs.
func buildCycles(coins map[string]struct{}, marketPaths map[string][]string) []Cycle {
	sorted := make([]string, 0, len(coins))
	for c := range coins {
		sorted = append(sorted, c)
	}
	sort.Strings(sorted)

	var cycles []Cycle
	for _, a := range sorted {
		for _, m1 := range marketPaths[a] {
			b := otherCoin(m1, a)
			if b == "" || b == a {
				continue
			}
			for _, m2 := range marketPaths[b] {
				c := otherCoin(m2, b)
				if c == "" || c == a || c == b {
					continue
				}
				for _, m3 := range marketPaths[c] {
					if otherCoin(m3, c) != a {
						continue
					}
					cycles = append(cycles, Cycle{
						Coins:   [3]string{a, b, c},
						Markets: [3]string{m1, m2, m3},
					})
				}
			}
		}
	}
	return cycles
}
