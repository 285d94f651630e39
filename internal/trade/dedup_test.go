package trade

import (
	"testing"
	"time"

	"triarb/pkg/types"
)

func dedupChain(roi float64) *types.Chain {
	return &types.Chain{
		InitialCoin: "USDT",
		Steps: []types.ChainStep{
			{Market: "BTC/USDT", Side: types.BUY, Price: 30000, Volume: 0.01},
			{Market: "ETH/BTC", Side: types.BUY, Price: 0.05, Volume: 5},
			{Market: "ETH/USDT", Side: types.SELL, Price: 2500, Volume: 5},
		},
		ROI: roi,
	}
}

func newTestFilter(ttl time.Duration, startMs int64) (*RecentFilter, *int64) {
	f := NewRecentFilter(ttl)
	nowMs := startMs
	f.now = func() int64 { return nowMs }
	return f, &nowMs
}

func TestRecentFilterContainsRepeatsWithinTimeframe(t *testing.T) {
	f, nowMs := newTestFilter(time.Second, 1000)
	c := dedupChain(0.001)

	if f.RegisterAndContained(c) {
		t.Error("first sighting should not be contained")
	}
	*nowMs = 1500
	if !f.RegisterAndContained(c) {
		t.Error("repeat within the timeframe should be contained")
	}

	// The repeat refreshed the stamp, so expiry counts from 1500.
	*nowMs = 1500 + 1001
	if f.RegisterAndContained(c) {
		t.Error("sighting after the timeframe should not be contained")
	}
}

func TestRecentFilterKeyIncludesROI(t *testing.T) {
	f, _ := newTestFilter(time.Second, 1000)

	if f.RegisterAndContained(dedupChain(0.001)) {
		t.Error("first sighting should not be contained")
	}
	if f.RegisterAndContained(dedupChain(0.002)) {
		t.Error("same markets with a different ROI is a different arbitrage")
	}
}

func TestRecentFilterIgnoresNil(t *testing.T) {
	f, _ := newTestFilter(time.Second, 1000)
	if f.RegisterAndContained(nil) {
		t.Error("nil chain should never be contained")
	}
}

func TestRecentFilterEvictsExpiredEntries(t *testing.T) {
	f, nowMs := newTestFilter(time.Second, 1000)

	f.RegisterAndContained(dedupChain(0.001))
	f.RegisterAndContained(dedupChain(0.002))

	*nowMs = 1000 + 5000
	f.RegisterAndContained(dedupChain(0.003))

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.seen) != 1 {
		t.Errorf("map holds %d entries after the sweep, want only the fresh one", len(f.seen))
	}
}
