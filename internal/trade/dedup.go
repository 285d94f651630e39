// Package trade turns positive arbitrage chains into exchange orders: the
// manager gates and sizes each chain, the executor pool submits the orders,
// the cancelator reaps the ones the market never filled, and the watcher
// folds execution reports back into the order records.
package trade

import (
	"strconv"
	"sync"
	"time"

	"triarb/pkg/types"
)

// RecentFilter suppresses re-firing the same arbitrage while it is still hot.
// Two chains are the same when they share the markets sequence and the exact
// ROI; a repeat within the duplication timeframe is contained.
type RecentFilter struct {
	mu        sync.Mutex
	seen      map[string]int64
	ttlMs     int64
	sweptAtMs int64
	now       func() int64
}

// NewRecentFilter creates a filter with the given duplication timeframe.
func NewRecentFilter(ttl time.Duration) *RecentFilter {
	return &RecentFilter{
		seen:  make(map[string]int64),
		ttlMs: ttl.Milliseconds(),
		now:   func() int64 { return time.Now().UnixMilli() },
	}
}

// RegisterAndContained stamps the chain as just seen and reports whether it
// was already registered within the timeframe. Re-registering a contained
// chain refreshes its timestamp, so a hammering arbitrage stays suppressed.
func (f *RecentFilter) RegisterAndContained(c *types.Chain) bool {
	if c == nil {
		return false
	}
	key := dedupKey(c)
	nowMs := f.now()

	f.mu.Lock()
	defer f.mu.Unlock()
	prev, existed := f.seen[key]
	f.seen[key] = nowMs
	if nowMs-f.sweptAtMs > f.ttlMs {
		f.sweepLocked(nowMs)
	}
	return existed && nowMs-prev < f.ttlMs
}

// sweepLocked drops expired entries so the map stays bounded by the key
// cardinality of one timeframe.
func (f *RecentFilter) sweepLocked(nowMs int64) {
	for key, seenMs := range f.seen {
		if nowMs-seenMs >= f.ttlMs {
			delete(f.seen, key)
		}
	}
	f.sweptAtMs = nowMs
}

func dedupKey(c *types.Chain) string {
	return c.MarketsSequence() + "_roi_" + strconv.FormatFloat(c.ROI, 'g', -1, 64)
}
