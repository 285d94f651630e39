package trade

import (
	"sync"

	"triarb/pkg/types"
)

// InFlight tracks which of a chain's orders are still working on the
// exchange, keyed by the chain's hash8. The manager registers orders as it
// fires them; the watcher releases them as terminal execution reports arrive.
type InFlight struct {
	mu     sync.Mutex
	chains map[int64]map[string]struct{}
}

// NewInFlight creates an empty tracker.
func NewInFlight() *InFlight {
	return &InFlight{chains: make(map[int64]map[string]struct{})}
}

// Add registers a chain's just-fired client order ids.
func (t *InFlight) Add(hash8 int64, clientOrderIDs ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	orders, ok := t.chains[hash8]
	if !ok {
		orders = make(map[string]struct{}, len(clientOrderIDs))
		t.chains[hash8] = orders
	}
	for _, id := range clientOrderIDs {
		orders[id] = struct{}{}
	}
}

// MarkDone removes a finished order. The chain's slot disappears with its
// last order. Foreign client order ids are ignored.
func (t *InFlight) MarkDone(clientOrderID string) {
	hash8, ok := types.ArbitrageHash8FromClientOrderID(clientOrderID)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	orders, ok := t.chains[hash8]
	if !ok {
		return
	}
	delete(orders, clientOrderID)
	if len(orders) == 0 {
		delete(t.chains, hash8)
	}
}

// Chains reports how many chains still have working orders.
func (t *InFlight) Chains() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.chains)
}

// Orders reports how many orders are working in total.
func (t *InFlight) Orders() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, orders := range t.chains {
		n += len(orders)
	}
	return n
}
