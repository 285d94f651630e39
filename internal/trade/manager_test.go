package trade

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"triarb/internal/balance"
	"triarb/internal/bus"
	"triarb/internal/exchange"
	"triarb/pkg/types"
)

type managerFixture struct {
	bus         *bus.Bus
	registry    *balance.Registry
	limitations *exchange.Limitations
	inFlight    *InFlight
	manager     *Manager
}

func newTestManager(t *testing.T, cfg ManagerConfig) *managerFixture {
	t.Helper()
	if cfg.Exchange == "" {
		cfg.Exchange = "Binance"
	}
	if cfg.MaxBalanceRatio == 0 {
		cfg.MaxBalanceRatio = 0.3
	}
	if cfg.DuplicateTTL == 0 {
		cfg.DuplicateTTL = time.Minute
	}
	f := &managerFixture{
		bus:         bus.New(bus.Sizes{}, slog.Default()),
		registry:    balance.NewRegistry("USDT", slog.Default()),
		limitations: exchange.NewLimitations(slog.Default()),
		inFlight:    NewInFlight(),
	}
	f.manager = NewManager(f.bus, f.limitations, f.registry, f.inFlight, cfg, slog.Default())
	return f
}

func richBalances(f *managerFixture) {
	f.registry.UpdateBalances(map[string]float64{"BTC": 1000, "USDT": 1_000_000, "ETH": 1000})
}

// tradeChain is the USDT -> BTC -> ETH -> USDT triangle used across the
// manager tests.
func tradeChain(roi float64) *types.Chain {
	return &types.Chain{
		InitialCoin: "USDT",
		Steps: []types.ChainStep{
			{Market: "BTC/USDT", Side: types.BUY, Price: 30000, Volume: 0.01},
			{Market: "ETH/BTC", Side: types.BUY, Price: 0.05, Volume: 5},
			{Market: "ETH/USDT", Side: types.SELL, Price: 2500, Volume: 5},
		},
		ROI:       roi,
		Profit:    0.5,
		ProfitUsd: 0.5,
		TimeMs:    1700000000000,
	}
}

func drainOrders(b *bus.Bus) []*types.Order {
	var out []*types.Order
	for {
		select {
		case o := <-b.FireOrders():
			out = append(out, o)
		default:
			return out
		}
	}
}

func drainStored(b *bus.Bus) []*types.Chain {
	var out []*types.Chain
	for {
		select {
		case c := <-b.StoreCycles():
			out = append(out, c)
		default:
			return out
		}
	}
}

func TestManagerFiresOrdersForChain(t *testing.T) {
	f := newTestManager(t, ManagerConfig{})
	richBalances(f)
	c := tradeChain(0.001)
	hash8 := c.Hash8()

	f.manager.processBatch(context.Background(), []*types.Chain{c})

	orders := drainOrders(f.bus)
	if len(orders) != 3 {
		t.Fatalf("fired %d orders, want 3", len(orders))
	}
	byID := make(map[string]*types.Order)
	for _, o := range orders {
		byID[o.ClientOrderID] = o
	}

	leg1 := byID[types.NewClientOrderID(hash8, 1)]
	if leg1 == nil {
		t.Fatalf("no order for leg 1, got ids %v", keysOf(byID))
	}
	if leg1.Side != types.BUY || leg1.Symbol != "BTCUSDT" {
		t.Errorf("leg 1 = %s %s, want BUY BTCUSDT", leg1.Side, leg1.Symbol)
	}
	if !leg1.Quantity.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("leg 1 quantity = %s, want 0.01", leg1.Quantity)
	}
	wantPrice := 30000 * (1 + c.ROI)
	if got := leg1.Price.InexactFloat64(); math.Abs(got-wantPrice) > 1e-7 {
		t.Errorf("leg 1 price = %v, want %v", got, wantPrice)
	}
	leg3 := byID[types.NewClientOrderID(hash8, 3)]
	if leg3 == nil {
		t.Fatal("no order for leg 3")
	}
	wantSellPrice := 2500 * (1 - c.ROI)
	if got := leg3.Price.InexactFloat64(); math.Abs(got-wantSellPrice) > 1e-7 {
		t.Errorf("leg 3 price = %v, want %v", got, wantSellPrice)
	}
	for _, o := range orders {
		if o.ArbitrageHash8 != hash8 {
			t.Errorf("order %s hash8 = %d, want %d", o.ClientOrderID, o.ArbitrageHash8, hash8)
		}
		if o.CreatedAtMs == 0 {
			t.Errorf("order %s has no creation time", o.ClientOrderID)
		}
	}

	stored := drainStored(f.bus)
	if len(stored) != 1 {
		t.Fatalf("stored %d chains, want 1", len(stored))
	}
	if stored[0].Comment != "orders created successfully" {
		t.Errorf("comment = %q", stored[0].Comment)
	}

	// The optimistic debit: USDT down by leg 1's notional.
	usdt, _ := f.registry.Balance("USDT")
	wantUsdt := 1_000_000 - 0.01*wantPrice
	if math.Abs(usdt-wantUsdt) > 1e-6 {
		t.Errorf("USDT balance = %v, want %v", usdt, wantUsdt)
	}
	if f.inFlight.Chains() != 1 || f.inFlight.Orders() != 3 {
		t.Errorf("in flight = %d chains / %d orders, want 1/3", f.inFlight.Chains(), f.inFlight.Orders())
	}
}

func TestManagerShrinksVolumesToBalances(t *testing.T) {
	f := newTestManager(t, ManagerConfig{MaxBalanceRatio: 0.3})
	f.registry.UpdateBalances(map[string]float64{"BTC": 20, "USDT": 500, "ETH": 10})
	c := tradeChain(0.001)
	hash8 := c.Hash8()

	f.manager.processBatch(context.Background(), []*types.Chain{c})

	orders := drainOrders(f.bus)
	if len(orders) != 3 {
		t.Fatalf("fired %d orders, want 3", len(orders))
	}
	want := map[string]string{
		types.NewClientOrderID(hash8, 1): "0.005",
		types.NewClientOrderID(hash8, 2): "2.5",
		types.NewClientOrderID(hash8, 3): "2.5",
	}
	for _, o := range orders {
		if !o.Quantity.Equal(decimal.RequireFromString(want[o.ClientOrderID])) {
			t.Errorf("order %s quantity = %s, want %s", o.ClientOrderID, o.Quantity, want[o.ClientOrderID])
		}
	}
}

func TestManagerGates(t *testing.T) {
	tests := []struct {
		name        string
		cfg         ManagerConfig
		setup       func(f *managerFixture)
		chain       func() *types.Chain
		wantComment string
	}{
		{
			name:        "stop trading flag",
			setup:       func(f *managerFixture) { richBalances(f); f.bus.SetStopTrading(true) },
			chain:       func() *types.Chain { return tradeChain(0.001) },
			wantComment: "stop trading flag is set",
		},
		{
			name:  "profit too low",
			cfg:   ManagerConfig{ProfitThresholdUsd: 1},
			setup: richBalances,
			chain: func() *types.Chain {
				c := tradeChain(0.001)
				c.ProfitUsd = 0.5
				return c
			},
			wantComment: "arbitrage profit is too low",
		},
		{
			name: "spending coin balance at zero",
			setup: func(f *managerFixture) {
				f.registry.UpdateBalances(map[string]float64{"BTC": 5, "USDT": 0, "ETH": 5})
			},
			chain:       func() *types.Chain { return tradeChain(0.001) },
			wantComment: "USDT balance is 0 or below",
		},
		{
			name: "below minimum notional",
			setup: func(f *managerFixture) {
				richBalances(f)
				f.limitations.Refresh(&types.ExchangeInfo{Symbols: []types.SymbolInfo{{
					Symbol: "BTCUSDT",
					Filters: []types.SymbolFilter{{FilterType: "MIN_NOTIONAL", MinNotional: "1000000"}},
				}}})
			},
			chain:       func() *types.Chain { return tradeChain(0.001) },
			wantComment: "below the exchange minimum",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestManager(t, tt.cfg)
			tt.setup(f)

			f.manager.processBatch(context.Background(), []*types.Chain{tt.chain()})

			if orders := drainOrders(f.bus); len(orders) != 0 {
				t.Errorf("fired %d orders, want none", len(orders))
			}
			stored := drainStored(f.bus)
			if len(stored) != 1 {
				t.Fatalf("stored %d chains, want 1", len(stored))
			}
			if !strings.Contains(stored[0].Comment, tt.wantComment) {
				t.Errorf("comment = %q, want it to mention %q", stored[0].Comment, tt.wantComment)
			}
		})
	}
}

func TestManagerSuppressesDuplicates(t *testing.T) {
	f := newTestManager(t, ManagerConfig{})
	richBalances(f)
	ctx := context.Background()

	f.manager.processBatch(ctx, []*types.Chain{tradeChain(0.001)})
	if got := len(drainOrders(f.bus)); got != 3 {
		t.Fatalf("first pass fired %d orders, want 3", got)
	}

	// Same markets, same ROI, observed again right away.
	f.manager.processBatch(ctx, []*types.Chain{tradeChain(0.001)})
	if got := len(drainOrders(f.bus)); got != 0 {
		t.Errorf("second pass fired %d orders, want none", got)
	}
	stored := drainStored(f.bus)
	if len(stored) != 2 {
		t.Fatalf("stored %d chains, want 2", len(stored))
	}
	if !strings.Contains(stored[1].Comment, "duplicate") {
		t.Errorf("comment = %q, want a duplicate rejection", stored[1].Comment)
	}
}

func TestManagerFiresOnlyTopChain(t *testing.T) {
	f := newTestManager(t, ManagerConfig{FireOnlyTop: true, SortByROI: true})
	richBalances(f)

	low := tradeChain(0.001)
	high := tradeChain(0.004)
	f.manager.processBatch(context.Background(), []*types.Chain{low, high})

	orders := drainOrders(f.bus)
	if len(orders) != 3 {
		t.Fatalf("fired %d orders, want only the top chain's 3", len(orders))
	}
	stored := drainStored(f.bus)
	if len(stored) != 2 {
		t.Fatalf("stored %d chains, want 2", len(stored))
	}
	if stored[0] != high {
		t.Error("batch should be sorted with the top ROI chain first")
	}
	if high.Comment != "orders created successfully" {
		t.Errorf("top comment = %q", high.Comment)
	}
	if !strings.Contains(low.Comment, "top chain") {
		t.Errorf("skipped comment = %q, want a top-chain note", low.Comment)
	}
}

func TestManagerStopsOnSentinel(t *testing.T) {
	f := newTestManager(t, ManagerConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		f.manager.Run(ctx)
		close(done)
	}()

	if err := f.bus.PushPositiveBatch(ctx, nil); err != nil {
		t.Fatalf("push sentinel: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("manager did not stop on the sentinel")
	}
}

func keysOf(m map[string]*types.Order) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
