package market

import (
	"math"
	"reflect"
	"testing"

	"triarb/pkg/types"
)

func sixSymbolUniverse() map[string]string {
	return map[string]string{
		"BTCETH":   "BTC/ETH",
		"BTCUSDT":  "BTC/USDT",
		"ETHUSDT":  "ETH/USDT",
		"EURUSDT":  "EUR/USDT",
		"DOGEUSDT": "DOGE/USDT",
		"DOGEEUR":  "DOGE/EUR",
	}
}

func TestTradingCoins(t *testing.T) {
	t.Parallel()

	d := New(sixSymbolUniverse(), nil)
	want := []string{"BTC", "DOGE", "ETH", "EUR", "USDT"}
	if got := d.TradingCoins(); !reflect.DeepEqual(got, want) {
		t.Errorf("TradingCoins() = %v, want %v", got, want)
	}
}

func TestCycleEnumeration(t *testing.T) {
	t.Parallel()

	d := New(sixSymbolUniverse(), nil)

	// Two triangles ({BTC,ETH,USDT} and {USDT,EUR,DOGE}), each in six
	// orientations.
	if got := d.CycleCount(); got != 12 {
		t.Fatalf("CycleCount() = %d, want 12", got)
	}

	byCoinPath := make(map[string]string)
	for _, cy := range d.CyclesForMarkets(nil) {
		byCoinPath[cy.CoinPath()] = cy.MarketPath()
	}

	tests := []struct {
		coinPath   string
		marketPath string
	}{
		{"BTC -> ETH -> USDT -> BTC", "BTC/ETH -> ETH/USDT -> BTC/USDT"},
		{"USDT -> EUR -> DOGE -> USDT", "EUR/USDT -> DOGE/EUR -> DOGE/USDT"},
		{"USDT -> BTC -> ETH -> USDT", "BTC/USDT -> BTC/ETH -> ETH/USDT"},
	}
	for _, tt := range tests {
		got, ok := byCoinPath[tt.coinPath]
		if !ok {
			t.Errorf("cycle %q missing from the index", tt.coinPath)
			continue
		}
		if got != tt.marketPath {
			t.Errorf("cycle %q realized as %q, want %q", tt.coinPath, got, tt.marketPath)
		}
	}
}

func TestCyclesForMarkets(t *testing.T) {
	t.Parallel()

	d := New(sixSymbolUniverse(), nil)

	tests := []struct {
		name    string
		markets []string
		want    int
	}{
		{"by symbol", []string{"DOGEEUR"}, 6},
		{"lowercase symbol", []string{"dogeeur"}, 6},
		{"canonical market", []string{"DOGE/EUR"}, 6},
		{"unknown market", []string{"NOT_EXISTS"}, 0},
		{"nil means everything", nil, 12},
		{"duplicates collapse", []string{"DOGEEUR", "DOGE/EUR"}, 6},
		{"shared leg unions", []string{"ETHUSDT", "EURUSDT"}, 12},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := len(d.CyclesForMarkets(tt.markets)); got != tt.want {
				t.Errorf("got %d cycles, want %d", got, tt.want)
			}
		})
	}
}

func TestCoinAllowlist(t *testing.T) {
	t.Parallel()

	d := New(sixSymbolUniverse(), []string{"BTC", "ETH", "USDT"})

	want := []string{"BTC", "ETH", "USDT"}
	if got := d.TradingCoins(); !reflect.DeepEqual(got, want) {
		t.Errorf("TradingCoins() = %v, want %v", got, want)
	}
	if got := d.CycleCount(); got != 6 {
		t.Errorf("CycleCount() = %d, want 6", got)
	}
	if d.Put(types.Ticker{Market: "EUR/USDT", BestBid: 1.1}) {
		t.Error("ticker outside the allowlist must be rejected")
	}
}

func TestPutAndGet(t *testing.T) {
	t.Parallel()

	d := New(sixSymbolUniverse(), nil)
	tk := types.Ticker{Market: "BTC/USDT", BestBid: 55100, BestBidQty: 1.22, BestAsk: 55200, BestAskQty: 2.01}

	if !d.Put(tk) {
		t.Fatal("ticker for a known market must be accepted")
	}
	if d.Put(types.Ticker{Market: "XXX/YYY"}) {
		t.Error("ticker for an unknown market must be rejected")
	}

	got, ok := d.Ticker("BTC/USDT")
	if !ok || got != tk {
		t.Errorf("Ticker() = %+v, %v; want the stored ticker", got, ok)
	}
	if d.LastUpdateMs("BTC/USDT") == 0 {
		t.Error("Put must stamp the last-update time")
	}

	snapshot := d.Get()
	if len(snapshot) != 1 {
		t.Fatalf("Get() has %d entries, want 1", len(snapshot))
	}
	snapshot["BTC/USDT"] = types.Ticker{Market: "BTC/USDT", BestBid: 1}
	if again, _ := d.Ticker("BTC/USDT"); again.BestBid != 55100 {
		t.Error("Get() must return a copy, not the live map")
	}
}

func TestMarketOf(t *testing.T) {
	t.Parallel()

	d := New(sixSymbolUniverse(), nil)
	if m, ok := d.MarketOf("btcusdt"); !ok || m != "BTC/USDT" {
		t.Errorf("MarketOf(btcusdt) = %q, %v", m, ok)
	}
	if _, ok := d.MarketOf("XXXYYY"); ok {
		t.Error("unknown symbol must not resolve")
	}
}

func TestUsdPrice(t *testing.T) {
	t.Parallel()

	d := New(sixSymbolUniverse(), nil)
	d.Put(types.Ticker{Market: "BTC/USDT", BestBid: 55100, BestAsk: 55200})

	if p, ok := d.UsdPrice("BTC"); !ok || p != 55100 {
		t.Errorf("UsdPrice(BTC) = %v, %v; want best bid 55100", p, ok)
	}
	if p, ok := d.UsdPrice("USDT"); !ok || p != 1 {
		t.Errorf("UsdPrice(USDT) = %v, %v; want 1", p, ok)
	}
	if _, ok := d.UsdPrice("ETH"); ok {
		t.Error("no ETH/stable ticker yet, price must be unavailable")
	}

	// Reciprocal probe: only stable/coin exists.
	rev := New(map[string]string{"USDTXYZ": "USDT/XYZ"}, nil)
	rev.Put(types.Ticker{Market: "USDT/XYZ", BestBid: 3.9, BestAsk: 4})
	if p, ok := rev.UsdPrice("XYZ"); !ok || math.Abs(p-0.25) > 1e-9 {
		t.Errorf("UsdPrice(XYZ) = %v, %v; want reciprocal ask 0.25", p, ok)
	}
}
