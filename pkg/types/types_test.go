package types

import (
	"encoding/json"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

const floatTol = 1e-7

func almostEqual(a, b float64) bool { return math.Abs(a-b) < floatTol }

func TestChainStepVolumes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		step         ChainStep
		wantProposed float64
		wantReceived float64
	}{
		{"buy spends quote", ChainStep{Market: "BTC/USDT", Side: BUY, Price: 50000, Volume: 3}, 150000, 3},
		{"sell spends base", ChainStep{Market: "BTC/USDT", Side: SELL, Price: 50000, Volume: 3}, 3, 150000},
		{"buy receives base", ChainStep{Market: "ETH/BTC", Side: BUY, Price: 0.05, Volume: 40}, 2, 40},
		{"sell receives quote", ChainStep{Market: "ETH/BTC", Side: SELL, Price: 0.05, Volume: 40}, 40, 2},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.step.ProposedVolume(); !almostEqual(got, tt.wantProposed) {
				t.Errorf("ProposedVolume() = %v, want %v", got, tt.wantProposed)
			}
			if got := tt.step.ReceivedVolume(); !almostEqual(got, tt.wantReceived) {
				t.Errorf("ReceivedVolume() = %v, want %v", got, tt.wantReceived)
			}
		})
	}
}

func TestChainStepCoins(t *testing.T) {
	t.Parallel()

	tests := []struct {
		step          ChainStep
		wantSpending  string
		wantReceiving string
	}{
		{ChainStep{Market: "BTC/USDT", Side: BUY}, "USDT", "BTC"},
		{ChainStep{Market: "BTC/USDT", Side: SELL}, "BTC", "USDT"},
		{ChainStep{Market: "ETH/BTC", Side: BUY}, "BTC", "ETH"},
	}

	for _, tt := range tests {
		if got := tt.step.SpendingCoin(); got != tt.wantSpending {
			t.Errorf("%s %s: SpendingCoin() = %q, want %q", tt.step.Side, tt.step.Market, got, tt.wantSpending)
		}
		if got := tt.step.ReceivingCoin(); got != tt.wantReceiving {
			t.Errorf("%s %s: ReceivingCoin() = %q, want %q", tt.step.Side, tt.step.Market, got, tt.wantReceiving)
		}
	}
}

func testChain(timeMs int64) *Chain {
	return &Chain{
		InitialCoin: "USDT",
		Steps: []ChainStep{
			{Market: "BTC/USDT", Side: BUY, Price: 55200, Volume: 2.01},
			{Market: "ETH/BTC", Side: BUY, Price: 0.05, Volume: 40},
			{Market: "ETH/USDT", Side: SELL, Price: 2500, Volume: 40},
		},
		ROI:       0.0015,
		Profit:    12.5,
		ProfitUsd: 12.5,
		TimeMs:    timeMs,
	}
}

func TestChainMarketsSequence(t *testing.T) {
	t.Parallel()

	c := testChain(1620000000000)
	want := "[BTC/USDT -> ETH/BTC -> ETH/USDT]"
	if got := c.MarketsSequence(); got != want {
		t.Errorf("MarketsSequence() = %q, want %q", got, want)
	}
}

func TestChainUID(t *testing.T) {
	t.Parallel()

	a := testChain(1620000000000)
	b := testChain(1620000000001)

	if got, want := a.UID(), "BTCUSDT-ETHBTC-ETHUSDT_1620000000000"; got != want {
		t.Errorf("UID() = %q, want %q", got, want)
	}
	if a.UID() == b.UID() {
		t.Error("chains observed at different times must have different UIDs")
	}
	if !a.IsForSameChain(b) {
		t.Error("same market cycle at different times must compare as the same chain")
	}
}

func TestChainHash8(t *testing.T) {
	t.Parallel()

	a := testChain(1620000000000)
	b := testChain(1999999999999)

	if a.Hash8() != b.Hash8() {
		t.Error("hash8 must depend only on the markets sequence, not on time")
	}
	if h := a.Hash8(); h < 0 || h >= 100_000_000 {
		t.Errorf("hash8 = %d, want 8 decimal digits at most", h)
	}

	other := &Chain{Steps: []ChainStep{
		{Market: "DOGE/EUR", Side: BUY},
		{Market: "EUR/USDT", Side: SELL},
		{Market: "DOGE/USDT", Side: SELL},
	}}
	if a.Hash8() == other.Hash8() {
		t.Error("different market cycles should not share a hash8")
	}
}

func TestChainClone(t *testing.T) {
	t.Parallel()

	a := testChain(1620000000000)
	b := a.Clone()
	b.Comment = "rejected"
	b.Steps[0].Volume = 99

	if a.Comment != "" {
		t.Error("cloned comment write leaked into the original")
	}
	if a.Steps[0].Volume != 2.01 {
		t.Error("cloned step write leaked into the original")
	}
}

func TestChainRoundTrip(t *testing.T) {
	t.Parallel()

	orig := testChain(1620000000000)
	orig.Comment = "fired"

	b, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"side":"BUY"`) || !strings.Contains(string(b), `"side":"SELL"`) {
		t.Errorf("sides must serialize by name, got %s", b)
	}

	var got Chain
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(&got, orig) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, orig)
	}
}

func TestOrderRoundTrip(t *testing.T) {
	t.Parallel()

	orig := Order{
		ClientOrderID:  "12345678_order_2",
		OrderID:        987654,
		Side:           SELL,
		Symbol:         "ETHUSDT",
		Quantity:       decimal.RequireFromString("2.50000001"),
		Price:          decimal.RequireFromString("2500.01"),
		CreatedAtMs:    1620000000000,
		UpdatedAtMs:    1620000000500,
		FiredAtMs:      1620000000100,
		TransactTimeMs: 1620000000200,
		Status:         OrderStatusFilled,
		Exchange:       "Binance",
		ArbitrageHash8: 12345678,
		Comment:        "ok",
		Raw:            json.RawMessage(`{"X":"FILLED"}`),
	}

	b, err := json.Marshal(&orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"side":"SELL"`) {
		t.Errorf("side must serialize by name, got %s", b)
	}
	if !strings.Contains(string(b), `"2.50000001"`) {
		t.Errorf("quantity must serialize as an exact decimal, got %s", b)
	}

	var got Order
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ClientOrderID != orig.ClientOrderID || got.OrderID != orig.OrderID ||
		got.Side != orig.Side || got.Symbol != orig.Symbol ||
		got.CreatedAtMs != orig.CreatedAtMs || got.UpdatedAtMs != orig.UpdatedAtMs ||
		got.FiredAtMs != orig.FiredAtMs || got.TransactTimeMs != orig.TransactTimeMs ||
		got.Status != orig.Status || got.Exchange != orig.Exchange ||
		got.ArbitrageHash8 != orig.ArbitrageHash8 || got.Comment != orig.Comment {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, orig)
	}
	if !got.Quantity.Equal(orig.Quantity) || !got.Price.Equal(orig.Price) {
		t.Errorf("decimal round trip mismatch: got %s @ %s", got.Quantity, got.Price)
	}
	if string(got.Raw) != string(orig.Raw) {
		t.Errorf("raw payload mismatch: got %s", got.Raw)
	}
}

func TestOrderProposedVolume(t *testing.T) {
	t.Parallel()

	buy := Order{Side: BUY, Quantity: decimal.NewFromInt(2), Price: decimal.NewFromInt(50000)}
	if got := buy.ProposedVolume(); !got.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("BUY ProposedVolume() = %s, want 100000", got)
	}
	sell := Order{Side: SELL, Quantity: decimal.NewFromInt(2), Price: decimal.NewFromInt(50000)}
	if got := sell.ProposedVolume(); !got.Equal(decimal.NewFromInt(2)) {
		t.Errorf("SELL ProposedVolume() = %s, want 2", got)
	}
}

func TestClientOrderIDs(t *testing.T) {
	t.Parallel()

	if got, want := NewClientOrderID(12345678, 2), "12345678_order_2"; got != want {
		t.Errorf("NewClientOrderID = %q, want %q", got, want)
	}

	tests := []struct {
		id       string
		ours     bool
		wantHash int64
	}{
		{"1_order_1", true, 1},
		{"12345678_order_3", true, 12345678},
		{"not_our_order", false, 0},
		{"123456789_order_1", false, 0}, // nine digits is not a hash8
		{"12345678_order_", false, 0},
		{"", false, 0},
	}

	for _, tt := range tests {
		if got := IsOurClientOrderID(tt.id); got != tt.ours {
			t.Errorf("IsOurClientOrderID(%q) = %v, want %v", tt.id, got, tt.ours)
		}
		hash, ok := ArbitrageHash8FromClientOrderID(tt.id)
		if ok != tt.ours || hash != tt.wantHash {
			t.Errorf("ArbitrageHash8FromClientOrderID(%q) = %d, %v; want %d, %v",
				tt.id, hash, ok, tt.wantHash, tt.ours)
		}
	}
}

func TestMarketHelpers(t *testing.T) {
	t.Parallel()

	if got := BaseCoin("BTC/USDT"); got != "BTC" {
		t.Errorf("BaseCoin = %q, want BTC", got)
	}
	if got := QuoteCoin("BTC/USDT"); got != "USDT" {
		t.Errorf("QuoteCoin = %q, want USDT", got)
	}
	if got := SymbolOf("BTC/USDT"); got != "BTCUSDT" {
		t.Errorf("SymbolOf = %q, want BTCUSDT", got)
	}
}
