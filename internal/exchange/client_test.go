package exchange

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/shopspring/decimal"

	"triarb/pkg/types"
)

func newDryRunClient() *Client {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return &Client{
		dryRun:   true,
		exchange: "Binance",
		rl:       NewRateLimiter(),
		logger:   logger,
	}
}

func TestDryRunPutLimitOrder(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	o := &types.Order{
		ClientOrderID: "12345678_order_1",
		Symbol:        "BTCUSDT",
		Side:          types.BUY,
		Quantity:      decimal.RequireFromString("0.002"),
		Price:         decimal.RequireFromString("55100.25"),
	}
	got, err := c.PutLimitOrder(context.Background(), o, types.TimeInForceGTC)
	if err != nil {
		t.Fatalf("PutLimitOrder: %v", err)
	}
	if got != o {
		t.Error("the placed order must be returned, not a copy")
	}
	if got.Status != types.OrderStatusNew {
		t.Errorf("status = %s, want NEW", got.Status)
	}
	if got.TransactTimeMs == 0 || got.UpdatedAtMs == 0 {
		t.Error("dry-run ack must stamp transact and update times")
	}
	if got.Exchange != "Binance" {
		t.Errorf("exchange = %q, want Binance", got.Exchange)
	}
}

func TestDryRunPutMarketOrder(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	o := &types.Order{
		Symbol:   "ETHBTC",
		Side:     types.SELL,
		Quantity: decimal.RequireFromString("4"),
	}
	got, err := c.PutMarketOrder(context.Background(), o)
	if err != nil {
		t.Fatalf("PutMarketOrder: %v", err)
	}
	if got.Status != types.OrderStatusNew {
		t.Errorf("status = %s, want NEW", got.Status)
	}
	if got.OrderID == 0 {
		t.Error("dry-run ack must assign an order id")
	}
}

func TestDryRunCancelOrder(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	resp, err := c.CancelOrder(context.Background(), "BTCUSDT", "12345678_order_1")
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if resp.ClientOrderID != "12345678_order_1" {
		t.Errorf("client order id = %q", resp.ClientOrderID)
	}
	if resp.Status != string(types.OrderStatusCanceled) {
		t.Errorf("status = %q, want CANCELED", resp.Status)
	}
}

func TestBalancesFrom(t *testing.T) {
	t.Parallel()

	got := balancesFrom(&types.AccountInfo{Balances: []types.AccountBalance{
		{Asset: "BTC", Free: "0.5", Locked: "0.1"},
		{Asset: "USDT", Free: "0", Locked: "0"},
		{Asset: "BAD", Free: "not-a-number"},
	}})

	if got["BTC"] != 0.5 {
		t.Errorf("BTC = %v, want the free amount 0.5", got["BTC"])
	}
	// Zero balances stay present: downstream distinguishes a coin the
	// account holds nothing of from a coin it has never seen.
	if v, ok := got["USDT"]; !ok || v != 0 {
		t.Errorf("USDT = %v, %v; want present-and-zero", v, ok)
	}
	if _, ok := got["BAD"]; ok {
		t.Error("unparsable balances must be dropped")
	}
}

func TestPricesFrom(t *testing.T) {
	t.Parallel()

	got := pricesFrom([]types.SymbolPrice{
		{Symbol: "BTCUSDT", Price: "55100.42"},
		{Symbol: "BAD", Price: "x"},
	})
	if got["BTCUSDT"] != 55100.42 {
		t.Errorf("BTCUSDT = %v, want 55100.42", got["BTCUSDT"])
	}
	if len(got) != 1 {
		t.Errorf("parsed %d prices, want 1", len(got))
	}
}

func TestTakerFeesFrom(t *testing.T) {
	t.Parallel()

	got := takerFeesFrom([]types.TradeFee{
		{Symbol: "BTCUSDT", MakerCommission: "0.001", TakerCommission: "0.002"},
	})
	if got["BTCUSDT"] != 0.002 {
		t.Errorf("fee = %v, want the taker commission 0.002", got["BTCUSDT"])
	}
}
