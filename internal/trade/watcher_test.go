package trade

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"triarb/pkg/types"
)

func TestWatcherPersistsReportsAndReleasesFills(t *testing.T) {
	reports := make(chan types.WSExecutionReport, 4)
	w := &chanOrderWriter{ch: make(chan *types.Order, 4)}
	inFlight := NewInFlight()
	inFlight.Add(10927843, "10927843_order_1", "10927843_order_2")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewWatcher(reports, w, inFlight, slog.Default()).Run(ctx)

	reports <- types.WSExecutionReport{
		EventType:     "executionReport",
		EventTimeMs:   1700000005001,
		Symbol:        "BTCUSDT",
		ClientOrderID: "10927843_order_1",
		Side:          "BUY",
		Quantity:      "0.005",
		Price:         "30030",
		Status:        "FILLED",
		OrderID:       4242,
		TransactTime:  1700000005000,
	}

	var got *types.Order
	select {
	case got = <-w.ch:
	case <-time.After(time.Second):
		t.Fatal("report was not persisted")
	}
	if got.ClientOrderID != "10927843_order_1" || got.OrderID != 4242 {
		t.Errorf("identity = %s / %d", got.ClientOrderID, got.OrderID)
	}
	if got.Status != types.OrderStatusFilled || got.Side != types.BUY {
		t.Errorf("status/side = %s / %s", got.Status, got.Side)
	}
	if !got.Quantity.Equal(decimal.RequireFromString("0.005")) {
		t.Errorf("quantity = %s, want 0.005", got.Quantity)
	}
	if got.ArbitrageHash8 != 10927843 {
		t.Errorf("hash8 = %d, want 10927843", got.ArbitrageHash8)
	}
	if got.TransactTimeMs != 1700000005000 || got.UpdatedAtMs != 1700000005001 {
		t.Errorf("times = %d / %d", got.TransactTimeMs, got.UpdatedAtMs)
	}

	deadline := time.Now().Add(time.Second)
	for inFlight.Orders() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("in flight orders = %d, want 1 after the fill", inFlight.Orders())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWatcherKeepsWorkingOrdersInFlight(t *testing.T) {
	reports := make(chan types.WSExecutionReport, 4)
	w := &chanOrderWriter{ch: make(chan *types.Order, 4)}
	inFlight := NewInFlight()
	inFlight.Add(10927843, "10927843_order_1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewWatcher(reports, w, inFlight, slog.Default()).Run(ctx)

	reports <- types.WSExecutionReport{
		ClientOrderID: "10927843_order_1",
		Symbol:        "BTCUSDT",
		Side:          "BUY",
		Status:        "NEW",
	}

	select {
	case <-w.ch:
	case <-time.After(time.Second):
		t.Fatal("report was not persisted")
	}
	if inFlight.Orders() != 1 {
		t.Errorf("in flight orders = %d, want the NEW order kept", inFlight.Orders())
	}
}

func TestWatcherStoresForeignOrders(t *testing.T) {
	reports := make(chan types.WSExecutionReport, 4)
	w := &chanOrderWriter{ch: make(chan *types.Order, 4)}
	inFlight := NewInFlight()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewWatcher(reports, w, inFlight, slog.Default()).Run(ctx)

	reports <- types.WSExecutionReport{
		ClientOrderID: "manual-web-123",
		Symbol:        "BTCUSDT",
		Side:          "SELL",
		Quantity:      "1",
		Price:         "29000",
		Status:        "FILLED",
	}

	select {
	case got := <-w.ch:
		if got.ArbitrageHash8 != 0 {
			t.Errorf("hash8 = %d, want 0 for a foreign id", got.ArbitrageHash8)
		}
	case <-time.After(time.Second):
		t.Fatal("foreign report was not persisted")
	}
}
