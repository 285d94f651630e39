package balance

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

type fakeAccountSource struct {
	balances map[string]float64
	prices   map[string]float64
	err      error
}

func (f *fakeAccountSource) Balances(ctx context.Context) (map[string]float64, error) {
	return f.balances, f.err
}

func (f *fakeAccountSource) LatestPrices(ctx context.Context) (map[string]float64, error) {
	return f.prices, f.err
}

func TestRefreshFillsRegistry(t *testing.T) {
	t.Parallel()

	source := &fakeAccountSource{
		balances: map[string]float64{"BTC": 2, "USDT": 500},
		prices:   map[string]float64{"BTCUSDT": 50000},
	}
	registry := newTestRegistry()
	u := NewUpdater(source, registry, time.Minute, slog.Default())

	if err := u.refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got, _ := registry.Balance("BTC"); got != 2 {
		t.Errorf("BTC balance = %v, want 2", got)
	}
	if got, ok := registry.BalanceUsd("BTC"); !ok || got != 100000 {
		t.Errorf("BalanceUsd(BTC) = %v, %v; want 100000", got, ok)
	}
}

func TestRefreshKeepsRegistryOnError(t *testing.T) {
	t.Parallel()

	source := &fakeAccountSource{err: errors.New("api down")}
	registry := newTestRegistry()
	u := NewUpdater(source, registry, time.Minute, slog.Default())

	if err := u.refresh(context.Background()); err == nil {
		t.Fatal("expected an error from the failing source")
	}
	if !registry.IsEmpty() {
		t.Error("a failed refresh must not mark the registry as filled")
	}
}
