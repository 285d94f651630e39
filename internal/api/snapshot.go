package api

import (
	"time"

	"triarb/internal/bus"
	"triarb/internal/config"
)

// StatusProvider is the engine surface the API reads. Every method returns a
// plain value so a snapshot never holds a lock into the pipeline.
type StatusProvider interface {
	Balances() map[string]float64
	TotalBalanceUsd() float64
	StopTrading() bool
	InFlightChains() int
	InFlightOrders() int
	QueueDepths() bus.Depths
	DroppedChains() int64
	CycleCount() int
	MarketCount() int
}

// BuildSnapshot aggregates engine state into one status snapshot.
func BuildSnapshot(provider StatusProvider, cfg config.Config) StatusSnapshot {
	depths := provider.QueueDepths()

	return StatusSnapshot{
		Timestamp: time.Now(),

		Markets: provider.MarketCount(),
		Cycles:  provider.CycleCount(),

		Balances:        provider.Balances(),
		TotalBalanceUsd: provider.TotalBalanceUsd(),
		StopTrading:     provider.StopTrading(),

		InFlightChains: provider.InFlightChains(),
		InFlightOrders: provider.InFlightOrders(),
		Queues: QueueStats{
			Tickers:        depths.Tickers,
			PositiveCycles: depths.PositiveCycles,
			StoreCycles:    depths.StoreCycles,
			AllCycles:      depths.AllCycles,
			FireOrders:     depths.FireOrders,
		},
		DroppedChains: provider.DroppedChains(),

		Config: NewConfigSummary(cfg),
	}
}
