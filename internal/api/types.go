package api

import (
	"time"

	"triarb/internal/config"
)

// StatusSnapshot is the complete externally visible state of the bot.
type StatusSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	// Market model
	Markets int `json:"markets"`
	Cycles  int `json:"cycles"`

	// Portfolio
	Balances        map[string]float64 `json:"balances"`
	TotalBalanceUsd float64            `json:"total_balance_usd"`
	StopTrading     bool               `json:"stop_trading"`

	// Trade pipeline
	InFlightChains int        `json:"in_flight_chains"`
	InFlightOrders int        `json:"in_flight_orders"`
	Queues         QueueStats `json:"queues"`
	DroppedChains  int64      `json:"dropped_chains"`

	// Configuration
	Config ConfigSummary `json:"config"`
}

// QueueStats is the fill level of each bus queue.
type QueueStats struct {
	Tickers        int `json:"tickers"`
	PositiveCycles int `json:"positive_cycles"`
	StoreCycles    int `json:"store_cycles"`
	AllCycles      int `json:"all_cycles"`
	FireOrders     int `json:"fire_orders"`
}

// StatusEvent is the wrapper for everything pushed over the websocket.
type StatusEvent struct {
	Type      string      `json:"type"` // "snapshot"
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// ConfigSummary is the subset of the configuration worth showing on a
// status page. Secrets never appear here.
type ConfigSummary struct {
	// Exchange
	Exchange string   `json:"exchange"`
	Coins    []string `json:"coins"`
	USDCoin  string   `json:"usd_coin"`

	// Arbitrage parameters
	DefaultFee    float64 `json:"default_fee"`
	FireChainASAP bool    `json:"fire_chain_asap"`

	// Trade parameters
	FireOnlyTop        bool    `json:"fire_only_top"`
	SortByROI          bool    `json:"sort_by_roi"`
	ProfitThresholdUsd float64 `json:"profit_threshold_usd"`
	MaxBalanceRatio    float64 `json:"max_balance_ratio_per_order"`
	OrderTTL           string  `json:"order_ttl"`
	Executors          int     `json:"executors"`
	TimeInForce        string  `json:"time_in_force"`

	// Risk parameters
	StopLossRatio float64 `json:"stop_loss_ratio"`

	// Operational
	DryRun bool `json:"dry_run"`
}

// NewConfigSummary creates the config summary from the full config.
func NewConfigSummary(cfg config.Config) ConfigSummary {
	return ConfigSummary{
		// Exchange
		Exchange: cfg.Exchange.Name,
		Coins:    cfg.Coins.List,
		USDCoin:  cfg.Coins.USDCoin,

		// Arbitrage
		DefaultFee:    cfg.Arbitrage.DefaultFee,
		FireChainASAP: cfg.Arbitrage.FireChainASAP,

		// Trade
		FireOnlyTop:        cfg.Trade.FireOnlyTop,
		SortByROI:          cfg.Trade.SortByROI,
		ProfitThresholdUsd: cfg.Trade.ProfitThresholdUsd,
		MaxBalanceRatio:    cfg.Trade.MaxBalanceRatioPerOrder,
		OrderTTL:           (time.Duration(cfg.Trade.OrderTTLMs) * time.Millisecond).String(),
		Executors:          cfg.Trade.Executors,
		TimeInForce:        cfg.Trade.TimeInForce,

		// Risk
		StopLossRatio: cfg.Risk.StopLossRatio,

		// Operational
		DryRun: cfg.Exchange.DryRun,
	}
}
