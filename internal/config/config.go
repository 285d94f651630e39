// Package config defines all configuration for the arbitrage bot.
// Config is loaded from a YAML file (default: config.yaml) with
// sensitive fields overridable via TRIARB_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Coins     CoinsConfig     `mapstructure:"coins"`
	Arbitrage ArbitrageConfig `mapstructure:"arbitrage"`
	Trade     TradeConfig     `mapstructure:"trade"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Balance   BalanceConfig   `mapstructure:"balance"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	API       APIConfig       `mapstructure:"api"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Bus       BusConfig       `mapstructure:"bus"`
}

// ExchangeConfig holds the spot exchange endpoints and API credentials.
// Name is stamped onto every order record. With DryRun set, order placement
// and cancellation return fake acks without touching the exchange.
type ExchangeConfig struct {
	Name         string `mapstructure:"name"`
	BaseURL      string `mapstructure:"rest_url"`
	WSBaseURL    string `mapstructure:"ws_url"`
	APIKey       string `mapstructure:"api_key"`
	APISecret    string `mapstructure:"api_secret"`
	RecvWindowMs int64  `mapstructure:"recv_window_ms"`
	DryRun       bool   `mapstructure:"dry_run"`

	// CatalogRefreshPeriodSeconds is how often the order-filter table is
	// re-fetched. Zero means hourly.
	CatalogRefreshPeriodSeconds int `mapstructure:"catalog_refresh_period_seconds"`
}

// CoinsConfig restricts the triangle search space. Only markets whose base
// and quote are both in List take part; USDCoin prices profits in USD terms.
type CoinsConfig struct {
	List    []string `mapstructure:"list"`
	USDCoin string   `mapstructure:"usd_coin"`
}

// ArbitrageConfig tunes the evaluation loop.
//
//   - StartupDelayMs: how long to let book-tops accumulate before evaluating.
//   - FireChainASAP: push each positive chain the moment it is found instead
//     of batching per evaluation.
//   - DefaultFee: taker fee fraction for markets missing from Fees
//     (0.001 = 0.1%).
//   - Fees: per-symbol taker fee overrides, keyed like "BTCUSDT".
type ArbitrageConfig struct {
	StartupDelayMs int                `mapstructure:"startup_delay_ms"`
	FireChainASAP  bool               `mapstructure:"fire_chain_asap"`
	DefaultFee     float64            `mapstructure:"default_fee"`
	Fees           map[string]float64 `mapstructure:"fees"`
}

// TradeConfig tunes chain selection and order execution.
//
//   - FireOnlyTop: fire only the best chain of each batch.
//   - SortByROI: rank batches by ROI instead of absolute profit.
//   - ProfitThresholdUsd: chains below this USD profit are dropped.
//   - MaxBalanceRatioPerOrder: cap on the fraction of a coin's balance a
//     single order may spend; chains exceeding it are shrunk, not dropped.
//   - BreakEvenByLegs: spread the break-even ROI margin across the three
//     legs instead of applying it whole to each.
//   - OrderTTLMs / CancelPeriodMs: cancelator reap threshold and cadence.
//   - DedupTTLMs: window in which a repeated chain (same markets and ROI)
//     is suppressed.
//   - Executors: size of the order-submission worker pool.
//   - TimeInForce: limit-order lifecycle, one of GTC, IOC, FOK, GTX.
type TradeConfig struct {
	FireOnlyTop             bool    `mapstructure:"fire_only_top"`
	SortByROI               bool    `mapstructure:"sort_by_roi"`
	ProfitThresholdUsd      float64 `mapstructure:"profit_threshold_usd"`
	MaxBalanceRatioPerOrder float64 `mapstructure:"max_balance_ratio_per_order"`
	BreakEvenByLegs         bool    `mapstructure:"break_even_divide_roi_by_legs"`
	OrderTTLMs              int     `mapstructure:"order_ttl_ms"`
	CancelPeriodMs          int     `mapstructure:"cancel_period_ms"`
	DedupTTLMs              int     `mapstructure:"dedup_ttl_ms"`
	Executors               int     `mapstructure:"executors"`
	TimeInForce             string  `mapstructure:"time_in_force"`
}

// RiskConfig drives the stop-loss watcher: trading stops once the portfolio's
// USD value falls below (1 - StopLossRatio) of its value at startup.
type RiskConfig struct {
	StopLossRatio      float64 `mapstructure:"stop_loss_ratio"`
	CheckPeriodSeconds int     `mapstructure:"check_period_seconds"`
}

// BalanceConfig controls the periodic balance refresh and the optional
// portfolio rebalancer.
type BalanceConfig struct {
	RefreshPeriodSeconds int             `mapstructure:"refresh_period_seconds"`
	Rebalance            RebalanceConfig `mapstructure:"rebalance"`
}

// RebalanceConfig moves value from the richest coin to the poorest when the
// relative deviation across the portfolio exceeds Deviation.
type RebalanceConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	Deviation     float64 `mapstructure:"deviation"`
	PeriodSeconds int     `mapstructure:"period_seconds"`
}

// StorageConfig selects the persistence backend: a Postgres DSN when set,
// otherwise JSON files under Dir. TelemetryMaxBatchSize caps the all-cycles
// batch insert.
type StorageConfig struct {
	DSN                   string `mapstructure:"dsn"`
	Dir                   string `mapstructure:"dir"`
	TelemetryMaxBatchSize int    `mapstructure:"telemetry_max_batch_size"`
}

// MetricsConfig controls the Prometheus endpoint. An empty ListenAddr
// disables the server.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// APIConfig controls the status API server.
type APIConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`

	// AllowedOrigins is the websocket origin allowlist. Empty means
	// same-host and localhost only.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// BusConfig sizes the pipeline queues. Zero values fall back to the bus
// defaults.
type BusConfig struct {
	Tickers        int `mapstructure:"tickers"`
	PositiveCycles int `mapstructure:"positive_cycles"`
	StoreCycles    int `mapstructure:"store_cycles"`
	AllCycles      int `mapstructure:"all_cycles"`
	FireOrders     int `mapstructure:"fire_orders"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: TRIARB_API_KEY, TRIARB_API_SECRET, TRIARB_DB_DSN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TRIARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("TRIARB_API_KEY"); key != "" {
		cfg.Exchange.APIKey = key
	}
	if secret := os.Getenv("TRIARB_API_SECRET"); secret != "" {
		cfg.Exchange.APISecret = secret
	}
	if dsn := os.Getenv("TRIARB_DB_DSN"); dsn != "" {
		cfg.Storage.DSN = dsn
	}
	if os.Getenv("TRIARB_DRY_RUN") == "true" || os.Getenv("TRIARB_DRY_RUN") == "1" {
		cfg.Exchange.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Exchange.Name == "" {
		return fmt.Errorf("exchange.name is required")
	}
	if c.Exchange.BaseURL == "" {
		return fmt.Errorf("exchange.rest_url is required")
	}
	if c.Exchange.WSBaseURL == "" {
		return fmt.Errorf("exchange.ws_url is required")
	}
	if !c.Exchange.DryRun && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
		return fmt.Errorf("exchange.api_key and exchange.api_secret are required (set TRIARB_API_KEY / TRIARB_API_SECRET)")
	}
	if c.Exchange.RecvWindowMs < 0 {
		return fmt.Errorf("exchange.recv_window_ms must be >= 0")
	}
	if len(c.Coins.List) < 3 {
		return fmt.Errorf("coins.list needs at least 3 coins to form a triangle")
	}
	if c.Coins.USDCoin == "" {
		return fmt.Errorf("coins.usd_coin is required")
	}
	if c.Arbitrage.DefaultFee < 0 || c.Arbitrage.DefaultFee >= 1 {
		return fmt.Errorf("arbitrage.default_fee must be within [0, 1)")
	}
	for sym, fee := range c.Arbitrage.Fees {
		if fee < 0 || fee >= 1 {
			return fmt.Errorf("arbitrage.fees[%s] must be within [0, 1)", sym)
		}
	}
	if c.Trade.ProfitThresholdUsd < 0 {
		return fmt.Errorf("trade.profit_threshold_usd must be >= 0")
	}
	if c.Trade.MaxBalanceRatioPerOrder <= 0 || c.Trade.MaxBalanceRatioPerOrder > 1 {
		return fmt.Errorf("trade.max_balance_ratio_per_order must be within (0, 1]")
	}
	if c.Trade.OrderTTLMs <= 0 {
		return fmt.Errorf("trade.order_ttl_ms must be > 0")
	}
	if c.Trade.CancelPeriodMs <= 0 {
		return fmt.Errorf("trade.cancel_period_ms must be > 0")
	}
	if c.Trade.DedupTTLMs <= 0 {
		return fmt.Errorf("trade.dedup_ttl_ms must be > 0")
	}
	if c.Trade.Executors <= 0 {
		return fmt.Errorf("trade.executors must be > 0")
	}
	switch c.Trade.TimeInForce {
	case "GTC", "IOC", "FOK", "GTX":
	default:
		return fmt.Errorf("trade.time_in_force must be one of: GTC, IOC, FOK, GTX")
	}
	if c.Risk.StopLossRatio < 0 || c.Risk.StopLossRatio >= 1 {
		return fmt.Errorf("risk.stop_loss_ratio must be within [0, 1)")
	}
	if c.Risk.CheckPeriodSeconds <= 0 {
		return fmt.Errorf("risk.check_period_seconds must be > 0")
	}
	if c.Balance.RefreshPeriodSeconds <= 0 {
		return fmt.Errorf("balance.refresh_period_seconds must be > 0")
	}
	if c.Balance.Rebalance.Enabled {
		if c.Balance.Rebalance.Deviation <= 0 {
			return fmt.Errorf("balance.rebalance.deviation must be > 0 when rebalancing is enabled")
		}
		if c.Balance.Rebalance.PeriodSeconds <= 0 {
			return fmt.Errorf("balance.rebalance.period_seconds must be > 0 when rebalancing is enabled")
		}
	}
	if c.Storage.DSN == "" && c.Storage.Dir == "" {
		return fmt.Errorf("storage needs either a dsn or a dir")
	}
	if c.API.Enabled && c.API.ListenAddr == "" {
		return fmt.Errorf("api.listen_addr is required when the status API is enabled")
	}
	return nil
}
