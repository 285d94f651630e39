// Package metrics exposes the bot's Prometheus instrumentation.
//
// All collectors are registered on the default registry via promauto and
// served by a small HTTP server on the configured listen address. Counters are
// incremented directly by the pipeline workers; the queue-depth gauges are
// sampled by the engine.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TickersConsumed counts book-top events drained by the arbitrage loop.
	TickersConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "triarb_tickers_consumed_total",
		Help: "Book-top events consumed by the arbitrage loop",
	})

	// CyclesEvaluated counts triangle evaluations, positive or not.
	CyclesEvaluated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "triarb_cycles_evaluated_total",
		Help: "Triangular cycles evaluated",
	})

	// PositiveCycles counts evaluations that produced a positive profit.
	PositiveCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "triarb_positive_cycles_total",
		Help: "Evaluations with positive profit",
	})

	// EvaluationSeconds tracks the latency of one ticker's full evaluation.
	EvaluationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "triarb_evaluation_seconds",
		Help:    "Time to evaluate all cycles touching one updated market",
		Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
	})

	// ChainsRejected counts trade-manager gate rejections by reason.
	ChainsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triarb_chains_rejected_total",
		Help: "Chains dropped by a trade-manager gate",
	}, []string{"reason"})

	// OrdersFired counts executor submissions by outcome.
	OrdersFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triarb_orders_fired_total",
		Help: "Orders submitted to the exchange",
	}, []string{"result"}) // ok | error

	// OrdersCancelled counts stale orders removed by the cancelator.
	OrdersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "triarb_orders_cancelled_total",
		Help: "Stale open orders cancelled",
	})

	// ChainsStored counts chains written by the telemetry sinks.
	ChainsStored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triarb_chains_stored_total",
		Help: "Chains persisted by the telemetry sinks",
	}, []string{"sink"}) // store | all

	// QueueDepth is the sampled fill level of each bus queue.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "triarb_queue_depth",
		Help: "Current length of a bus queue",
	}, []string{"queue"})

	// TotalBalanceUsd is the last portfolio value computed by the checker.
	TotalBalanceUsd = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "triarb_total_balance_usd",
		Help: "Total portfolio value in USD terms",
	})

	// StopTrading is 1 while the stop-loss flag is engaged.
	StopTrading = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "triarb_stop_trading",
		Help: "1 when trading is stopped by the balance checker",
	})
)

// Server serves /metrics on the configured address.
type Server struct {
	server *http.Server
	logger *slog.Logger
}

// NewServer builds the metrics endpoint. addr is host:port.
func NewServer(addr string, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &Server{
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With("component", "metrics"),
	}
}

// Start blocks serving the endpoint until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("metrics server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts the endpoint down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
