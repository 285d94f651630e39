// ws.go implements WebSocket feeds for real-time exchange data.
//
// Two independent feeds run concurrently:
//
//   - Ticker feed (public): one combined-stream connection carrying
//     <symbol>@bookTicker events for every subscribed market. Each event is
//     stored in market data and pushed onto the bus for evaluation.
//
//   - User feed (authenticated): the user-data stream opened via a listen
//     key, carrying executionReport events for this account's orders. The
//     key is kept alive every 30 minutes and re-created on every reconnect.
//
// Both feeds auto-reconnect with exponential backoff (1s → 30s max). A read
// deadline (90s) detects silent server failures; incoming pongs extend it.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"triarb/internal/bus"
	"triarb/internal/market"
	"triarb/pkg/types"
)

const (
	pingInterval        = 50 * time.Second // how often we send PING to keep alive
	readTimeout         = 90 * time.Second // silence beyond this triggers reconnect
	maxReconnectWait    = 30 * time.Second // cap on exponential backoff
	writeTimeout        = 10 * time.Second // deadline for outgoing control frames
	listenKeyKeepAlive  = 30 * time.Minute // keys expire after 60 minutes idle
	executionBufferSize = 64               // buffer for execution reports
	maxStreamsPerConn   = 1024             // the exchange's combined-stream limit
)

// ----------------------------------------------------------------------------
// Ticker feed
// ----------------------------------------------------------------------------

// TickerFeed maintains the combined book-ticker stream for a set of symbols.
// Every event becomes a Ticker: stored into market data first, then pushed
// onto the bus so the arbitrage loop re-evaluates the affected cycles.
type TickerFeed struct {
	wsBase  string
	symbols []string
	data    *market.Data
	bus     *bus.Bus
	logger  *slog.Logger
}

// NewTickerFeed creates a feed over the given exchange symbols.
func NewTickerFeed(wsBase string, symbols []string, data *market.Data, b *bus.Bus, logger *slog.Logger) *TickerFeed {
	logger = logger.With("component", "ws-tickers")
	if len(symbols) > maxStreamsPerConn {
		logger.Warn("too many streams for one connection, truncating",
			"symbols", len(symbols), "limit", maxStreamsPerConn)
		symbols = symbols[:maxStreamsPerConn]
	}
	return &TickerFeed{
		wsBase:  wsBase,
		symbols: symbols,
		data:    data,
		bus:     b,
		logger:  logger,
	}
}

// Run connects and maintains the stream with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *TickerFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("ticker stream disconnected, reconnecting",
			"error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (f *TickerFeed) streamURL() string {
	streams := make([]string, len(f.symbols))
	for i, sym := range f.symbols {
		streams[i] = strings.ToLower(sym) + "@bookTicker"
	}
	return f.wsBase + "/stream?streams=" + strings.Join(streams, "/")
}

func (f *TickerFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go closeOnDone(connCtx, conn)
	go pingLoop(connCtx, conn, f.logger)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	f.logger.Info("ticker stream connected", "streams", len(f.symbols))

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.handleMessage(ctx, msg)
	}
}

func (f *TickerFeed) handleMessage(ctx context.Context, data []byte) {
	var envelope types.WSStreamEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}
	payload := envelope.Data
	if payload == nil {
		// Single-stream endpoints deliver the event without the envelope.
		payload = data
	}

	var bt types.WSBookTicker
	if err := json.Unmarshal(payload, &bt); err != nil || bt.Symbol == "" {
		f.logger.Debug("ignoring unexpected stream event", "stream", envelope.Stream)
		return
	}

	ticker, ok := f.toTicker(bt)
	if !ok {
		return
	}
	f.data.Put(ticker)
	if err := f.bus.PushTicker(ctx, ticker); err != nil {
		f.logger.Debug("ticker dropped on shutdown", "market", ticker.Market)
	}
}

func (f *TickerFeed) toTicker(bt types.WSBookTicker) (types.Ticker, bool) {
	mkt, ok := f.data.MarketOf(bt.Symbol)
	if !ok {
		return types.Ticker{}, false
	}

	bid, err1 := strconv.ParseFloat(bt.BidPrice, 64)
	bidQty, err2 := strconv.ParseFloat(bt.BidQty, 64)
	ask, err3 := strconv.ParseFloat(bt.AskPrice, 64)
	askQty, err4 := strconv.ParseFloat(bt.AskQty, 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		f.logger.Warn("book ticker with unparsable numbers", "symbol", bt.Symbol)
		return types.Ticker{}, false
	}

	return types.Ticker{
		Market:     mkt,
		BestBid:    bid,
		BestBidQty: bidQty,
		BestAsk:    ask,
		BestAskQty: askQty,
	}, true
}

// ----------------------------------------------------------------------------
// User-data feed
// ----------------------------------------------------------------------------

// UserFeed maintains the authenticated user-data stream and surfaces
// executionReport events on a typed channel.
type UserFeed struct {
	wsBase string
	client *Client
	execCh chan types.WSExecutionReport
	logger *slog.Logger
}

// NewUserFeed creates the user-data stream feed. The client is used for the
// listen key lifecycle.
func NewUserFeed(wsBase string, client *Client, logger *slog.Logger) *UserFeed {
	return &UserFeed{
		wsBase: wsBase,
		client: client,
		execCh: make(chan types.WSExecutionReport, executionBufferSize),
		logger: logger.With("component", "ws-user"),
	}
}

// ExecutionReports returns a read-only channel of order state events.
func (f *UserFeed) ExecutionReports() <-chan types.WSExecutionReport { return f.execCh }

// Run connects and maintains the stream with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *UserFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("user stream disconnected, reconnecting",
			"error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (f *UserFeed) connectAndRead(ctx context.Context) error {
	listenKey, err := f.client.CreateListenKey(ctx)
	if err != nil {
		return fmt.Errorf("listen key: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.wsBase+"/ws/"+listenKey, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go closeOnDone(connCtx, conn)
	go pingLoop(connCtx, conn, f.logger)
	go f.keepAliveLoop(connCtx, listenKey)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	f.logger.Info("user stream connected")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		if err := f.dispatch(msg); err != nil {
			return err
		}
	}
}

func (f *UserFeed) dispatch(data []byte) error {
	var peek types.WSEventType
	if err := json.Unmarshal(data, &peek); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return nil
	}

	switch peek.EventType {
	case "executionReport":
		var evt types.WSExecutionReport
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal execution report", "error", err)
			return nil
		}
		select {
		case f.execCh <- evt:
		default:
			f.logger.Warn("execution report channel full, dropping event",
				"client_order_id", evt.ClientOrderID)
		}

	case "listenKeyExpired":
		// Forces a reconnect, which creates a fresh key.
		return fmt.Errorf("listen key expired")

	case "outboundAccountPosition", "balanceUpdate":
		// Balance changes arrive via the periodic REST refresh instead.
		f.logger.Debug("ignoring event", "type", peek.EventType)

	default:
		f.logger.Debug("unknown ws event type", "type", peek.EventType)
	}
	return nil
}

func (f *UserFeed) keepAliveLoop(ctx context.Context, listenKey string) {
	ticker := time.NewTicker(listenKeyKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.client.KeepAliveListenKey(ctx, listenKey); err != nil {
				f.logger.Warn("listen key keepalive failed", "error", err)
			}
		}
	}
}

// ----------------------------------------------------------------------------
// Shared connection helpers
// ----------------------------------------------------------------------------

// closeOnDone unblocks a pending read by closing the connection when ctx ends.
func closeOnDone(ctx context.Context, conn *websocket.Conn) {
	<-ctx.Done()
	conn.Close()
}

func pingLoop(ctx context.Context, conn *websocket.Conn, logger *slog.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}
