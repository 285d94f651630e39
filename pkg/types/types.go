// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot: market tickers, arbitrage
// chains and their steps, orders, and the exchange wire payloads. It has no
// dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ----------------------------------------------------------------------------
// Core enums
// ----------------------------------------------------------------------------

// Side represents the direction of an order: BUY or SELL.
// A BUY on market B/Q acquires the base coin and spends the quote at the ask;
// a SELL releases the base and acquires the quote at the bid.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// TimeInForce enumerates the limit-order lifecycles the exchange supports.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC" // good til cancelled
	TimeInForceIOC TimeInForce = "IOC" // immediate or cancel, remainder expires
	TimeInForceFOK TimeInForce = "FOK" // fill or kill
	TimeInForceGTX TimeInForce = "GTX" // post-only, rejected if it would cross
)

// OrderStatus mirrors the exchange's order state names, plus ERROR which is
// assigned locally when a submission fails before the exchange accepts it.
type OrderStatus string

const (
	OrderStatusNew      OrderStatus = "NEW"
	OrderStatusFilled   OrderStatus = "FILLED"
	OrderStatusCanceled OrderStatus = "CANCELED"
	OrderStatusRejected OrderStatus = "REJECTED"
	OrderStatusExpired  OrderStatus = "EXPIRED"
	OrderStatusError    OrderStatus = "ERROR"
)

// ----------------------------------------------------------------------------
// Markets and tickers
// ----------------------------------------------------------------------------

// Ticker is a single book-top observation for one market: best bid and ask
// with their resting quantities. Market is canonical "BASE/QUOTE". A Ticker is
// immutable once observed.
type Ticker struct {
	Market       string
	BestBid      float64
	BestBidQty   float64
	BestAsk      float64
	BestAskQty   float64
	ObservedAtMs int64
}

func (t Ticker) String() string {
	return fmt.Sprintf("%s bid %v x %v / ask %v x %v", t.Market, t.BestBid, t.BestBidQty, t.BestAsk, t.BestAskQty)
}

func splitMarket(market string) (base, quote string) {
	if i := strings.IndexByte(market, '/'); i >= 0 {
		return market[:i], market[i+1:]
	}
	return market, ""
}

// BaseCoin returns the base currency of a canonical "BASE/QUOTE" market.
func BaseCoin(market string) string {
	base, _ := splitMarket(market)
	return base
}

// QuoteCoin returns the quote currency of a canonical "BASE/QUOTE" market.
func QuoteCoin(market string) string {
	_, quote := splitMarket(market)
	return quote
}

// SymbolOf converts a canonical market to the exchange symbol form,
// e.g. "BTC/USDT" -> "BTCUSDT".
func SymbolOf(market string) string {
	return strings.ReplaceAll(market, "/", "")
}

// ----------------------------------------------------------------------------
// Arbitrage chains
// ----------------------------------------------------------------------------

// ChainStep is one leg of a triangular arbitrage chain. Price is quoted in the
// market's own quote currency. Volume is denominated in the market's base
// currency regardless of side; the evaluator's sizing pass guarantees that.
type ChainStep struct {
	Market string  `json:"market"`
	Side   Side    `json:"side"`
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// IsBuy reports whether the step acquires the market's base coin.
func (s ChainStep) IsBuy() bool { return s.Side == BUY }

// ProposedVolume is the amount of the spending coin this step consumes:
// volume·price for a BUY (quote units), volume itself for a SELL (base units).
func (s ChainStep) ProposedVolume() float64 {
	if s.IsBuy() {
		return s.Volume * s.Price
	}
	return s.Volume
}

// ReceivedVolume is the amount of the receiving coin this step produces:
// volume for a BUY (base units), volume·price for a SELL (quote units).
func (s ChainStep) ReceivedVolume() float64 {
	if s.IsBuy() {
		return s.Volume
	}
	return s.Volume * s.Price
}

// SpendingCoin is the coin this step debits: the quote for a BUY, the base
// for a SELL.
func (s ChainStep) SpendingCoin() string {
	if s.IsBuy() {
		return QuoteCoin(s.Market)
	}
	return BaseCoin(s.Market)
}

// ReceivingCoin is the coin this step credits.
func (s ChainStep) ReceivingCoin() string {
	if s.IsBuy() {
		return BaseCoin(s.Market)
	}
	return QuoteCoin(s.Market)
}

func (s ChainStep) String() string {
	return fmt.Sprintf("%s %v %s @ %v", s.Side, s.Volume, s.Market, s.Price)
}

// Chain is an ordered triple of steps forming a cycle A→B→C→A. ROI is the
// fee-adjusted composite rate margin, Profit is expressed in the initial coin
// and ProfitUsd in the designated USD coin. Comment is annotated by the trade
// manager with the gate outcome before the chain reaches telemetry.
type Chain struct {
	InitialCoin string      `json:"initialCoin"`
	Steps       []ChainStep `json:"steps"`
	ROI         float64     `json:"roi"`
	Profit      float64     `json:"profit"`
	ProfitUsd   float64     `json:"profitUsd"`
	TimeMs      int64       `json:"timeMs"`
	Comment     string      `json:"comment,omitempty"`
}

// MarketsSequence is the stable textual identity of the cycle,
// e.g. "[BTC/USDT -> ETH/BTC -> ETH/USDT]". Hash8 and the duplicate filter
// key both derive from it.
func (c *Chain) MarketsSequence() string {
	markets := make([]string, len(c.Steps))
	for i, s := range c.Steps {
		markets[i] = s.Market
	}
	return "[" + strings.Join(markets, " -> ") + "]"
}

// Hash8 is the 8-decimal-digit identity of the cycle, derived from the markets
// sequence. It prefixes every clientOrderId, which is how exchange events are
// correlated back to the originating chain, so the contract must stay stable.
func (c *Chain) Hash8() int64 {
	h := fnv.New64a()
	h.Write([]byte(c.MarketsSequence()))
	return int64(h.Sum64() % 100_000_000)
}

// UID appends the observation time to the cycle identity, distinguishing two
// evaluations of the same triangle.
func (c *Chain) UID() string {
	symbols := make([]string, len(c.Steps))
	for i, s := range c.Steps {
		symbols[i] = SymbolOf(s.Market)
	}
	return strings.Join(symbols, "-") + "_" + strconv.FormatInt(c.TimeMs, 10)
}

// IsForSameChain reports whether two chains describe the same market cycle,
// regardless of when they were observed.
func (c *Chain) IsForSameChain(other *Chain) bool {
	return other != nil && c.MarketsSequence() == other.MarketsSequence()
}

// Clone returns a deep copy. Chains travel on several bus queues at once and
// the trade manager annotates Comment in place, so each queue gets its own copy.
func (c *Chain) Clone() *Chain {
	cp := *c
	cp.Steps = append([]ChainStep(nil), c.Steps...)
	return &cp
}

func (c *Chain) String() string {
	return fmt.Sprintf("%s: roi = %.4f%%, profit = %.7f ($%.7f)",
		c.MarketsSequence(), c.ROI*100, c.Profit, c.ProfitUsd)
}

// ----------------------------------------------------------------------------
// Orders
// ----------------------------------------------------------------------------

// Order is the unit of execution and persistence. Identity is ClientOrderID.
// Quantity and Price are exact decimals because they cross the exchange and
// storage boundaries; serialization must be lossless.
type Order struct {
	ClientOrderID  string          `json:"clientOrderId"`
	OrderID        int64           `json:"orderId,omitempty"` // exchange-assigned, used for cancels
	Side           Side            `json:"side"`
	Symbol         string          `json:"symbol"` // market without separator, e.g. "BTCUSDT"
	Quantity       decimal.Decimal `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	CreatedAtMs    int64           `json:"createdAtMs"`
	UpdatedAtMs    int64           `json:"updatedAtMs,omitempty"`
	FiredAtMs      int64           `json:"firedAtMs,omitempty"`
	TransactTimeMs int64           `json:"transactTimeMs,omitempty"`
	Status         OrderStatus     `json:"status"`
	Exchange       string          `json:"exchange"`
	ArbitrageHash8 int64           `json:"arbitrageHash8"`
	Comment        string          `json:"comment,omitempty"`
	Raw            json.RawMessage `json:"raw,omitempty"` // last exchange payload for this order
}

// ProposedVolume is the amount of the spending coin the order consumes when it
// executes at its limit price: quantity·price for a BUY, quantity for a SELL.
func (o *Order) ProposedVolume() decimal.Decimal {
	if o.Side == BUY {
		return o.Quantity.Mul(o.Price)
	}
	return o.Quantity
}

func (o *Order) String() string {
	return fmt.Sprintf("[%s] %s %s %s @ %s (%s)",
		o.ClientOrderID, o.Side, o.Quantity.String(), o.Symbol, o.Price.String(), o.Status)
}

// clientOrderIdSeparator joins the arbitrage hash8 with the 1-based leg index.
// The resulting shape is how our own orders are recognized among open orders
// and in user-data stream events.
const clientOrderIdSeparator = "_order_"

var clientOrderIdPattern = regexp.MustCompile(`^\d{1,8}_order_[1-9]\d*$`)

// NewClientOrderID builds "<hash8>_order_<leg>" with leg 1-based.
func NewClientOrderID(hash8 int64, leg int) string {
	return strconv.FormatInt(hash8, 10) + clientOrderIdSeparator + strconv.Itoa(leg)
}

// IsOurClientOrderID reports whether id matches the "<hash8>_order_<leg>" shape.
func IsOurClientOrderID(id string) bool {
	return clientOrderIdPattern.MatchString(id)
}

// ArbitrageHash8FromClientOrderID extracts the hash8 prefix of one of our
// client order ids. ok is false for foreign ids.
func ArbitrageHash8FromClientOrderID(id string) (hash8 int64, ok bool) {
	if !IsOurClientOrderID(id) {
		return 0, false
	}
	prefix, _, _ := strings.Cut(id, clientOrderIdSeparator)
	h, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return 0, false
	}
	return h, true
}

// ----------------------------------------------------------------------------
// REST wire payloads
// ----------------------------------------------------------------------------
// Numeric fields are strings because the exchange serializes them as strings
// to preserve decimal precision.

// ExchangeInfo is the response of GET /api/v3/exchangeInfo.
type ExchangeInfo struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// SymbolInfo describes one tradable symbol and its filters.
type SymbolInfo struct {
	Symbol     string         `json:"symbol"`
	Status     string         `json:"status"` // "TRADING" when live
	BaseAsset  string         `json:"baseAsset"`
	QuoteAsset string         `json:"quoteAsset"`
	Filters    []SymbolFilter `json:"filters"`
}

// SymbolFilter is one entry of a symbol's filter list. Only the fields used by
// the supported filter types are declared.
type SymbolFilter struct {
	FilterType  string `json:"filterType"` // PRICE_FILTER, LOT_SIZE, MIN_NOTIONAL, NOTIONAL
	TickSize    string `json:"tickSize,omitempty"`
	StepSize    string `json:"stepSize,omitempty"`
	MinNotional string `json:"minNotional,omitempty"`
}

// AccountInfo is the response of GET /api/v3/account (signed).
type AccountInfo struct {
	Balances []AccountBalance `json:"balances"`
}

// AccountBalance is one asset line of the account snapshot.
type AccountBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// SymbolPrice is one entry of GET /api/v3/ticker/price.
type SymbolPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// TradeFee is one entry of the trade-fee endpoint: taker/maker commission
// rates per symbol.
type TradeFee struct {
	Symbol          string `json:"symbol"`
	MakerCommission string `json:"makerCommission"`
	TakerCommission string `json:"takerCommission"`
}

// NewOrderResponse is the ack of POST /api/v3/order.
type NewOrderResponse struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	TransactTime  int64  `json:"transactTime"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Status        string `json:"status"`
	TimeInForce   string `json:"timeInForce"`
	Type          string `json:"type"`
	Side          string `json:"side"`
}

// OpenOrder is one entry of GET /api/v3/openOrders (signed).
type OpenOrder struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	Status        string `json:"status"`
	Side          string `json:"side"`
	TimeMs        int64  `json:"time"` // creation time on the exchange
	UpdateTimeMs  int64  `json:"updateTime"`
}

// CancelOrderResponse is the ack of DELETE /api/v3/order.
type CancelOrderResponse struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"origClientOrderId"`
	Status        string `json:"status"`
}

// ListenKeyResponse is the ack of POST /api/v3/userDataStream.
type ListenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}

// ----------------------------------------------------------------------------
// WebSocket events
// ----------------------------------------------------------------------------
// These structs map 1:1 to the JSON messages of the exchange's combined market
// stream and the user-data stream.

// WSStreamEnvelope wraps combined-stream messages:
// {"stream":"btcusdt@bookTicker","data":{...}}.
type WSStreamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// WSBookTicker is the payload of a <symbol>@bookTicker stream event: the
// current best bid/ask and their quantities.
type WSBookTicker struct {
	UpdateID int64  `json:"u"`
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`
}

// WSExecutionReport is the user-data stream event describing one of our
// orders changing state on the exchange.
type WSExecutionReport struct {
	EventType     string `json:"e"` // "executionReport"
	EventTimeMs   int64  `json:"E"`
	Symbol        string `json:"s"`
	ClientOrderID string `json:"c"`
	Side          string `json:"S"`
	OrderType     string `json:"o"`
	TimeInForce   string `json:"f"`
	Quantity      string `json:"q"`
	Price         string `json:"p"`
	Status        string `json:"X"` // NEW, FILLED, CANCELED, REJECTED, ...
	OrderID       int64  `json:"i"`
	TransactTime  int64  `json:"T"`
}

// WSEventType peeks at the "e" field of a raw user-data stream message so the
// dispatcher can route it without decoding the full payload.
type WSEventType struct {
	EventType string `json:"e"`
}
