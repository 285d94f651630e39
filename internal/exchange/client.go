// Package exchange implements the spot exchange REST and WebSocket clients.
//
// The REST client (Client) covers the slice of the spot API the bot needs:
//   - ExchangeInfo:    GET  /api/v3/exchangeInfo   — symbols, assets, order filters
//   - Balances:        GET  /api/v3/account        — free amount per asset
//   - LatestPrices:    GET  /api/v3/ticker/price   — last price per symbol
//   - TradeFees:       GET  /sapi/v1/asset/tradeFee — taker commission per symbol
//   - PutLimitOrder:   POST /api/v3/order          — place one limit order
//   - PutMarketOrder:  POST /api/v3/order          — place one market order
//   - OpenOrders:      GET  /api/v3/openOrders     — open orders across all symbols
//   - CancelOrder:     DELETE /api/v3/order        — cancel by client order id
//   - CreateListenKey: POST /api/v3/userDataStream — open the user-data stream
//
// Every request is rate-limited via per-category TokenBuckets and retried on
// 5xx and 429 responses. Signed endpoints carry an HMAC query signature built
// by Signer. Retrying a placement is safe: the exchange rejects a reused
// newClientOrderId instead of double-booking it.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"triarb/internal/config"
	"triarb/pkg/types"
)

const apiKeyHeader = "X-MBX-APIKEY"

// Client is the spot exchange REST API client.
// It wraps a resty HTTP client with rate limiting, retry, and auth.
type Client struct {
	http     *resty.Client // HTTP client with retry + base URL
	signer   *Signer       // query signing for authenticated endpoints
	rl       *RateLimiter  // per-category rate limiting
	exchange string        // stamped onto orders placed through this client
	dryRun   bool          // when true, mutating methods return fake success without HTTP calls
	logger   *slog.Logger
}

// NewClient creates a REST client with rate limiting and retry.
func NewClient(cfg config.ExchangeConfig, signer *Signer, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500 || r.StatusCode() == http.StatusTooManyRequests
		})

	return &Client{
		http:     httpClient,
		signer:   signer,
		rl:       NewRateLimiter(),
		exchange: cfg.Name,
		dryRun:   cfg.DryRun,
		logger:   logger.With("component", "exchange-client"),
	}
}

// ExchangeInfo fetches the full symbol catalog with its order filters.
func (c *Client) ExchangeInfo(ctx context.Context) (*types.ExchangeInfo, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return nil, err
	}

	var result types.ExchangeInfo
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/api/v3/exchangeInfo")
	if err != nil {
		return nil, fmt.Errorf("get exchange info: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get exchange info: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// SymbolToMarkets maps every live symbol to its canonical "BASE/QUOTE" market.
func (c *Client) SymbolToMarkets(ctx context.Context) (map[string]string, error) {
	info, err := c.ExchangeInfo(ctx)
	if err != nil {
		return nil, err
	}
	return MarketsOf(info), nil
}

// MarketsOf maps every live symbol in the catalog to its canonical
// "BASE/QUOTE" market. The mapping resolves symbol ambiguities like USDTUSD
// (USDT/USD vs USD/TUSD): only the exchange knows where the base asset ends.
func MarketsOf(info *types.ExchangeInfo) map[string]string {
	markets := make(map[string]string, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		markets[s.Symbol] = s.BaseAsset + "/" + s.QuoteAsset
	}
	return markets
}

// Balances returns the free amount per asset, zero balances included: a coin
// the account holds nothing of must still read as present-and-zero downstream.
func (c *Client) Balances(ctx context.Context) (map[string]float64, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return nil, err
	}

	var result types.AccountInfo
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(apiKeyHeader, c.signer.APIKey()).
		SetResult(&result).
		Get("/api/v3/account?" + c.signer.Sign(nil))
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get account: status %d: %s", resp.StatusCode(), resp.String())
	}
	return balancesFrom(&result), nil
}

// LatestPrices returns the latest price per symbol.
func (c *Client) LatestPrices(ctx context.Context) (map[string]float64, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return nil, err
	}

	var result []types.SymbolPrice
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/api/v3/ticker/price")
	if err != nil {
		return nil, fmt.Errorf("get prices: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get prices: status %d: %s", resp.StatusCode(), resp.String())
	}
	return pricesFrom(result), nil
}

// TradeFees returns the taker commission rate per symbol.
func (c *Client) TradeFees(ctx context.Context) (map[string]float64, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return nil, err
	}

	var result []types.TradeFee
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(apiKeyHeader, c.signer.APIKey()).
		SetResult(&result).
		Get("/sapi/v1/asset/tradeFee?" + c.signer.Sign(nil))
	if err != nil {
		return nil, fmt.Errorf("get trade fees: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get trade fees: status %d: %s", resp.StatusCode(), resp.String())
	}
	return takerFeesFrom(result), nil
}

// PutLimitOrder places a limit order and folds the exchange's ack back into
// the order: exchange id, transact time, status, raw payload.
func (c *Client) PutLimitOrder(ctx context.Context, o *types.Order, tif types.TimeInForce) (*types.Order, error) {
	if tif == "" {
		tif = types.TimeInForceGTC
	}
	if c.dryRun {
		c.logger.Info("DRY-RUN: would place limit order",
			"client_order_id", o.ClientOrderID, "symbol", o.Symbol, "side", o.Side,
			"quantity", o.Quantity, "price", o.Price, "tif", tif)
		c.fakeAck(o)
		return o, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", o.Symbol)
	params.Set("side", string(o.Side))
	params.Set("type", "LIMIT")
	params.Set("timeInForce", string(tif))
	params.Set("quantity", o.Quantity.String())
	params.Set("price", o.Price.String())
	params.Set("newClientOrderId", o.ClientOrderID)

	ack, raw, err := c.postOrder(ctx, params)
	if err != nil {
		return nil, err
	}
	c.applyAck(o, ack, raw)
	return o, nil
}

// PutMarketOrder places a market order for the order's quantity.
func (c *Client) PutMarketOrder(ctx context.Context, o *types.Order) (*types.Order, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would place market order",
			"symbol", o.Symbol, "side", o.Side, "quantity", o.Quantity)
		c.fakeAck(o)
		return o, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", o.Symbol)
	params.Set("side", string(o.Side))
	params.Set("type", "MARKET")
	params.Set("quantity", o.Quantity.String())
	if o.ClientOrderID != "" {
		params.Set("newClientOrderId", o.ClientOrderID)
	}

	ack, raw, err := c.postOrder(ctx, params)
	if err != nil {
		return nil, err
	}
	c.applyAck(o, ack, raw)
	return o, nil
}

func (c *Client) postOrder(ctx context.Context, params url.Values) (*types.NewOrderResponse, []byte, error) {
	var result types.NewOrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(apiKeyHeader, c.signer.APIKey()).
		SetResult(&result).
		Post("/api/v3/order?" + c.signer.Sign(params))
	if err != nil {
		return nil, nil, fmt.Errorf("post order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, nil, fmt.Errorf("post order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, resp.Body(), nil
}

func (c *Client) applyAck(o *types.Order, ack *types.NewOrderResponse, raw []byte) {
	o.OrderID = ack.OrderID
	o.TransactTimeMs = ack.TransactTime
	o.Status = types.OrderStatus(ack.Status)
	o.UpdatedAtMs = time.Now().UnixMilli()
	o.Raw = raw
	if o.Exchange == "" {
		o.Exchange = c.exchange
	}
}

// fakeAck fills the fields a real ack would so downstream bookkeeping works
// in dry-run mode.
func (c *Client) fakeAck(o *types.Order) {
	now := time.Now().UnixMilli()
	o.OrderID = now
	o.TransactTimeMs = now
	o.UpdatedAtMs = now
	o.Status = types.OrderStatusNew
	if o.Exchange == "" {
		o.Exchange = c.exchange
	}
}

// OpenOrders lists open orders across all symbols. This endpoint carries a
// large request weight, so callers poll it on multi-second periods only.
func (c *Client) OpenOrders(ctx context.Context) ([]types.OpenOrder, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return nil, err
	}

	var result []types.OpenOrder
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(apiKeyHeader, c.signer.APIKey()).
		SetResult(&result).
		Get("/api/v3/openOrders?" + c.signer.Sign(nil))
	if err != nil {
		return nil, fmt.Errorf("get open orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get open orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

// CancelOrder cancels one order by its original client order id.
func (c *Client) CancelOrder(ctx context.Context, symbol, clientOrderID string) (*types.CancelOrderResponse, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel order", "symbol", symbol, "client_order_id", clientOrderID)
		return &types.CancelOrderResponse{
			Symbol: symbol, ClientOrderID: clientOrderID, Status: string(types.OrderStatusCanceled),
		}, nil
	}
	if err := c.rl.Query.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderId", clientOrderID)

	var result types.CancelOrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(apiKeyHeader, c.signer.APIKey()).
		SetResult(&result).
		Delete("/api/v3/order?" + c.signer.Sign(params))
	if err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Info("order cancelled", "symbol", symbol, "client_order_id", clientOrderID)
	return &result, nil
}

// CreateListenKey opens a user-data stream and returns its listen key.
// Listen keys expire after 60 minutes unless kept alive.
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return "", err
	}

	var result types.ListenKeyResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(apiKeyHeader, c.signer.APIKey()).
		SetResult(&result).
		Post("/api/v3/userDataStream")
	if err != nil {
		return "", fmt.Errorf("create listen key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("create listen key: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result.ListenKey, nil
}

// KeepAliveListenKey extends the listen key's lifetime.
func (c *Client) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(apiKeyHeader, c.signer.APIKey()).
		SetQueryParam("listenKey", listenKey).
		Put("/api/v3/userDataStream")
	if err != nil {
		return fmt.Errorf("keepalive listen key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("keepalive listen key: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// ----------------------------------------------------------------------------
// Response parsing
// ----------------------------------------------------------------------------

func balancesFrom(acct *types.AccountInfo) map[string]float64 {
	balances := make(map[string]float64, len(acct.Balances))
	for _, b := range acct.Balances {
		free, err := strconv.ParseFloat(b.Free, 64)
		if err != nil {
			continue
		}
		balances[b.Asset] = free
	}
	return balances
}

func pricesFrom(list []types.SymbolPrice) map[string]float64 {
	prices := make(map[string]float64, len(list))
	for _, p := range list {
		price, err := strconv.ParseFloat(p.Price, 64)
		if err != nil {
			continue
		}
		prices[p.Symbol] = price
	}
	return prices
}

func takerFeesFrom(list []types.TradeFee) map[string]float64 {
	fees := make(map[string]float64, len(list))
	for _, f := range list {
		fee, err := strconv.ParseFloat(f.TakerCommission, 64)
		if err != nil {
			continue
		}
		fees[f.Symbol] = fee
	}
	return fees
}
