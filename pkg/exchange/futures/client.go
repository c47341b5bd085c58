package futures

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"futures-desk/pkg/exchange/common"
)

// DefaultBaseURL points at the futures exchange testnet.
const DefaultBaseURL = "https://testnet.binancefuture.com"

// Config holds exchange credentials and endpoint settings. Credentials are
// passed in explicitly so the client stays testable with fakes.
type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string
	Timeout   time.Duration
}

// Client issues signed HTTP calls to the futures exchange.
type Client struct {
	cfg        Config
	httpClient *http.Client

	mu     sync.Mutex
	lastTS int64
}

// NewClient creates a futures exchange client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// now returns the current time in milliseconds, strictly increasing per
// process so no two signed requests carry the same timestamp.
func (c *Client) now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := time.Now().UnixMilli()
	if ts <= c.lastTS {
		ts = c.lastTS + 1
	}
	c.lastTS = ts
	return ts
}

// PlaceOrder validates and submits an order, returning the exchange ack.
func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderAck, error) {
	if err := c.checkCredentials(); err != nil {
		return common.OrderAck{}, err
	}
	if err := validateOrder(req); err != nil {
		return common.OrderAck{}, err
	}

	params := Params{}
	params.Add("symbol", req.Symbol)
	params.Add("side", string(req.Side))
	params.Add("type", string(req.Type))
	params.Add("quantity", formatFloat(req.Quantity))
	if req.Type == common.OrderTypeLimit || req.Type == common.OrderTypeStopLimit {
		params.Add("price", formatFloat(req.Price))
	}
	if req.Type == common.OrderTypeStopLimit {
		params.Add("stopPrice", formatFloat(req.StopPrice))
	}
	if req.Type == common.OrderTypeLimit || req.Type == common.OrderTypeStopLimit {
		tif := req.TimeInForce
		if tif == "" {
			tif = common.TIFGTC
		}
		params.Add("timeInForce", string(tif))
	}
	if req.ClientID != "" {
		params.Add("newClientOrderId", req.ClientID)
	}
	params.Add("timestamp", strconv.FormatInt(c.now(), 10))

	body, err := c.doSigned(ctx, http.MethodPost, "/order", params)
	if err != nil {
		return common.OrderAck{}, err
	}

	var resp orderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderAck{}, &common.TransportError{Op: "decode order ack", Err: err}
	}
	ack := resp.toAck()
	ack.Raw = body
	return ack, nil
}

// CancelOrder cancels an order by symbol and exchange order id.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := c.checkCredentials(); err != nil {
		return err
	}
	if symbol == "" {
		return &common.ValidationError{Field: "symbol", Msg: "required"}
	}
	if orderID == "" {
		return &common.ValidationError{Field: "orderId", Msg: "required"}
	}

	params := Params{}
	params.Add("symbol", symbol)
	params.Add("orderId", orderID)
	params.Add("timestamp", strconv.FormatInt(c.now(), 10))

	_, err := c.doSigned(ctx, http.MethodDelete, "/order", params)
	return err
}

// GetAccount fetches wallet balances and the full position list. Zero-size
// positions are included; callers filter them.
func (c *Client) GetAccount(ctx context.Context) (*common.AccountSnapshot, error) {
	if err := c.checkCredentials(); err != nil {
		return nil, err
	}

	body, err := c.doSignedRetry(ctx, http.MethodGet, "/account", nil)
	if err != nil {
		return nil, err
	}

	var resp accountResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &common.TransportError{Op: "decode account", Err: err}
	}
	return resp.toSnapshot(), nil
}

// GetOpenOrders fetches the orders currently resting on the exchange.
func (c *Client) GetOpenOrders(ctx context.Context) ([]common.OpenOrder, error) {
	if err := c.checkCredentials(); err != nil {
		return nil, err
	}

	body, err := c.doSignedRetry(ctx, http.MethodGet, "/openOrders", nil)
	if err != nil {
		return nil, err
	}

	var resp []orderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &common.TransportError{Op: "decode open orders", Err: err}
	}
	orders := make([]common.OpenOrder, 0, len(resp))
	for _, o := range resp {
		orders = append(orders, o.toOpenOrder())
	}
	return orders, nil
}

// GetTicker fetches the 24h rolling stats for one symbol. The endpoint is
// public; no signature is attached.
func (c *Client) GetTicker(ctx context.Context, symbol string) (common.TickerStats, error) {
	if symbol == "" {
		return common.TickerStats{}, &common.ValidationError{Field: "symbol", Msg: "required"}
	}

	u := c.cfg.BaseURL + "/ticker/24hr?symbol=" + url.QueryEscape(symbol)
	var body []byte
	err := c.withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return &common.TransportError{Op: "build ticker request", Err: err}
		}
		var doErr error
		body, doErr = c.do(req)
		return doErr
	})
	if err != nil {
		return common.TickerStats{}, err
	}

	var resp tickerResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.TickerStats{}, &common.TransportError{Op: "decode ticker", Err: err}
	}
	return resp.toStats(), nil
}

// GetTickers fetches stats for several symbols, skipping those that fail and
// returning an error only when nothing could be fetched.
func (c *Client) GetTickers(ctx context.Context, symbols []string) ([]common.TickerStats, error) {
	var (
		stats   []common.TickerStats
		lastErr error
	)
	for _, sym := range symbols {
		t, err := c.GetTicker(ctx, sym)
		if err != nil {
			lastErr = err
			continue
		}
		stats = append(stats, t)
	}
	if len(stats) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return stats, nil
}

func (c *Client) checkCredentials() error {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return &common.ValidationError{Field: "credentials", Msg: "API key/secret required"}
	}
	return nil
}

func validateOrder(req common.OrderRequest) error {
	if req.Symbol == "" {
		return &common.ValidationError{Field: "symbol", Msg: "required"}
	}
	if req.Side != common.SideBuy && req.Side != common.SideSell {
		return &common.ValidationError{Field: "side", Msg: "must be BUY or SELL"}
	}
	switch req.Type {
	case common.OrderTypeMarket:
	case common.OrderTypeLimit:
		if req.Price <= 0 {
			return &common.ValidationError{Field: "price", Msg: "required for LIMIT orders"}
		}
	case common.OrderTypeStopLimit:
		if req.Price <= 0 {
			return &common.ValidationError{Field: "price", Msg: "required for STOP_LIMIT orders"}
		}
		if req.StopPrice <= 0 {
			return &common.ValidationError{Field: "stopPrice", Msg: "required for STOP_LIMIT orders"}
		}
	default:
		return &common.ValidationError{Field: "type", Msg: "unknown order type"}
	}
	if req.Quantity <= 0 {
		return &common.ValidationError{Field: "quantity", Msg: "must be positive"}
	}
	return nil
}

// doSigned signs the parameters (appending timestamp when the caller did not
// supply one) and issues the request. Params are carried in the query string
// for all methods; the signature covers the literal encoded string.
func (c *Client) doSigned(ctx context.Context, method, path string, params Params) ([]byte, error) {
	if params == nil {
		params = Params{}
	}
	if !params.has("timestamp") {
		params.Add("timestamp", strconv.FormatInt(c.now(), 10))
	}
	qs := params.Encode()
	sig := Sign(qs, c.cfg.APISecret)

	u := c.cfg.BaseURL + path + "?" + qs + "&signature=" + sig
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, &common.TransportError{Op: "build request", Err: err}
	}
	req.Header.Set("X-API-KEY", c.cfg.APIKey)

	return c.do(req)
}

// doSignedRetry retries idempotent signed reads on transport failure. Writes
// (order placement/cancel) are never retried automatically; the caller may
// only submit a compensating request.
func (c *Client) doSignedRetry(ctx context.Context, method, path string, params Params) ([]byte, error) {
	var body []byte
	err := c.withRetry(ctx, func() error {
		var doErr error
		// Re-sign each attempt so every request carries a fresh timestamp.
		body, doErr = c.doSigned(ctx, method, path, append(Params{}, params...))
		return doErr
	})
	return body, err
}

const maxRetries = 3

func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err = fn(); err == nil || !common.IsTransport(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return &common.TransportError{Op: "retry", Err: ctx.Err()}
		case <-time.After(bo.NextBackOff()):
		}
	}
	return err
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &common.TransportError{Op: req.Method + " " + req.URL.Path, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &common.TransportError{Op: "read response", Err: err}
	}

	if res.StatusCode >= 300 {
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			return nil, &common.RejectedError{HTTPStatus: res.StatusCode, Code: apiErr.Code, Msg: apiErr.Msg}
		}
		// Not the venue's error shape. An intermediary (proxy, LB) answered,
		// not the exchange, so this is a transport failure and retryable.
		return nil, &common.TransportError{
			Op:  req.Method + " " + req.URL.Path,
			Err: fmt.Errorf("http %d: %s", res.StatusCode, truncate(body, 200)),
		}
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

func (p Params) has(key string) bool {
	for _, kv := range p {
		if kv.Key == key {
			return true
		}
	}
	return false
}

type orderResp struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	OrigQty       string `json:"origQty"`
	Price         string `json:"price"`
	StopPrice     string `json:"stopPrice"`
	Status        string `json:"status"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
	Time          int64  `json:"time"`
}

func (r orderResp) toAck() common.OrderAck {
	return common.OrderAck{
		OrderID:       strconv.FormatInt(r.OrderID, 10),
		ClientOrderID: r.ClientOrderID,
		Symbol:        r.Symbol,
		Side:          common.Side(r.Side),
		Type:          common.OrderType(r.Type),
		Quantity:      parseFloat(r.OrigQty),
		Price:         parseFloat(r.Price),
		StopPrice:     parseFloat(r.StopPrice),
		Status:        common.OrderStatus(r.Status),
		FilledQty:     parseFloat(r.ExecutedQty),
		AvgPrice:      parseFloat(r.AvgPrice),
	}
}

func (r orderResp) toOpenOrder() common.OpenOrder {
	return common.OpenOrder{
		OrderID:       strconv.FormatInt(r.OrderID, 10),
		ClientOrderID: r.ClientOrderID,
		Symbol:        r.Symbol,
		Side:          common.Side(r.Side),
		Type:          common.OrderType(r.Type),
		Quantity:      parseFloat(r.OrigQty),
		Price:         parseFloat(r.Price),
		StopPrice:     parseFloat(r.StopPrice),
		Status:        common.OrderStatus(r.Status),
		FilledQty:     parseFloat(r.ExecutedQty),
		CreatedAt:     time.UnixMilli(r.Time),
	}
}

type accountResp struct {
	Assets []struct {
		Asset            string `json:"asset"`
		WalletBalance    string `json:"walletBalance"`
		AvailableBalance string `json:"availableBalance"`
		MarginBalance    string `json:"marginBalance"`
		UnrealizedProfit string `json:"unrealizedProfit"`
	} `json:"assets"`
	Positions []struct {
		Symbol           string `json:"symbol"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		MarkPrice        string `json:"markPrice"`
		UnRealizedProfit string `json:"unrealizedProfit"`
		Leverage         string `json:"leverage"`
		MarginType       string `json:"marginType"`
		LiquidationPrice string `json:"liquidationPrice"`
	} `json:"positions"`
}

// quoteAsset is the settlement asset the desk tracks a single balance row for.
const quoteAsset = "USDT"

func (r accountResp) toSnapshot() *common.AccountSnapshot {
	snap := &common.AccountSnapshot{Asset: quoteAsset, FetchedAt: time.Now()}
	for _, a := range r.Assets {
		if a.Asset != quoteAsset {
			continue
		}
		snap.WalletBalance = parseFloat(a.WalletBalance)
		snap.AvailableBalance = parseFloat(a.AvailableBalance)
		snap.MarginBalance = parseFloat(a.MarginBalance)
		snap.UnrealizedProfit = parseFloat(a.UnrealizedProfit)
		break
	}
	for _, p := range r.Positions {
		mark := parseFloat(p.MarkPrice)
		entry := parseFloat(p.EntryPrice)
		if mark == 0 {
			mark = entry
		}
		lev, _ := strconv.Atoi(p.Leverage)
		snap.Positions = append(snap.Positions, common.AccountPosition{
			Symbol:           p.Symbol,
			Quantity:         parseFloat(p.PositionAmt),
			EntryPrice:       entry,
			MarkPrice:        mark,
			UnrealizedProfit: parseFloat(p.UnRealizedProfit),
			Leverage:         lev,
			MarginType:       p.MarginType,
			LiquidationPrice: parseFloat(p.LiquidationPrice),
		})
	}
	return snap
}

type tickerResp struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
}

func (r tickerResp) toStats() common.TickerStats {
	return common.TickerStats{
		Symbol:             r.Symbol,
		Price:              parseFloat(r.LastPrice),
		PriceChange:        parseFloat(r.PriceChange),
		PriceChangePercent: parseFloat(r.PriceChangePercent),
		High24h:            parseFloat(r.HighPrice),
		Low24h:             parseFloat(r.LowPrice),
		Volume24h:          parseFloat(r.Volume),
	}
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
