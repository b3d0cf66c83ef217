package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"ai-trade-bot-go/internal/config"
	"ai-trade-bot-go/internal/exchange"
	"ai-trade-bot-go/internal/market"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	baseURL         = "https://api.binance.com/api/v3"
	testnetBaseURL  = "https://testnet.binance.vision/api/v3"
	recvWindow      = "5000" // How long a request is valid in milliseconds
	OrderTypeMarket = "MARKET"

	codeOrderNotFound = -2013
	maxRetries        = 3
)

// RestClient is a client for the Binance spot REST API.
type RestClient struct {
	client    *resty.Client
	apiKey    string
	secretKey string
	logger    *zap.Logger
	limiter   *rate.Limiter
	retryBase time.Duration
	now       func() time.Time

	mu    sync.Mutex
	rules map[string]symbolRules
}

// ensure RestClient implements the exchange contract
var _ exchange.Exchange = (*RestClient)(nil)

// NewRestClient creates a new Binance REST API client.
func NewRestClient(cfg *config.Binance, logger *zap.Logger) *RestClient {
	logger = logger.Named("binance")
	var url string
	if cfg.Testnet {
		url = testnetBaseURL
		logger.Warn("Using Binance Testnet")
	} else {
		url = baseURL
		logger.Info("Using Binance Production API")
	}

	client := resty.New().
		SetBaseURL(url).
		SetTimeout(cfg.RequestTimeout)

	apiKey, secret := cfg.Credentials()
	return &RestClient{
		client:    client,
		apiKey:    apiKey,
		secretKey: secret,
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
		retryBase: time.Second,
		now:       time.Now,
		rules:     make(map[string]symbolRules),
	}
}

// APIError is a 4xx answer carrying a Binance error code.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance api error %d (http %d): %s", e.Code, e.StatusCode, e.Message)
}

// sign creates a HMAC-SHA256 signature for the request.
func (c *RestClient) sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// signed adds timestamp, recvWindow and signature to params. It runs once per
// attempt so a retried request carries a fresh timestamp.
func (c *RestClient) signed(params url.Values) string {
	p := url.Values{}
	for k, v := range params {
		p[k] = v
	}
	p.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	p.Set("recvWindow", recvWindow)
	query := p.Encode()
	return query + "&signature=" + c.sign(query)
}

// doRequest handles the actual request execution with rate limiting and retry
// logic. build is called once per attempt. Requests that are not idempotent are
// only retried when the exchange throttled them, since any other failure may
// have been processed.
func (c *RestClient) doRequest(ctx context.Context, method, path string, idempotent bool, build func() *resty.Request) (*resty.Response, error) {
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, exchange.Unavailable(err, "rate limiter wait failed")
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("path", path))
		resp, err := build().SetContext(ctx).Execute(method, path)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		switch {
		case err != nil:
			lastErr = err
			shouldRetry = idempotent
		case resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() == http.StatusTeapot:
			lastErr = fmt.Errorf("throttled with status %s", resp.Status())
			shouldRetry = true
			if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		case resp.StatusCode() >= http.StatusInternalServerError:
			lastErr = fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
			shouldRetry = idempotent
		default:
			apiErr := &APIError{StatusCode: resp.StatusCode(), Code: -1, Message: resp.String()}
			_ = json.Unmarshal(resp.Body(), apiErr)
			return nil, apiErr
		}

		if ctx.Err() != nil {
			return nil, exchange.Unavailable(ctx.Err(), "%s %s", method, path)
		}
		if !shouldRetry || i == maxRetries-1 {
			break
		}

		// If we should retry, calculate wait time
		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = c.retryBase << i
		}

		c.logger.Warn("Request failed, retrying...",
			zap.String("path", path),
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(lastErr),
		)

		select {
		case <-time.After(retryAfter):
		case <-ctx.Done():
			return nil, exchange.Unavailable(ctx.Err(), "%s %s", method, path)
		}
	}

	return nil, exchange.Unavailable(lastErr, "%s %s failed", method, path)
}

// Candles fetches the most recent klines, oldest first. The last bar may still
// be forming; its close is the latest traded price.
func (c *RestClient) Candles(ctx context.Context, instrument string, tf market.Timeframe) ([]market.Candle, error) {
	var raw [][]any
	resp, err := c.doRequest(ctx, http.MethodGet, "/klines", true, func() *resty.Request {
		return c.client.R().
			SetQueryParams(map[string]string{
				"symbol":   instrument,
				"interval": tf.Interval,
				"limit":    strconv.Itoa(tf.Limit),
			}).
			SetResult(&raw)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s klines for %s: %w", tf.Interval, instrument, err)
	}

	rows := *resp.Result().(*[][]any)
	candles := make([]market.Candle, 0, len(rows))
	for _, row := range rows {
		candle, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s kline for %s: %w", tf.Interval, instrument, err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// parseKline decodes [openTime, open, high, low, close, volume, closeTime, ...].
func parseKline(row []any) (market.Candle, error) {
	if len(row) < 7 {
		return market.Candle{}, fmt.Errorf("kline has %d fields", len(row))
	}
	openTime, ok1 := row[0].(float64)
	closeTime, ok2 := row[6].(float64)
	if !ok1 || !ok2 {
		return market.Candle{}, errors.New("kline times are not numbers")
	}
	var ohlcv [5]float64
	for i := range ohlcv {
		s, ok := row[i+1].(string)
		if !ok {
			return market.Candle{}, fmt.Errorf("kline field %d is not a string", i+1)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return market.Candle{}, err
		}
		ohlcv[i] = v
	}
	return market.Candle{
		OpenTime:  time.UnixMilli(int64(openTime)).UTC(),
		Open:      ohlcv[0],
		High:      ohlcv[1],
		Low:       ohlcv[2],
		Close:     ohlcv[3],
		Volume:    ohlcv[4],
		CloseTime: time.UnixMilli(int64(closeTime)).UTC(),
	}, nil
}

// OrderResponse is the FULL response of /order and the response of an order query.
type OrderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	TransactTime        int64  `json:"transactTime"`
	UpdateTime          int64  `json:"updateTime"`
	Price               string `json:"price"`
	OrigQuantity        string `json:"origQty"`
	ExecutedQuantity    string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
	Type                string `json:"type"`
	Side                string `json:"side"`
}

// fill converts the response; the average price is quote spent over quantity.
func (o *OrderResponse) fill() (exchange.Fill, error) {
	executed, err := strconv.ParseFloat(o.ExecutedQuantity, 64)
	if err != nil {
		return exchange.Fill{}, fmt.Errorf("invalid executedQty %q: %w", o.ExecutedQuantity, err)
	}
	quote, err := strconv.ParseFloat(o.CummulativeQuoteQty, 64)
	if err != nil {
		return exchange.Fill{}, fmt.Errorf("invalid cummulativeQuoteQty %q: %w", o.CummulativeQuoteQty, err)
	}
	var avg float64
	if executed > 0 {
		avg = quote / executed
	}
	ts := o.TransactTime
	if ts == 0 {
		ts = o.UpdateTime
	}
	return exchange.Fill{
		ClientOrderID:    o.ClientOrderID,
		ExchangeOrderID:  strconv.FormatInt(o.OrderID, 10),
		Status:           exchange.OrderStatus(o.Status),
		ExecutedQuantity: executed,
		AveragePrice:     avg,
		TransactTime:     time.UnixMilli(ts).UTC(),
	}, nil
}

// SubmitMarketOrder places a MARKET order tagged with the client order id.
func (c *RestClient) SubmitMarketOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Fill, error) {
	rules, err := c.symbolRules(ctx, req.Instrument)
	if err != nil {
		return exchange.Fill{}, err
	}

	params := url.Values{}
	params.Set("symbol", req.Instrument)
	params.Set("side", string(req.Side))
	params.Set("type", OrderTypeMarket)
	params.Set("quantity", rules.format(req.Quantity))
	params.Set("newClientOrderId", req.ClientOrderID)
	params.Set("newOrderRespType", "FULL")

	resp, err := c.doRequest(ctx, http.MethodPost, "/order", false, func() *resty.Request {
		return c.client.R().
			SetHeader("X-MBX-APIKEY", c.apiKey).
			SetHeader("Content-Type", "application/x-www-form-urlencoded").
			SetBody(c.signed(params)).
			SetResult(&OrderResponse{})
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return exchange.Fill{}, exchange.Rejected(apiErr, "order %s rejected", req.ClientOrderID)
		}
		c.logger.Error("Failed to create order",
			zap.Error(err),
			zap.String("symbol", req.Instrument),
			zap.String("client_order_id", req.ClientOrderID),
		)
		return exchange.Fill{}, err
	}

	result := resp.Result().(*OrderResponse)
	fill, err := result.fill()
	if err != nil {
		return exchange.Fill{}, exchange.Unavailable(err, "unreadable order response")
	}
	if fill.Status == exchange.OrderRejected || (fill.Status == exchange.OrderExpired && fill.ExecutedQuantity == 0) {
		return exchange.Fill{}, exchange.Rejected(nil, "order %s ended %s", req.ClientOrderID, fill.Status)
	}
	c.logger.Info("Successfully created order",
		zap.String("symbol", result.Symbol),
		zap.String("side", result.Side),
		zap.String("status", result.Status),
		zap.Float64("executed", fill.ExecutedQuantity),
		zap.Float64("avg_price", fill.AveragePrice),
	)
	return fill, nil
}

// QueryOrder looks an order up by its client order id.
func (c *RestClient) QueryOrder(ctx context.Context, instrument, clientOrderID string) (exchange.Fill, error) {
	params := url.Values{}
	params.Set("symbol", instrument)
	params.Set("origClientOrderId", clientOrderID)

	var out OrderResponse
	_, err := c.doRequest(ctx, http.MethodGet, "/order", true, func() *resty.Request {
		return c.client.R().
			SetHeader("X-MBX-APIKEY", c.apiKey).
			SetQueryString(c.signed(params)).
			SetResult(&out)
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == codeOrderNotFound {
			return exchange.Fill{}, fmt.Errorf("%s %s: %w", instrument, clientOrderID, exchange.ErrOrderNotFound)
		}
		return exchange.Fill{}, fmt.Errorf("failed to query order %s: %w", clientOrderID, err)
	}
	return out.fill()
}

type accountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// Holdings returns free plus locked balance of the instrument's base asset.
func (c *RestClient) Holdings(ctx context.Context, instrument string) (float64, error) {
	rules, err := c.symbolRules(ctx, instrument)
	if err != nil {
		return 0, err
	}

	var account accountResponse
	_, err = c.doRequest(ctx, http.MethodGet, "/account", true, func() *resty.Request {
		return c.client.R().
			SetHeader("X-MBX-APIKEY", c.apiKey).
			SetQueryString(c.signed(url.Values{})).
			SetResult(&account)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get account: %w", err)
	}

	for _, b := range account.Balances {
		if b.Asset != rules.BaseAsset {
			continue
		}
		free, _ := strconv.ParseFloat(b.Free, 64)
		locked, _ := strconv.ParseFloat(b.Locked, 64)
		return free + locked, nil
	}
	return 0, nil
}
