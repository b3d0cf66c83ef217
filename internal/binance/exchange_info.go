package binance

import (
	"context"
	"fmt"
	"net/http"

	"ai-trade-bot-go/internal/apperrors"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ExchangeInfoResponse represents the response from the /exchangeInfo endpoint.
type ExchangeInfoResponse struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// SymbolInfo contains information about a specific trading symbol.
type SymbolInfo struct {
	Symbol     string   `json:"symbol"`
	Status     string   `json:"status"`
	BaseAsset  string   `json:"baseAsset"`
	QuoteAsset string   `json:"quoteAsset"`
	Filters    []Filter `json:"filters"`
}

// Filter represents a single filter for a symbol. Only LOT_SIZE, NOTIONAL and
// MIN_NOTIONAL are read.
type Filter struct {
	FilterType  string `json:"filterType"`
	MinQty      string `json:"minQty,omitempty"`
	MaxQty      string `json:"maxQty,omitempty"`
	StepSize    string `json:"stepSize,omitempty"`
	MinNotional string `json:"minNotional,omitempty"`
}

// symbolRules are the order constraints of one symbol.
type symbolRules struct {
	BaseAsset   string
	StepSize    decimal.Decimal
	MinQty      decimal.Decimal
	MaxQty      decimal.Decimal
	MinNotional decimal.Decimal
}

func newSymbolRules(info SymbolInfo) symbolRules {
	r := symbolRules{BaseAsset: info.BaseAsset}
	for _, f := range info.Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			r.StepSize = parseDecimal(f.StepSize)
			r.MinQty = parseDecimal(f.MinQty)
			r.MaxQty = parseDecimal(f.MaxQty)
		case "NOTIONAL", "MIN_NOTIONAL":
			if n := parseDecimal(f.MinNotional); n.GreaterThan(r.MinNotional) {
				r.MinNotional = n
			}
		}
	}
	return r
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// floor rounds q down to a multiple of the step size.
func (r symbolRules) floor(q decimal.Decimal) decimal.Decimal {
	if !r.StepSize.IsPositive() {
		return q
	}
	return q.Div(r.StepSize).Floor().Mul(r.StepSize)
}

// ceil rounds q up to a multiple of the step size.
func (r symbolRules) ceil(q decimal.Decimal) decimal.Decimal {
	if !r.StepSize.IsPositive() {
		return q
	}
	return q.Div(r.StepSize).Ceil().Mul(r.StepSize)
}

// format renders a quantity with the step size's precision.
func (r symbolRules) format(q float64) string {
	d := r.floor(decimal.NewFromFloat(q))
	if !r.StepSize.IsPositive() {
		return d.String()
	}
	places := -r.StepSize.Exponent()
	for places > 0 && r.StepSize.Shift(places-1).IsInteger() {
		places--
	}
	return d.StringFixed(places)
}

// normalize converts a quote amount into a quantity that respects the lot size
// and the minimum notional. Amounts below the minimum notional are raised to
// 1% above it.
func (r symbolRules) normalize(quoteAmount, price float64) (float64, error) {
	p := decimal.NewFromFloat(price)
	if !p.IsPositive() {
		return 0, fmt.Errorf("invalid price %v", price)
	}
	buffer := decimal.RequireFromString("1.01")
	quote := decimal.NewFromFloat(quoteAmount)
	if r.MinNotional.IsPositive() && quote.LessThan(r.MinNotional) {
		quote = r.MinNotional.Mul(buffer)
	}

	q := r.floor(quote.Div(p))
	if r.MinQty.IsPositive() && q.LessThan(r.MinQty) {
		q = r.MinQty
	}
	if r.MaxQty.IsPositive() && q.GreaterThan(r.MaxQty) {
		q = r.MaxQty
	}
	if r.MinNotional.IsPositive() && q.Mul(p).LessThan(r.MinNotional) {
		q = r.ceil(r.MinNotional.Mul(buffer).Div(p))
	}
	if !q.IsPositive() {
		return 0, fmt.Errorf("quantity %s from quote %v at %v is not positive", q, quoteAmount, price)
	}
	f, _ := q.Float64()
	return f, nil
}

// GetExchangeInfo fetches the trading rules of one symbol.
func (c *RestClient) GetExchangeInfo(ctx context.Context, symbol string) (*ExchangeInfoResponse, error) {
	var exchangeInfo ExchangeInfoResponse

	resp, err := c.doRequest(ctx, http.MethodGet, "/exchangeInfo", true, func() *resty.Request {
		return c.client.R().
			SetQueryParam("symbol", symbol).
			SetResult(&exchangeInfo)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange info: %w", err)
	}

	return resp.Result().(*ExchangeInfoResponse), nil
}

// symbolRules returns the cached rules of a symbol, fetching them on first use.
func (c *RestClient) symbolRules(ctx context.Context, symbol string) (symbolRules, error) {
	c.mu.Lock()
	r, ok := c.rules[symbol]
	c.mu.Unlock()
	if ok {
		return r, nil
	}

	info, err := c.GetExchangeInfo(ctx, symbol)
	if err != nil {
		return symbolRules{}, err
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		r = newSymbolRules(s)
		c.mu.Lock()
		c.rules[symbol] = r
		c.mu.Unlock()
		c.logger.Debug("Loaded symbol rules",
			zap.String("symbol", symbol),
			zap.String("step_size", r.StepSize.String()),
			zap.String("min_notional", r.MinNotional.String()),
		)
		return r, nil
	}
	return symbolRules{}, apperrors.Newf(apperrors.CodeExchangeRejected, "symbol %s is not listed", symbol)
}

// NormalizeQuantity converts a quote amount into an order quantity for symbol.
func (c *RestClient) NormalizeQuantity(ctx context.Context, instrument string, quoteAmount, price float64) (float64, error) {
	rules, err := c.symbolRules(ctx, instrument)
	if err != nil {
		return 0, err
	}
	return rules.normalize(quoteAmount, price)
}
