// Package exchange defines the contract the engine trades through and the
// order types shared by its implementations.
package exchange

import (
	"context"
	"errors"
	"time"

	"ai-trade-bot-go/internal/apperrors"
	"ai-trade-bot-go/internal/market"
)

// ErrOrderNotFound is returned by QueryOrder when the exchange has no order
// with the given client order id.
var ErrOrderNotFound = errors.New("order not found")

// OrderStatus is the exchange-side state of an order.
type OrderStatus string

const (
	OrderNew             OrderStatus = "NEW"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCanceled        OrderStatus = "CANCELED"
	OrderRejected        OrderStatus = "REJECTED"
	OrderExpired         OrderStatus = "EXPIRED"
)

// OrderRequest is a market order.
type OrderRequest struct {
	Instrument    string
	ProductMode   market.ProductMode
	Side          market.Action
	Quantity      float64
	ClientOrderID string
}

// Fill is the execution report of an order.
type Fill struct {
	ClientOrderID    string
	ExchangeOrderID  string
	Status           OrderStatus
	ExecutedQuantity float64
	AveragePrice     float64
	TransactTime     time.Time
}

// Executed reports whether any quantity was traded. An order that expired or
// was canceled after a partial match still counts.
func (f Fill) Executed() bool {
	return f.ExecutedQuantity > 0
}

// Exchange is the narrow surface the engine needs from a venue.
type Exchange interface {
	// Candles returns up to tf.Limit closed bars, oldest first.
	Candles(ctx context.Context, instrument string, tf market.Timeframe) ([]market.Candle, error)
	// NormalizeQuantity converts a quote amount at price into an order quantity
	// that satisfies the instrument's lot size and minimum notional.
	NormalizeQuantity(ctx context.Context, instrument string, quoteAmount, price float64) (float64, error)
	// SubmitMarketOrder places the order. Errors carry CodeExchangeRejected when
	// the venue refused it and CodeExchangeUnavailable when the outcome is unknown.
	SubmitMarketOrder(ctx context.Context, req OrderRequest) (Fill, error)
	// QueryOrder looks an order up by client order id.
	QueryOrder(ctx context.Context, instrument, clientOrderID string) (Fill, error)
	// Holdings returns the account balance of the instrument's base asset.
	Holdings(ctx context.Context, instrument string) (float64, error)
}

// Rejected wraps a venue refusal.
func Rejected(cause error, format string, args ...any) error {
	return apperrors.Wrapf(apperrors.CodeExchangeRejected, cause, format, args...)
}

// Unavailable wraps a transport failure or timeout.
func Unavailable(cause error, format string, args ...any) error {
	return apperrors.Wrapf(apperrors.CodeExchangeUnavailable, cause, format, args...)
}

// IsRejected reports whether err is a venue refusal.
func IsRejected(err error) bool {
	return apperrors.HasCode(err, apperrors.CodeExchangeRejected)
}
