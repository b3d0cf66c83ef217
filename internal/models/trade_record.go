package models

import (
	"time"

	"ai-trade-bot-go/internal/market"
	"gorm.io/gorm"
)

// TradeStatus is the lifecycle state of one order attempt.
type TradeStatus string

const (
	StatusSubmitted TradeStatus = "submitted"
	StatusFilled    TradeStatus = "filled"
	StatusRejected  TradeStatus = "rejected"
	StatusClosed    TradeStatus = "closed"
)

// Transition is the position change an order attempt was planned for.
type Transition string

const (
	TransitionOpen  Transition = "open"
	TransitionAdd   Transition = "add"
	TransitionClose Transition = "close"
)

// TradeRecord is the append-only log entry of one order attempt.
// Only the status and the execution fields are ever updated after creation.
type TradeRecord struct {
	gorm.Model
	Instrument         string              `gorm:"index;not null" json:"instrument"`
	ProductMode        market.ProductMode  `gorm:"not null" json:"product_mode"`
	Sandbox            bool                `gorm:"not null" json:"sandbox"`
	Side               market.Action       `gorm:"not null" json:"side"` // BUY or SELL
	Transition         Transition          `gorm:"not null" json:"transition"`
	PositionSide       market.PositionSide `gorm:"not null" json:"position_side"`
	RequestedQuantity  float64             `json:"requested_quantity"`
	Quantity           float64             `json:"quantity"`
	Price              float64             `json:"price"`
	Notional           float64             `json:"notional"`
	Confidence         float64             `json:"confidence"`
	Rationale          string              `json:"rationale"`
	Methodology        string              `json:"methodology,omitempty"`
	Manual             bool                `gorm:"not null;default:false" json:"manual"`
	ClientOrderID      string              `gorm:"uniqueIndex;not null" json:"client_order_id"`
	ExchangeOrderID    string              `json:"exchange_order_id,omitempty"`
	Status             TradeStatus         `gorm:"index;not null" json:"status"`
	EntryPrice         float64             `json:"entry_price,omitempty"`
	RealizedPnL        *float64            `json:"realized_pnl,omitempty"`
	RealizedPnLPercent *float64            `json:"realized_pnl_percent,omitempty"`
	RejectReason       string              `json:"reject_reason,omitempty"`
	ClosedAt           *time.Time          `json:"closed_at,omitempty"`
}
