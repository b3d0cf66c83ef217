package models

import (
	"time"

	"ai-trade-bot-go/internal/market"
)

// Position is an open exposure in one instrument. There is at most one row per
// (instrument, product mode, sandbox); closing a position hard-deletes the row
// so a new one can take the key.
type Position struct {
	ID          uint                `gorm:"primaryKey" json:"id"`
	Instrument  string              `gorm:"uniqueIndex:idx_position_key;not null" json:"instrument"`
	ProductMode market.ProductMode  `gorm:"uniqueIndex:idx_position_key;not null" json:"product_mode"`
	Sandbox     bool                `gorm:"uniqueIndex:idx_position_key;not null" json:"sandbox"`
	Side        market.PositionSide `gorm:"not null" json:"side"`
	Quantity    float64             `gorm:"not null" json:"quantity"`
	EntryPrice  float64             `gorm:"not null" json:"entry_price"`
	OpenedAt    time.Time           `gorm:"not null" json:"opened_at"`
	Version     int                 `gorm:"not null;default:1" json:"version"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Notional is the capital committed at the average entry price.
func (p *Position) Notional() float64 {
	return p.Quantity * p.EntryPrice
}
