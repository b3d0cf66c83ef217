package advisory

import (
	"time"

	"ai-trade-bot-go/internal/indicator"
	"ai-trade-bot-go/internal/market"
	"ai-trade-bot-go/internal/risk"
)

// Request is the context sent to the model for one instrument and cycle.
type Request struct {
	Instrument     string                     `json:"instrument"`
	ProductMode    market.ProductMode         `json:"product_mode"`
	ReferencePrice float64                    `json:"current_price"`
	AllowShort     bool                       `json:"short_selling_enabled"`
	Timeframes     []indicator.Snapshot       `json:"timeframes"`
	Unavailable    map[string]string          `json:"unavailable_timeframes,omitempty"`
	Alignment      indicator.AlignmentVerdict `json:"alignment"`
	Position       *PositionContext           `json:"current_position"`
	RecentTrades   []TradeContext             `json:"recent_trades"`
	Exposure       ExposureContext            `json:"exposure"`
}

// PositionContext describes the open position, if any.
type PositionContext struct {
	Side              market.PositionSide `json:"side"`
	Quantity          float64             `json:"quantity"`
	EntryPrice        float64             `json:"entry_price"`
	Notional          float64             `json:"notional"`
	UnrealizedPnL     float64             `json:"unrealized_pnl"`
	UnrealizedPercent float64             `json:"unrealized_pnl_percent"`
	OpenedAt          time.Time           `json:"opened_at"`
}

// TradeContext is a compact view of a past trade record.
type TradeContext struct {
	Side        market.Action `json:"side"`
	Transition  string        `json:"transition"`
	Quantity    float64       `json:"quantity"`
	Price       float64       `json:"price"`
	Status      string        `json:"status"`
	RealizedPnL *float64      `json:"realized_pnl,omitempty"`
	At          time.Time     `json:"at"`
}

// ExposureContext carries current exposure next to the configured caps.
type ExposureContext struct {
	Instrument    float64     `json:"instrument_exposure"`
	Portfolio     float64     `json:"portfolio_exposure"`
	OpenPositions int         `json:"open_positions"`
	TradesToday   int         `json:"trades_today"`
	TradeAmount   float64     `json:"trade_amount"`
	Limits        risk.Limits `json:"limits"`
}

// Decision is a validated recommendation.
type Decision struct {
	Action      market.Action `json:"action"`
	Confidence  float64       `json:"confidence"`
	Reasoning   string        `json:"reasoning"`
	Methodology string        `json:"methodology,omitempty"`
	Timeframe   string        `json:"recommended_timeframe,omitempty"`
}

// Hold is the neutral decision used when no recommendation is available.
func Hold(reason string) Decision {
	return Decision{Action: market.ActionHold, Reasoning: reason}
}
