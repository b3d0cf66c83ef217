// Package market holds the value types shared by the exchange, indicator,
// advisory and lifecycle packages.
package market

import (
	"fmt"
	"strings"
	"time"
)

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	CloseTime time.Time `json:"close_time"`
}

// Timeframe is a candle duration the engine evaluates, e.g. "5m" or "1d".
type Timeframe struct {
	Name     string        `mapstructure:"name" json:"name" validate:"required"`
	Interval string        `mapstructure:"interval" json:"interval" validate:"required"`
	Limit    int           `mapstructure:"limit" json:"limit" validate:"gt=0,lte=1000"`
	Duration time.Duration `mapstructure:"-" json:"-"`
}

// ParseInterval converts an exchange interval such as "5m", "4h" or "1d" into a duration.
func ParseInterval(interval string) (time.Duration, error) {
	if len(interval) < 2 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	unit := interval[len(interval)-1]
	var n int
	if _, err := fmt.Sscanf(interval[:len(interval)-1], "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("invalid interval %q", interval)
}

// Action is the advisory recommendation.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// ParseAction normalizes case and whitespace; ok is false for anything but the three tags.
func ParseAction(s string) (Action, bool) {
	switch a := Action(strings.ToUpper(strings.TrimSpace(s))); a {
	case ActionBuy, ActionSell, ActionHold:
		return a, true
	}
	return "", false
}

// PositionSide is the direction of an open exposure.
type PositionSide string

const (
	Long  PositionSide = "LONG"
	Short PositionSide = "SHORT"
)

// Sign is +1 for long and -1 for short.
func (s PositionSide) Sign() float64 {
	if s == Short {
		return -1
	}
	return 1
}

// OpeningAction is the order side that opens or adds to a position on this side.
func (s PositionSide) OpeningAction() Action {
	if s == Short {
		return ActionSell
	}
	return ActionBuy
}

// ClosingAction is the order side that reduces a position on this side.
func (s PositionSide) ClosingAction() Action {
	if s == Short {
		return ActionBuy
	}
	return ActionSell
}

// ProductMode distinguishes how a position is held on the exchange, e.g. SPOT or MARGIN.
type ProductMode string

const (
	ProductSpot   ProductMode = "SPOT"
	ProductMargin ProductMode = "MARGIN"
)
