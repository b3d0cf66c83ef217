package models

import (
	"time"

	"ai-trade-bot-go/internal/market"
	"gorm.io/gorm"
)

// PerformanceMetrics are running counters per (product mode, sandbox). They are
// updated once per closing trade record and never recomputed from the log.
type PerformanceMetrics struct {
	gorm.Model
	ProductMode     market.ProductMode `gorm:"uniqueIndex:idx_metrics_key;not null" json:"product_mode"`
	Sandbox         bool               `gorm:"uniqueIndex:idx_metrics_key;not null" json:"sandbox"`
	TotalTrades     int64              `gorm:"not null;default:0" json:"total_trades"`
	WinningTrades   int64              `gorm:"not null;default:0" json:"winning_trades"`
	LosingTrades    int64              `gorm:"not null;default:0" json:"losing_trades"`
	TotalProfitLoss float64            `gorm:"not null;default:0" json:"total_profit_loss"`
	WinRate         float64            `gorm:"not null;default:0" json:"win_rate"`
	RejectedOrders  int64              `gorm:"not null;default:0" json:"rejected_orders"`
	LastTradeTime   *time.Time         `json:"last_trade_time,omitempty"`
}

// RecordClose folds one realized P&L into the counters. The win rate is the
// share of winners among decided (non break-even) trades, in percent.
func (m *PerformanceMetrics) RecordClose(pnl float64, at time.Time) {
	m.TotalTrades++
	m.TotalProfitLoss += pnl
	switch {
	case pnl > 0:
		m.WinningTrades++
	case pnl < 0:
		m.LosingTrades++
	}
	if decided := m.WinningTrades + m.LosingTrades; decided > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(decided) * 100
	}
	m.LastTradeTime = &at
}
