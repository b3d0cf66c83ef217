package trader

import (
	"context"

	"ai-trade-bot-go/internal/apperrors"
	"ai-trade-bot-go/internal/indicator"
	"ai-trade-bot-go/internal/lifecycle"
	"ai-trade-bot-go/internal/market"
	"ai-trade-bot-go/internal/models"
	"ai-trade-bot-go/internal/risk"
	"go.uber.org/zap"
)

const manualRationale = "Manual trade"

// ManualOrder is an operator-placed order.
type ManualOrder struct {
	Instrument string
	Action     market.Action
	// Quantity is optional. Zero sizes the order from the configured trade
	// amount, or closes the whole position.
	Quantity  float64
	Rationale string
}

// ManualTrade executes an operator order through the position lifecycle. It
// skips the confidence gate but is otherwise held to the same limits as an
// advisory trade.
func (e *Engine) ManualTrade(ctx context.Context, order ManualOrder) (lifecycle.Result, error) {
	if order.Action != market.ActionBuy && order.Action != market.ActionSell {
		return lifecycle.Result{}, apperrors.Newf(apperrors.CodeInvalidRequest, "side must be BUY or SELL, got %q", order.Action)
	}
	if order.Quantity < 0 {
		return lifecycle.Result{}, apperrors.Newf(apperrors.CodeInvalidRequest, "quantity must not be negative, got %v", order.Quantity)
	}
	if order.Rationale == "" {
		order.Rationale = manualRationale
	}

	price, err := e.lastPrice(ctx, order.Instrument)
	if err != nil {
		return lifecycle.Result{}, err
	}

	e.logger.Info("Manual trade requested",
		zap.String("instrument", order.Instrument),
		zap.String("action", string(order.Action)),
		zap.Float64("quantity", order.Quantity),
		zap.Float64("price", price))

	return e.manager.Execute(ctx, lifecycle.Intent{
		Instrument: order.Instrument,
		Action:     order.Action,
		Rationale:  order.Rationale,
		Price:      price,
		Quantity:   order.Quantity,
		Manual:     true,
	})
}

// lastPrice is the latest close of the shortest configured timeframe.
func (e *Engine) lastPrice(ctx context.Context, instrument string) (float64, error) {
	timeframes := e.aggregator.Timeframes()
	if len(timeframes) == 0 {
		return 0, apperrors.New(apperrors.CodeInvalidConfig, "no timeframes configured")
	}
	candles, err := e.exchange.Candles(ctx, instrument, timeframes[0])
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, apperrors.Newf(apperrors.CodeInsufficientData, "no %s candles for %s", timeframes[0].Name, instrument)
	}
	return candles[len(candles)-1].Close, nil
}

// MarketAnalysis computes the indicator snapshots and the alignment verdict of
// instrument without asking the advisory service.
func (e *Engine) MarketAnalysis(ctx context.Context, instrument string) (indicator.Analysis, error) {
	return e.aggregator.Aggregate(e.fetchCandles(ctx, instrument))
}

// Holding is a recorded position next to what the exchange reports holding.
type Holding struct {
	models.Position
	Notional      float64  `json:"notional"`
	Held          *float64 `json:"held,omitempty"`
	HoldingsError string   `json:"holdings_error,omitempty"`
}

// Portfolio is the account view reported to the control surface.
type Portfolio struct {
	ProductMode   market.ProductMode `json:"product_mode"`
	Holdings      []Holding          `json:"holdings"`
	OpenPositions int                `json:"open_positions"`
	TotalExposure float64            `json:"total_exposure"`
	TradesToday   int                `json:"trades_today"`
	Limits        risk.Limits        `json:"limits"`
}

// Portfolio lists the recorded positions with the exchange holdings of each
// instrument. A failed holdings lookup is reported per position.
func (e *Engine) Portfolio(ctx context.Context) (Portfolio, error) {
	positions, err := e.store.ListPositions(ctx)
	if err != nil {
		return Portfolio{}, err
	}
	pf, err := e.manager.Portfolio(ctx, "")
	if err != nil {
		return Portfolio{}, err
	}

	out := Portfolio{
		ProductMode:   e.store.ProductMode(),
		Holdings:      make([]Holding, 0, len(positions)),
		OpenPositions: pf.OpenPositions,
		TotalExposure: pf.TotalExposure,
		TradesToday:   pf.TradesToday,
		Limits:        e.cfg.Risk,
	}
	for _, pos := range positions {
		h := Holding{Position: pos, Notional: pos.Notional()}
		held, err := e.exchange.Holdings(ctx, pos.Instrument)
		if err != nil {
			e.logger.Debug("Could not read holdings", zap.String("instrument", pos.Instrument), zap.Error(err))
			h.HoldingsError = err.Error()
		} else {
			h.Held = &held
		}
		out.Holdings = append(out.Holdings, h)
	}
	return out, nil
}
