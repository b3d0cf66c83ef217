package lifecycle

import (
	"context"
	"fmt"

	"ai-trade-bot-go/internal/exchange"
	"ai-trade-bot-go/internal/models"
	"ai-trade-bot-go/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// dust is the residual quantity below which a partially closed position is
// treated as fully closed.
var dust = decimal.New(1, -12)

// applyFill writes an execution report. The record's submitted -> filled|closed
// transition is conditional, so applying the same fill twice changes nothing.
func (m *Manager) applyFill(ctx context.Context, res Result, rec *models.TradeRecord, fill exchange.Fill) (Result, error) {
	if !fill.Executed() {
		if fill.Status == exchange.OrderNew {
			res.Outcome = OutcomePending
			return res, nil
		}
		return m.reject(ctx, res, rec, fmt.Sprintf("order ended %s without execution", fill.Status))
	}

	at := fill.TransactTime
	if at.IsZero() {
		at = m.now()
	}
	qty := decimal.NewFromFloat(fill.ExecutedQuantity)
	price := decimal.NewFromFloat(fill.AveragePrice)

	var applied bool
	var pnl *float64
	outcome := OutcomeFilled

	err := m.store.WithinTx(ctx, func(tx *store.Store) error {
		pos, err := tx.GetPosition(ctx, rec.Instrument)
		if err != nil {
			return err
		}

		fields := map[string]any{
			"quantity":          fill.ExecutedQuantity,
			"price":             fill.AveragePrice,
			"notional":          qty.Mul(price).InexactFloat64(),
			"exchange_order_id": fill.ExchangeOrderID,
		}

		switch {
		case pos == nil && rec.Transition == models.TransitionClose:
			m.logger.Warn("Closing fill without an open position",
				zap.String("instrument", rec.Instrument), zap.String("client_order_id", rec.ClientOrderID))
			applied, err = tx.TransitionTrade(ctx, rec.ClientOrderID, models.StatusFilled, fields)
			return err

		case pos == nil:
			if applied, err = tx.TransitionTrade(ctx, rec.ClientOrderID, models.StatusFilled, fields); err != nil || !applied {
				return err
			}
			return tx.CreatePosition(ctx, &models.Position{
				Instrument: rec.Instrument,
				Side:       rec.PositionSide,
				Quantity:   fill.ExecutedQuantity,
				EntryPrice: fill.AveragePrice,
				OpenedAt:   at,
			})

		case rec.Side == pos.Side.OpeningAction():
			if applied, err = tx.TransitionTrade(ctx, rec.ClientOrderID, models.StatusFilled, fields); err != nil || !applied {
				return err
			}
			oldQty := decimal.NewFromFloat(pos.Quantity)
			oldEntry := decimal.NewFromFloat(pos.EntryPrice)
			newQty := oldQty.Add(qty)
			pos.EntryPrice = oldQty.Mul(oldEntry).Add(qty.Mul(price)).Div(newQty).InexactFloat64()
			pos.Quantity = newQty.InexactFloat64()
			return tx.UpdatePosition(ctx, pos)

		default:
			posQty := decimal.NewFromFloat(pos.Quantity)
			closed := decimal.Min(qty, posQty)
			entry := decimal.NewFromFloat(pos.EntryPrice)
			sign := decimal.NewFromFloat(pos.Side.Sign())

			realized := price.Sub(entry).Mul(closed).Mul(sign)
			var percent decimal.Decimal
			if entry.IsPositive() {
				percent = price.Sub(entry).Div(entry).Mul(decimal.NewFromInt(100)).Mul(sign)
			}
			r := realized.InexactFloat64()
			p := percent.InexactFloat64()
			fields["entry_price"] = pos.EntryPrice
			fields["realized_pnl"] = r
			fields["realized_pnl_percent"] = p
			fields["closed_at"] = at

			if applied, err = tx.TransitionTrade(ctx, rec.ClientOrderID, models.StatusClosed, fields); err != nil || !applied {
				return err
			}
			if err := tx.RecordClose(ctx, r, at); err != nil {
				return err
			}
			pnl = &r
			outcome = OutcomeClosed

			if remaining := posQty.Sub(closed); remaining.GreaterThan(dust) {
				pos.Quantity = remaining.InexactFloat64()
				return tx.UpdatePosition(ctx, pos)
			}
			return tx.DeletePosition(ctx, pos)
		}
	})
	if err != nil {
		res.Outcome = OutcomePending
		return res, err
	}

	if !applied {
		m.logger.Debug("Fill already applied", zap.String("client_order_id", rec.ClientOrderID))
		res.Outcome = outcomeOf(rec)
		return res, nil
	}

	rec.Quantity = fill.ExecutedQuantity
	rec.Price = fill.AveragePrice
	rec.ExchangeOrderID = fill.ExchangeOrderID
	rec.RealizedPnL = pnl
	if outcome == OutcomeClosed {
		rec.Status = models.StatusClosed
	} else {
		rec.Status = models.StatusFilled
	}
	res.Outcome = outcome
	res.RealizedPnL = pnl

	fieldsLog := []zap.Field{
		zap.String("instrument", rec.Instrument),
		zap.String("client_order_id", rec.ClientOrderID),
		zap.String("outcome", string(outcome)),
		zap.Float64("quantity", fill.ExecutedQuantity),
		zap.Float64("price", fill.AveragePrice),
	}
	if pnl != nil {
		fieldsLog = append(fieldsLog, zap.Float64("realized_pnl", *pnl))
	}
	m.logger.Info("Order filled", fieldsLog...)
	return res, nil
}

func outcomeOf(rec *models.TradeRecord) Outcome {
	switch rec.Status {
	case models.StatusClosed:
		return OutcomeClosed
	case models.StatusRejected:
		return OutcomeExchangeRejected
	}
	return OutcomeFilled
}
