package trader

import (
	"errors"
	"testing"
	"time"

	"ai-trade-bot-go/internal/apperrors"
	"ai-trade-bot-go/internal/exchange"
	"ai-trade-bot-go/internal/indicator"
	"ai-trade-bot-go/internal/lifecycle"
	"ai-trade-bot-go/internal/market"
	"ai-trade-bot-go/internal/models"
	"ai-trade-bot-go/internal/risk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestManualTrade_SkipsConfidenceGate(t *testing.T) {
	f := setupEngine(t, nil)
	price := f.withCandles(uptrend(60))
	f.ex.On("SubmitMarketOrder", mock.Anything, mock.MatchedBy(func(r exchange.OrderRequest) bool {
		return r.Instrument == "BTCUSDT" && r.Side == market.ActionBuy && r.Quantity == 0.05
	})).Return(exchange.Fill{Status: exchange.OrderFilled, ExecutedQuantity: 0.05, AveragePrice: price}, nil).Once()

	res, err := f.engine.ManualTrade(f.ctx, ManualOrder{Instrument: "BTCUSDT", Action: market.ActionBuy, Quantity: 0.05})
	require.NoError(t, err)
	assert.Equal(t, lifecycle.OutcomeFilled, res.Outcome)
	require.NotNil(t, res.Record)
	assert.True(t, res.Record.Manual)
	assert.Equal(t, "Manual trade", res.Record.Rationale)
	assert.Equal(t, price, res.Record.Price)

	pos, err := f.store.GetPosition(f.ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, 0.05, pos.Quantity)
	f.advisor.AssertNotCalled(t, "Decide", mock.Anything, mock.Anything)
	f.ex.AssertExpectations(t)
}

func TestManualTrade_HeldToExposureCaps(t *testing.T) {
	f := setupEngine(t, nil)
	f.withCandles(uptrend(60))

	res, err := f.engine.ManualTrade(f.ctx, ManualOrder{Instrument: "BTCUSDT", Action: market.ActionBuy, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, lifecycle.OutcomeRiskRejected, res.Outcome)
	assert.Equal(t, risk.ReasonPairExposure, res.Verdict.Reason)
	f.ex.AssertNotCalled(t, "SubmitMarketOrder", mock.Anything, mock.Anything)
}

func TestManualTrade_InvalidOrder(t *testing.T) {
	f := setupEngine(t, nil)

	_, err := f.engine.ManualTrade(f.ctx, ManualOrder{Instrument: "BTCUSDT", Action: market.ActionHold})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidRequest))

	_, err = f.engine.ManualTrade(f.ctx, ManualOrder{Instrument: "BTCUSDT", Action: market.ActionSell, Quantity: -1})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidRequest))
	f.ex.AssertNotCalled(t, "Candles", mock.Anything, mock.Anything, mock.Anything)
}

func TestManualTrade_NoPrice(t *testing.T) {
	f := setupEngine(t, nil)
	f.ex.On("Candles", mock.Anything, "BTCUSDT", mock.Anything).Return([]market.Candle{}, nil)

	_, err := f.engine.ManualTrade(f.ctx, ManualOrder{Instrument: "BTCUSDT", Action: market.ActionBuy})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInsufficientData))
}

func TestMarketAnalysis(t *testing.T) {
	f := setupEngine(t, nil)
	f.withCandles(uptrend(60))

	analysis, err := f.engine.MarketAnalysis(f.ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, analysis.Snapshots, 4)
	assert.Equal(t, indicator.LabelStrongBullish, analysis.Alignment.Label)
	f.advisor.AssertNotCalled(t, "Decide", mock.Anything, mock.Anything)
}

func TestMarketAnalysis_NoData(t *testing.T) {
	f := setupEngine(t, nil)
	f.ex.On("Candles", mock.Anything, "DOGEUSDT", mock.Anything).Return(nil, errors.New("unknown symbol"))

	_, err := f.engine.MarketAnalysis(f.ctx, "DOGEUSDT")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInsufficientData))
}

func TestPortfolio(t *testing.T) {
	f := setupEngine(t, nil)
	opened := time.Now().UTC()
	require.NoError(t, f.store.CreatePosition(f.ctx, &models.Position{
		Instrument: "BTCUSDT", Side: market.Long, Quantity: 0.1, EntryPrice: 100, OpenedAt: opened,
	}))
	require.NoError(t, f.store.CreatePosition(f.ctx, &models.Position{
		Instrument: "ETHUSDT", Side: market.Long, Quantity: 2, EntryPrice: 5, OpenedAt: opened,
	}))
	f.ex.On("Holdings", mock.Anything, "BTCUSDT").Return(0.1, nil)
	f.ex.On("Holdings", mock.Anything, "ETHUSDT").Return(0.0, exchange.Unavailable(nil, "GET /account"))

	pf, err := f.engine.Portfolio(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pf.OpenPositions)
	assert.InDelta(t, 20, pf.TotalExposure, 1e-9)
	assert.Equal(t, 10, pf.Limits.MaxDailyTrades)
	require.Len(t, pf.Holdings, 2)

	byInstrument := map[string]Holding{}
	for _, h := range pf.Holdings {
		byInstrument[h.Instrument] = h
	}
	btc := byInstrument["BTCUSDT"]
	require.NotNil(t, btc.Held)
	assert.Equal(t, 0.1, *btc.Held)
	assert.InDelta(t, 10, btc.Notional, 1e-9)

	eth := byInstrument["ETHUSDT"]
	assert.Nil(t, eth.Held)
	assert.NotEmpty(t, eth.HoldingsError)
}
