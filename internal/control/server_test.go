package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ai-trade-bot-go/internal/apperrors"
	"ai-trade-bot-go/internal/exchange"
	"ai-trade-bot-go/internal/indicator"
	"ai-trade-bot-go/internal/lifecycle"
	"ai-trade-bot-go/internal/market"
	"ai-trade-bot-go/internal/models"
	"ai-trade-bot-go/internal/risk"
	"ai-trade-bot-go/internal/trader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockEngine is a mock implementation of Engine.
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Start() bool { return m.Called().Bool(0) }

func (m *MockEngine) Stop() bool { return m.Called().Bool(0) }

func (m *MockEngine) Status(ctx context.Context) (trader.Status, error) {
	args := m.Called(ctx)
	return args.Get(0).(trader.Status), args.Error(1)
}

func (m *MockEngine) Portfolio(ctx context.Context) (trader.Portfolio, error) {
	args := m.Called(ctx)
	return args.Get(0).(trader.Portfolio), args.Error(1)
}

func (m *MockEngine) MarketAnalysis(ctx context.Context, instrument string) (indicator.Analysis, error) {
	args := m.Called(ctx, instrument)
	return args.Get(0).(indicator.Analysis), args.Error(1)
}

func (m *MockEngine) ManualTrade(ctx context.Context, order trader.ManualOrder) (lifecycle.Result, error) {
	args := m.Called(ctx, order)
	return args.Get(0).(lifecycle.Result), args.Error(1)
}

// MockLedger is a mock implementation of Ledger.
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) RecentTrades(ctx context.Context, instrument string, limit int) ([]models.TradeRecord, error) {
	args := m.Called(ctx, instrument, limit)
	trades, _ := args.Get(0).([]models.TradeRecord)
	return trades, args.Error(1)
}

func (m *MockLedger) Metrics(ctx context.Context) (models.PerformanceMetrics, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.PerformanceMetrics), args.Error(1)
}

func setupTestServer(t *testing.T) (*httptest.Server, *MockEngine, *MockLedger) {
	t.Helper()
	engine := new(MockEngine)
	ledger := new(MockLedger)
	api := NewAPIServer(":0", engine, ledger, zap.NewNop())
	server := httptest.NewServer(api.Router())
	t.Cleanup(server.Close)
	return server, engine, ledger
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestStartStop(t *testing.T) {
	server, engine, _ := setupTestServer(t)
	engine.On("Start").Return(true).Once()
	engine.On("Start").Return(false).Once()
	engine.On("Stop").Return(true).Once()

	var body switchResponse
	resp, err := http.Post(server.URL+"/bot/start", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &body)
	assert.True(t, body.Running)
	assert.True(t, body.Changed)

	resp, err = http.Post(server.URL+"/bot/start", "application/json", nil)
	require.NoError(t, err)
	decode(t, resp, &body)
	assert.False(t, body.Changed)
	assert.Equal(t, "bot already running", body.Message)

	resp, err = http.Post(server.URL+"/bot/stop", "application/json", nil)
	require.NoError(t, err)
	decode(t, resp, &body)
	assert.False(t, body.Running)
	assert.True(t, body.Changed)

	resp, err = http.Get(server.URL + "/bot/start")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	engine.AssertExpectations(t)
}

func TestStatus(t *testing.T) {
	server, engine, _ := setupTestServer(t)
	engine.On("Status", mock.Anything).Return(trader.Status{
		Running:     true,
		Instruments: []string{"BTCUSDT"},
		LastCycles: map[string]trader.CycleOutcome{
			"BTCUSDT": {Instrument: "BTCUSDT", Stage: trader.StageRisk, Action: market.ActionBuy, RejectReason: "daily-limit"},
		},
		Positions: []models.Position{{Instrument: "ETHUSDT", Side: market.Long, Quantity: 0.01}},
	}, nil).Once()

	resp, err := http.Get(server.URL + "/bot/status")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var st trader.Status
	decode(t, resp, &st)
	assert.True(t, st.Running)
	assert.Equal(t, "daily-limit", st.LastCycles["BTCUSDT"].RejectReason)
	require.Len(t, st.Positions, 1)
	assert.Equal(t, "ETHUSDT", st.Positions[0].Instrument)
}

func TestStatus_Error(t *testing.T) {
	server, engine, _ := setupTestServer(t)
	engine.On("Status", mock.Anything).Return(trader.Status{}, errors.New("db locked")).Once()

	resp, err := http.Get(server.URL + "/bot/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestTrades(t *testing.T) {
	testCases := []struct {
		name   string
		query  string
		limit  int
		status int
	}{
		{name: "default limit", query: "", limit: defaultTradesLimit, status: http.StatusOK},
		{name: "explicit limit", query: "?limit=5", limit: 5, status: http.StatusOK},
		{name: "limit capped", query: "?limit=100000", limit: maxTradesLimit, status: http.StatusOK},
		{name: "invalid limit", query: "?limit=abc", status: http.StatusBadRequest},
		{name: "negative limit", query: "?limit=-1", status: http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server, _, ledger := setupTestServer(t)
			ledger.On("RecentTrades", mock.Anything, "", tc.limit).
				Return([]models.TradeRecord{{Instrument: "BTCUSDT", ClientOrderID: "cid-1", Status: models.StatusFilled}}, nil).Maybe()

			resp, err := http.Get(server.URL + "/trades" + tc.query)
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
			if tc.status != http.StatusOK {
				resp.Body.Close()
				ledger.AssertNotCalled(t, "RecentTrades", mock.Anything, mock.Anything, mock.Anything)
				return
			}
			var trades []models.TradeRecord
			decode(t, resp, &trades)
			require.Len(t, trades, 1)
			assert.Equal(t, "cid-1", trades[0].ClientOrderID)
			ledger.AssertExpectations(t)
		})
	}
}

func TestTrades_EmptyIsArray(t *testing.T) {
	server, _, ledger := setupTestServer(t)
	ledger.On("RecentTrades", mock.Anything, "ETHUSDT", defaultTradesLimit).Return(nil, nil).Once()

	resp, err := http.Get(server.URL + "/trades?instrument=ETHUSDT")
	require.NoError(t, err)
	var raw json.RawMessage
	decode(t, resp, &raw)
	assert.JSONEq(t, "[]", string(raw))
}

func TestStatistics(t *testing.T) {
	server, _, ledger := setupTestServer(t)
	ledger.On("Metrics", mock.Anything).Return(models.PerformanceMetrics{
		TotalTrades: 4, WinningTrades: 3, LosingTrades: 1, WinRate: 75, TotalProfitLoss: 12, RejectedOrders: 2,
	}, nil).Once()

	resp, err := http.Get(server.URL + "/statistics")
	require.NoError(t, err)
	var stats StatisticsResponse
	decode(t, resp, &stats)
	assert.Equal(t, int64(4), stats.TotalTrades)
	assert.Equal(t, 75.0, stats.WinRate)
	assert.Equal(t, 3.0, stats.AverageProfit)
	assert.Equal(t, int64(2), stats.RejectedOrders)
}

func TestHealth(t *testing.T) {
	server, _, _ := setupTestServer(t)
	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestPortfolio(t *testing.T) {
	server, engine, _ := setupTestServer(t)
	held := 0.1
	engine.On("Portfolio", mock.Anything).Return(trader.Portfolio{
		ProductMode:   market.ProductSpot,
		OpenPositions: 1,
		TotalExposure: 10,
		Holdings: []trader.Holding{{
			Position: models.Position{Instrument: "BTCUSDT", Side: market.Long, Quantity: 0.1, EntryPrice: 100},
			Notional: 10,
			Held:     &held,
		}},
	}, nil).Once()

	resp, err := http.Get(server.URL + "/portfolio")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var pf trader.Portfolio
	decode(t, resp, &pf)
	assert.Equal(t, 1, pf.OpenPositions)
	require.Len(t, pf.Holdings, 1)
	assert.Equal(t, "BTCUSDT", pf.Holdings[0].Instrument)
	require.NotNil(t, pf.Holdings[0].Held)
	assert.Equal(t, 0.1, *pf.Holdings[0].Held)
}

func TestMarketData(t *testing.T) {
	testCases := []struct {
		name       string
		symbol     string
		instrument string
	}{
		{name: "bare base asset", symbol: "btc", instrument: "BTCUSDT"},
		{name: "full pair", symbol: "ETHUSDT", instrument: "ETHUSDT"},
		{name: "lower case pair", symbol: "solusdt", instrument: "SOLUSDT"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server, engine, _ := setupTestServer(t)
			engine.On("MarketAnalysis", mock.Anything, tc.instrument).Return(indicator.Analysis{
				Snapshots: []indicator.Snapshot{{Timeframe: "5m", Close: 101.5}},
				Alignment: indicator.AlignmentVerdict{Timeframes: 1, BullishCount: 1, Label: indicator.LabelStrongBullish},
			}, nil).Once()

			resp, err := http.Get(server.URL + "/market-data/" + tc.symbol)
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode)

			var body MarketDataResponse
			decode(t, resp, &body)
			assert.Equal(t, tc.instrument, body.Instrument)
			assert.Equal(t, 101.5, body.ReferencePrice)
			assert.Equal(t, indicator.LabelStrongBullish, body.Alignment.Label)
			engine.AssertExpectations(t)
		})
	}
}

func TestMarketData_InsufficientData(t *testing.T) {
	server, engine, _ := setupTestServer(t)
	engine.On("MarketAnalysis", mock.Anything, "DOGEUSDT").
		Return(indicator.Analysis{}, apperrors.New(apperrors.CodeInsufficientData, "no timeframe produced a snapshot")).Once()

	resp, err := http.Get(server.URL + "/market-data/doge")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestManualTrade(t *testing.T) {
	server, engine, _ := setupTestServer(t)
	engine.On("ManualTrade", mock.Anything, trader.ManualOrder{Instrument: "BTCUSDT", Action: market.ActionBuy, Quantity: 0.001}).
		Return(lifecycle.Result{
			Plan:    lifecycle.Plan{Kind: models.TransitionOpen},
			Verdict: &risk.Verdict{Approved: true},
			Outcome: lifecycle.OutcomeFilled,
			Record:  &models.TradeRecord{Instrument: "BTCUSDT", ClientOrderID: "cid-1", Status: models.StatusFilled, Manual: true},
		}, nil).Once()

	resp, err := http.Post(server.URL+"/trade/manual", "application/json",
		strings.NewReader(`{"instrument":"btc","side":"buy","quantity":0.001}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body ManualTradeResponse
	decode(t, resp, &body)
	assert.Equal(t, lifecycle.OutcomeFilled, body.Outcome)
	assert.Equal(t, models.TransitionOpen, body.Transition)
	require.NotNil(t, body.Trade)
	assert.True(t, body.Trade.Manual)
	engine.AssertExpectations(t)
}

func TestManualTrade_RiskRejected(t *testing.T) {
	server, engine, _ := setupTestServer(t)
	engine.On("ManualTrade", mock.Anything, mock.Anything).Return(lifecycle.Result{
		Plan:    lifecycle.Plan{Kind: models.TransitionOpen},
		Verdict: &risk.Verdict{Reason: risk.ReasonPairExposure, Detail: "BTCUSDT exposure 0.00 + 100.00 exceeds 20.00"},
		Outcome: lifecycle.OutcomeRiskRejected,
	}, nil).Once()

	resp, err := http.Post(server.URL+"/trade/manual", "application/json",
		strings.NewReader(`{"instrument":"BTCUSDT","side":"BUY","quantity":1}`))
	require.NoError(t, err)
	var body ManualTradeResponse
	decode(t, resp, &body)
	assert.Equal(t, lifecycle.OutcomeRiskRejected, body.Outcome)
	assert.Equal(t, string(risk.ReasonPairExposure), body.Reason)
	assert.Contains(t, body.Detail, "exceeds")
}

func TestManualTrade_BadRequest(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{name: "hold side", body: `{"instrument":"BTCUSDT","side":"HOLD"}`},
		{name: "unknown side", body: `{"instrument":"BTCUSDT","side":"LONG"}`},
		{name: "missing instrument", body: `{"side":"BUY"}`},
		{name: "negative quantity", body: `{"instrument":"BTCUSDT","side":"SELL","quantity":-1}`},
		{name: "malformed json", body: `{"instrument":`},
		{name: "unknown field", body: `{"instrument":"BTCUSDT","side":"BUY","leverage":10}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server, engine, _ := setupTestServer(t)
			resp, err := http.Post(server.URL+"/trade/manual", "application/json", strings.NewReader(tc.body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			engine.AssertNotCalled(t, "ManualTrade", mock.Anything, mock.Anything)
		})
	}
}

func TestManualTrade_ExchangeUnavailable(t *testing.T) {
	server, engine, _ := setupTestServer(t)
	engine.On("ManualTrade", mock.Anything, mock.Anything).
		Return(lifecycle.Result{Outcome: lifecycle.OutcomePending}, exchange.Unavailable(context.DeadlineExceeded, "POST /order")).Once()

	resp, err := http.Post(server.URL+"/trade/manual", "application/json",
		strings.NewReader(`{"instrument":"BTCUSDT","side":"SELL"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}
