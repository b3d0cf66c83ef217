// Package control exposes the engine's start/stop switch, its status, manual
// orders, market analysis and the trade ledger over HTTP.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ai-trade-bot-go/internal/apperrors"
	"ai-trade-bot-go/internal/indicator"
	"ai-trade-bot-go/internal/lifecycle"
	"ai-trade-bot-go/internal/market"
	"ai-trade-bot-go/internal/models"
	"ai-trade-bot-go/internal/trader"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	defaultTradesLimit = 50
	maxTradesLimit     = 500
	maxRequestBody     = 1 << 16
	quoteAsset         = "USDT"
)

// Engine is the scheduler as seen by the control surface.
type Engine interface {
	Start() bool
	Stop() bool
	Status(ctx context.Context) (trader.Status, error)
	Portfolio(ctx context.Context) (trader.Portfolio, error)
	MarketAnalysis(ctx context.Context, instrument string) (indicator.Analysis, error)
	ManualTrade(ctx context.Context, order trader.ManualOrder) (lifecycle.Result, error)
}

// Ledger reads trade records and performance counters.
type Ledger interface {
	RecentTrades(ctx context.Context, instrument string, limit int) ([]models.TradeRecord, error)
	Metrics(ctx context.Context) (models.PerformanceMetrics, error)
}

// APIServer provides an HTTP interface for the trading engine.
type APIServer struct {
	server   *http.Server
	engine   Engine
	ledger   Ledger
	validate *validator.Validate
	logger   *zap.Logger
}

// NewAPIServer creates a new APIServer listening on addr.
func NewAPIServer(addr string, engine Engine, ledger Ledger, logger *zap.Logger) *APIServer {
	s := &APIServer{
		engine:   engine,
		ledger:   ledger,
		validate: validator.New(),
		logger:   logger.Named("api-server"),
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router returns the route table.
func (s *APIServer) Router() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	router.HandleFunc("/bot/start", s.startHandler).Methods(http.MethodPost)
	router.HandleFunc("/bot/stop", s.stopHandler).Methods(http.MethodPost)
	router.HandleFunc("/bot/status", s.statusHandler).Methods(http.MethodGet)
	router.HandleFunc("/portfolio", s.portfolioHandler).Methods(http.MethodGet)
	router.HandleFunc("/market-data/{symbol}", s.marketDataHandler).Methods(http.MethodGet)
	router.HandleFunc("/trade/manual", s.manualTradeHandler).Methods(http.MethodPost)
	router.HandleFunc("/trades", s.tradesHandler).Methods(http.MethodGet)
	router.HandleFunc("/statistics", s.statisticsHandler).Methods(http.MethodGet)
	return router
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

type switchResponse struct {
	Running bool   `json:"running"`
	Changed bool   `json:"changed"`
	Message string `json:"message"`
}

func (s *APIServer) startHandler(w http.ResponseWriter, r *http.Request) {
	resp := switchResponse{Running: true, Changed: s.engine.Start(), Message: "bot started"}
	if !resp.Changed {
		resp.Message = "bot already running"
	}
	s.logger.Info("Start requested", zap.Bool("changed", resp.Changed))
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) stopHandler(w http.ResponseWriter, r *http.Request) {
	resp := switchResponse{Running: false, Changed: s.engine.Stop(), Message: "bot stopped"}
	if !resp.Changed {
		resp.Message = "bot already stopped"
	}
	s.logger.Info("Stop requested", zap.Bool("changed", resp.Changed))
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.Status(r.Context())
	if err != nil {
		s.logger.Error("Failed to read engine status", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read status")
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *APIServer) portfolioHandler(w http.ResponseWriter, r *http.Request) {
	pf, err := s.engine.Portfolio(r.Context())
	if err != nil {
		s.logger.Error("Failed to read portfolio", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read portfolio")
		return
	}
	s.writeJSON(w, http.StatusOK, pf)
}

// normalizeSymbol upper-cases symbol and completes a bare base asset such as
// "btc" to its quote pair.
func normalizeSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol != "" && !strings.HasSuffix(symbol, quoteAsset) {
		symbol += quoteAsset
	}
	return symbol
}

// MarketDataResponse is the body of GET /market-data/{symbol}.
type MarketDataResponse struct {
	Instrument     string                     `json:"instrument"`
	ReferencePrice float64                    `json:"reference_price"`
	Snapshots      []indicator.Snapshot       `json:"snapshots"`
	Alignment      indicator.AlignmentVerdict `json:"alignment"`
	Failures       map[string]string          `json:"failures,omitempty"`
}

func (s *APIServer) marketDataHandler(w http.ResponseWriter, r *http.Request) {
	instrument := normalizeSymbol(mux.Vars(r)["symbol"])
	analysis, err := s.engine.MarketAnalysis(r.Context(), instrument)
	if err != nil {
		s.logger.Warn("Market analysis failed", zap.String("instrument", instrument), zap.Error(err))
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, MarketDataResponse{
		Instrument:     instrument,
		ReferencePrice: analysis.ReferencePrice(),
		Snapshots:      analysis.Snapshots,
		Alignment:      analysis.Alignment,
		Failures:       analysis.Failures,
	})
}

type manualTradeRequest struct {
	Instrument string  `json:"instrument" validate:"required"`
	Side       string  `json:"side" validate:"required"`
	Quantity   float64 `json:"quantity" validate:"gte=0"`
	Rationale  string  `json:"rationale" validate:"max=500"`
}

// ManualTradeResponse is the body of POST /trade/manual.
type ManualTradeResponse struct {
	Outcome     lifecycle.Outcome   `json:"outcome"`
	Transition  models.Transition   `json:"transition,omitempty"`
	Reason      string              `json:"reason,omitempty"`
	Detail      string              `json:"detail,omitempty"`
	Trade       *models.TradeRecord `json:"trade,omitempty"`
	RealizedPnL *float64            `json:"realized_pnl,omitempty"`
}

func (s *APIServer) manualTradeHandler(w http.ResponseWriter, r *http.Request) {
	var req manualTradeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	action, ok := market.ParseAction(req.Side)
	if !ok || action == market.ActionHold {
		s.writeError(w, http.StatusBadRequest, "side must be BUY or SELL")
		return
	}

	res, err := s.engine.ManualTrade(r.Context(), trader.ManualOrder{
		Instrument: normalizeSymbol(req.Instrument),
		Action:     action,
		Quantity:   req.Quantity,
		Rationale:  req.Rationale,
	})
	if err != nil {
		s.logger.Error("Manual trade failed", zap.String("instrument", req.Instrument), zap.String("outcome", string(res.Outcome)), zap.Error(err))
		s.writeError(w, statusFor(err), err.Error())
		return
	}

	resp := ManualTradeResponse{
		Outcome:     res.Outcome,
		Transition:  res.Plan.Kind,
		Reason:      res.Plan.Reason,
		Trade:       res.Record,
		RealizedPnL: res.RealizedPnL,
	}
	if v := res.Verdict; v != nil && !v.Approved {
		resp.Reason = string(v.Reason)
		resp.Detail = v.Detail
	}
	if rec := res.Record; rec != nil && rec.RejectReason != "" {
		resp.Detail = rec.RejectReason
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) tradesHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultTradesLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxTradesLimit)
	}

	trades, err := s.ledger.RecentTrades(r.Context(), r.URL.Query().Get("instrument"), limit)
	if err != nil {
		s.logger.Error("Failed to get trades from database", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to get trades")
		return
	}
	if trades == nil {
		trades = []models.TradeRecord{}
	}
	s.writeJSON(w, http.StatusOK, trades)
}

// StatisticsResponse is the body of GET /statistics.
type StatisticsResponse struct {
	TotalTrades     int64      `json:"total_trades"`
	WinningTrades   int64      `json:"winning_trades"`
	LosingTrades    int64      `json:"losing_trades"`
	WinRate         float64    `json:"win_rate"`
	TotalProfitLoss float64    `json:"total_profit_loss"`
	AverageProfit   float64    `json:"average_profit"`
	RejectedOrders  int64      `json:"rejected_orders"`
	LastTradeTime   *time.Time `json:"last_trade_time,omitempty"`
}

func (s *APIServer) statisticsHandler(w http.ResponseWriter, r *http.Request) {
	m, err := s.ledger.Metrics(r.Context())
	if err != nil {
		s.logger.Error("Failed to get performance metrics", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to calculate statistics")
		return
	}
	resp := StatisticsResponse{
		TotalTrades:     m.TotalTrades,
		WinningTrades:   m.WinningTrades,
		LosingTrades:    m.LosingTrades,
		WinRate:         m.WinRate,
		TotalProfitLoss: m.TotalProfitLoss,
		RejectedOrders:  m.RejectedOrders,
		LastTradeTime:   m.LastTradeTime,
	}
	if m.TotalTrades > 0 {
		resp.AverageProfit = m.TotalProfitLoss / float64(m.TotalTrades)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusFor(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeInvalidRequest:
		return http.StatusBadRequest
	case apperrors.CodeInsufficientData:
		return http.StatusUnprocessableEntity
	case apperrors.CodeExchangeUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (s *APIServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
