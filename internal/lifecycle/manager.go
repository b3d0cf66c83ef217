// Package lifecycle owns every write to positions, trade records and
// performance metrics. Each instrument is handled under its own lock so that
// reading the position, planning, approving, submitting and writing the result
// form one unit.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"ai-trade-bot-go/internal/exchange"
	"ai-trade-bot-go/internal/market"
	"ai-trade-bot-go/internal/models"
	"ai-trade-bot-go/internal/risk"
	"ai-trade-bot-go/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Outcome summarizes what Execute did.
type Outcome string

const (
	OutcomeNoop             Outcome = "noop"
	OutcomeRiskRejected     Outcome = "risk-rejected"
	OutcomeFilled           Outcome = "filled"
	OutcomeClosed           Outcome = "closed"
	OutcomeExchangeRejected Outcome = "exchange-rejected"
	OutcomeNotSubmitted     Outcome = "not-submitted"
	OutcomePending          Outcome = "pending"
)

// Intent is an approved-for-evaluation recommendation.
type Intent struct {
	Instrument  string
	Action      market.Action
	Confidence  float64
	Rationale   string
	Methodology string
	// Price is the reference price used for sizing and exposure.
	Price float64
	// Quantity, when positive, replaces the configured trade amount for opens
	// and adds and caps the quantity of a close.
	Quantity float64
	// Manual marks an operator-placed order, which skips the confidence gate.
	Manual bool
}

// Result reports the plan, the risk verdict and the resulting record.
type Result struct {
	Plan        Plan
	Verdict     *risk.Verdict
	Outcome     Outcome
	Record      *models.TradeRecord
	RealizedPnL *float64
}

// Manager executes position transitions.
type Manager struct {
	store        *store.Store
	exchange     exchange.Exchange
	guard        risk.Guard
	tradeAmount  float64
	allowShort   bool
	queryTimeout time.Duration
	logger       *zap.Logger
	now          func() time.Time
	newOrderID   func() string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Options configures a Manager.
type Options struct {
	TradeAmount  float64
	AllowShort   bool
	QueryTimeout time.Duration
}

// NewManager creates a Manager.
func NewManager(st *store.Store, ex exchange.Exchange, guard risk.Guard, opts Options, logger *zap.Logger) *Manager {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 10 * time.Second
	}
	return &Manager{
		store:        st,
		exchange:     ex,
		guard:        guard,
		tradeAmount:  opts.TradeAmount,
		allowShort:   opts.AllowShort,
		queryTimeout: opts.QueryTimeout,
		logger:       logger.Named("lifecycle"),
		now:          func() time.Time { return time.Now().UTC() },
		newOrderID:   uuid.NewString,
		locks:        make(map[string]*sync.Mutex),
	}
}

func (m *Manager) lock(instrument string) func() {
	m.mu.Lock()
	l, ok := m.locks[instrument]
	if !ok {
		l = &sync.Mutex{}
		m.locks[instrument] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// AllowShort reports whether SELL may open a short position.
func (m *Manager) AllowShort() bool { return m.allowShort }

// Portfolio reads the guard's view of the account: one aggregate exposure
// query plus today's trade count.
func (m *Manager) Portfolio(ctx context.Context, instrument string) (risk.Portfolio, error) {
	exp, err := m.store.Exposure(ctx, instrument)
	if err != nil {
		return risk.Portfolio{}, err
	}
	now := m.now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	count, err := m.store.CountTradesSince(ctx, startOfDay)
	if err != nil {
		return risk.Portfolio{}, err
	}
	return risk.Portfolio{
		OpenPositions:      exp.OpenPositions,
		InstrumentExposure: exp.Instrument,
		TotalExposure:      exp.Total,
		TradesToday:        count,
	}, nil
}

// Execute plans the transition for in, checks the size-independent risk limits,
// sizes the order, checks the exposure limits and, if approved, submits the
// order and records the result. A returned error means
// the outcome could not be fully determined; the Result still describes how far
// execution got.
func (m *Manager) Execute(ctx context.Context, in Intent) (Result, error) {
	unlock := m.lock(in.Instrument)
	defer unlock()

	l := m.logger.With(zap.String("instrument", in.Instrument), zap.String("action", string(in.Action)))

	pos, err := m.store.GetPosition(ctx, in.Instrument)
	if err != nil {
		return Result{}, err
	}
	plan := PlanTransition(pos, in.Action, m.allowShort)
	res := Result{Plan: plan, Outcome: OutcomeNoop}
	if plan.Noop() {
		l.Debug("Nothing to execute", zap.String("reason", plan.Reason))
		return res, nil
	}

	proposal := risk.Proposal{
		Instrument:  in.Instrument,
		Action:      in.Action,
		Confidence:  in.Confidence,
		OpensNew:    plan.Kind == models.TransitionOpen,
		ReducesRisk: plan.Kind == models.TransitionClose,
		Manual:      in.Manual,
	}
	portfolio, err := m.Portfolio(ctx, in.Instrument)
	if err != nil {
		return res, err
	}
	if verdict := m.guard.PreCheck(proposal, portfolio); !verdict.Approved {
		return m.riskRejected(l, res, verdict), nil
	}

	qty, err := m.quantity(ctx, in, plan, pos)
	if err != nil {
		return res, err
	}
	notional := qty * in.Price

	proposal.Notional = notional
	verdict := m.guard.Evaluate(proposal, portfolio)
	if !verdict.Approved {
		return m.riskRejected(l, res, verdict), nil
	}
	res.Verdict = &verdict

	rec := &models.TradeRecord{
		Instrument:        in.Instrument,
		Side:              plan.OrderSide,
		Transition:        plan.Kind,
		PositionSide:      plan.PositionSide,
		RequestedQuantity: qty,
		Price:             in.Price,
		Notional:          notional,
		Confidence:        in.Confidence,
		Rationale:         in.Rationale,
		Methodology:       in.Methodology,
		Manual:            in.Manual,
		ClientOrderID:     m.newOrderID(),
		Status:            models.StatusSubmitted,
	}
	if err := m.store.AppendTrade(ctx, rec); err != nil {
		return res, err
	}
	res.Record = rec
	l = l.With(zap.String("client_order_id", rec.ClientOrderID), zap.String("transition", string(plan.Kind)))
	l.Info("Submitting order", zap.Float64("quantity", qty), zap.Float64("notional", notional))

	fill, err := m.exchange.SubmitMarketOrder(ctx, exchange.OrderRequest{
		Instrument:    in.Instrument,
		ProductMode:   m.store.ProductMode(),
		Side:          plan.OrderSide,
		Quantity:      qty,
		ClientOrderID: rec.ClientOrderID,
	})
	switch {
	case err == nil:
		return m.applyFill(ctx, res, rec, fill)
	case exchange.IsRejected(err):
		return m.reject(ctx, res, rec, err.Error())
	}

	// The order may or may not have reached the exchange. Ask for it with a
	// context that survives the cycle's cancellation.
	l.Warn("Order outcome unknown, querying exchange", zap.Error(err))
	return m.resolve(ctx, res, rec, err)
}

// quantity sizes the order. A close sells the whole position unless the intent
// asks for less.
func (m *Manager) quantity(ctx context.Context, in Intent, plan Plan, pos *models.Position) (float64, error) {
	if plan.Kind == models.TransitionClose {
		if in.Quantity > 0 && in.Quantity < pos.Quantity {
			return in.Quantity, nil
		}
		return pos.Quantity, nil
	}
	if in.Quantity > 0 {
		return in.Quantity, nil
	}
	return m.exchange.NormalizeQuantity(ctx, in.Instrument, m.tradeAmount, in.Price)
}

func (m *Manager) riskRejected(l *zap.Logger, res Result, verdict risk.Verdict) Result {
	res.Verdict = &verdict
	res.Outcome = OutcomeRiskRejected
	l.Info("Risk guard rejected trade", zap.String("reason", string(verdict.Reason)), zap.String("detail", verdict.Detail))
	return res
}

// resolve settles a record whose submission failed without a definite answer.
func (m *Manager) resolve(ctx context.Context, res Result, rec *models.TradeRecord, cause error) (Result, error) {
	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.queryTimeout)
	defer cancel()

	fill, err := m.exchange.QueryOrder(qctx, rec.Instrument, rec.ClientOrderID)
	switch {
	case err == nil:
		return m.applyFill(qctx, res, rec, fill)
	case errors.Is(err, exchange.ErrOrderNotFound):
		if derr := m.store.DeleteSubmittedTrade(qctx, rec.ClientOrderID); derr != nil {
			res.Outcome = OutcomePending
			return res, errors.Join(cause, derr)
		}
		res.Outcome = OutcomeNotSubmitted
		res.Record = nil
		return res, cause
	default:
		m.logger.Warn("Order left for reconciliation",
			zap.String("instrument", rec.Instrument),
			zap.String("client_order_id", rec.ClientOrderID),
			zap.Error(err))
		res.Outcome = OutcomePending
		return res, errors.Join(cause, err)
	}
}

func (m *Manager) reject(ctx context.Context, res Result, rec *models.TradeRecord, reason string) (Result, error) {
	err := m.store.WithinTx(ctx, func(tx *store.Store) error {
		ok, err := tx.TransitionTrade(ctx, rec.ClientOrderID, models.StatusRejected, map[string]any{"reject_reason": reason})
		if err != nil || !ok {
			return err
		}
		return tx.RecordRejection(ctx)
	})
	if err != nil {
		res.Outcome = OutcomePending
		return res, err
	}
	rec.Status = models.StatusRejected
	rec.RejectReason = reason
	res.Outcome = OutcomeExchangeRejected
	m.logger.Warn("Exchange rejected order",
		zap.String("instrument", rec.Instrument),
		zap.String("client_order_id", rec.ClientOrderID),
		zap.String("reason", reason))
	return res, nil
}

// Reconcile settles every submitted record of instrument through an order
// lookup and warns when the exchange holds less than a recorded long position.
// It returns the number of records settled.
func (m *Manager) Reconcile(ctx context.Context, instrument string) (int, error) {
	unlock := m.lock(instrument)
	defer unlock()

	pending, err := m.store.PendingTrades(ctx, instrument)
	if err != nil {
		return 0, err
	}

	settled := 0
	var errs []error
	for i := range pending {
		rec := &pending[i]
		l := m.logger.With(zap.String("instrument", instrument), zap.String("client_order_id", rec.ClientOrderID))

		fill, err := m.exchange.QueryOrder(ctx, instrument, rec.ClientOrderID)
		switch {
		case errors.Is(err, exchange.ErrOrderNotFound):
			if err := m.store.DeleteSubmittedTrade(ctx, rec.ClientOrderID); err != nil {
				errs = append(errs, err)
				continue
			}
			l.Info("Removed trade record the exchange never received")
			settled++
		case err != nil:
			l.Warn("Order lookup failed, will retry next cycle", zap.Error(err))
			errs = append(errs, err)
		default:
			res, err := m.applyFill(ctx, Result{}, rec, fill)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if res.Outcome != OutcomePending {
				l.Info("Reconciled trade record", zap.String("outcome", string(res.Outcome)))
				settled++
			}
		}
	}

	m.checkHoldings(ctx, instrument)
	return settled, errors.Join(errs...)
}

func (m *Manager) checkHoldings(ctx context.Context, instrument string) {
	if m.store.ProductMode() != market.ProductSpot {
		return
	}
	pos, err := m.store.GetPosition(ctx, instrument)
	if err != nil || pos == nil || pos.Side != market.Long {
		return
	}
	held, err := m.exchange.Holdings(ctx, instrument)
	if err != nil {
		m.logger.Debug("Could not read holdings", zap.String("instrument", instrument), zap.Error(err))
		return
	}
	if held < pos.Quantity*(1-1e-6) {
		m.logger.Warn("Exchange holdings below recorded position",
			zap.String("instrument", instrument),
			zap.Float64("recorded", pos.Quantity),
			zap.Float64("held", held),
		)
	}
}
