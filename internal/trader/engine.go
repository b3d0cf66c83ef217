package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ai-trade-bot-go/internal/advisory"
	"ai-trade-bot-go/internal/apperrors"
	"ai-trade-bot-go/internal/config"
	"ai-trade-bot-go/internal/exchange"
	"ai-trade-bot-go/internal/indicator"
	"ai-trade-bot-go/internal/lifecycle"
	"ai-trade-bot-go/internal/market"
	"ai-trade-bot-go/internal/models"
	"ai-trade-bot-go/internal/store"
	"go.uber.org/zap"
)

// Advisor returns a trading decision for one instrument.
type Advisor interface {
	Decide(ctx context.Context, req advisory.Request) (advisory.Decision, error)
}

// Engine runs one periodic, single-flight task per configured instrument.
type Engine struct {
	logger     *zap.Logger
	cfg        *config.Config
	exchange   exchange.Exchange
	advisor    Advisor
	manager    *lifecycle.Manager
	store      *store.Store
	aggregator *indicator.Aggregator
	now        func() time.Time

	// ctl serializes Start and Stop.
	ctl sync.Mutex

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	stop      chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}
	outcomes  map[string]CycleOutcome
	inflight  map[string]*sync.Mutex
}

// NewEngine creates a new trading engine.
func NewEngine(logger *zap.Logger, cfg *config.Config, ex exchange.Exchange, advisor Advisor, manager *lifecycle.Manager, st *store.Store) *Engine {
	logger = logger.Named("engine")
	inflight := make(map[string]*sync.Mutex, len(cfg.Trading.Instruments))
	for _, instrument := range cfg.Trading.Instruments {
		inflight[instrument] = &sync.Mutex{}
	}
	return &Engine{
		logger:     logger,
		cfg:        cfg,
		exchange:   ex,
		advisor:    advisor,
		manager:    manager,
		store:      st,
		aggregator: indicator.NewAggregator(cfg.Trading.Timeframes, cfg.Indicators, logger),
		now:        func() time.Time { return time.Now().UTC() },
		outcomes:   make(map[string]CycleOutcome),
		inflight:   inflight,
	}
}

// Run starts the engine and stops it when ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.Start()
	<-ctx.Done()
	e.Stop()
}

// Start launches one task per instrument. Each task runs a cycle immediately
// and then on every tick. It reports false when the engine was already running.
func (e *Engine) Start() bool {
	e.ctl.Lock()
	defer e.ctl.Unlock()

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan struct{})
	done := make(chan struct{})
	e.running = true
	e.startedAt = e.now()
	e.stop, e.cancel, e.done = stop, cancel, done
	e.mu.Unlock()

	interval := e.cfg.Trading.TickInterval
	e.logger.Info("Starting trading engine",
		zap.Strings("instruments", e.cfg.Trading.Instruments),
		zap.Duration("interval", interval),
		zap.Bool("dry_run", e.cfg.Trading.DryRun),
	)

	var wg sync.WaitGroup
	for _, instrument := range e.cfg.Trading.Instruments {
		wg.Add(1)
		go func(instrument string) {
			defer wg.Done()
			e.loop(ctx, stop, instrument, interval)
		}(instrument)
	}
	go func() {
		wg.Wait()
		close(done)
	}()
	return true
}

// Stop suppresses the next tick of every task and waits for in-flight cycles.
// Cycles still running after the stop grace period are cancelled. It reports
// false when the engine was not running.
func (e *Engine) Stop() bool {
	e.ctl.Lock()
	defer e.ctl.Unlock()

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return false
	}
	e.running = false
	stop, cancel, done := e.stop, e.cancel, e.done
	e.mu.Unlock()

	e.logger.Info("Stopping trading engine...")
	close(stop)

	grace := time.NewTimer(e.cfg.Trading.StopGrace)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
		e.logger.Warn("Cycles still running after stop grace, cancelling", zap.Duration("grace", e.cfg.Trading.StopGrace))
		cancel()
		<-done
	}
	cancel()
	e.logger.Info("Trading engine stopped")
	return true
}

func (e *Engine) loop(ctx context.Context, stop <-chan struct{}, instrument string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		default:
		}

		e.RunCycle(ctx, instrument)

		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunCycle runs analysis, advisory, risk and execution for instrument in that
// order. A failing stage ends the cycle and is recorded in the outcome. A cycle
// requested while another one for the same instrument is in flight is skipped.
func (e *Engine) RunCycle(ctx context.Context, instrument string) CycleOutcome {
	out := CycleOutcome{Instrument: instrument, StartedAt: e.now(), Action: market.ActionHold}

	flight, ok := e.inflight[instrument]
	if !ok {
		out.Stage = StageAnalysis
		out.Error = fmt.Sprintf("instrument %s is not configured", instrument)
		out.FinishedAt = out.StartedAt
		return out
	}
	if !flight.TryLock() {
		out.Stage = StageSkipped
		out.Rationale = "previous cycle still running"
		out.FinishedAt = e.now()
		e.logger.Debug("Skipping cycle, previous one still in flight", zap.String("instrument", instrument))
		return out
	}
	defer flight.Unlock()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Trading.CycleTimeout)
	defer cancel()

	e.cycle(ctx, &out)
	out.FinishedAt = e.now()
	e.record(out)
	return out
}

func (e *Engine) cycle(ctx context.Context, out *CycleOutcome) {
	instrument := out.Instrument

	out.Stage = StageReconcile
	if _, err := e.manager.Reconcile(ctx, instrument); err != nil {
		out.fail(err)
		return
	}

	out.Stage = StageAnalysis
	analysis, err := e.aggregator.Aggregate(e.fetchCandles(ctx, instrument))
	out.Alignment = &analysis.Alignment
	if err != nil {
		out.fail(err)
		return
	}
	price := analysis.ReferencePrice()
	out.Price = price

	out.Stage = StageAdvisory
	req, err := e.buildRequest(ctx, instrument, analysis)
	if err != nil {
		out.fail(err)
		return
	}
	decision, err := e.advisor.Decide(ctx, req)
	if err != nil {
		// No usable answer means no trade this cycle.
		out.fail(err)
		out.Rationale = "holding: " + err.Error()
		return
	}
	out.Action = decision.Action
	out.Confidence = decision.Confidence
	out.Rationale = decision.Reasoning
	out.Methodology = decision.Methodology

	out.Stage = StageExecution
	res, err := e.manager.Execute(ctx, lifecycle.Intent{
		Instrument:  instrument,
		Action:      decision.Action,
		Confidence:  decision.Confidence,
		Rationale:   decision.Reasoning,
		Methodology: decision.Methodology,
		Price:       price,
	})
	out.Result = res.Outcome
	out.Transition = res.Plan.Kind
	out.RealizedPnL = res.RealizedPnL
	if res.Record != nil {
		out.ClientOrderID = res.Record.ClientOrderID
	}
	if res.Verdict != nil && !res.Verdict.Approved {
		out.Stage = StageRisk
		out.RejectReason = string(res.Verdict.Reason)
		out.Error = res.Verdict.Detail
		return
	}
	if err != nil {
		out.fail(err)
		return
	}
	out.Stage = StageComplete
}

// fetchCandles loads every configured timeframe concurrently. A timeframe that
// fails to load is left out and reported as unavailable by the aggregator.
func (e *Engine) fetchCandles(ctx context.Context, instrument string) map[string][]market.Candle {
	timeframes := e.aggregator.Timeframes()
	series := make([][]market.Candle, len(timeframes))

	var wg sync.WaitGroup
	for i, tf := range timeframes {
		wg.Add(1)
		go func(i int, tf market.Timeframe) {
			defer wg.Done()
			candles, err := e.exchange.Candles(ctx, instrument, tf)
			if err != nil {
				e.logger.Warn("Failed to fetch candles",
					zap.String("instrument", instrument),
					zap.String("timeframe", tf.Name),
					zap.Error(err))
				return
			}
			series[i] = candles
		}(i, tf)
	}
	wg.Wait()

	out := make(map[string][]market.Candle, len(timeframes))
	for i, tf := range timeframes {
		if series[i] != nil {
			out[tf.Name] = series[i]
		}
	}
	return out
}

func (e *Engine) buildRequest(ctx context.Context, instrument string, analysis indicator.Analysis) (advisory.Request, error) {
	price := analysis.ReferencePrice()
	req := advisory.Request{
		Instrument:     instrument,
		ProductMode:    e.store.ProductMode(),
		ReferencePrice: price,
		AllowShort:     e.manager.AllowShort(),
		Timeframes:     analysis.Snapshots,
		Unavailable:    analysis.Failures,
		Alignment:      analysis.Alignment,
		RecentTrades:   []advisory.TradeContext{},
	}

	pos, err := e.store.GetPosition(ctx, instrument)
	if err != nil {
		return req, err
	}
	if pos != nil {
		pnl := (price - pos.EntryPrice) * pos.Quantity * pos.Side.Sign()
		var pct float64
		if pos.EntryPrice > 0 {
			pct = (price - pos.EntryPrice) / pos.EntryPrice * 100 * pos.Side.Sign()
		}
		req.Position = &advisory.PositionContext{
			Side:              pos.Side,
			Quantity:          pos.Quantity,
			EntryPrice:        pos.EntryPrice,
			Notional:          pos.Notional(),
			UnrealizedPnL:     pnl,
			UnrealizedPercent: pct,
			OpenedAt:          pos.OpenedAt,
		}
	}

	if limit := e.cfg.Trading.RecentTradesLimit; limit > 0 {
		trades, err := e.store.RecentTrades(ctx, instrument, limit)
		if err != nil {
			return req, err
		}
		for _, t := range trades {
			req.RecentTrades = append(req.RecentTrades, tradeContext(t))
		}
	}

	pf, err := e.manager.Portfolio(ctx, instrument)
	if err != nil {
		return req, err
	}
	req.Exposure = advisory.ExposureContext{
		Instrument:    pf.InstrumentExposure,
		Portfolio:     pf.TotalExposure,
		OpenPositions: pf.OpenPositions,
		TradesToday:   pf.TradesToday,
		TradeAmount:   e.cfg.Trading.TradeAmount,
		Limits:        e.cfg.Risk,
	}
	return req, nil
}

func tradeContext(t models.TradeRecord) advisory.TradeContext {
	qty := t.Quantity
	if qty == 0 {
		qty = t.RequestedQuantity
	}
	return advisory.TradeContext{
		Side:        t.Side,
		Transition:  string(t.Transition),
		Quantity:    qty,
		Price:       t.Price,
		Status:      string(t.Status),
		RealizedPnL: t.RealizedPnL,
		At:          t.CreatedAt,
	}
}

func (e *Engine) record(out CycleOutcome) {
	e.mu.Lock()
	e.outcomes[out.Instrument] = out
	e.mu.Unlock()

	fields := []zap.Field{
		zap.String("instrument", out.Instrument),
		zap.String("stage", string(out.Stage)),
		zap.String("action", string(out.Action)),
		zap.Float64("confidence", out.Confidence),
		zap.String("rationale", out.Rationale),
		zap.Duration("took", out.FinishedAt.Sub(out.StartedAt)),
	}
	if out.Alignment != nil {
		fields = append(fields, zap.String("alignment", string(out.Alignment.Label)))
	}
	if out.Result != "" {
		fields = append(fields, zap.String("outcome", string(out.Result)))
	}
	if out.RejectReason != "" {
		fields = append(fields, zap.String("reject_reason", out.RejectReason))
	}
	if out.RealizedPnL != nil {
		fields = append(fields, zap.Float64("realized_pnl", *out.RealizedPnL))
	}

	switch {
	case out.Error != "" && out.Stage != StageRisk:
		e.logger.Warn("Cycle failed", append(fields, zap.String("error", out.Error), zap.String("code", out.Code))...)
	default:
		e.logger.Info("Cycle finished", fields...)
	}
}

// Status returns the running state, the last outcome per instrument and the
// open positions of the account.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	e.mu.Lock()
	st := Status{
		Running:     e.running,
		DryRun:      e.cfg.Trading.DryRun,
		ProductMode: e.store.ProductMode(),
		Sandbox:     e.store.Sandbox(),
		Instruments: e.cfg.Trading.Instruments,
		LastCycles:  make(map[string]CycleOutcome, len(e.outcomes)),
	}
	if e.running {
		startedAt := e.startedAt
		st.StartedAt = &startedAt
		st.Uptime = e.now().Sub(startedAt).Round(time.Second).String()
	}
	for k, v := range e.outcomes {
		st.LastCycles[k] = v
	}
	e.mu.Unlock()

	positions, err := e.store.ListPositions(ctx)
	if err != nil {
		return st, err
	}
	st.Positions = positions
	return st, nil
}

// LastOutcome returns the most recent cycle outcome of instrument.
func (e *Engine) LastOutcome(instrument string) (CycleOutcome, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out, ok := e.outcomes[instrument]
	return out, ok
}

func (o *CycleOutcome) fail(err error) {
	o.Error = err.Error()
	if code := apperrors.CodeOf(err); code != apperrors.CodeUnknown {
		o.Code = code.String()
	} else if errors.Is(err, context.DeadlineExceeded) {
		o.Code = "Timeout"
	}
}
