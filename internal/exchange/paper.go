package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"ai-trade-bot-go/internal/market"
	"go.uber.org/zap"
)

// MarketData is the read-only part of a venue.
type MarketData interface {
	Candles(ctx context.Context, instrument string, tf market.Timeframe) ([]market.Candle, error)
	NormalizeQuantity(ctx context.Context, instrument string, quoteAmount, price float64) (float64, error)
}

// Paper is a dry-run venue. Market data comes from a real source; orders fill
// in full at the most recent close seen for the instrument.
type Paper struct {
	data   MarketData
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	lastClose map[string]float64
	orders    map[string]Fill
	holdings  map[string]float64
	nextID    int64
}

var _ Exchange = (*Paper)(nil)

// NewPaper creates a Paper venue over data.
func NewPaper(data MarketData, logger *zap.Logger) *Paper {
	return &Paper{
		data:      data,
		logger:    logger.Named("paper"),
		now:       time.Now,
		lastClose: make(map[string]float64),
		orders:    make(map[string]Fill),
		holdings:  make(map[string]float64),
	}
}

func (p *Paper) Candles(ctx context.Context, instrument string, tf market.Timeframe) ([]market.Candle, error) {
	candles, err := p.data.Candles(ctx, instrument, tf)
	if err != nil {
		return nil, err
	}
	if n := len(candles); n > 0 {
		p.mu.Lock()
		p.lastClose[instrument] = candles[n-1].Close
		p.mu.Unlock()
	}
	return candles, nil
}

func (p *Paper) NormalizeQuantity(ctx context.Context, instrument string, quoteAmount, price float64) (float64, error) {
	return p.data.NormalizeQuantity(ctx, instrument, quoteAmount, price)
}

func (p *Paper) SubmitMarketOrder(_ context.Context, req OrderRequest) (Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if f, ok := p.orders[req.ClientOrderID]; ok {
		return f, nil
	}
	price, ok := p.lastClose[req.Instrument]
	if !ok {
		return Fill{}, Unavailable(nil, "no price seen for %s", req.Instrument)
	}
	if req.Quantity <= 0 {
		return Fill{}, Rejected(nil, "invalid quantity %v", req.Quantity)
	}
	if req.Side == market.ActionSell && req.ProductMode == market.ProductSpot && p.holdings[req.Instrument] < req.Quantity {
		return Fill{}, Rejected(nil, "insufficient balance for %s: have %v, need %v",
			req.Instrument, p.holdings[req.Instrument], req.Quantity)
	}

	p.nextID++
	fill := Fill{
		ClientOrderID:    req.ClientOrderID,
		ExchangeOrderID:  "paper-" + strconv.FormatInt(p.nextID, 10),
		Status:           OrderFilled,
		ExecutedQuantity: req.Quantity,
		AveragePrice:     price,
		TransactTime:     p.now(),
	}
	p.orders[req.ClientOrderID] = fill
	if req.Side == market.ActionBuy {
		p.holdings[req.Instrument] += req.Quantity
	} else {
		p.holdings[req.Instrument] -= req.Quantity
	}

	p.logger.Info("Paper order filled",
		zap.String("instrument", req.Instrument),
		zap.String("side", string(req.Side)),
		zap.Float64("quantity", req.Quantity),
		zap.Float64("price", price),
	)
	return fill, nil
}

func (p *Paper) QueryOrder(_ context.Context, instrument, clientOrderID string) (Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f, ok := p.orders[clientOrderID]; ok {
		return f, nil
	}
	return Fill{}, fmt.Errorf("%s %s: %w", instrument, clientOrderID, ErrOrderNotFound)
}

func (p *Paper) Holdings(_ context.Context, instrument string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.holdings[instrument], nil
}

// Seed sets the starting holdings of an instrument's base asset.
func (p *Paper) Seed(instrument string, quantity float64) {
	p.mu.Lock()
	p.holdings[instrument] = quantity
	p.mu.Unlock()
}
