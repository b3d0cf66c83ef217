package indicator

import (
	"math"
	"time"

	"ai-trade-bot-go/internal/apperrors"
	"ai-trade-bot-go/internal/market"
)

// Trend is the directional reading of one timeframe.
type Trend string

const (
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
	TrendUnknown Trend = "unknown"
)

// Crossover is the MACD/signal cross observed on the latest bar.
type Crossover string

const (
	CrossoverBullish Crossover = "bullish"
	CrossoverBearish Crossover = "bearish"
	CrossoverNone    Crossover = "none"
)

// RSIZone buckets the RSI value.
type RSIZone string

const (
	ZoneOversold   RSIZone = "oversold"
	ZoneNeutral    RSIZone = "neutral"
	ZoneOverbought RSIZone = "overbought"
)

const (
	oversoldLevel   = 30.0
	overboughtLevel = 70.0
)

// Snapshot is the indicator reading of one timeframe at its latest bar.
type Snapshot struct {
	Timeframe     string    `json:"timeframe"`
	BarTime       time.Time `json:"bar_time"`
	Close         float64   `json:"close"`
	EMAShort      float64   `json:"ema_short"`
	EMALong       float64   `json:"ema_long"`
	EMATrend      Trend     `json:"ema_trend"`
	MACD          float64   `json:"macd"`
	MACDSignal    float64   `json:"macd_signal"`
	MACDHistogram float64   `json:"macd_histogram"`
	MACDTrend     Trend     `json:"macd_trend"`
	MACDCrossover Crossover `json:"macd_crossover"`
	RSI           float64   `json:"rsi"`
	RSIZone       RSIZone   `json:"rsi_zone"`
	BBUpper       float64   `json:"bb_upper"`
	BBMiddle      float64   `json:"bb_middle"`
	BBLower       float64   `json:"bb_lower"`
	ATR           float64   `json:"atr"`
	Volume        float64   `json:"volume"`
}

// Trend is bullish only when the EMA ordering and the MACD histogram agree.
func (s Snapshot) Trend() Trend {
	if s.EMATrend == TrendBullish && s.MACDHistogram > 0 {
		return TrendBullish
	}
	return TrendBearish
}

// Compute builds the snapshot for one timeframe. Series shorter than
// p.MinBars() fail with CodeInsufficientData.
func Compute(timeframe string, candles []market.Candle, p Params) (Snapshot, error) {
	if need := p.MinBars(); len(candles) < need {
		return Snapshot{}, apperrors.Newf(apperrors.CodeInsufficientData,
			"timeframe %s has %d bars, need %d", timeframe, len(candles), need)
	}

	n := len(candles)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, c := range candles {
		if math.IsNaN(c.Close) || math.IsNaN(c.High) || math.IsNaN(c.Low) {
			return Snapshot{}, apperrors.Newf(apperrors.CodeInsufficientData,
				"timeframe %s has a NaN price at bar %d", timeframe, i)
		}
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}

	emaShort := ema(closes, p.EMAShort)
	emaLong := ema(closes, p.EMALong)
	line, sig, hist := macd(closes, p.EMAShort, p.EMALong, p.MACDSignal)
	upper, middle, lower := bollinger(closes, p.BBPeriod, p.BBStdDev)
	last := candles[n-1]

	s := Snapshot{
		Timeframe:     timeframe,
		BarTime:       last.OpenTime,
		Close:         last.Close,
		EMAShort:      emaShort[n-1],
		EMALong:       emaLong[n-1],
		MACD:          line[n-1],
		MACDSignal:    sig[n-1],
		MACDHistogram: hist[n-1],
		RSI:           rsi(closes, p.RSIPeriod),
		BBUpper:       upper,
		BBMiddle:      middle,
		BBLower:       lower,
		ATR:           atr(highs, lows, closes, p.ATRPeriod),
		Volume:        last.Volume,
	}

	s.EMATrend = TrendBearish
	if s.EMAShort > s.EMALong {
		s.EMATrend = TrendBullish
	}
	s.MACDTrend = TrendBearish
	if s.MACD > s.MACDSignal {
		s.MACDTrend = TrendBullish
	}

	s.MACDCrossover = CrossoverNone
	prevLine, prevSig := line[n-2], sig[n-2]
	switch {
	case prevLine < prevSig && s.MACD > s.MACDSignal:
		s.MACDCrossover = CrossoverBullish
	case prevLine > prevSig && s.MACD < s.MACDSignal:
		s.MACDCrossover = CrossoverBearish
	}

	switch {
	case s.RSI < oversoldLevel:
		s.RSIZone = ZoneOversold
	case s.RSI > overboughtLevel:
		s.RSIZone = ZoneOverbought
	default:
		s.RSIZone = ZoneNeutral
	}

	return s, nil
}
