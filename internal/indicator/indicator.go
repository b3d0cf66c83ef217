// Package indicator turns per-timeframe candle series into indicator snapshots
// and classifies how the timeframes align.
package indicator

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Params holds the lookback windows of every indicator.
type Params struct {
	EMAShort   int     `mapstructure:"ema_short"`
	EMALong    int     `mapstructure:"ema_long"`
	MACDSignal int     `mapstructure:"macd_signal"`
	RSIPeriod  int     `mapstructure:"rsi_period"`
	BBPeriod   int     `mapstructure:"bb_period"`
	BBStdDev   float64 `mapstructure:"bb_stddev"`
	ATRPeriod  int     `mapstructure:"atr_period"`
}

// DefaultParams are the classic 12/26/9 MACD, RSI 14, BB 20/2 and ATR 14 windows.
func DefaultParams() Params {
	return Params{
		EMAShort:   12,
		EMALong:    26,
		MACDSignal: 9,
		RSIPeriod:  14,
		BBPeriod:   20,
		BBStdDev:   2,
		ATRPeriod:  14,
	}
}

// MinBars is the shortest series every indicator can be computed on. The MACD
// signal line needs MACDSignal values of a fully warmed-up MACD line, and ATR
// needs one bar before its window for the first true range.
func (p Params) MinBars() int {
	n := 2
	macdWarmup := p.EMALong + p.MACDSignal - 1
	for _, w := range []int{p.EMALong, p.EMAShort, macdWarmup, p.RSIPeriod + 1, p.BBPeriod, p.ATRPeriod + 1} {
		if w > n {
			n = w
		}
	}
	return n
}

// Validate rejects windows that cannot produce a value.
func (p Params) Validate() error {
	if p.EMAShort <= 0 || p.EMALong <= 0 || p.MACDSignal <= 0 || p.RSIPeriod <= 0 || p.ATRPeriod <= 0 {
		return fmt.Errorf("indicator periods must be positive: %+v", p)
	}
	if p.EMAShort >= p.EMALong {
		return fmt.Errorf("ema_short (%d) must be below ema_long (%d)", p.EMAShort, p.EMALong)
	}
	if p.BBPeriod < 2 || p.BBStdDev <= 0 {
		return fmt.Errorf("bollinger period must be >= 2 and stddev > 0: %+v", p)
	}
	return nil
}

// ema is the span-based exponential moving average seeded with the first value,
// EMA_t = alpha*x_t + (1-alpha)*EMA_{t-1} with alpha = 2/(span+1).
func ema(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := 2.0 / float64(span+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// macd returns the MACD line, its signal line and the histogram.
func macd(closes []float64, short, long, signal int) (line, sig, hist []float64) {
	fast := ema(closes, short)
	slow := ema(closes, long)
	line = make([]float64, len(closes))
	for i := range closes {
		line[i] = fast[i] - slow[i]
	}
	sig = ema(line, signal)
	hist = make([]float64, len(closes))
	for i := range closes {
		hist[i] = line[i] - sig[i]
	}
	return line, sig, hist
}

// rsi is the last Relative Strength Index value using simple rolling means of
// gains and losses over period price changes.
func rsi(closes []float64, period int) float64 {
	var gains, losses float64
	for i := len(closes) - period; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// bollinger returns the last upper, middle and lower band using the sample
// standard deviation of the trailing window.
func bollinger(closes []float64, period int, k float64) (upper, middle, lower float64) {
	window := closes[len(closes)-period:]
	mean, std := stat.MeanStdDev(window, nil)
	return mean + k*std, mean, mean - k*std
}

// atr is the simple rolling mean of the last period true ranges.
func atr(highs, lows, closes []float64, period int) float64 {
	var sum float64
	for i := len(closes) - period; i < len(closes); i++ {
		tr := highs[i] - lows[i]
		if i > 0 {
			tr = math.Max(tr, math.Abs(highs[i]-closes[i-1]))
			tr = math.Max(tr, math.Abs(lows[i]-closes[i-1]))
		}
		sum += tr
	}
	return sum / float64(period)
}
