package indicator

import (
	"errors"
	"fmt"

	"ai-trade-bot-go/internal/apperrors"
	"ai-trade-bot-go/internal/market"
	"go.uber.org/zap"
)

// Analysis is the aggregated view of one instrument for one cycle.
type Analysis struct {
	Snapshots []Snapshot        `json:"snapshots"`
	Alignment AlignmentVerdict  `json:"alignment"`
	Failures  map[string]string `json:"failures,omitempty"`
}

// Snapshot returns the reading for a timeframe, if it was computed.
func (a Analysis) Snapshot(timeframe string) (Snapshot, bool) {
	for _, s := range a.Snapshots {
		if s.Timeframe == timeframe {
			return s, true
		}
	}
	return Snapshot{}, false
}

// ReferencePrice is the close of the shortest computed timeframe.
func (a Analysis) ReferencePrice() float64 {
	if len(a.Snapshots) == 0 {
		return 0
	}
	return a.Snapshots[0].Close
}

// Aggregator computes snapshots for a fixed, ordered set of timeframes.
type Aggregator struct {
	timeframes []market.Timeframe
	params     Params
	logger     *zap.Logger
}

// NewAggregator creates an Aggregator. Timeframes must be ordered shortest first.
func NewAggregator(timeframes []market.Timeframe, params Params, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		timeframes: timeframes,
		params:     params,
		logger:     logger.Named("indicator"),
	}
}

// Timeframes returns the configured timeframes.
func (a *Aggregator) Timeframes() []market.Timeframe {
	return a.timeframes
}

// Aggregate computes one snapshot per configured timeframe. A timeframe whose
// series is missing or too short is recorded in Failures and reported as
// unknown to the alignment classifier; the remaining timeframes still flow
// forward. It fails only when no timeframe could be computed.
func (a *Aggregator) Aggregate(series map[string][]market.Candle) (Analysis, error) {
	analysis := Analysis{Failures: make(map[string]string)}
	trends := make([]Trend, 0, len(a.timeframes))

	for _, tf := range a.timeframes {
		candles, ok := series[tf.Name]
		if !ok {
			analysis.Failures[tf.Name] = "no candles fetched"
			trends = append(trends, TrendUnknown)
			continue
		}
		snap, err := Compute(tf.Name, candles, a.params)
		if err != nil {
			a.logger.Warn("Skipping timeframe", zap.String("timeframe", tf.Name), zap.Error(err))
			analysis.Failures[tf.Name] = err.Error()
			trends = append(trends, TrendUnknown)
			continue
		}
		analysis.Snapshots = append(analysis.Snapshots, snap)
		trends = append(trends, snap.Trend())
	}

	analysis.Alignment = Classify(trends)

	if len(analysis.Snapshots) == 0 {
		errs := make([]error, 0, len(analysis.Failures))
		for tf, msg := range analysis.Failures {
			errs = append(errs, fmt.Errorf("%s: %s", tf, msg))
		}
		return analysis, apperrors.Wrap(apperrors.CodeInsufficientData, "no timeframe produced a snapshot", errors.Join(errs...))
	}
	return analysis, nil
}
