package indicator

// Label classifies cross-timeframe agreement.
type Label string

const (
	LabelStrongBullish Label = "strong-bullish"
	LabelBullishBiased Label = "bullish-biased"
	LabelStrongBearish Label = "strong-bearish"
	LabelBearishBiased Label = "bearish-biased"
	LabelMixed         Label = "mixed"
)

// Bias is the direction of the two longest timeframes.
type Bias string

const (
	BiasBullish Bias = "bullish"
	BiasBearish Bias = "bearish"
	BiasNeutral Bias = "neutral"
)

// AlignmentVerdict summarizes the per-timeframe trends of one cycle.
type AlignmentVerdict struct {
	Timeframes   int   `json:"timeframes"`
	BullishCount int   `json:"bullish_count"`
	BearishCount int   `json:"bearish_count"`
	HigherTFBias Bias  `json:"higher_tf_bias"`
	Label        Label `json:"label"`
}

// Classify derives the verdict from trends ordered shortest to longest
// timeframe. Unknown entries (timeframes without a snapshot) count towards
// neither side, so a strong label requires every timeframe to be present.
func Classify(trends []Trend) AlignmentVerdict {
	v := AlignmentVerdict{Timeframes: len(trends), HigherTFBias: BiasNeutral}
	for _, t := range trends {
		switch t {
		case TrendBullish:
			v.BullishCount++
		case TrendBearish:
			v.BearishCount++
		}
	}

	if n := len(trends); n >= 2 {
		a, b := trends[n-2], trends[n-1]
		switch {
		case a == TrendBullish && b == TrendBullish:
			v.HigherTFBias = BiasBullish
		case a == TrendBearish && b == TrendBearish:
			v.HigherTFBias = BiasBearish
		}
	}

	n := v.Timeframes
	switch {
	case n > 0 && v.BullishCount == n:
		v.Label = LabelStrongBullish
	case n > 0 && v.BearishCount == n:
		v.Label = LabelStrongBearish
	case v.HigherTFBias == BiasBullish && 2*v.BullishCount >= n:
		v.Label = LabelBullishBiased
	case v.HigherTFBias == BiasBearish && 2*v.BearishCount >= n:
		v.Label = LabelBearishBiased
	default:
		v.Label = LabelMixed
	}
	return v
}
