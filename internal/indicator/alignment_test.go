package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	const (
		up   = TrendBullish
		down = TrendBearish
		none = TrendUnknown
	)

	testCases := []struct {
		name    string
		trends  []Trend
		label   Label
		bias    Bias
		bullish int
		bearish int
	}{
		{name: "all bullish", trends: []Trend{up, up, up, up}, label: LabelStrongBullish, bias: BiasBullish, bullish: 4},
		{name: "all bearish", trends: []Trend{down, down, down, down}, label: LabelStrongBearish, bias: BiasBearish, bearish: 4},
		{name: "short timeframe flips bearish", trends: []Trend{down, up, up, up}, label: LabelBullishBiased, bias: BiasBullish, bullish: 3, bearish: 1},
		{name: "short timeframe flips bullish", trends: []Trend{up, down, down, down}, label: LabelBearishBiased, bias: BiasBearish, bullish: 1, bearish: 3},
		{name: "higher timeframes bullish at half", trends: []Trend{down, down, up, up}, label: LabelBullishBiased, bias: BiasBullish, bullish: 2, bearish: 2},
		{name: "higher timeframes bearish at half", trends: []Trend{up, up, down, down}, label: LabelBearishBiased, bias: BiasBearish, bullish: 2, bearish: 2},
		{name: "longest timeframe flips", trends: []Trend{up, up, up, down}, label: LabelMixed, bias: BiasNeutral, bullish: 3, bearish: 1},
		{name: "missing timeframe blocks strong label", trends: []Trend{none, up, up, up}, label: LabelBullishBiased, bias: BiasBullish, bullish: 3},
		{name: "missing higher timeframe is neutral", trends: []Trend{up, up, up, none}, label: LabelMixed, bias: BiasNeutral, bullish: 3},
		{name: "single timeframe", trends: []Trend{up}, label: LabelStrongBullish, bias: BiasNeutral, bullish: 1},
		{name: "empty", trends: nil, label: LabelMixed, bias: BiasNeutral},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v := Classify(tc.trends)
			assert.Equal(t, tc.label, v.Label)
			assert.Equal(t, tc.bias, v.HigherTFBias)
			assert.Equal(t, tc.bullish, v.BullishCount)
			assert.Equal(t, tc.bearish, v.BearishCount)
			assert.Equal(t, len(tc.trends), v.Timeframes)
		})
	}
}

// Flipping any single timeframe out of an all-bullish set must drop the strong label.
func TestClassify_SingleFlipLeavesStrongBullish(t *testing.T) {
	for i := 0; i < 4; i++ {
		trends := []Trend{TrendBullish, TrendBullish, TrendBullish, TrendBullish}
		trends[i] = TrendBearish
		v := Classify(trends)
		assert.NotEqual(t, LabelStrongBullish, v.Label, "flip at %d", i)
		assert.NotEqual(t, LabelStrongBearish, v.Label, "flip at %d", i)
	}
}
