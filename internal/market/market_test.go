package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseInterval(t *testing.T) {
	testCases := []struct {
		interval string
		expected time.Duration
		wantErr  bool
	}{
		{interval: "5m", expected: 5 * time.Minute},
		{interval: "1h", expected: time.Hour},
		{interval: "4h", expected: 4 * time.Hour},
		{interval: "1d", expected: 24 * time.Hour},
		{interval: "1w", expected: 7 * 24 * time.Hour},
		{interval: "m", wantErr: true},
		{interval: "0h", wantErr: true},
		{interval: "5y", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.interval, func(t *testing.T) {
			d, err := ParseInterval(tc.interval)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, d)
		})
	}
}

func TestParseAction(t *testing.T) {
	a, ok := ParseAction(" buy ")
	assert.True(t, ok)
	assert.Equal(t, ActionBuy, a)

	_, ok = ParseAction("STRONG_BUY")
	assert.False(t, ok)

	_, ok = ParseAction("")
	assert.False(t, ok)
}

func TestPositionSide(t *testing.T) {
	assert.Equal(t, 1.0, Long.Sign())
	assert.Equal(t, -1.0, Short.Sign())
	assert.Equal(t, ActionSell, Long.ClosingAction())
	assert.Equal(t, ActionBuy, Short.ClosingAction())
	assert.Equal(t, ActionSell, Short.OpeningAction())
}
