package binance

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymbolRules_Normalize(t *testing.T) {
	btc := symbolRules{
		StepSize:    decimal.RequireFromString("0.00001"),
		MinQty:      decimal.RequireFromString("0.00001"),
		MaxQty:      decimal.RequireFromString("9000"),
		MinNotional: decimal.RequireFromString("5"),
	}
	coarse := symbolRules{
		StepSize:    decimal.RequireFromString("0.1"),
		MinNotional: decimal.RequireFromString("10"),
	}

	testCases := []struct {
		name     string
		rules    symbolRules
		quote    float64
		price    float64
		expected float64
	}{
		{name: "floors to step", rules: btc, quote: 10, price: 30000, expected: 0.00033},
		{name: "raises quote below min notional", rules: btc, quote: 1, price: 50000, expected: 0.0001},
		{name: "rounds up when floor falls below min notional", rules: coarse, quote: 10, price: 7, expected: 1.5},
		{name: "caps at max qty", rules: symbolRules{StepSize: decimal.RequireFromString("1"), MaxQty: decimal.RequireFromString("5")}, quote: 1000, price: 1, expected: 5},
		{name: "no filters", rules: symbolRules{}, quote: 10, price: 4, expected: 2.5},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.rules.normalize(tc.quote, tc.price)
			require.NoError(t, err)
			assert.InDelta(t, tc.expected, got, 1e-12)
		})
	}

	_, err := btc.normalize(10, 0)
	assert.Error(t, err)
}

func TestSymbolRules_Format(t *testing.T) {
	btc := symbolRules{StepSize: decimal.RequireFromString("0.00001000")}
	assert.Equal(t, "0.00033", btc.format(0.000333))
	whole := symbolRules{StepSize: decimal.RequireFromString("1.00000000")}
	assert.Equal(t, "12", whole.format(12.7))
}

func TestNormalizeQuantity_CachesRules(t *testing.T) {
	var infoCalls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		infoCalls.Add(1)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		writeJSON(w, http.StatusOK, btcInfo)
	})
	rc, server := setupTestServer(handler)
	defer server.Close()

	for i := 0; i < 3; i++ {
		q, err := rc.NormalizeQuantity(context.Background(), "BTCUSDT", 10, 30000)
		require.NoError(t, err)
		assert.InDelta(t, 0.00033, q, 1e-12)
	}
	assert.Equal(t, int32(1), infoCalls.Load())

	rules, err := rc.symbolRules(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "BTC", rules.BaseAsset)
}

func TestNormalizeQuantity_UnknownSymbol(t *testing.T) {
	rc, server := setupTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"symbols":[]}`)
	}))
	defer server.Close()

	_, err := rc.NormalizeQuantity(context.Background(), "NOPE", 10, 1)
	assert.Error(t, err)
}
