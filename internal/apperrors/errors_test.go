package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	base := errors.New("connection reset")
	err := Wrap(CodeExchangeUnavailable, "submit order", base)
	wrapped := fmt.Errorf("cycle failed: %w", err)

	assert.True(t, HasCode(wrapped, CodeExchangeUnavailable))
	assert.False(t, HasCode(wrapped, CodeExchangeRejected))
	assert.False(t, HasCode(base, CodeExchangeUnavailable))
	assert.ErrorIs(t, wrapped, base)
}

func TestHasCode_NestedCodes(t *testing.T) {
	inner := New(CodeInsufficientData, "need 26 bars")
	outer := Wrap(CodeUnknown, "aggregate", inner)

	assert.True(t, HasCode(outer, CodeInsufficientData))
	assert.Equal(t, CodeUnknown, CodeOf(outer))
}

func TestErrorIsSentinel(t *testing.T) {
	sentinel := &Error{Code: CodeMalformedAdvisoryResponse}
	err := Newf(CodeMalformedAdvisoryResponse, "missing %s", "action")

	assert.ErrorIs(t, err, sentinel)
	assert.NotErrorIs(t, New(CodeAdvisoryUnavailable, "timeout"), sentinel)
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "RiskRejected: daily-limit", New(CodeRiskRejected, "daily-limit").Error())
	assert.Equal(t, "Code(99)", Code(99).String())
}
