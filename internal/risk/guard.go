// Package risk enforces the hard limits every proposed trade must pass.
package risk

import (
	"fmt"

	"ai-trade-bot-go/internal/apperrors"
	"ai-trade-bot-go/internal/market"
)

// Reason names the first limit a proposal failed.
type Reason string

const (
	ReasonLowConfidence     Reason = "low-confidence"
	ReasonDailyLimit        Reason = "daily-limit"
	ReasonPositionCap       Reason = "position-cap"
	ReasonPairExposure      Reason = "pair-exposure"
	ReasonPortfolioExposure Reason = "portfolio-exposure"
)

// Limits are the configured hard caps.
type Limits struct {
	MinConfidence        float64 `mapstructure:"min_confidence" json:"min_confidence" validate:"gte=0,lte=1"`
	MaxDailyTrades       int     `mapstructure:"max_daily_trades" json:"max_daily_trades" validate:"gt=0"`
	MaxOpenPositions     int     `mapstructure:"max_open_positions" json:"max_open_positions" validate:"gt=0"`
	MaxPairExposure      float64 `mapstructure:"max_pair_exposure" json:"max_pair_exposure" validate:"gt=0"`
	MaxPortfolioExposure float64 `mapstructure:"max_portfolio_exposure" json:"max_portfolio_exposure" validate:"gt=0"`
}

// Proposal is the trade under evaluation.
type Proposal struct {
	Instrument string
	Action     market.Action
	Confidence float64
	// Notional is the quote amount the order would commit.
	Notional float64
	// OpensNew is set when no position exists yet for the instrument.
	OpensNew bool
	// ReducesRisk is set when the order closes or shrinks an existing position.
	ReducesRisk bool
	// Manual marks an operator-placed order. It skips the confidence gate only.
	Manual bool
}

// Portfolio is the exposure state read once at the start of an evaluation.
type Portfolio struct {
	OpenPositions      int
	InstrumentExposure float64
	TotalExposure      float64
	TradesToday        int
}

// Verdict is the outcome of an evaluation.
type Verdict struct {
	Approved bool
	Reason   Reason
	Detail   string
}

// Err returns a CodeRiskRejected error for a rejected verdict and nil otherwise.
func (v Verdict) Err() error {
	if v.Approved {
		return nil
	}
	return &Rejection{Reason: v.Reason, Detail: v.Detail}
}

// Rejection is the error form of a rejected verdict.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("risk rejected (%s): %s", r.Reason, r.Detail)
}

// Unwrap exposes the coded error so apperrors.HasCode matches CodeRiskRejected.
func (r *Rejection) Unwrap() error {
	return apperrors.New(apperrors.CodeRiskRejected, string(r.Reason))
}

// Guard evaluates proposals against fixed limits. It holds no state.
type Guard struct {
	limits Limits
}

// NewGuard creates a Guard.
func NewGuard(limits Limits) Guard {
	return Guard{limits: limits}
}

// Limits returns the configured caps.
func (g Guard) Limits() Limits {
	return g.limits
}

// PreCheck applies the limits that do not depend on order size: confidence and
// the daily trade count. Evaluate runs it first.
func (g Guard) PreCheck(p Proposal, pf Portfolio) Verdict {
	l := g.limits

	if !p.Manual && p.Confidence < l.MinConfidence {
		return reject(ReasonLowConfidence, "confidence %.2f below threshold %.2f", p.Confidence, l.MinConfidence)
	}
	if pf.TradesToday >= l.MaxDailyTrades {
		return reject(ReasonDailyLimit, "%d trades today, cap %d", pf.TradesToday, l.MaxDailyTrades)
	}
	return Verdict{Approved: true}
}

// Evaluate applies the limits in fixed order and reports the first failure.
// Risk-reducing proposals skip the position-cap and exposure checks.
func (g Guard) Evaluate(p Proposal, pf Portfolio) Verdict {
	l := g.limits

	if v := g.PreCheck(p, pf); !v.Approved {
		return v
	}
	if p.ReducesRisk {
		return Verdict{Approved: true}
	}
	if p.OpensNew && pf.OpenPositions >= l.MaxOpenPositions {
		return reject(ReasonPositionCap, "%d open positions, cap %d", pf.OpenPositions, l.MaxOpenPositions)
	}
	if pf.InstrumentExposure+p.Notional > l.MaxPairExposure {
		return reject(ReasonPairExposure, "%s exposure %.2f + %.2f exceeds %.2f",
			p.Instrument, pf.InstrumentExposure, p.Notional, l.MaxPairExposure)
	}
	if pf.TotalExposure+p.Notional > l.MaxPortfolioExposure {
		return reject(ReasonPortfolioExposure, "portfolio exposure %.2f + %.2f exceeds %.2f",
			pf.TotalExposure, p.Notional, l.MaxPortfolioExposure)
	}
	return Verdict{Approved: true}
}

func reject(reason Reason, format string, args ...any) Verdict {
	return Verdict{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
