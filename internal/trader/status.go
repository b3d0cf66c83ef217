package trader

import (
	"time"

	"ai-trade-bot-go/internal/indicator"
	"ai-trade-bot-go/internal/lifecycle"
	"ai-trade-bot-go/internal/market"
	"ai-trade-bot-go/internal/models"
)

// Stage is the step a cycle reached. A finished cycle reports StageComplete;
// any other stage names where it stopped.
type Stage string

const (
	StageSkipped   Stage = "skipped"
	StageReconcile Stage = "reconcile"
	StageAnalysis  Stage = "analysis"
	StageAdvisory  Stage = "advisory"
	StageRisk      Stage = "risk"
	StageExecution Stage = "execution"
	StageComplete  Stage = "complete"
)

// CycleOutcome records what one cycle of one instrument did and why.
type CycleOutcome struct {
	Instrument    string                      `json:"instrument"`
	StartedAt     time.Time                   `json:"started_at"`
	FinishedAt    time.Time                   `json:"finished_at"`
	Stage         Stage                       `json:"stage"`
	Price         float64                     `json:"price,omitempty"`
	Alignment     *indicator.AlignmentVerdict `json:"alignment,omitempty"`
	Action        market.Action               `json:"action"`
	Confidence    float64                     `json:"confidence"`
	Rationale     string                      `json:"rationale,omitempty"`
	Methodology   string                      `json:"methodology,omitempty"`
	Transition    models.Transition           `json:"transition,omitempty"`
	Result        lifecycle.Outcome           `json:"result,omitempty"`
	ClientOrderID string                      `json:"client_order_id,omitempty"`
	RealizedPnL   *float64                    `json:"realized_pnl,omitempty"`
	RejectReason  string                      `json:"reject_reason,omitempty"`
	Code          string                      `json:"code,omitempty"`
	Error         string                      `json:"error,omitempty"`
}

// Status is the engine state reported to the control surface.
type Status struct {
	Running     bool                    `json:"running"`
	DryRun      bool                    `json:"dry_run"`
	ProductMode market.ProductMode      `json:"product_mode"`
	Sandbox     bool                    `json:"sandbox"`
	StartedAt   *time.Time              `json:"started_at,omitempty"`
	Uptime      string                  `json:"uptime,omitempty"`
	Instruments []string                `json:"instruments"`
	LastCycles  map[string]CycleOutcome `json:"last_cycles"`
	Positions   []models.Position       `json:"positions"`
}
