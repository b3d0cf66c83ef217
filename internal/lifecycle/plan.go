package lifecycle

import (
	"ai-trade-bot-go/internal/market"
	"ai-trade-bot-go/internal/models"
)

// Plan is the position change an action maps to. A zero Kind means no-op.
type Plan struct {
	Kind         models.Transition
	PositionSide market.PositionSide
	OrderSide    market.Action
	Reason       string
}

// Noop reports whether the plan changes nothing.
func (p Plan) Noop() bool {
	return p.Kind == ""
}

// PlanTransition maps the current position and a recommended action to a
// transition:
//
//	flat  + BUY  -> open long
//	flat  + SELL -> open short when shorting is allowed, else no-op
//	long  + BUY  -> add         long  + SELL -> close
//	short + SELL -> add         short + BUY  -> close
//	any   + HOLD -> no-op
func PlanTransition(pos *models.Position, action market.Action, allowShort bool) Plan {
	if action != market.ActionBuy && action != market.ActionSell {
		return Plan{Reason: "hold"}
	}

	if pos == nil {
		if action == market.ActionBuy {
			return Plan{Kind: models.TransitionOpen, PositionSide: market.Long, OrderSide: market.ActionBuy}
		}
		if !allowShort {
			return Plan{Reason: "no position to sell and short selling is disabled"}
		}
		return Plan{Kind: models.TransitionOpen, PositionSide: market.Short, OrderSide: market.ActionSell}
	}

	if action == pos.Side.OpeningAction() {
		return Plan{Kind: models.TransitionAdd, PositionSide: pos.Side, OrderSide: action}
	}
	return Plan{Kind: models.TransitionClose, PositionSide: pos.Side, OrderSide: pos.Side.ClosingAction()}
}
