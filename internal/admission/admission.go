// Package admission decides whether a proposal may be executed. It is a pure
// function of the proposal and a fee estimate; callers log and notify.
package admission

import (
	"fmt"

	"spotpilot/internal/decision"

	"github.com/shopspring/decimal"
)

type Reason string

const (
	ReasonNone           Reason = ""
	ReasonHold           Reason = "hold_signal"
	ReasonMissingAmount  Reason = "missing_amount"
	ReasonNotActionable  Reason = "not_actionable"
	ReasonLowConfidence  Reason = "low_confidence"
	ReasonFeeGate        Reason = "fee_gate"
	ReasonFeeUnavailable Reason = "fee_unavailable"
)

// FeeEstimate carries the inputs of the fee gate. Either side may be absent.
type FeeEstimate struct {
	TakerFee    decimal.NullDecimal
	MarketPrice decimal.NullDecimal
}

// Verdict is the outcome of Evaluate. Detail is human readable.
type Verdict struct {
	Admitted bool
	Reason   Reason
	Detail   string
	// Filled for BUY proposals where the fee gate ran.
	PercentToTP1 decimal.NullDecimal
	RoundTripFee decimal.NullDecimal
}

type Controller struct {
	MinRiskReward decimal.Decimal
	// FailClosed rejects BUYs when fee or price data is missing instead of
	// skipping the gate.
	FailClosed bool
}

func NewController(minRiskReward float64, failClosed bool) *Controller {
	mrr := decision.DefaultMinRiskReward
	if minRiskReward > 0 {
		mrr = decimal.NewFromFloat(minRiskReward)
	}
	return &Controller{MinRiskReward: mrr, FailClosed: failClosed}
}

func (c *Controller) ShouldExecute(p decision.Proposal, fee FeeEstimate) bool {
	return c.Evaluate(p, fee).Admitted
}

// SkipReason returns "" for admitted proposals.
func (c *Controller) SkipReason(p decision.Proposal, fee FeeEstimate) string {
	v := c.Evaluate(p, fee)
	if v.Admitted {
		return ""
	}
	return v.Detail
}

func (c *Controller) Evaluate(p decision.Proposal, fee FeeEstimate) Verdict {
	if p.Signal == decision.SignalHold {
		return reject(ReasonHold, "signal is HOLD")
	}
	if !p.HasAmount() {
		return reject(ReasonMissingAmount, "amount is missing or not positive")
	}
	if err := p.CheckActionable(c.minRR()); err != nil {
		return reject(ReasonNotActionable, "not actionable: "+err.Error())
	}
	if p.Confidence == decision.ConfidenceLow {
		return reject(ReasonLowConfidence, "confidence too low")
	}
	if p.Signal != decision.SignalBuy || !p.TakeProfit1.Valid {
		return Verdict{Admitted: true}
	}
	return c.feeGate(p, fee)
}

func (c *Controller) feeGate(p decision.Proposal, fee FeeEstimate) Verdict {
	entry := fee.MarketPrice
	if p.EntryType == decision.EntryLimit {
		entry = p.EntryPrice
	}
	if !fee.TakerFee.Valid || !entry.Valid || !entry.Decimal.IsPositive() {
		if c.FailClosed {
			return reject(ReasonFeeUnavailable, "fee data unavailable")
		}
		return Verdict{Admitted: true, Detail: "fee check skipped: fee or price unavailable"}
	}
	roundTrip := fee.TakerFee.Decimal.Mul(decimal.NewFromInt(2))
	pct := p.TakeProfit1.Decimal.Sub(entry.Decimal).Div(entry.Decimal)
	if pct.IsNegative() {
		pct = decimal.Zero
	}
	v := Verdict{
		PercentToTP1: decimal.NewNullDecimal(pct),
		RoundTripFee: decimal.NewNullDecimal(roundTrip),
	}
	if pct.GreaterThan(roundTrip) {
		v.Admitted = true
		return v
	}
	v.Reason = ReasonFeeGate
	v.Detail = fmt.Sprintf("fee gate failed: distance to TP1 %s%% <= round-trip fee %s%%",
		percent(pct), percent(roundTrip))
	return v
}

func (c *Controller) minRR() decimal.Decimal {
	if c.MinRiskReward.IsPositive() {
		return c.MinRiskReward
	}
	return decision.DefaultMinRiskReward
}

func reject(reason Reason, detail string) Verdict {
	return Verdict{Reason: reason, Detail: detail}
}

func percent(frac decimal.Decimal) string {
	return frac.Mul(decimal.NewFromInt(100)).StringFixed(2)
}
