// Package riskpolicy defines the risk-sizing contract consumed by the
// signal pipeline and a decimal-based reference implementation, grounded on
// the teacher's SignalQualityScorer's per-dimension scoring model.
package riskpolicy

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/marketwatch/scanscheduler/internal/models"
)

// PortfolioSnapshot is the minimal portfolio state a risk policy needs to
// size a candidate: available capital and current per-instrument exposure.
type PortfolioSnapshot struct {
	AvailableCapital decimal.Decimal
	OpenExposure     map[models.Instrument]decimal.Decimal
}

// Decision is the outcome of evaluating one candidate.
type Decision struct {
	Accept   bool
	Quantity decimal.Decimal
	Notes    string
	Reason   string // populated when Accept is false
}

// Policy is the external risk collaborator consumed by the signal pipeline
// (spec.md §4.7 step 2 / §6).
type Policy interface {
	Evaluate(ctx context.Context, candidate models.Candidate, portfolio PortfolioSnapshot) (Decision, error)
}

// FixedFractionalPolicy sizes positions so the dollar risk (entry-to-stop
// distance times quantity) never exceeds a fixed fraction of available
// capital, and caps total exposure per instrument.
type FixedFractionalPolicy struct {
	RiskFraction        decimal.Decimal // e.g. 0.01 = risk 1% of capital per trade
	MaxInstrumentFraction decimal.Decimal // e.g. 0.20 = at most 20% of capital in one instrument
	MinConfidence       decimal.Decimal
}

// DefaultFixedFractionalPolicy risks 1% of capital per trade, caps any
// single instrument at 20% of capital, and requires at least 0.3 confidence.
func DefaultFixedFractionalPolicy() FixedFractionalPolicy {
	return FixedFractionalPolicy{
		RiskFraction:          decimal.NewFromFloat(0.01),
		MaxInstrumentFraction: decimal.NewFromFloat(0.20),
		MinConfidence:         decimal.NewFromFloat(0.3),
	}
}

// Evaluate accepts a candidate and computes the quantity that keeps risked
// capital within RiskFraction, rejecting candidates below MinConfidence. A
// position that would breach the per-instrument exposure cap is shrunk to
// fit under it, and rejected only when no whole unit fits.
func (p FixedFractionalPolicy) Evaluate(ctx context.Context, candidate models.Candidate, portfolio PortfolioSnapshot) (Decision, error) {
	if !candidate.Valid() {
		return Decision{Accept: false, Reason: "invalid candidate"}, nil
	}
	if candidate.Confidence.LessThan(p.MinConfidence) {
		return Decision{Accept: false, Reason: "confidence below policy floor"}, nil
	}
	if portfolio.AvailableCapital.LessThanOrEqual(decimal.Zero) {
		return Decision{Accept: false, Reason: "no available capital"}, nil
	}

	riskPerUnit := candidate.Entry.Sub(candidate.Stop).Abs()
	if riskPerUnit.IsZero() {
		return Decision{Accept: false, Reason: "zero risk distance"}, nil
	}

	riskBudget := portfolio.AvailableCapital.Mul(p.RiskFraction)
	quantity := riskBudget.Div(riskPerUnit).Truncate(0)
	if quantity.LessThanOrEqual(decimal.Zero) {
		return Decision{Accept: false, Reason: "position size rounds to zero"}, nil
	}

	notional := quantity.Mul(candidate.Entry)
	instrumentCap := portfolio.AvailableCapital.Mul(p.MaxInstrumentFraction)
	existing := portfolio.OpenExposure[candidate.Instrument]
	if existing.Add(notional).GreaterThan(instrumentCap) {
		remaining := instrumentCap.Sub(existing)
		if remaining.LessThanOrEqual(decimal.Zero) {
			return Decision{Accept: false, Reason: "instrument exposure cap reached"}, nil
		}
		quantity = remaining.Div(candidate.Entry).Truncate(0)
		if quantity.LessThanOrEqual(decimal.Zero) {
			return Decision{Accept: false, Reason: "instrument exposure cap reached"}, nil
		}
	}

	notes := fmt.Sprintf("sized to risk %s of capital (%s per unit)", p.RiskFraction.StringFixed(4), riskPerUnit.StringFixed(4))
	return Decision{Accept: true, Quantity: quantity, Notes: notes}, nil
}

var _ Policy = FixedFractionalPolicy{}
