// Package strategy holds the pure candidate-generating functions run over a
// symbol's bars and indicators, and the category-keyed registry that groups
// them, mirroring the way the teacher's signal_aggregator groups signals by
// type before scoring.
package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketwatch/scanscheduler/internal/models"
)

// Params bundles the tunable numeric knobs strategies read, so acceptance
// thresholds live in one place instead of scattered magic numbers.
type Params struct {
	VolumeConfirmMultiplier decimal.Decimal // EMA crossover, e.g. 0.8
	BreakoutLookback        int             // Breakout, e.g. 5
	BreakoutVolumeMult      decimal.Decimal // e.g. 1.5
	RSIOverboughtFloor      decimal.Decimal // e.g. 75
	RSIBreakoutLow          decimal.Decimal // e.g. 55
	RSIBreakoutHigh         decimal.Decimal // e.g. 75
	TrendReturnLookback     int             // Trend follow, e.g. 30
	TrendMinReturn          decimal.Decimal // e.g. 0.10
	ATRStopMultiplier       decimal.Decimal // e.g. 0.5
}

// DefaultParams matches the thresholds named in the four reference strategies.
func DefaultParams() Params {
	return Params{
		VolumeConfirmMultiplier: decimal.NewFromFloat(0.8),
		BreakoutLookback:        5,
		BreakoutVolumeMult:      decimal.NewFromFloat(1.5),
		RSIOverboughtFloor:      decimal.NewFromInt(75),
		RSIBreakoutLow:          decimal.NewFromInt(55),
		RSIBreakoutHigh:         decimal.NewFromInt(75),
		TrendReturnLookback:     30,
		TrendMinReturn:          decimal.NewFromFloat(0.10),
		ATRStopMultiplier:       decimal.NewFromFloat(0.5),
	}
}

// Strategy is a named, pure candidate generator. It must be total: given any
// series/indicators pair, including ones with insufficient history, it
// returns an empty slice rather than panicking.
type Strategy struct {
	Name        string
	Category    models.StrategyCategory
	MinHistory  int
	Generate    func(series models.BarSeries, indicators models.IndicatorSet, params Params, now time.Time) []models.Candidate
}

// Registry maps a category to the ordered list of strategies registered for it.
type Registry struct {
	byCategory map[models.StrategyCategory][]Strategy
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{byCategory: make(map[models.StrategyCategory][]Strategy)}
}

// Register appends s to its category's strategy list, preserving
// registration order for tie-breaking and evaluation-order guarantees.
func (r *Registry) Register(s Strategy) {
	r.byCategory[s.Category] = append(r.byCategory[s.Category], s)
}

// For returns the strategies registered for category, in registration order.
func (r *Registry) For(category models.StrategyCategory) []Strategy {
	return r.byCategory[category]
}

// Run evaluates every strategy registered for category against series and
// indicators, then applies the same-category tie-break rule from spec.md
// §4.4: keep the highest-confidence candidate per (instrument, side); ties
// prefer the earliest registered strategy. Candidates from different sides
// are both retained.
func (r *Registry) Run(category models.StrategyCategory, series models.BarSeries, indicators models.IndicatorSet, params Params, now time.Time) []models.Candidate {
	strategies := r.byCategory[category]

	type winner struct {
		candidate models.Candidate
		rank      int
	}
	best := make(map[models.Side]winner)

	for rank, s := range strategies {
		if series.Len() < s.MinHistory {
			continue
		}
		for _, c := range safeGenerate(s, series, indicators, params, now) {
			if !c.Valid() {
				continue
			}
			w, exists := best[c.Side]
			if !exists || c.Confidence.GreaterThan(w.candidate.Confidence) {
				best[c.Side] = winner{candidate: c, rank: rank}
				continue
			}
			if c.Confidence.Equal(w.candidate.Confidence) && rank < w.rank {
				best[c.Side] = winner{candidate: c, rank: rank}
			}
		}
	}

	out := make([]models.Candidate, 0, len(best))
	for _, w := range best {
		out = append(out, w.candidate)
	}
	return out
}

// safeGenerate isolates a single strategy's panic (if any bug slips through)
// so one broken strategy never takes down a whole symbol's evaluation.
// Strategies are still required to be total; this is a last-resort guard.
func safeGenerate(s Strategy, series models.BarSeries, indicators models.IndicatorSet, params Params, now time.Time) (out []models.Candidate) {
	defer func() {
		if recover() != nil {
			out = nil
		}
	}()
	return s.Generate(series, indicators, params, now)
}

// DefaultRegistry builds the registry populated with the four reference
// strategies named in spec.md §4.4: two for DAY_TRADING, one for
// SHORT_SELLING and one for LONG_TERM. No strategy is registered for
// SHORT_TERM.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(emaCrossoverStrategy())
	r.Register(breakoutStrategy())
	r.Register(overboughtRejectionStrategy())
	r.Register(trendFollowStrategy())
	return r
}
