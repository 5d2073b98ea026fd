package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketwatch/scanscheduler/internal/models"
)

// emaCrossoverStrategy fires when the fast EMA crosses above the slow EMA on
// the most recently closed bar, confirmed by above-average volume.
func emaCrossoverStrategy() Strategy {
	return Strategy{
		Name:       "ema_crossover",
		Category:   models.CategoryDayTrading,
		MinHistory: 22,
		Generate:   emaCrossoverGenerate,
	}
}

func emaCrossoverGenerate(series models.BarSeries, indicators models.IndicatorSet, params Params, now time.Time) []models.Candidate {
	n := series.Len()
	if n < 2 {
		return nil
	}

	fast, ok := indicators.Get("EMA_9")
	if !ok {
		return nil
	}
	slow, ok := indicators.Get("EMA_21")
	if !ok {
		return nil
	}
	volAvg, ok := indicators.Get("VOLUME_AVG_20")
	if !ok {
		return nil
	}
	atr, ok := indicators.Get("ATR_14")
	if !ok {
		return nil
	}

	fastNow, fastNowDef := fast.At(n - 1)
	fastPrev, fastPrevDef := fast.At(n - 2)
	slowNow, slowNowDef := slow.At(n - 1)
	slowPrev, slowPrevDef := slow.At(n - 2)
	if !fastNowDef || !fastPrevDef || !slowNowDef || !slowPrevDef {
		return nil
	}

	crossedUp := fastPrev.LessThanOrEqual(slowPrev) && fastNow.GreaterThan(slowNow)
	if !crossedUp {
		return nil
	}

	volNow := series.Bars[n-1].Volume
	avgVol, avgVolDef := volAvg.At(n - 1)
	if !avgVolDef || volNow.LessThan(avgVol.Mul(params.VolumeConfirmMultiplier)) {
		return nil
	}

	atrNow, atrDef := atr.At(n - 1)
	if !atrDef {
		return nil
	}

	entry := series.LastClose()
	stop := series.Bars[n-1].Low.Sub(atrNow.Mul(params.ATRStopMultiplier))
	if !stop.LessThan(entry) {
		return nil
	}
	target := entry.Add(entry.Sub(stop).Mul(decimal.NewFromInt(2)))

	c := models.Candidate{
		Instrument:   series.Instrument,
		Side:         models.SideBuy,
		Entry:        entry,
		Stop:         stop,
		Target:       target,
		Confidence:   crossoverConfidence(fastNow, slowNow),
		StrategyName: "ema_crossover",
		Category:     models.CategoryDayTrading,
		ProducedAt:   now,
	}
	if !c.Valid() {
		return nil
	}
	return []models.Candidate{c}
}

// crossoverConfidence scales with how far the fast EMA has pulled ahead of
// the slow EMA relative to the slow EMA's own level, clamped to [0,1].
func crossoverConfidence(fast, slow decimal.Decimal) decimal.Decimal {
	if slow.IsZero() {
		return decimal.NewFromFloat(0.5)
	}
	spread := fast.Sub(slow).Div(slow).Abs()
	conf := decimal.NewFromFloat(0.5).Add(spread.Mul(decimal.NewFromInt(10)))
	if conf.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return conf
}
