package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketwatch/scanscheduler/internal/models"
)

// breakoutStrategy fires when the last close clears the prior lookback
// window's high, with RSI confirming momentum without being overextended.
func breakoutStrategy() Strategy {
	return Strategy{
		Name:       "breakout",
		Category:   models.CategoryDayTrading,
		MinHistory: 21,
		Generate:   breakoutGenerate,
	}
}

func breakoutGenerate(series models.BarSeries, indicators models.IndicatorSet, params Params, now time.Time) []models.Candidate {
	n := series.Len()
	lookback := params.BreakoutLookback
	if n < lookback+1 {
		return nil
	}

	rsi, ok := indicators.Get("RSI_14")
	if !ok {
		return nil
	}
	volAvg, ok := indicators.Get("VOLUME_AVG_20")
	if !ok {
		return nil
	}

	priorHigh := series.Bars[n-1-lookback].High
	for i := n - lookback; i < n-1; i++ {
		if series.Bars[i].High.GreaterThan(priorHigh) {
			priorHigh = series.Bars[i].High
		}
	}

	lastClose := series.LastClose()
	if !lastClose.GreaterThan(priorHigh) {
		return nil
	}

	rsiNow, rsiDef := rsi.At(n - 1)
	if !rsiDef || rsiNow.LessThan(params.RSIBreakoutLow) || rsiNow.GreaterThan(params.RSIBreakoutHigh) {
		return nil
	}

	avgVol, avgVolDef := volAvg.At(n - 1)
	if !avgVolDef || series.Bars[n-1].Volume.LessThan(avgVol.Mul(params.BreakoutVolumeMult)) {
		return nil
	}

	entry := lastClose
	stop := priorHigh
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
		Confidence:   decimal.NewFromFloat(0.6),
		StrategyName: "breakout",
		Category:     models.CategoryDayTrading,
		ProducedAt:   now,
	}
	if !c.Valid() {
		return nil
	}
	return []models.Candidate{c}
}
