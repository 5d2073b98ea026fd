package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketwatch/scanscheduler/internal/models"
)

// overboughtRejectionStrategy fires when RSI is deep overbought but price has
// already rejected off the upper Bollinger band, confirmed by volume.
func overboughtRejectionStrategy() Strategy {
	return Strategy{
		Name:       "overbought_rejection",
		Category:   models.CategoryShortSelling,
		MinHistory: 21,
		Generate:   overboughtRejectionGenerate,
	}
}

func overboughtRejectionGenerate(series models.BarSeries, indicators models.IndicatorSet, params Params, now time.Time) []models.Candidate {
	n := series.Len()
	if n < 3 {
		return nil
	}

	rsi, ok := indicators.Get("RSI_14")
	if !ok {
		return nil
	}
	upperBand, ok := indicators.Get("BB_UPPER")
	if !ok {
		return nil
	}
	volAvg, ok := indicators.Get("VOLUME_AVG_20")
	if !ok {
		return nil
	}

	rsiNow, rsiDef := rsi.At(n - 1)
	if !rsiDef || rsiNow.LessThanOrEqual(params.RSIOverboughtFloor) {
		return nil
	}

	lastClose := series.LastClose()
	upperNow, upperDef := upperBand.At(n - 1)
	if !upperDef || !lastClose.LessThan(upperNow) {
		return nil
	}

	avgVol, avgVolDef := volAvg.At(n - 1)
	if !avgVolDef || series.Bars[n-1].Volume.LessThan(avgVol.Mul(params.BreakoutVolumeMult)) {
		return nil
	}

	swingHigh := series.Bars[n-1].High
	for i := n - 3; i < n-1; i++ {
		if series.Bars[i].High.GreaterThan(swingHigh) {
			swingHigh = series.Bars[i].High
		}
	}

	entry := lastClose
	stop := swingHigh
	if !stop.GreaterThan(entry) {
		return nil
	}
	riskDist := stop.Sub(entry)
	target := entry.Sub(riskDist.Mul(decimal.NewFromInt(2)))
	if target.LessThan(decimal.Zero) {
		return nil
	}

	c := models.Candidate{
		Instrument:   series.Instrument,
		Side:         models.SideSell,
		Entry:        entry,
		Stop:         stop,
		Target:       target,
		Confidence:   decimal.NewFromFloat(0.55),
		StrategyName: "overbought_rejection",
		Category:     models.CategoryShortSelling,
		ProducedAt:   now,
	}
	if !c.Valid() {
		return nil
	}
	return []models.Candidate{c}
}
