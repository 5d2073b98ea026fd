package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketwatch/scanscheduler/internal/models"
)

// trendFollowStrategy fires when price is above its long moving average and
// has produced a strong return over the lookback window, favoring
// established trends over reversals.
func trendFollowStrategy() Strategy {
	return Strategy{
		Name:       "trend_follow",
		Category:   models.CategoryLongTerm,
		MinHistory: 51,
		Generate:   trendFollowGenerate,
	}
}

func trendFollowGenerate(series models.BarSeries, indicators models.IndicatorSet, params Params, now time.Time) []models.Candidate {
	n := series.Len()
	lookback := params.TrendReturnLookback
	if n < lookback+1 {
		return nil
	}

	sma, ok := indicators.Get("SMA_50")
	if !ok {
		return nil
	}
	smaNow, smaDef := sma.At(n - 1)
	if !smaDef {
		return nil
	}

	lastClose := series.LastClose()
	if !lastClose.GreaterThan(smaNow) {
		return nil
	}

	priorClose := series.Bars[n-1-lookback].Close
	if priorClose.IsZero() {
		return nil
	}
	windowReturn := lastClose.Sub(priorClose).Div(priorClose)
	if windowReturn.LessThan(params.TrendMinReturn) {
		return nil
	}

	entry := lastClose
	stop := smaNow.Sub(decimal.NewFromFloat(0.01))
	if !stop.LessThan(entry) {
		return nil
	}
	target := entry.Add(entry.Mul(decimal.NewFromFloat(0.20)))

	confidence := windowReturn
	if confidence.GreaterThan(decimal.NewFromInt(1)) {
		confidence = decimal.NewFromInt(1)
	}

	c := models.Candidate{
		Instrument:   series.Instrument,
		Side:         models.SideBuy,
		Entry:        entry,
		Stop:         stop,
		Target:       target,
		Confidence:   confidence,
		StrategyName: "trend_follow",
		Category:     models.CategoryLongTerm,
		ProducedAt:   now,
	}
	if !c.Valid() {
		return nil
	}
	return []models.Candidate{c}
}
