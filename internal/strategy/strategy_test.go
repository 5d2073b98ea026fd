package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/marketwatch/scanscheduler/internal/indicators"
	"github.com/marketwatch/scanscheduler/internal/models"
)

func trendingSeries(n int, startAt time.Time) models.BarSeries {
	bars := make([]models.Bar, n)
	price := decimal.NewFromInt(100)
	for i := 0; i < n; i++ {
		price = price.Add(decimal.NewFromFloat(0.8))
		high := price.Add(decimal.NewFromFloat(0.5))
		low := price.Sub(decimal.NewFromFloat(0.5))
		bars[i] = models.Bar{
			Timestamp: startAt.AddDate(0, 0, i),
			Open:      price.Sub(decimal.NewFromFloat(0.2)),
			High:      high,
			Low:       low,
			Close:     price,
			Volume:    decimal.NewFromInt(int64(5000 + i*10)),
		}
	}
	return models.BarSeries{Instrument: "NSE:TREND", Interval: models.Interval1Day, Bars: bars}
}

func TestRegistry_NeverPanicsOnShortHistory(t *testing.T) {
	series := trendingSeries(3, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	set := indicators.Compute(series, indicators.DefaultConfig())
	r := DefaultRegistry()

	assert.NotPanics(t, func() {
		for _, cat := range models.AllCategories {
			r.Run(cat, series, set, DefaultParams(), time.Now())
		}
	})
}

func TestTrendFollow_ProducesValidBuyOnStrongUptrend(t *testing.T) {
	series := trendingSeries(90, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	set := indicators.Compute(series, indicators.DefaultConfig())

	candidates := trendFollowGenerate(series, set, DefaultParams(), time.Now())
	if assert.Len(t, candidates, 1) {
		c := candidates[0]
		assert.True(t, c.Valid())
		assert.Equal(t, models.SideBuy, c.Side)
		assert.Equal(t, models.CategoryLongTerm, c.Category)
	}
}

func TestRegistry_TieBreakKeepsHighestConfidence(t *testing.T) {
	r := NewRegistry()
	lowConf := Strategy{
		Name:       "low",
		Category:   models.CategoryDayTrading,
		MinHistory: 0,
		Generate: func(series models.BarSeries, ind models.IndicatorSet, p Params, now time.Time) []models.Candidate {
			return []models.Candidate{{
				Instrument: series.Instrument, Side: models.SideBuy,
				Entry: decimal.NewFromInt(100), Stop: decimal.NewFromInt(90), Target: decimal.NewFromInt(120),
				Confidence: decimal.NewFromFloat(0.3), StrategyName: "low", Category: models.CategoryDayTrading,
			}}
		},
	}
	highConf := Strategy{
		Name:       "high",
		Category:   models.CategoryDayTrading,
		MinHistory: 0,
		Generate: func(series models.BarSeries, ind models.IndicatorSet, p Params, now time.Time) []models.Candidate {
			return []models.Candidate{{
				Instrument: series.Instrument, Side: models.SideBuy,
				Entry: decimal.NewFromInt(100), Stop: decimal.NewFromInt(90), Target: decimal.NewFromInt(130),
				Confidence: decimal.NewFromFloat(0.9), StrategyName: "high", Category: models.CategoryDayTrading,
			}}
		},
	}
	r.Register(lowConf)
	r.Register(highConf)

	series := trendingSeries(5, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	out := r.Run(models.CategoryDayTrading, series, models.IndicatorSet{}, DefaultParams(), time.Now())

	if assert.Len(t, out, 1) {
		assert.Equal(t, "high", out[0].StrategyName)
	}
}

func TestRegistry_RespectsMinHistory(t *testing.T) {
	r := NewRegistry()
	called := false
	r.Register(Strategy{
		Name:       "needs_history",
		Category:   models.CategoryDayTrading,
		MinHistory: 100,
		Generate: func(series models.BarSeries, ind models.IndicatorSet, p Params, now time.Time) []models.Candidate {
			called = true
			return nil
		},
	})

	series := trendingSeries(5, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	r.Run(models.CategoryDayTrading, series, models.IndicatorSet{}, DefaultParams(), time.Now())
	assert.False(t, called)
}
