package indicators

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketwatch/scanscheduler/internal/models"
)

func syntheticSeries(n int) models.BarSeries {
	bars := make([]models.Bar, n)
	price := decimal.NewFromInt(100)
	for i := 0; i < n; i++ {
		step := decimal.NewFromFloat(0.5)
		if i%2 == 0 {
			step = step.Neg()
		}
		price = price.Add(step)
		bars[i] = models.Bar{
			Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
			Open:      price,
			High:      price.Add(decimal.NewFromInt(1)),
			Low:       price.Sub(decimal.NewFromInt(1)),
			Close:     price,
			Volume:    decimal.NewFromInt(int64(1000 + i)),
		}
	}
	return models.BarSeries{
		Instrument: "NSE:TEST",
		Interval:   models.Interval1Day,
		Bars:       bars,
	}
}

func TestCompute_OutputLengthMatchesInput(t *testing.T) {
	series := syntheticSeries(60)
	set := Compute(series, DefaultConfig())

	for name, frame := range set.Frames {
		assert.Equal(t, series.Len(), len(frame.Values), "frame %s values length", name)
		assert.Equal(t, series.Len(), len(frame.Defined), "frame %s defined length", name)
	}
}

func TestCompute_LeadingValuesUndefined(t *testing.T) {
	series := syntheticSeries(30)
	set := Compute(series, DefaultConfig())

	frame, ok := set.Get("SMA_20")
	require.True(t, ok)
	assert.False(t, frame.Defined[0])
	assert.True(t, frame.Defined[len(frame.Defined)-1])
}

func TestCompute_Deterministic(t *testing.T) {
	series := syntheticSeries(80)
	a := Compute(series, DefaultConfig())
	b := Compute(series, DefaultConfig())

	for name, fa := range a.Frames {
		fb, ok := b.Get(name)
		require.True(t, ok)
		for i := range fa.Values {
			assert.Equal(t, fa.Defined[i], fb.Defined[i])
			if fa.Defined[i] {
				assert.True(t, fa.Values[i].Equal(fb.Values[i]), "frame %s index %d differs", name, i)
			}
		}
	}
}

func TestCompute_ShortSeriesNeverPanics(t *testing.T) {
	assert.NotPanics(t, func() {
		for n := 0; n <= 5; n++ {
			Compute(syntheticSeries(n), DefaultConfig())
		}
	})
}

func TestRSI_BoundedRange(t *testing.T) {
	series := syntheticSeries(60)
	frame := RSI(series.Closes(), 14)
	for i, defined := range frame.Defined {
		if !defined {
			continue
		}
		v := frame.Values[i]
		assert.True(t, v.GreaterThanOrEqual(decimal.Zero), "RSI below 0 at %d", i)
		assert.True(t, v.LessThanOrEqual(decimal.NewFromInt(100)), "RSI above 100 at %d", i)
	}
}

func TestBollinger_UpperAboveLower(t *testing.T) {
	series := syntheticSeries(40)
	upper, _, lower := Bollinger(series.Closes(), 20, 2.0)
	for i := range upper.Values {
		if !upper.Defined[i] || !lower.Defined[i] {
			continue
		}
		assert.True(t, upper.Values[i].GreaterThanOrEqual(lower.Values[i]))
	}
}

func TestATR_NonNegativeAndRespondsToPeriod(t *testing.T) {
	series := syntheticSeries(60)
	highs, lows, closes := series.Highs(), series.Lows(), series.Closes()

	short := ATR(highs, lows, closes, 5)
	long := ATR(highs, lows, closes, 20)

	for i, defined := range short.Defined {
		if !defined {
			continue
		}
		assert.True(t, short.Values[i].GreaterThanOrEqual(decimal.Zero), "ATR below 0 at %d", i)
	}

	shortDefinedAt := indexOfFirstDefined(short)
	longDefinedAt := indexOfFirstDefined(long)
	assert.Less(t, shortDefinedAt, longDefinedAt, "a shorter period must warm up sooner")
}

func indexOfFirstDefined(frame models.IndicatorFrame) int {
	for i, defined := range frame.Defined {
		if defined {
			return i
		}
	}
	return -1
}

func TestGap_FirstBarUndefined(t *testing.T) {
	series := syntheticSeries(10)
	frame := Gap(series)
	assert.False(t, frame.Defined[0])
}
