// Package indicators computes technical indicators over a BarSeries. Every
// function here is pure: no I/O, deterministic given its input, and safe to
// call from any goroutine. Output length always equals input length; leading
// positions without enough history are marked undefined rather than panicking
// or truncating the series (spec.md §4.3).
package indicators

import (
	"fmt"
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/shopspring/decimal"

	"github.com/marketwatch/scanscheduler/internal/models"
)

// Config controls the periods used by Compute. Strategies read named frames
// out of the resulting IndicatorSet rather than calling these functions
// directly, so periods are fixed once per scan epoch.
type Config struct {
	EMAPeriods      []int
	SMAPeriods      []int
	RSIPeriod       int
	MACDFast        int
	MACDSlow        int
	MACDSignal      int
	BBPeriod        int
	BBStdDev        float64
	ATRPeriod       int
	VolumeAvgPeriod int
}

// DefaultConfig covers every period the four reference strategies in
// spec.md §4.4 need, plus a couple of common extras (EMA 50, SMA 20).
func DefaultConfig() Config {
	return Config{
		EMAPeriods:      []int{9, 21, 50},
		SMAPeriods:      []int{20, 50},
		RSIPeriod:       14,
		MACDFast:        12,
		MACDSlow:        26,
		MACDSignal:      9,
		BBPeriod:        20,
		BBStdDev:        2.0,
		ATRPeriod:       14,
		VolumeAvgPeriod: 20,
	}
}

// Compute calculates every configured indicator once for series and returns
// them keyed by name, ready to be shared across every strategy in every
// category that touches this instrument this epoch.
func Compute(series models.BarSeries, cfg Config) models.IndicatorSet {
	closes := series.Closes()
	highs := series.Highs()
	lows := series.Lows()
	volumes := series.Volumes()

	frames := make(map[string]models.IndicatorFrame)

	for _, p := range cfg.EMAPeriods {
		frames[fmt.Sprintf("EMA_%d", p)] = EMA(closes, p)
	}
	for _, p := range cfg.SMAPeriods {
		frames[fmt.Sprintf("SMA_%d", p)] = SMA(closes, p)
	}
	frames[fmt.Sprintf("RSI_%d", cfg.RSIPeriod)] = RSI(closes, cfg.RSIPeriod)

	macdLine, macdSignal, macdHist := MACD(closes, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal)
	frames["MACD_LINE"] = macdLine
	frames["MACD_SIGNAL"] = macdSignal
	frames["MACD_HIST"] = macdHist

	bbUpper, bbMiddle, bbLower := Bollinger(closes, cfg.BBPeriod, cfg.BBStdDev)
	frames["BB_UPPER"] = bbUpper
	frames["BB_MIDDLE"] = bbMiddle
	frames["BB_LOWER"] = bbLower

	frames[fmt.Sprintf("ATR_%d", cfg.ATRPeriod)] = ATR(highs, lows, closes, cfg.ATRPeriod)
	frames[fmt.Sprintf("VOLUME_AVG_%d", cfg.VolumeAvgPeriod)] = VolumeAverage(volumes, cfg.VolumeAvgPeriod)
	frames["GAP"] = Gap(series)

	return models.IndicatorSet{Frames: frames}
}

// alignLeft pads result on the left so its length matches total, marking the
// padded prefix undefined. cinar/indicator's channel pipelines emit fewer
// values than they consume once a period's worth of warm-up is dropped;
// spec.md requires the output length to equal the input length instead.
func alignLeft(total int, result []float64) models.IndicatorFrame {
	pad := total - len(result)
	if pad < 0 {
		pad = 0
		result = result[len(result)-total:]
	}
	values := make([]decimal.Decimal, total)
	defined := make([]bool, total)
	for i := 0; i < pad; i++ {
		values[i] = decimal.Zero
		defined[i] = false
	}
	for i, v := range result {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			values[pad+i] = decimal.Zero
			defined[pad+i] = false
			continue
		}
		values[pad+i] = decimal.NewFromFloat(v)
		defined[pad+i] = true
	}
	return models.IndicatorFrame{Values: values, Defined: defined}
}

// EMA computes the exponential moving average over period bars.
func EMA(closes []float64, period int) models.IndicatorFrame {
	if len(closes) == 0 || period <= 0 {
		return alignLeft(len(closes), nil)
	}
	ind := trend.NewEmaWithPeriod[float64](period)
	result := helper.ChanToSlice(ind.Compute(helper.SliceToChan(closes)))
	return alignLeft(len(closes), result)
}

// SMA computes the simple moving average over period bars.
func SMA(closes []float64, period int) models.IndicatorFrame {
	if len(closes) == 0 || period <= 0 {
		return alignLeft(len(closes), nil)
	}
	ind := trend.NewSmaWithPeriod[float64](period)
	result := helper.ChanToSlice(ind.Compute(helper.SliceToChan(closes)))
	return alignLeft(len(closes), result)
}

// RSI computes the relative strength index over period bars.
func RSI(closes []float64, period int) models.IndicatorFrame {
	if len(closes) < period+1 {
		return alignLeft(len(closes), nil)
	}
	ind := momentum.NewRsiWithPeriod[float64](period)
	result := helper.ChanToSlice(ind.Compute(helper.SliceToChan(closes)))
	return alignLeft(len(closes), result)
}

// MACD computes the MACD line, its signal line, and their histogram.
func MACD(closes []float64, fast, slow, signal int) (line, sig, hist models.IndicatorFrame) {
	if len(closes) < slow+signal {
		empty := alignLeft(len(closes), nil)
		return empty, empty, empty
	}
	ind := trend.NewMacdWithPeriod[float64](fast, slow, signal)
	lineChan, sigChan := ind.Compute(helper.SliceToChan(closes))
	// Both outputs come from one pipeline and must be drained together.
	var sigSlice []float64
	sigDone := make(chan struct{})
	go func() {
		sigSlice = helper.ChanToSlice(sigChan)
		close(sigDone)
	}()
	lineSlice := helper.ChanToSlice(lineChan)
	<-sigDone

	line = alignLeft(len(closes), lineSlice)
	sig = alignLeft(len(closes), sigSlice)

	histRaw := make([]float64, len(lineSlice))
	n := len(lineSlice)
	if len(sigSlice) < n {
		n = len(sigSlice)
	}
	for i := 0; i < n; i++ {
		histRaw[i] = lineSlice[i] - sigSlice[i]
	}
	hist = alignLeft(len(closes), histRaw[:n])
	return line, sig, hist
}

// Bollinger computes the upper, middle (SMA), and lower bands. The middle
// band reuses the SMA indicator directly; the bands are derived from a
// rolling standard deviation the same way the teacher's technical analysis
// service computes it, since cinar/indicator's own Bollinger type expects a
// channel pipeline this package does not otherwise build.
func Bollinger(closes []float64, period int, stdDevMultiplier float64) (upper, middle, lower models.IndicatorFrame) {
	middle = SMA(closes, period)
	if len(closes) < period {
		empty := alignLeft(len(closes), nil)
		return empty, middle, empty
	}

	upperVals := make([]decimal.Decimal, len(closes))
	lowerVals := make([]decimal.Decimal, len(closes))
	defined := make([]bool, len(closes))

	for i := period - 1; i < len(closes); i++ {
		window := closes[i-period+1 : i+1]
		mean, _ := middle.At(i)
		meanF, _ := mean.Float64()
		sd := stdDev(window, meanF)
		upperVals[i] = mean.Add(decimal.NewFromFloat(stdDevMultiplier * sd))
		lowerVals[i] = mean.Sub(decimal.NewFromFloat(stdDevMultiplier * sd))
		defined[i] = true
	}

	upper = models.IndicatorFrame{Values: upperVals, Defined: defined}
	lower = models.IndicatorFrame{Values: lowerVals, Defined: defined}
	return upper, middle, lower
}

func stdDev(window []float64, mean float64) float64 {
	if len(window) == 0 {
		return 0
	}
	var variance float64
	for _, v := range window {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(window))
	return math.Sqrt(variance)
}

// ATR computes the average true range over period bars using Wilder's
// smoothing. Hand-rolled rather than cinar/indicator's volatility.NewAtr,
// which exposes no period parameter and always smooths over its own fixed
// default — wiring cfg.ATRPeriod through a call that ignores it would leave
// the config field a no-op.
func ATR(highs, lows, closes []float64, period int) models.IndicatorFrame {
	n := len(closes)
	if period <= 0 || n < period+1 {
		return alignLeft(n, nil)
	}

	tr := make([]float64, n)
	tr[0] = highs[0] - lows[0]
	for i := 1; i < n; i++ {
		tr[i] = math.Max(highs[i]-lows[i], math.Max(math.Abs(highs[i]-closes[i-1]), math.Abs(lows[i]-closes[i-1])))
	}

	result := make([]float64, 0, n-period+1)
	var atr float64
	for _, v := range tr[:period] {
		atr += v
	}
	atr /= float64(period)
	result = append(result, atr)
	for i := period; i < n; i++ {
		atr = (atr*float64(period-1) + tr[i]) / float64(period)
		result = append(result, atr)
	}

	return alignLeft(n, result)
}

// VolumeAverage computes a rolling mean of traded volume over period bars.
func VolumeAverage(volumes []float64, period int) models.IndicatorFrame {
	if len(volumes) == 0 || period <= 0 {
		return alignLeft(len(volumes), nil)
	}
	ind := trend.NewSmaWithPeriod[float64](period)
	result := helper.ChanToSlice(ind.Compute(helper.SliceToChan(volumes)))
	return alignLeft(len(volumes), result)
}

// Gap computes the difference between each bar's open and the prior bar's
// close, as a fraction of the prior close. The first bar has no predecessor
// and is left undefined.
func Gap(series models.BarSeries) models.IndicatorFrame {
	n := series.Len()
	values := make([]decimal.Decimal, n)
	defined := make([]bool, n)
	for i := 1; i < n; i++ {
		prevClose := series.Bars[i-1].Close
		open := series.Bars[i].Open
		if prevClose.IsZero() {
			continue
		}
		values[i] = open.Sub(prevClose).Div(prevClose)
		defined[i] = true
	}
	return models.IndicatorFrame{Values: values, Defined: defined}
}
