// Package models holds the data shapes shared across the scan scheduler:
// bars, indicator frames, candidates, and persisted signals.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Instrument is a stable, exchange-qualified symbol identifier (e.g. "NSE:RELIANCE").
type Instrument string

// Interval names an OHLCV bar granularity, e.g. "1D" or "15m".
type Interval string

const (
	Interval1Day    Interval = "1D"
	Interval1Hour   Interval = "1H"
	Interval15Min   Interval = "15m"
	Interval5Min    Interval = "5m"
	IntervalDefault          = Interval1Day
)

// IsIntraday reports whether the interval is finer than a full session.
func (iv Interval) IsIntraday() bool {
	return iv != Interval1Day
}

// Bar is one OHLCV candle.
type Bar struct {
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// BarSeries is an ordered, gap-tolerant sequence of Bars for one instrument
// and interval, covering the half-open window [From, To).
type BarSeries struct {
	Instrument Instrument
	Interval   Interval
	From       time.Time
	To         time.Time
	Bars       []Bar
}

// Len returns the number of bars in the series.
func (s BarSeries) Len() int { return len(s.Bars) }

// LastClose returns the close of the last bar, or a zero decimal if empty.
func (s BarSeries) LastClose() decimal.Decimal {
	if len(s.Bars) == 0 {
		return decimal.Zero
	}
	return s.Bars[len(s.Bars)-1].Close
}

// LastTimestamp returns the timestamp of the last bar, or the zero time if empty.
func (s BarSeries) LastTimestamp() time.Time {
	if len(s.Bars) == 0 {
		return time.Time{}
	}
	return s.Bars[len(s.Bars)-1].Timestamp
}

// Closes extracts the close price series as a float64 slice for indicator math.
func (s BarSeries) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = mustFloat(b.Close)
	}
	return out
}

// Highs extracts the high price series.
func (s BarSeries) Highs() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = mustFloat(b.High)
	}
	return out
}

// Lows extracts the low price series.
func (s BarSeries) Lows() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = mustFloat(b.Low)
	}
	return out
}

// Volumes extracts the volume series.
func (s BarSeries) Volumes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = mustFloat(b.Volume)
	}
	return out
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// IndicatorFrame maps an indicator name to a value sequence aligned with a
// BarSeries. Positions with insufficient history carry Defined=false.
type IndicatorFrame struct {
	Name    string
	Values  []decimal.Decimal
	Defined []bool
}

// At returns the value at i and whether it is defined; false, false if out of range.
func (f IndicatorFrame) At(i int) (decimal.Decimal, bool) {
	if i < 0 || i >= len(f.Values) {
		return decimal.Zero, false
	}
	return f.Values[i], f.Defined[i]
}

// Last returns the value at the final position and whether it is defined;
// false if the frame is empty. Earlier positions are not searched.
func (f IndicatorFrame) Last() (decimal.Decimal, bool) {
	if len(f.Values) == 0 {
		return decimal.Zero, false
	}
	return f.At(len(f.Values) - 1)
}

// IndicatorSet is the bundle of indicator frames computed once per SymbolData.
type IndicatorSet struct {
	Frames map[string]IndicatorFrame
}

// Get looks up a frame by name.
func (s IndicatorSet) Get(name string) (IndicatorFrame, bool) {
	f, ok := s.Frames[name]
	return f, ok
}

// SymbolData is a cache entry: bars plus derived indicators, immutable once published.
type SymbolData struct {
	Instrument  Instrument
	Interval    Interval
	Series      BarSeries
	Indicators  IndicatorSet
	FetchedAt   time.Time
	ValidUntil  time.Time
}

// Fresh reports whether the entry has not yet expired as of now.
func (d SymbolData) Fresh(now time.Time) bool {
	return now.Before(d.ValidUntil)
}

// StrategyCategory is one of the four fixed trading strategy families.
type StrategyCategory string

const (
	CategoryDayTrading   StrategyCategory = "DAY_TRADING"
	CategoryShortSelling StrategyCategory = "SHORT_SELLING"
	CategoryShortTerm    StrategyCategory = "SHORT_TERM"
	CategoryLongTerm     StrategyCategory = "LONG_TERM"
)

// AllCategories lists the closed set of categories in a stable order.
var AllCategories = []StrategyCategory{
	CategoryDayTrading, CategoryShortSelling, CategoryShortTerm, CategoryLongTerm,
}

// Valid reports whether c is one of the four recognized categories.
func (c StrategyCategory) Valid() bool {
	for _, k := range AllCategories {
		if k == c {
			return true
		}
	}
	return false
}

// Side is the direction of a trade candidate.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Candidate is a strategy-emitted trade proposal, before persistence.
type Candidate struct {
	Instrument   Instrument
	Side         Side
	Entry        decimal.Decimal
	Stop         decimal.Decimal
	Target       decimal.Decimal
	Confidence   decimal.Decimal
	StrategyName string
	Category     StrategyCategory
	ProducedAt   time.Time
}

// Valid checks the side/entry/stop/target ordering invariant from spec.md §3.
func (c Candidate) Valid() bool {
	switch c.Side {
	case SideBuy:
		return c.Stop.LessThan(c.Entry) && c.Entry.LessThan(c.Target)
	case SideSell:
		return c.Target.LessThan(c.Entry) && c.Entry.LessThan(c.Stop)
	default:
		return false
	}
}

// String renders a compact human-readable form for logs.
func (c Candidate) String() string {
	return fmt.Sprintf("%s %s %s entry=%s stop=%s target=%s conf=%s",
		c.Category, c.Side, c.Instrument, c.Entry, c.Stop, c.Target, c.Confidence)
}

// SignalStatus is the persisted lifecycle state of a Signal.
type SignalStatus string

const (
	StatusPending  SignalStatus = "PENDING"
	StatusApproved SignalStatus = "APPROVED"
	StatusRejected SignalStatus = "REJECTED"
	StatusExpired  SignalStatus = "EXPIRED"
	StatusExecuted SignalStatus = "EXECUTED"
	StatusFailed   SignalStatus = "FAILED"
)

// terminal is the set of statuses that accept no further transitions.
var terminal = map[SignalStatus]bool{
	StatusRejected: true,
	StatusExpired:  true,
	StatusExecuted: true,
	StatusFailed:   true,
}

// IsTerminal reports whether s is a terminal status.
func (s SignalStatus) IsTerminal() bool { return terminal[s] }

// validTransitions enumerates the state machine's allowed edges (spec.md §4.7).
var validTransitions = map[SignalStatus]map[SignalStatus]bool{
	StatusPending:  {StatusApproved: true, StatusRejected: true, StatusExpired: true},
	StatusApproved: {StatusExecuted: true, StatusFailed: true},
}

// CanTransition reports whether from -> to is a legal Signal state transition.
func CanTransition(from, to SignalStatus) bool {
	edges, ok := validTransitions[from]
	return ok && edges[to]
}

// Signal is the persisted form of an accepted Candidate.
type Signal struct {
	ID           string
	Instrument   Instrument
	Side         Side
	StrategyName string
	Category     StrategyCategory
	Entry        decimal.Decimal
	Stop         decimal.Decimal
	Target       decimal.Decimal
	Confidence   decimal.Decimal
	Quantity     decimal.Decimal
	Status       SignalStatus
	CreatedAt    time.Time
	ExpiresAt    time.Time
	RiskNotes    string
}

// NewSignal builds a PENDING signal from an accepted candidate.
func NewSignal(id string, c Candidate, quantity decimal.Decimal, riskNotes string, now time.Time, ttl time.Duration) Signal {
	return Signal{
		ID:           id,
		Instrument:   c.Instrument,
		Side:         c.Side,
		StrategyName: c.StrategyName,
		Category:     c.Category,
		Entry:        c.Entry,
		Stop:         c.Stop,
		Target:       c.Target,
		Confidence:   c.Confidence,
		Quantity:     quantity,
		Status:       StatusPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		RiskNotes:    riskNotes,
	}
}

// ScanStats accumulates the terminal counters for one ScanEpoch.
type ScanStats struct {
	Fetched         int
	CacheHits       int
	Candidates      int
	Persisted       int
	Notified        int
	Failed          int
	TimedOut        int
	DedupSuppressed int
	RiskRejected    int
	InvalidCand     int
	PersistFailed   int
	NotifyFailed    int
	Duration        time.Duration
}

// ScanEpoch is one scheduled invocation of the unified scan.
type ScanEpoch struct {
	EpochID     string
	TriggerName string
	TriggeredAt time.Time
	Categories  []StrategyCategory
	Deadline    time.Time
	Stats       ScanStats
}
