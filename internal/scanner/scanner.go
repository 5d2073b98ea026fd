// Package scanner implements the unified scan epoch: given a set of
// strategy categories, it resolves each category's own instruments,
// interval, and history window, fetches and computes indicators for every
// distinct (instrument, interval) pair with bounded parallelism, runs every
// registered strategy per category against its own interval's series, and
// returns the resulting candidates. Grounded on the teacher's collector.go
// worker-pool pattern and the original scheduler's execute_unified_scan
// gather-with-timeout shape.
package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/marketwatch/scanscheduler/internal/indicators"
	"github.com/marketwatch/scanscheduler/internal/models"
	"github.com/marketwatch/scanscheduler/internal/strategy"
	"github.com/marketwatch/scanscheduler/internal/symbolcache"
)

// Watchlist resolves which instruments and interval a category scans.
type Watchlist interface {
	InstrumentsFor(category models.StrategyCategory) []models.Instrument
	IntervalFor(category models.StrategyCategory) models.Interval
	HistoryWindow(category models.StrategyCategory) time.Duration
}

// BarFetcher retrieves and caches bars for one instrument/interval pair,
// honoring a per-symbol deadline. SymbolDataCache.GetOrFetch satisfies this
// once its FetchFunc closes over the underlying broker fetcher.
type BarFetcher interface {
	GetOrFetch(ctx context.Context, key symbolcache.Key, fetch symbolcache.FetchFunc) (models.SymbolData, error)
}

// Clock supplies "now" for candidate timestamps and deadline math.
type Clock interface {
	Now() time.Time
}

// Config bounds one scanner's concurrency and deadlines (spec.md §4.6/§5).
type Config struct {
	Parallelism     int
	SymbolDeadline  time.Duration
	EpochDeadline   time.Duration
	IndicatorConfig indicators.Config
	StrategyParams  strategy.Params
}

// DefaultConfig matches the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		Parallelism:     5,
		SymbolDeadline:  60 * time.Second,
		EpochDeadline:   300 * time.Second,
		IndicatorConfig: indicators.DefaultConfig(),
		StrategyParams:  strategy.DefaultParams(),
	}
}

// FetchInstrumentSeries retrieves raw bars for one instrument, called from
// inside the cache's single-flight FetchFunc.
type FetchInstrumentSeries func(ctx context.Context, instrument models.Instrument, interval models.Interval, from, to time.Time) (models.BarSeries, error)

// Scanner runs unified scan epochs.
type Scanner struct {
	watchlist Watchlist
	cache     BarFetcher
	fetch     FetchInstrumentSeries
	registry  *strategy.Registry
	clock     Clock
	cfg       Config
	log       *logrus.Logger
}

// New builds a Scanner.
func New(watchlist Watchlist, cache BarFetcher, fetch FetchInstrumentSeries, registry *strategy.Registry, clock Clock, cfg Config, log *logrus.Logger) *Scanner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scanner{watchlist: watchlist, cache: cache, fetch: fetch, registry: registry, clock: clock, cfg: cfg, log: log}
}

// fetchKey identifies one distinct fetch/indicator computation: a category
// may declare its own interval (spec.md §3's SymbolData is keyed by
// instrument, interval, and last-bar timestamp), so the same instrument can
// need several independent series in one epoch.
type fetchKey struct {
	instrument models.Instrument
	interval   models.Interval
}

// fetchResult is the outcome of one (instrument, interval) fetch task.
type fetchResult struct {
	key       fetchKey
	data      models.SymbolData
	cacheHit  bool
	timedOut  bool
	cancelled bool
	err       error
}

// Result is the aggregate outcome of RunEpoch.
type Result struct {
	Candidates []models.Candidate
	Stats      models.ScanStats
}

// RunEpoch executes one scan epoch: for every category, resolve its own
// interval and history window, fetch and cache each distinct
// (instrument, interval) pair the categories require with bounded
// parallelism, then run each category's strategies against its own
// interval's series. Ctx cancellation propagates cooperatively to every
// fetch task.
func (s *Scanner) RunEpoch(ctx context.Context, epoch models.ScanEpoch) Result {
	start := s.clock.Now()

	deadline := epoch.Deadline
	if deadline.IsZero() {
		deadline = start.Add(s.cfg.EpochDeadline)
	}
	epochCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	work := s.planWork(epoch.Categories)

	sem := make(chan struct{}, s.cfg.Parallelism)
	resultsCh := make(chan fetchResult, len(work))

	var wg sync.WaitGroup
	for _, w := range work {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-epochCtx.Done():
				resultsCh <- fetchResult{key: w.key, cancelled: true}
				return
			}
			defer func() { <-sem }()

			resultsCh <- s.fetchOne(epochCtx, w)
		}()
	}

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	stats := models.ScanStats{}
	data := make(map[fetchKey]models.SymbolData, len(work))
	for res := range resultsCh {
		switch {
		case res.cancelled:
			stats.TimedOut++
		case res.timedOut:
			stats.TimedOut++
		case res.err != nil:
			stats.Failed++
		default:
			stats.Fetched++
			if res.cacheHit {
				stats.CacheHits++
			}
			data[res.key] = res.data
		}
	}

	candidates := s.runStrategies(epoch.Categories, data)
	stats.Candidates = len(candidates)

	stats.Duration = s.clock.Now().Sub(start)
	return Result{Candidates: candidates, Stats: stats}
}

// workItem is one distinct fetch task and the history window it needs.
type workItem struct {
	key    fetchKey
	window time.Duration
}

// planWork groups the epoch's categories by their own (instrument, interval)
// pairs, so an instrument scanned by two categories at the same interval is
// fetched once, taking the longer of the two categories' history windows.
func (s *Scanner) planWork(categories []models.StrategyCategory) []workItem {
	windows := make(map[fetchKey]time.Duration)
	var order []fetchKey
	for _, category := range categories {
		interval := s.watchlist.IntervalFor(category)
		window := s.watchlist.HistoryWindow(category)
		for _, instrument := range s.watchlist.InstrumentsFor(category) {
			key := fetchKey{instrument: instrument, interval: interval}
			existing, ok := windows[key]
			if !ok {
				order = append(order, key)
			}
			if window > existing {
				windows[key] = window
			}
		}
	}

	items := make([]workItem, len(order))
	for i, key := range order {
		items[i] = workItem{key: key, window: windows[key]}
	}
	return items
}

// fetchOne obtains SymbolData for one (instrument, interval) pair, computing
// indicators only on a genuine cache miss.
func (s *Scanner) fetchOne(ctx context.Context, w workItem) fetchResult {
	symCtx, cancel := context.WithTimeout(ctx, s.cfg.SymbolDeadline)
	defer cancel()

	now := s.clock.Now()
	from := now.Add(-w.window)

	var fetched bool
	data, err := s.cache.GetOrFetch(symCtx, symbolcache.Key{Instrument: w.key.instrument, Interval: w.key.interval}, func(fetchCtx context.Context, k symbolcache.Key) (models.SymbolData, error) {
		fetched = true
		series, ferr := s.fetch(fetchCtx, k.Instrument, k.Interval, from, now)
		if ferr != nil {
			return models.SymbolData{}, ferr
		}
		return models.SymbolData{
			Instrument: k.Instrument,
			Interval:   k.Interval,
			Series:     series,
			Indicators: indicators.Compute(series, s.cfg.IndicatorConfig),
		}, nil
	})

	if err != nil {
		if symCtx.Err() != nil {
			return fetchResult{key: w.key, timedOut: true, err: err}
		}
		return fetchResult{key: w.key, err: err}
	}

	return fetchResult{key: w.key, data: data, cacheHit: !fetched}
}

// runStrategies runs every category's strategies against its own interval's
// series for every instrument it watches, in category order and
// registration order within each category. An instrument whose fetch failed
// or was skipped simply contributes no candidates for that category.
func (s *Scanner) runStrategies(categories []models.StrategyCategory, data map[fetchKey]models.SymbolData) []models.Candidate {
	var candidates []models.Candidate
	now := s.clock.Now()
	for _, category := range categories {
		interval := s.watchlist.IntervalFor(category)
		for _, instrument := range s.watchlist.InstrumentsFor(category) {
			sd, ok := data[fetchKey{instrument: instrument, interval: interval}]
			if !ok {
				continue
			}
			candidates = append(candidates, s.registry.Run(category, sd.Series, sd.Indicators, s.cfg.StrategyParams, now)...)
		}
	}
	return candidates
}
