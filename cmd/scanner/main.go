// Command scanner wires the unified market-scan scheduler together and
// runs it until an interrupt or termination signal arrives. Grounded on
// the teacher's cmd/server/main.go run()-returns-error shape and graceful
// HTTP shutdown pattern, adapted for a scheduler with no HTTP surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/marketwatch/scanscheduler/internal/clock"
	"github.com/marketwatch/scanscheduler/internal/config"
	"github.com/marketwatch/scanscheduler/internal/fetcher"
	"github.com/marketwatch/scanscheduler/internal/models"
	"github.com/marketwatch/scanscheduler/internal/pipeline"
	"github.com/marketwatch/scanscheduler/internal/scanner"
	"github.com/marketwatch/scanscheduler/internal/scheduler"
	"github.com/marketwatch/scanscheduler/internal/strategy"
	"github.com/marketwatch/scanscheduler/internal/symbolcache"
	"github.com/marketwatch/scanscheduler/pkg/broker"
	"github.com/marketwatch/scanscheduler/pkg/notify"
	"github.com/marketwatch/scanscheduler/pkg/riskpolicy"
	"github.com/marketwatch/scanscheduler/pkg/signalstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "scanner: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	realClock, err := buildClock(cfg)
	if err != nil {
		return fmt.Errorf("build clock: %w", err)
	}

	ctx := context.Background()

	store, err := signalstore.NewPostgresStore(ctx, signalstore.PostgresConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	}, log)
	if err != nil {
		return fmt.Errorf("connect signal store: %w", err)
	}

	var notifier notify.Notifier
	if cfg.Telegram.BotToken == "" {
		log.Warn("scanner: telegram bot token not configured, notifications disabled")
		notifier = noopNotifier{}
	} else {
		notifier, err = notify.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatIDs, log)
		if err != nil {
			return fmt.Errorf("build telegram notifier: %w", err)
		}
	}

	brokerTimeout, err := time.ParseDuration(cfg.Fetch.TimeoutHistory)
	if err != nil {
		return fmt.Errorf("parse fetch.timeout_history: %w", err)
	}
	httpClient := broker.NewHTTPClient(cfg.Broker.BaseURL, brokerTimeout, log)

	intradayTimeout, err := time.ParseDuration(cfg.Fetch.TimeoutIntraday)
	if err != nil {
		return fmt.Errorf("parse fetch.timeout_intraday: %w", err)
	}
	historyTimeout, err := time.ParseDuration(cfg.Fetch.TimeoutHistory)
	if err != nil {
		return fmt.Errorf("parse fetch.timeout_history: %w", err)
	}
	bars := fetcher.New(httpClient, realClock,
		fetcher.WithCallTimeouts(fetcher.CallTimeouts{Intraday: intradayTimeout, History: historyTimeout}),
		fetcher.WithLogger(log),
	)

	ttlIntraday, err := time.ParseDuration(cfg.Cache.TTLIntraday)
	if err != nil {
		return fmt.Errorf("parse cache.ttl_intraday: %w", err)
	}
	ttlDaily, err := time.ParseDuration(cfg.Cache.TTLDaily)
	if err != nil {
		return fmt.Errorf("parse cache.ttl_daily: %w", err)
	}
	cache := symbolcache.New(realClock,
		symbolcache.WithCapacity(cfg.Cache.Capacity),
		symbolcache.WithTTLPolicy(symbolcache.TTLPolicy{Intraday: ttlIntraday, Daily: ttlDaily}),
		symbolcache.WithLogger(log),
	)

	fetchSeries := func(ctx context.Context, instrument models.Instrument, interval models.Interval, from, to time.Time) (models.BarSeries, error) {
		deadline, ok := ctx.Deadline()
		if !ok {
			deadline = realClock.Now().Add(historyTimeout)
		}
		return bars.FetchBars(ctx, instrument, interval, from, to, deadline)
	}

	watchlist := newConfigWatchlist(cfg.WatchlistByCategory)

	registry := strategy.DefaultRegistry()

	scannerCfg := scanner.DefaultConfig()
	if d, err := time.ParseDuration(cfg.Scanner.SymbolTimeout); err == nil {
		scannerCfg.SymbolDeadline = d
	}
	if d, err := time.ParseDuration(cfg.Scanner.EpochTimeout); err == nil {
		scannerCfg.EpochDeadline = d
	}
	if cfg.Scanner.Parallelism > 0 {
		scannerCfg.Parallelism = cfg.Scanner.Parallelism
	}

	scan := scanner.New(watchlist, cache, fetchSeries, registry, realClock, scannerCfg, log)

	riskPolicy := riskpolicy.DefaultFixedFractionalPolicy()

	pipelineCfg := pipeline.DefaultConfig()
	if d, err := time.ParseDuration(cfg.Signal.Timeout); err == nil {
		pipelineCfg.SignalTTL = d
	}
	pipelineCfg.AutoTrade = cfg.Signal.AutoTrade
	pipelineCfg.AutoThreshold = decimal.NewFromFloat(cfg.Signal.AutoThreshold)

	pl := pipeline.New(store, riskPolicy, notifier, realClock, pipelineCfg, log)

	schedulerCfg := scheduler.DefaultConfig()
	schedulerCfg.Triggers = applyTriggerOverrides(scheduler.DefaultTriggers(), cfg.Triggers)
	if d, err := time.ParseDuration(cfg.Scanner.EpochTimeout); err == nil {
		schedulerCfg.EpochTimeout = d
	}

	sched := scheduler.New(realClock, scan, pl, nil, store, schedulerCfg, log)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	log.WithFields(logrus.Fields{"environment": cfg.Environment, "triggers": len(schedulerCfg.Triggers)}).Info("scanner: started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("scanner: shutdown signal received")

	if err := sched.Stop(schedulerCfg.ShutdownGrace); err != nil {
		return fmt.Errorf("scheduler shutdown: %w", err)
	}

	log.Info("scanner: exited gracefully")
	return nil
}

func buildClock(cfg *config.Config) (*clock.RealClock, error) {
	window := clock.DefaultSessionWindow()
	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
		}
		window.Location = loc
	}
	return clock.NewRealClock(window), nil
}

// applyTriggerOverrides swaps in a config-supplied cron spec for any default
// trigger named in overrides, leaving its categories and session-gating
// untouched.
func applyTriggerOverrides(defaults []scheduler.TriggerSpec, overrides map[string]string) []scheduler.TriggerSpec {
	out := make([]scheduler.TriggerSpec, len(defaults))
	for i, spec := range defaults {
		if cron, ok := overrides[spec.Name]; ok && cron != "" {
			spec.CronSpec = cron
		}
		out[i] = spec
	}
	return out
}

// categoryProfile fixes the interval and history window each strategy
// category scans at, matching the cadence its scheduler trigger runs on
// (spec.md §4.8): day trading/short selling scan 15-minute bars since their
// trigger fires every 5 minutes, short term scans hourly bars, and long
// term scans daily bars.
var categoryProfile = map[models.StrategyCategory]struct {
	interval models.Interval
	window   time.Duration
}{
	models.CategoryDayTrading:   {models.Interval15Min, 5 * 24 * time.Hour},
	models.CategoryShortSelling: {models.Interval15Min, 5 * 24 * time.Hour},
	models.CategoryShortTerm:    {models.Interval1Hour, 10 * 24 * time.Hour},
	models.CategoryLongTerm:     {models.Interval1Day, 400 * 24 * time.Hour},
}

// configWatchlist resolves instrument lists from config.WatchlistByCategory
// and interval/history windows from categoryProfile.
type configWatchlist struct {
	instruments map[models.StrategyCategory][]models.Instrument
}

func newConfigWatchlist(byCategory map[string][]string) *configWatchlist {
	w := &configWatchlist{instruments: make(map[models.StrategyCategory][]models.Instrument)}
	for cat, symbols := range byCategory {
		category := models.StrategyCategory(cat)
		instruments := make([]models.Instrument, 0, len(symbols))
		for _, s := range symbols {
			instruments = append(instruments, models.Instrument(s))
		}
		w.instruments[category] = instruments
	}
	return w
}

func (w *configWatchlist) InstrumentsFor(category models.StrategyCategory) []models.Instrument {
	return w.instruments[category]
}

func (w *configWatchlist) IntervalFor(category models.StrategyCategory) models.Interval {
	if profile, ok := categoryProfile[category]; ok {
		return profile.interval
	}
	return models.IntervalDefault
}

func (w *configWatchlist) HistoryWindow(category models.StrategyCategory) time.Duration {
	if profile, ok := categoryProfile[category]; ok {
		return profile.window
	}
	return 24 * time.Hour
}

// noopNotifier discards every notification, used when Telegram is not
// configured so the pipeline still runs end to end in development.
type noopNotifier struct{}

func (noopNotifier) Notify(ctx context.Context, epochID string, category models.StrategyCategory, candidates []models.Candidate) error {
	return nil
}
