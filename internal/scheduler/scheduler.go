// Package scheduler implements the scheduler loop (C8): named cron
// triggers that fire scan epochs, an overlap-skip guard per trigger, a
// periodic PENDING->EXPIRED sweep, and a graceful-shutdown control surface.
// Grounded on the teacher's collector.go worker lifecycle and cleanup.go's
// periodic-sweep pattern, and on the Python original's optimized_scheduler
// trigger table.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/marketwatch/scanscheduler/internal/models"
	"github.com/marketwatch/scanscheduler/internal/scanner"
	"github.com/marketwatch/scanscheduler/pkg/riskpolicy"
)

// Clock supplies "now", session classification, and cron-fire math. Satisfied
// by internal/clock.Clock.
type Clock interface {
	Now() time.Time
	InSession(t time.Time) bool
	NextFire(spec string, after time.Time) (time.Time, error)
}

// Scanner runs one scan epoch. Satisfied by *scanner.Scanner.
type Scanner interface {
	RunEpoch(ctx context.Context, epoch models.ScanEpoch) scanner.Result
}

// SignalPipeline turns scan candidates into persisted, notified signals.
// Satisfied by *pipeline.Pipeline.
type SignalPipeline interface {
	Process(ctx context.Context, epochID string, candidates []models.Candidate, portfolio riskpolicy.PortfolioSnapshot) models.ScanStats
}

// PortfolioProvider supplies the capital/exposure snapshot the risk policy
// needs. Portfolio optimization itself is out of scope (spec.md Non-goals);
// this interface exists only to hand the pipeline a current snapshot.
type PortfolioProvider interface {
	Snapshot(ctx context.Context) (riskpolicy.PortfolioSnapshot, error)
}

// ExpireSweeper transitions overdue PENDING signals to EXPIRED. Satisfied by
// signalstore.Store.
type ExpireSweeper interface {
	ExpireOverdue(ctx context.Context, now time.Time) (int, error)
}

// IDGenerator produces a unique epoch ID. Defaults to uuid.NewString.
type IDGenerator func() string

// Config bounds the scheduler's cadences, timeouts, and shutdown behavior.
type Config struct {
	Triggers      []TriggerSpec
	EpochTimeout  time.Duration
	SweepInterval time.Duration
	ShutdownGrace time.Duration
}

// DefaultConfig matches spec.md §4.8/§5: the four default triggers, a 300s
// epoch timeout, and a 30s shutdown grace period. SweepInterval has no
// stated default in the spec; one minute is chosen so overdue signals never
// sit stale for longer than the shortest configured signal TTL, which is
// the pipeline's own default of one hour.
func DefaultConfig() Config {
	return Config{
		Triggers:      DefaultTriggers(),
		EpochTimeout:  300 * time.Second,
		SweepInterval: time.Minute,
		ShutdownGrace: 30 * time.Second,
	}
}

// TriggerStats accumulates one trigger's execution history.
type TriggerStats struct {
	TotalRuns       int
	SkippedOverlap  int
	LastEpochID     string
	LastTriggeredAt time.Time
	LastDuration    time.Duration
	LastErr         error
}

// SchedulerStats is the aggregate returned by Stats().
type SchedulerStats struct {
	Triggers     map[string]TriggerStats
	Sweeps       int
	SweptExpired int
}

// NextRun names a trigger and the next instant it's scheduled to fire.
type NextRun struct {
	Trigger string
	At      time.Time
}

type triggerRuntime struct {
	spec TriggerSpec

	runMu sync.Mutex // held for an epoch's duration; TryLock detects overlap

	mu       sync.Mutex // guards the fields below
	nextFire time.Time
	stats    TriggerStats
}

// Scheduler fires named scan epochs on their configured cadences and sweeps
// overdue signals to EXPIRED. It is the only component in this module that
// owns a background goroutine per trigger.
type Scheduler struct {
	clock     Clock
	scan      Scanner
	pipeline  SignalPipeline
	portfolio PortfolioProvider
	sweeper   ExpireSweeper
	idGen     IDGenerator
	cfg       Config
	log       *logrus.Logger

	mu       sync.Mutex
	triggers map[string]*triggerRuntime
	order    []string
	started  bool
	ctx      context.Context
	cancel   context.CancelFunc

	sweepMu    sync.Mutex
	sweeps     int
	sweptTotal int

	wg sync.WaitGroup
}

// New builds a Scheduler. portfolio may be nil, in which case every epoch
// is risk-evaluated against a zero PortfolioSnapshot.
func New(clock Clock, scan Scanner, pipeline SignalPipeline, portfolio PortfolioProvider, sweeper ExpireSweeper, cfg Config, log *logrus.Logger) *Scheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Scheduler{
		clock:     clock,
		scan:      scan,
		pipeline:  pipeline,
		portfolio: portfolio,
		sweeper:   sweeper,
		idGen:     uuid.NewString,
		cfg:       cfg,
		log:       log,
		triggers:  make(map[string]*triggerRuntime),
	}
	now := clock.Now()
	for _, spec := range cfg.Triggers {
		rt := &triggerRuntime{spec: spec}
		if next, err := computeNextFire(clock, spec, now); err == nil {
			rt.nextFire = next
		} else {
			log.WithFields(logrus.Fields{"trigger": spec.Name, "error": err}).Error("scheduler: failed to compute initial next-fire")
		}
		s.triggers[spec.Name] = rt
		s.order = append(s.order, spec.Name)
	}
	return s
}

// Start launches one goroutine per trigger plus the expiry sweeper. It is
// an error to call Start twice without an intervening Stop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.ctx = ctx
	s.cancel = cancel
	s.started = true
	names := append([]string(nil), s.order...)
	s.mu.Unlock()

	for _, name := range names {
		rt := s.triggers[name]
		rt.mu.Lock()
		next := rt.nextFire
		rt.mu.Unlock()
		s.log.WithFields(logrus.Fields{"trigger": name, "next_fire": next}).Info("scheduler: trigger scheduled")
	}

	for _, name := range names {
		s.wg.Add(1)
		go s.runTrigger(ctx, name)
	}
	s.wg.Add(1)
	go s.runSweeper(ctx)

	return nil
}

// Stop cancels every in-flight epoch and waits up to grace for outstanding
// work to finish, returning an error if the grace period is exceeded.
func (s *Scheduler) Stop(grace time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.started = false
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(grace):
		return fmt.Errorf("scheduler: shutdown grace period of %s exceeded", grace)
	}
}

// TriggerNow forces an out-of-band run of the named trigger, subject to the
// same overlap guard as its scheduled fires, and returns the epoch ID.
func (s *Scheduler) TriggerNow(name string) (string, error) {
	s.mu.Lock()
	rt, ok := s.triggers[name]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("scheduler: unknown trigger %q", name)
	}
	if !s.started {
		s.mu.Unlock()
		return "", fmt.Errorf("scheduler: not started")
	}
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	return s.fire(ctx, rt)
}

// Stats returns a snapshot of every trigger's execution history plus sweep
// counters.
func (s *Scheduler) Stats() SchedulerStats {
	out := SchedulerStats{Triggers: make(map[string]TriggerStats, len(s.triggers))}
	for name, rt := range s.triggers {
		rt.mu.Lock()
		out.Triggers[name] = rt.stats
		rt.mu.Unlock()
	}
	s.sweepMu.Lock()
	out.Sweeps = s.sweeps
	out.SweptExpired = s.sweptTotal
	s.sweepMu.Unlock()
	return out
}

// NextRuns lists every trigger's next scheduled fire time, in configuration
// order.
func (s *Scheduler) NextRuns() []NextRun {
	out := make([]NextRun, 0, len(s.order))
	for _, name := range s.order {
		rt := s.triggers[name]
		rt.mu.Lock()
		out = append(out, NextRun{Trigger: name, At: rt.nextFire})
		rt.mu.Unlock()
	}
	return out
}

// runTrigger waits for each of a trigger's scheduled fires in turn, until
// ctx is cancelled. Each fire is dispatched into its own goroutine so a
// slow epoch can never delay the loop from reaching its next tick — the
// next tick's fire then finds the previous epoch still running and skips
// with a recorded overlap, exactly as spec.md §4.8's overlap guard
// requires. Running fire synchronously here would park this loop for the
// whole epoch, making TryLock unreachable from the scheduled path.
func (s *Scheduler) runTrigger(ctx context.Context, name string) {
	defer s.wg.Done()
	rt := s.triggers[name]

	for {
		rt.mu.Lock()
		next := rt.nextFire
		rt.mu.Unlock()

		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		// Registered here, before the goroutine starts, so Stop's Wait can
		// never observe the counter at zero while this fire is still about
		// to run — an Add after Wait has returned would reuse and panic the
		// WaitGroup.
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if _, err := s.fire(ctx, rt); err != nil {
				s.log.WithFields(logrus.Fields{"trigger": name, "error": err}).Warn("scheduler: trigger fire skipped")
			}
		}()

		// Compute the next tick from the current wall clock, not from the
		// fire just dispatched, so a run of missed ticks collapses to the
		// next one still ahead of us instead of queuing up and firing late
		// back-to-back.
		after, err := computeNextFire(s.clock, rt.spec, s.clock.Now())
		if err != nil {
			s.log.WithFields(logrus.Fields{"trigger": name, "error": err}).Error("scheduler: failed to compute next fire, retrying in a minute")
			after = s.clock.Now().Add(time.Minute)
		}
		rt.mu.Lock()
		rt.nextFire = after
		rt.mu.Unlock()
	}
}

// fire runs one epoch for rt, skipping it with a recorded overlap if the
// previous epoch for this trigger hasn't finished yet. Callers must already
// hold a slot on the scheduler's WaitGroup before calling fire, so that
// Stop()'s Wait can't return while a fire is still in flight or about to
// start.
func (s *Scheduler) fire(ctx context.Context, rt *triggerRuntime) (string, error) {
	if !rt.runMu.TryLock() {
		rt.mu.Lock()
		rt.stats.SkippedOverlap++
		rt.mu.Unlock()
		s.log.WithField("trigger", rt.spec.Name).Warn("scheduler: skipped fire, previous epoch still running")
		return "", fmt.Errorf("scheduler: trigger %q overlap, previous epoch still running", rt.spec.Name)
	}
	defer rt.runMu.Unlock()

	epochID := s.idGen()
	start := s.clock.Now()
	epoch := models.ScanEpoch{
		EpochID:     epochID,
		TriggerName: rt.spec.Name,
		TriggeredAt: start,
		Categories:  rt.spec.Categories,
		Deadline:    start.Add(s.cfg.EpochTimeout),
	}

	log := s.log.WithFields(logrus.Fields{"trigger": rt.spec.Name, "epoch_id": epochID})
	log.Info("scheduler: epoch starting")

	result := s.scan.RunEpoch(ctx, epoch)

	portfolio := riskpolicy.PortfolioSnapshot{}
	if s.portfolio != nil {
		snap, err := s.portfolio.Snapshot(ctx)
		if err != nil {
			log.WithError(err).Warn("scheduler: portfolio snapshot failed, evaluating with zero capital")
		} else {
			portfolio = snap
		}
	}

	pipelineStats := s.pipeline.Process(ctx, epochID, result.Candidates, portfolio)
	epoch.Stats = mergeStats(result.Stats, pipelineStats)

	duration := s.clock.Now().Sub(start)
	log.WithFields(logrus.Fields{
		"candidates": epoch.Stats.Candidates,
		"persisted":  epoch.Stats.Persisted,
		"duration":   duration,
	}).Info("scheduler: epoch complete")

	rt.mu.Lock()
	rt.stats.TotalRuns++
	rt.stats.LastEpochID = epochID
	rt.stats.LastTriggeredAt = start
	rt.stats.LastDuration = duration
	rt.stats.LastErr = nil
	rt.mu.Unlock()

	return epochID, nil
}

// mergeStats combines the scanner's fetch/candidate counters with the
// pipeline's persistence/notification counters into one ScanEpoch summary.
func mergeStats(scan, pipeline models.ScanStats) models.ScanStats {
	scan.Persisted = pipeline.Persisted
	scan.Notified = pipeline.Notified
	scan.DedupSuppressed = pipeline.DedupSuppressed
	scan.RiskRejected = pipeline.RiskRejected
	scan.InvalidCand = pipeline.InvalidCand
	scan.PersistFailed = pipeline.PersistFailed
	scan.NotifyFailed = pipeline.NotifyFailed
	return scan
}

// runSweeper periodically transitions overdue PENDING signals to EXPIRED.
func (s *Scheduler) runSweeper(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.sweeper.ExpireOverdue(ctx, s.clock.Now())
			s.sweepMu.Lock()
			s.sweeps++
			if err != nil {
				s.log.WithError(err).Warn("scheduler: expiry sweep failed")
			} else {
				s.sweptTotal += n
			}
			s.sweepMu.Unlock()
		}
	}
}
