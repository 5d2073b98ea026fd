// Package fetcher wraps a broker.Client with per-call timeouts, full-jitter
// exponential backoff, and per-instrument circuit breaking, adapted from the
// teacher's circuit_breaker.go/timeout_manager.go/error_recovery.go trio
// into a single component matching spec.md §4.5's Fetcher contract.
package fetcher

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/marketwatch/scanscheduler/internal/models"
	"github.com/marketwatch/scanscheduler/pkg/broker"
)

// Clock is the minimal time source the fetcher needs for its own bookkeeping
// (the circuit breaker's open-state timer). Broker RPC deadlines still come
// from the caller's context, per spec.md's cooperative-cancellation model.
type Clock interface {
	Now() time.Time
}

// BackoffPolicy configures the full-jitter retry schedule: base 500ms, cap
// 8s, max 3 attempts total. MaxRetries counts retries after the first call,
// so a total of 1+MaxRetries broker calls can be made for one FetchBars.
type BackoffPolicy struct {
	Base       time.Duration
	Cap        time.Duration
	MaxRetries int
}

// DefaultBackoffPolicy matches the spec's mandated constants exactly: one
// initial call plus two retries, three attempts total.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{Base: 500 * time.Millisecond, Cap: 8 * time.Second, MaxRetries: 2}
}

// nextDelay computes a full-jitter delay for the given retry attempt
// (0-indexed), per Marc Brooker's "Exponential Backoff and Jitter" formula:
// sleep = random_between(0, min(cap, base * 2^attempt)).
func (p BackoffPolicy) nextDelay(attempt int, rnd *rand.Rand) time.Duration {
	exp := p.Base << uint(attempt)
	if exp <= 0 || exp > p.Cap {
		exp = p.Cap
	}
	if exp <= 0 {
		return 0
	}
	return time.Duration(rnd.Int63n(int64(exp)))
}

// CallTimeouts bounds a single broker RPC by call type (spec.md §5).
type CallTimeouts struct {
	Intraday time.Duration
	History  time.Duration
}

// DefaultCallTimeouts matches the hard timeout table in spec.md §5.
func DefaultCallTimeouts() CallTimeouts {
	return CallTimeouts{Intraday: 30 * time.Second, History: 60 * time.Second}
}

func (t CallTimeouts) forInterval(iv models.Interval) time.Duration {
	if iv.IsIntraday() {
		return t.Intraday
	}
	return t.History
}

// Fetcher wraps a broker.Client with retries, timeouts, and per-instrument
// circuit breaking.
type Fetcher struct {
	client   broker.Client
	clock    Clock
	backoff  BackoffPolicy
	timeouts CallTimeouts
	log      *logrus.Logger

	cbConfig circuitBreakerConfig
	mu       sync.Mutex
	breakers map[models.Instrument]*circuitBreaker

	rndMu sync.Mutex
	rnd   *rand.Rand
}

// Option configures a Fetcher at construction time.
type Option func(*Fetcher)

// WithBackoffPolicy overrides the default retry schedule.
func WithBackoffPolicy(p BackoffPolicy) Option { return func(f *Fetcher) { f.backoff = p } }

// WithCallTimeouts overrides the default per-call-type timeout table.
func WithCallTimeouts(t CallTimeouts) Option { return func(f *Fetcher) { f.timeouts = t } }

// WithLogger overrides the default logger.
func WithLogger(l *logrus.Logger) Option { return func(f *Fetcher) { f.log = l } }

// New builds a Fetcher around client, using clock only for circuit-breaker
// bookkeeping.
func New(client broker.Client, clock Clock, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:   client,
		clock:    clock,
		backoff:  DefaultBackoffPolicy(),
		timeouts: DefaultCallTimeouts(),
		log:      logrus.StandardLogger(),
		cbConfig: defaultCircuitBreakerConfig(),
		breakers: make(map[models.Instrument]*circuitBreaker),
		rnd:      rand.New(rand.NewSource(1)),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchBars retrieves bars for instrument over [from, to), retrying
// RateLimited/Transient/Timeout failures with full jitter until deadline, up
// to the configured max attempts. Unauthorized and Permanent errors return
// immediately without retry, and never populate a cache entry.
func (f *Fetcher) FetchBars(ctx context.Context, instrument models.Instrument, interval models.Interval, from, to time.Time, deadline time.Time) (models.BarSeries, error) {
	cb := f.breakerFor(instrument)
	if !cb.allow() {
		return models.BarSeries{}, &broker.Error{Kind: broker.KindTransient, Op: "circuit_open", Err: nil}
	}

	var lastErr error
	for attempt := 0; attempt <= f.backoff.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return models.BarSeries{}, ctx.Err()
		}

		callTimeout := f.timeouts.forInterval(interval)
		if remaining := time.Until(deadline); remaining < callTimeout {
			callTimeout = remaining
		}
		if callTimeout <= 0 {
			return models.BarSeries{}, &broker.Error{Kind: broker.KindTimeout, Op: "deadline_exceeded", Err: ctx.Err()}
		}

		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		series, err := f.client.FetchHistorical(callCtx, instrument, interval, from, to)
		cancel()

		if err == nil {
			cb.recordSuccess()
			return series, nil
		}

		lastErr = err
		cb.recordFailure()

		if !broker.Retryable(err) {
			return models.BarSeries{}, err
		}
		if attempt == f.backoff.MaxRetries {
			break
		}

		delay := f.jitteredDelay(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return models.BarSeries{}, ctx.Err()
		}
	}

	return models.BarSeries{}, lastErr
}

func (f *Fetcher) breakerFor(instrument models.Instrument) *circuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()

	cb, ok := f.breakers[instrument]
	if !ok {
		cb = newCircuitBreaker(string(instrument), f.cbConfig, f.log, f.clock)
		f.breakers[instrument] = cb
	}
	return cb
}

// jitteredDelay computes one backoff delay under the shared PRNG's lock,
// since *rand.Rand is not safe for concurrent use across fetcher goroutines.
func (f *Fetcher) jitteredDelay(attempt int) time.Duration {
	f.rndMu.Lock()
	defer f.rndMu.Unlock()
	return f.backoff.nextDelay(attempt, f.rnd)
}
