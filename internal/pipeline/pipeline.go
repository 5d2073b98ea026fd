// Package pipeline implements the signal pipeline (C7): dedup, risk
// evaluation, persistence, notification, and optional auto-approval for
// scanner-produced candidates. Grounded on the teacher's SignalAggregator
// (dedup/config shape) and NotificationService (category-grouped dispatch).
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/marketwatch/scanscheduler/internal/models"
	"github.com/marketwatch/scanscheduler/pkg/notify"
	"github.com/marketwatch/scanscheduler/pkg/riskpolicy"
	"github.com/marketwatch/scanscheduler/pkg/signalstore"
)

// Clock supplies "now" for dedup windows, expiry, and signal timestamps.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces a unique signal ID. The default is uuid.NewString.
type IDGenerator func() string

// Config bounds pipeline behavior (spec.md §4.7).
type Config struct {
	DedupQuietWindow time.Duration
	SignalTTL        time.Duration
	AutoTrade        bool
	AutoThreshold    decimal.Decimal
}

// DefaultConfig matches the spec's stated defaults: a one trading-session
// quiet window (approximated here as 24h, since session-calendar dedup
// windows are the caller's Clock/Calendar's concern) and a 1h signal TTL.
func DefaultConfig() Config {
	return Config{
		DedupQuietWindow: 24 * time.Hour,
		SignalTTL:        time.Hour,
		AutoTrade:        false,
		AutoThreshold:    decimal.NewFromFloat(0.8),
	}
}

// Pipeline turns candidates into persisted, notified signals.
type Pipeline struct {
	store    signalstore.Store
	risk     riskpolicy.Policy
	notifier notify.Notifier
	clock    Clock
	cfg      Config
	idGen    IDGenerator
	log      *logrus.Logger
}

// New builds a Pipeline.
func New(store signalstore.Store, risk riskpolicy.Policy, notifier notify.Notifier, clock Clock, cfg Config, log *logrus.Logger) *Pipeline {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pipeline{
		store:    store,
		risk:     risk,
		notifier: notifier,
		clock:    clock,
		cfg:      cfg,
		idGen:    uuid.NewString,
		log:      log,
	}
}

// Process runs every candidate through dedup, risk, persistence, and
// notification, returning updated stats. Candidates are grouped by category
// for a single notification batch per category, per spec.md §4.7 step 4.
func (p *Pipeline) Process(ctx context.Context, epochID string, candidates []models.Candidate, portfolio riskpolicy.PortfolioSnapshot) models.ScanStats {
	stats := models.ScanStats{}
	byCategory := make(map[models.StrategyCategory][]models.Candidate)

	for _, candidate := range candidates {
		if !candidate.Valid() {
			stats.InvalidCand++
			continue
		}

		suppressed, err := p.isDuplicate(ctx, candidate)
		if err != nil {
			p.log.WithError(err).Warn("pipeline: dedup check failed, proceeding without suppression")
		} else if suppressed {
			stats.DedupSuppressed++
			continue
		}

		decision, err := p.risk.Evaluate(ctx, candidate, portfolio)
		if err != nil {
			p.log.WithError(err).Warn("pipeline: risk evaluation failed")
			stats.RiskRejected++
			continue
		}
		if !decision.Accept {
			stats.RiskRejected++
			continue
		}

		signal := models.NewSignal(p.idGen(), candidate, decision.Quantity, decision.Notes, p.clock.Now(), p.cfg.SignalTTL)

		id, err := p.store.Create(ctx, signal)
		if err != nil {
			p.log.WithError(err).Warn("pipeline: persistence failed")
			stats.PersistFailed++
			continue
		}
		stats.Persisted++

		if p.cfg.AutoTrade && candidate.Confidence.GreaterThanOrEqual(p.cfg.AutoThreshold) {
			if ok, err := p.store.SetStatus(ctx, id, models.StatusPending, models.StatusApproved); err != nil || !ok {
				p.log.WithFields(logrus.Fields{"signal_id": id, "error": err}).Warn("pipeline: auto-approve transition failed")
			}
		}

		byCategory[candidate.Category] = append(byCategory[candidate.Category], candidate)
	}

	for category, batch := range byCategory {
		if err := p.notifier.Notify(ctx, epochID, category, batch); err != nil {
			p.log.WithError(err).Warn("pipeline: notification failed")
			stats.NotifyFailed++
			continue
		}
		stats.Notified += len(batch)
	}

	return stats
}

// isDuplicate reports whether an active signal already exists for the same
// (instrument, side, strategy_name) within the configured quiet window.
func (p *Pipeline) isDuplicate(ctx context.Context, candidate models.Candidate) (bool, error) {
	since := p.clock.Now().Add(-p.cfg.DedupQuietWindow)
	active, err := p.store.FindActive(ctx, candidate.Instrument, candidate.Side, candidate.StrategyName, since)
	if err != nil {
		return false, err
	}
	return len(active) > 0, nil
}
