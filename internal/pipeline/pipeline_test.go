package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/marketwatch/scanscheduler/internal/models"
	"github.com/marketwatch/scanscheduler/pkg/riskpolicy"
)

type mockStore struct{ mock.Mock }

func (m *mockStore) Create(ctx context.Context, signal models.Signal) (string, error) {
	args := m.Called(ctx, signal)
	return args.String(0), args.Error(1)
}

func (m *mockStore) FindActive(ctx context.Context, instrument models.Instrument, side models.Side, strategyName string, since time.Time) ([]models.Signal, error) {
	args := m.Called(ctx, instrument, side, strategyName, since)
	if v := args.Get(0); v != nil {
		return v.([]models.Signal), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) SetStatus(ctx context.Context, id string, from, to models.SignalStatus) (bool, error) {
	args := m.Called(ctx, id, from, to)
	return args.Bool(0), args.Error(1)
}

type mockRisk struct{ mock.Mock }

func (m *mockRisk) Evaluate(ctx context.Context, candidate models.Candidate, portfolio riskpolicy.PortfolioSnapshot) (riskpolicy.Decision, error) {
	args := m.Called(ctx, candidate, portfolio)
	return args.Get(0).(riskpolicy.Decision), args.Error(1)
}

type mockNotifier struct{ mock.Mock }

func (m *mockNotifier) Notify(ctx context.Context, epochID string, category models.StrategyCategory, candidates []models.Candidate) error {
	args := m.Called(ctx, epochID, category, candidates)
	return args.Error(0)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func testCandidate() models.Candidate {
	return models.Candidate{
		Instrument: "NSE:X", Side: models.SideBuy, StrategyName: "ema_crossover",
		Entry: decimal.NewFromInt(100), Stop: decimal.NewFromInt(90), Target: decimal.NewFromInt(120),
		Confidence: decimal.NewFromFloat(0.7), Category: models.CategoryDayTrading,
	}
}

func TestProcess_PersistsAndNotifiesAcceptedCandidate(t *testing.T) {
	store := &mockStore{}
	risk := &mockRisk{}
	notifier := &mockNotifier{}
	clock := fixedClock{now: time.Now()}

	store.On("FindActive", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]models.Signal{}, nil)
	risk.On("Evaluate", mock.Anything, mock.Anything, mock.Anything).Return(riskpolicy.Decision{Accept: true, Quantity: decimal.NewFromInt(5)}, nil)
	store.On("Create", mock.Anything, mock.Anything).Return("sig-1", nil)
	notifier.On("Notify", mock.Anything, "epoch-1", models.CategoryDayTrading, mock.Anything).Return(nil)

	p := New(store, risk, notifier, clock, DefaultConfig(), nil)
	stats := p.Process(context.Background(), "epoch-1", []models.Candidate{testCandidate()}, riskpolicy.PortfolioSnapshot{})

	assert.Equal(t, 1, stats.Persisted)
	assert.Equal(t, 1, stats.Notified)
	store.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestProcess_SuppressesDuplicates(t *testing.T) {
	store := &mockStore{}
	risk := &mockRisk{}
	notifier := &mockNotifier{}
	clock := fixedClock{now: time.Now()}

	existing := []models.Signal{{ID: "sig-0", Status: models.StatusPending}}
	store.On("FindActive", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(existing, nil)

	p := New(store, risk, notifier, clock, DefaultConfig(), nil)
	stats := p.Process(context.Background(), "epoch-1", []models.Candidate{testCandidate()}, riskpolicy.PortfolioSnapshot{})

	assert.Equal(t, 1, stats.DedupSuppressed)
	risk.AssertNotCalled(t, "Evaluate")
	store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestProcess_RiskRejectionDropsCandidate(t *testing.T) {
	store := &mockStore{}
	risk := &mockRisk{}
	notifier := &mockNotifier{}
	clock := fixedClock{now: time.Now()}

	store.On("FindActive", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]models.Signal{}, nil)
	risk.On("Evaluate", mock.Anything, mock.Anything, mock.Anything).Return(riskpolicy.Decision{Accept: false, Reason: "too risky"}, nil)

	p := New(store, risk, notifier, clock, DefaultConfig(), nil)
	stats := p.Process(context.Background(), "epoch-1", []models.Candidate{testCandidate()}, riskpolicy.PortfolioSnapshot{})

	assert.Equal(t, 1, stats.RiskRejected)
	store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestProcess_InvalidCandidateNeverReachesRiskOrStore(t *testing.T) {
	store := &mockStore{}
	risk := &mockRisk{}
	notifier := &mockNotifier{}
	clock := fixedClock{now: time.Now()}

	invalid := testCandidate()
	invalid.Stop = decimal.NewFromInt(200) // breaks BUY ordering invariant

	p := New(store, risk, notifier, clock, DefaultConfig(), nil)
	stats := p.Process(context.Background(), "epoch-1", []models.Candidate{invalid}, riskpolicy.PortfolioSnapshot{})

	assert.Equal(t, 1, stats.InvalidCand)
	risk.AssertNotCalled(t, "Evaluate")
	store.AssertNotCalled(t, "FindActive", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcess_AutoTradeApprovesHighConfidence(t *testing.T) {
	store := &mockStore{}
	risk := &mockRisk{}
	notifier := &mockNotifier{}
	clock := fixedClock{now: time.Now()}

	candidate := testCandidate()
	candidate.Confidence = decimal.NewFromFloat(0.9)

	store.On("FindActive", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]models.Signal{}, nil)
	risk.On("Evaluate", mock.Anything, mock.Anything, mock.Anything).Return(riskpolicy.Decision{Accept: true, Quantity: decimal.NewFromInt(5)}, nil)
	store.On("Create", mock.Anything, mock.Anything).Return("sig-1", nil)
	store.On("SetStatus", mock.Anything, "sig-1", models.StatusPending, models.StatusApproved).Return(true, nil)
	notifier.On("Notify", mock.Anything, "epoch-1", models.CategoryDayTrading, mock.Anything).Return(nil)

	cfg := DefaultConfig()
	cfg.AutoTrade = true
	cfg.AutoThreshold = decimal.NewFromFloat(0.85)

	p := New(store, risk, notifier, clock, cfg, nil)
	p.Process(context.Background(), "epoch-1", []models.Candidate{candidate}, riskpolicy.PortfolioSnapshot{})

	store.AssertCalled(t, "SetStatus", mock.Anything, "sig-1", models.StatusPending, models.StatusApproved)
}

func TestProcess_PersistFailureIsCounted(t *testing.T) {
	store := &mockStore{}
	risk := &mockRisk{}
	notifier := &mockNotifier{}
	clock := fixedClock{now: time.Now()}

	store.On("FindActive", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]models.Signal{}, nil)
	risk.On("Evaluate", mock.Anything, mock.Anything, mock.Anything).Return(riskpolicy.Decision{Accept: true, Quantity: decimal.NewFromInt(5)}, nil)
	store.On("Create", mock.Anything, mock.Anything).Return("", assert.AnError)

	p := New(store, risk, notifier, clock, DefaultConfig(), nil)
	stats := p.Process(context.Background(), "epoch-1", []models.Candidate{testCandidate()}, riskpolicy.PortfolioSnapshot{})

	require.Equal(t, 1, stats.PersistFailed)
	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
