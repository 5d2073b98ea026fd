package notify

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketwatch/scanscheduler/internal/models"
)

func TestNewTelegramNotifier_EmptyTokenDisablesBot(t *testing.T) {
	n, err := NewTelegramNotifier("", []int64{1}, nil)
	require.NoError(t, err)
	assert.Nil(t, n.bot)
}

func TestNotify_NoopWhenDisabled(t *testing.T) {
	n, err := NewTelegramNotifier("", []int64{1}, nil)
	require.NoError(t, err)

	candidates := []models.Candidate{{Instrument: "NSE:X", Side: models.SideBuy, Entry: decimal.NewFromInt(100), Stop: decimal.NewFromInt(90), Target: decimal.NewFromInt(120), Confidence: decimal.NewFromFloat(0.5)}}
	err = n.Notify(context.Background(), "epoch-1", models.CategoryDayTrading, candidates)
	assert.NoError(t, err)
}

func TestNotify_NoopOnEmptyCandidates(t *testing.T) {
	n, err := NewTelegramNotifier("", []int64{1}, nil)
	require.NoError(t, err)
	err = n.Notify(context.Background(), "epoch-1", models.CategoryDayTrading, nil)
	assert.NoError(t, err)
}

func TestFormatCandidateBatch_TruncatesAndCounts(t *testing.T) {
	candidates := make([]models.Candidate, 8)
	for i := range candidates {
		candidates[i] = models.Candidate{
			Instrument: "NSE:X", Side: models.SideBuy,
			Entry: decimal.NewFromInt(100), Stop: decimal.NewFromInt(90), Target: decimal.NewFromInt(120),
			Confidence: decimal.NewFromFloat(0.5),
		}
	}
	msg := formatCandidateBatch("epoch-1", models.CategoryDayTrading, candidates)
	assert.Contains(t, msg, "DAY_TRADING")
	assert.Contains(t, msg, "epoch-1")
	assert.Contains(t, msg, "and 3 more")
}
