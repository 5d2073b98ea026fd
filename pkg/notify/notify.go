// Package notify defines the notification contract used by the signal
// pipeline and a Telegram reference implementation, grounded on the
// teacher's NotificationService.
package notify

import (
	"context"

	"github.com/marketwatch/scanscheduler/internal/models"
)

// Notifier delivers a batch of candidates for one category, once per epoch
// per category (spec.md §4.7). Best-effort: failures are logged by the
// caller, never retried here.
type Notifier interface {
	Notify(ctx context.Context, epochID string, category models.StrategyCategory, candidates []models.Candidate) error
}
