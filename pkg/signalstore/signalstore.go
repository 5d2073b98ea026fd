// Package signalstore defines the persistence contract for Signals and a
// Postgres/pgx reference implementation, grounded on the teacher's
// PostgresDB connection-pool wrapper.
package signalstore

import (
	"context"
	"time"

	"github.com/marketwatch/scanscheduler/internal/models"
)

// Store is the external persistence contract consumed by the signal
// pipeline (spec.md §6). Every call accepts a cancellation token; the store
// owns its own transaction boundaries.
type Store interface {
	Create(ctx context.Context, signal models.Signal) (string, error)
	FindActive(ctx context.Context, instrument models.Instrument, side models.Side, strategyName string, since time.Time) ([]models.Signal, error)
	ExpireOverdue(ctx context.Context, now time.Time) (int, error)
	SetStatus(ctx context.Context, id string, from, to models.SignalStatus) (bool, error)
}
