// Package broker defines the external market-data provider contract the
// scan scheduler depends on, plus an HTTP reference implementation.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/marketwatch/scanscheduler/internal/models"
)

// ErrorKind classifies a broker failure so the fetcher can decide whether to
// retry, following the taxonomy in spec.md §4.5/§7.
type ErrorKind string

const (
	KindTimeout      ErrorKind = "TIMEOUT"
	KindUnauthorized ErrorKind = "UNAUTHORIZED"
	KindRateLimited  ErrorKind = "RATE_LIMITED"
	KindTransient    ErrorKind = "TRANSIENT"
	KindPermanent    ErrorKind = "PERMANENT"
	KindNotFound     ErrorKind = "NOT_FOUND"
)

// Error wraps a broker failure with its classification. Only Timeout,
// RateLimited, and Transient are ever retried by the fetcher.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind) + ": " + e.Op
	}
	return string(e.Kind) + ": " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the fetcher's backoff policy applies to err.
func Retryable(err error) bool {
	var be *Error
	if !errors.As(err, &be) {
		return false
	}
	switch be.Kind {
	case KindTimeout, KindRateLimited, KindTransient:
		return true
	default:
		return false
	}
}

// Client is the external market-data provider consumed by the fetcher. The
// core issues exactly this one call; no other broker RPC is made from core
// packages (spec.md §6).
type Client interface {
	FetchHistorical(ctx context.Context, instrument models.Instrument, interval models.Interval, from, to time.Time) (models.BarSeries, error)
}
