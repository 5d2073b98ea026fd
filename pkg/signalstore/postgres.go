package signalstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/marketwatch/scanscheduler/internal/models"
)

// PostgresConfig mirrors the teacher's flat database.Config shape.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// pool is the minimal pgx pool surface PostgresStore needs. *pgxpool.Pool
// satisfies it in production; tests satisfy it with a pgxmock pool, which
// stays confined to postgres_test.go.
type pool interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore is the reference Store implementation over a pgx pool.
type PostgresStore struct {
	pool pool
	log  *logrus.Logger
}

// NewPostgresStore opens a pool against cfg and verifies connectivity,
// following the teacher's NewPostgresConnection shape (build DSN, open pool,
// ping once at startup).
func NewPostgresStore(ctx context.Context, cfg PostgresConfig, log *logrus.Logger) (*PostgresStore, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("signalstore: create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("signalstore: ping database: %w", err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.Info("signalstore: connected to postgres")

	return &PostgresStore{pool: pool, log: log}, nil
}

// newPostgresStoreWithPool builds a PostgresStore around an already-open
// pool, letting tests inject a pgxmock pool in place of a live database
// connection.
func newPostgresStoreWithPool(p pool, log *logrus.Logger) *PostgresStore {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PostgresStore{pool: p, log: log}
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
		s.log.Info("signalstore: connection closed")
	}
}

// HealthCheck pings the pool.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Create inserts signal with the status it carries and returns its id.
func (s *PostgresStore) Create(ctx context.Context, signal models.Signal) (string, error) {
	const query = `
		INSERT INTO signals
			(id, instrument, side, strategy_name, category, entry, stop, target,
			 confidence, quantity, status, created_at, expires_at, risk_notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING id`

	var id string
	err := s.pool.QueryRow(ctx, query,
		signal.ID, signal.Instrument, signal.Side, signal.StrategyName, signal.Category,
		signal.Entry, signal.Stop, signal.Target, signal.Confidence, signal.Quantity,
		signal.Status, signal.CreatedAt, signal.ExpiresAt, signal.RiskNotes,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("signalstore: create: %w", err)
	}
	return id, nil
}

// FindActive returns non-terminal signals matching the dedup key created
// since the given instant (spec.md §4.7's quiet-window filter).
func (s *PostgresStore) FindActive(ctx context.Context, instrument models.Instrument, side models.Side, strategyName string, since time.Time) ([]models.Signal, error) {
	const query = `
		SELECT id, instrument, side, strategy_name, category, entry, stop, target,
		       confidence, quantity, status, created_at, expires_at, risk_notes
		FROM signals
		WHERE instrument = $1 AND side = $2 AND strategy_name = $3
		  AND status IN ('PENDING', 'APPROVED')
		  AND created_at >= $4`

	rows, err := s.pool.Query(ctx, query, instrument, side, strategyName, since)
	if err != nil {
		return nil, fmt.Errorf("signalstore: find active: %w", err)
	}
	defer rows.Close()

	var out []models.Signal
	for rows.Next() {
		var sig models.Signal
		if err := rows.Scan(
			&sig.ID, &sig.Instrument, &sig.Side, &sig.StrategyName, &sig.Category,
			&sig.Entry, &sig.Stop, &sig.Target, &sig.Confidence, &sig.Quantity,
			&sig.Status, &sig.CreatedAt, &sig.ExpiresAt, &sig.RiskNotes,
		); err != nil {
			return nil, fmt.Errorf("signalstore: scan active row: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// ExpireOverdue transitions every PENDING signal past its expiry into
// EXPIRED, returning the count affected. Grounded on the teacher's
// cleanup.go periodic-sweep pattern.
func (s *PostgresStore) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	const query = `
		UPDATE signals SET status = 'EXPIRED'
		WHERE status = 'PENDING' AND expires_at <= $1`

	tag, err := s.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("signalstore: expire overdue: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// SetStatus performs a compare-and-set transition, only succeeding if the
// row's current status matches from.
func (s *PostgresStore) SetStatus(ctx context.Context, id string, from, to models.SignalStatus) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, fmt.Errorf("signalstore: illegal transition %s -> %s", from, to)
	}

	const query = `UPDATE signals SET status = $1 WHERE id = $2 AND status = $3`
	tag, err := s.pool.Exec(ctx, query, to, id, from)
	if err != nil {
		return false, fmt.Errorf("signalstore: set status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

var _ Store = (*PostgresStore)(nil)
