package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"payment-service/internal/domain/errs"
	"payment-service/internal/domain/event"
	"payment-service/internal/domain/intent"
	"payment-service/internal/domain/offlinequeue"
	"payment-service/internal/domain/payment"
	"payment-service/internal/domain/settlement"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schema string

// Store persists aggregate snapshots plus their append-only event logs.
// Every save writes the snapshot and the new events in one transaction, so
// an acknowledged operation is durable before the caller sees success.
type Store struct {
	db *sqlx.DB
}

// NewStore connects to the database.
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Migrate applies the embedded schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SavePayment writes the payment snapshot and its new events.
func (s *Store) SavePayment(ctx context.Context, p *payment.Payment, events []event.Envelope) error {
	state, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal payment state: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payments (id, site_id, order_id, status, method, batch_id, next_retry_at, retry_exhausted, state, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			batch_id = EXCLUDED.batch_id,
			next_retry_at = EXCLUDED.next_retry_at,
			retry_exhausted = EXCLUDED.retry_exhausted,
			state = EXCLUDED.state,
			updated_at = NOW()`,
		p.ID, p.SiteID, p.OrderID, p.Status, string(p.Method), p.BatchID, p.NextRetryAt, p.RetryExhausted, state)
	if err != nil {
		return fmt.Errorf("failed to upsert payment: %w", err)
	}

	if err := insertEvents(ctx, tx, "payment_events", events); err != nil {
		return err
	}
	return tx.Commit()
}

// GetPayment loads a payment by id.
func (s *Store) GetPayment(ctx context.Context, id string) (*payment.Payment, error) {
	p := payment.New(id)
	if err := s.loadState(ctx, "payments", "id", id, p); err != nil {
		return nil, err
	}
	return p, nil
}

// PaymentExists reports whether a payment id is already taken.
func (s *Store) PaymentExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM payments WHERE id = $1)", id)
	return exists, err
}

// ListPaymentEvents returns the full event log of a payment, in order.
func (s *Store) ListPaymentEvents(ctx context.Context, id string) ([]event.Envelope, error) {
	return s.listEvents(ctx, "payment_events", id)
}

// ListPaymentsDueForRetry returns payments whose next retry is due.
func (s *Store) ListPaymentsDueForRetry(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		SELECT id FROM payments
		WHERE next_retry_at IS NOT NULL AND next_retry_at <= $1 AND NOT retry_exhausted
		ORDER BY next_retry_at
		LIMIT $2`, now, limit)
	return ids, err
}

// SaveIntent writes the intent snapshot and its new events.
func (s *Store) SaveIntent(ctx context.Context, in *intent.Intent, events []event.Envelope) error {
	state, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal intent state: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO intents (id, account_id, status, idempotency_key, state, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			state = EXCLUDED.state,
			updated_at = NOW()`,
		in.ID, in.AccountID, in.Status, in.IdempotencyKey, state)
	if err != nil {
		return fmt.Errorf("failed to upsert intent: %w", err)
	}

	if err := insertEvents(ctx, tx, "intent_events", events); err != nil {
		return err
	}
	return tx.Commit()
}

// GetIntent loads an intent by id.
func (s *Store) GetIntent(ctx context.Context, id string) (*intent.Intent, error) {
	in := intent.New(id)
	if err := s.loadState(ctx, "intents", "id", id, in); err != nil {
		return nil, err
	}
	return in, nil
}

// ListIntentEvents returns the full event log of an intent, in order.
func (s *Store) ListIntentEvents(ctx context.Context, id string) ([]event.Envelope, error) {
	return s.listEvents(ctx, "intent_events", id)
}

// SaveQueue writes the offline queue snapshot and its new events.
func (s *Store) SaveQueue(ctx context.Context, q *offlinequeue.Queue, events []event.Envelope) error {
	state, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("failed to marshal queue state: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO offline_queues (site_id, state, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (site_id) DO UPDATE SET
			state = EXCLUDED.state,
			updated_at = NOW()`,
		q.SiteID, state)
	if err != nil {
		return fmt.Errorf("failed to upsert offline queue: %w", err)
	}

	if err := insertEvents(ctx, tx, "offline_queue_events", events); err != nil {
		return err
	}
	return tx.Commit()
}

// GetQueue loads the offline queue for a site. Returns errs.ErrNotFound when
// the site has never queued a payment.
func (s *Store) GetQueue(ctx context.Context, siteID string) (*offlinequeue.Queue, error) {
	q := &offlinequeue.Queue{}
	if err := s.loadState(ctx, "offline_queues", "site_id", siteID, q); err != nil {
		return nil, err
	}
	return q, nil
}

// ListQueueSites returns every site with an offline queue.
func (s *Store) ListQueueSites(ctx context.Context) ([]string, error) {
	var sites []string
	err := s.db.SelectContext(ctx, &sites, "SELECT site_id FROM offline_queues ORDER BY site_id")
	return sites, err
}

// SaveBatch writes the settlement batch snapshot and its new events.
func (s *Store) SaveBatch(ctx context.Context, b *settlement.Batch, events []event.Envelope) error {
	state, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal batch state: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO settlement_batches (id, site_id, business_date, status, state, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			state = EXCLUDED.state,
			updated_at = NOW()`,
		b.ID, b.SiteID, b.BusinessDate, b.Status, state)
	if err != nil {
		return fmt.Errorf("failed to upsert settlement batch: %w", err)
	}

	if err := insertEvents(ctx, tx, "settlement_batch_events", events); err != nil {
		return err
	}
	return tx.Commit()
}

// GetBatch loads a settlement batch by id.
func (s *Store) GetBatch(ctx context.Context, id string) (*settlement.Batch, error) {
	b := settlement.New(id)
	if err := s.loadState(ctx, "settlement_batches", "id", id, b); err != nil {
		return nil, err
	}
	return b, nil
}

// FindOpenBatch returns the id of the open batch for a site and business
// date, or errs.ErrNotFound.
func (s *Store) FindOpenBatch(ctx context.Context, siteID, businessDate string) (string, error) {
	var id string
	err := s.db.GetContext(ctx, &id, `
		SELECT id FROM settlement_batches
		WHERE site_id = $1 AND business_date = $2 AND status = $3
		ORDER BY updated_at DESC LIMIT 1`,
		siteID, businessDate, settlement.StatusOpen)
	if err == sql.ErrNoRows {
		return "", errs.ErrNotFound
	}
	return id, err
}

// ListBatchEvents returns the full event log of a settlement batch.
func (s *Store) ListBatchEvents(ctx context.Context, id string) ([]event.Envelope, error) {
	return s.listEvents(ctx, "settlement_batch_events", id)
}

func (s *Store) loadState(ctx context.Context, table, keyCol, key string, dest interface{}) error {
	var state []byte
	query := fmt.Sprintf("SELECT state FROM %s WHERE %s = $1", table, keyCol)
	err := s.db.GetContext(ctx, &state, query, key)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s %s", errs.ErrNotFound, table, key)
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(state, dest); err != nil {
		return fmt.Errorf("failed to unmarshal %s state: %w", table, err)
	}
	return nil
}

func (s *Store) listEvents(ctx context.Context, table, aggregateID string) ([]event.Envelope, error) {
	query := fmt.Sprintf(`
		SELECT event_id, aggregate_id, event_type, occurred_at, data
		FROM %s WHERE aggregate_id = $1 ORDER BY seq`, table)

	rows, err := s.db.QueryxContext(ctx, query, aggregateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var log []event.Envelope
	for rows.Next() {
		var env event.Envelope
		var data []byte
		if err := rows.Scan(&env.EventID, &env.AggregateID, &env.Type, &env.OccurredAt, &data); err != nil {
			return nil, err
		}
		env.Data = data
		log = append(log, env)
	}
	return log, rows.Err()
}

// insertEvents appends event envelopes. Replays of the same event id are
// ignored so a retried save stays idempotent.
func insertEvents(ctx context.Context, tx *sqlx.Tx, table string, events []event.Envelope) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (aggregate_id, event_id, event_type, occurred_at, data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING`, table)

	for _, env := range events {
		if _, err := tx.ExecContext(ctx, query, env.AggregateID, env.EventID, env.Type, env.OccurredAt, []byte(env.Data)); err != nil {
			return fmt.Errorf("failed to append event %s: %w", env.Type, err)
		}
	}
	return nil
}
