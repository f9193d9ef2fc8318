package offlinequeue

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"payment-service/internal/domain/errs"
	"payment-service/internal/domain/event"

	"github.com/google/uuid"
)

// Entry statuses
const (
	StatusQueued    = "QUEUED"
	StatusRetrying  = "RETRYING"
	StatusProcessed = "PROCESSED"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
)

// Event types in a queue's log.
const (
	EventPaymentQueued    = "queue.payment_queued"
	EventRetryStarted     = "queue.retry_started"
	EventRetrySucceeded   = "queue.retry_succeeded"
	EventRetryFailed      = "queue.retry_failed"
	EventPaymentCancelled = "queue.payment_cancelled"
)

// Policy tunes the backoff applied to queued payments.
type Policy struct {
	MaxAttempts       int     `json:"max_attempts"`
	BaseDelaySeconds  int     `json:"base_delay_seconds"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
	MaxDelaySeconds   int     `json:"max_delay_seconds"`
}

// Delay returns the wait before the given attempt number, capped at the
// policy maximum: min(base * mult^(n-1), maxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	seconds := float64(p.BaseDelaySeconds) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	if max := float64(p.MaxDelaySeconds); seconds > max {
		seconds = max
	}
	return time.Duration(seconds * float64(time.Second))
}

// Entry is one payment waiting for connectivity.
type Entry struct {
	ID               string          `json:"id"`
	PaymentID        string          `json:"payment_id"`
	OrderID          string          `json:"order_id"`
	Method           string          `json:"method"`
	Amount           int64           `json:"amount"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	Status           string          `json:"status"`
	AttemptCount     int             `json:"attempt_count"`
	NextRetryAt      *time.Time      `json:"next_retry_at,omitempty"`
	LastErrorCode    string          `json:"last_error_code,omitempty"`
	LastErrorMessage string          `json:"last_error_message,omitempty"`
	GatewayRef       string          `json:"gateway_ref,omitempty"`
	QueuedAt         time.Time       `json:"queued_at"`
}

// HistoryRow is one row in the append-only retry history.
type HistoryRow struct {
	EntryID   string    `json:"entry_id"`
	Attempt   int       `json:"attempt"`
	Pending   bool      `json:"pending"`
	Success   bool      `json:"success"`
	ErrorCode string    `json:"error_code,omitempty"`
	At        time.Time `json:"at"`
}

// Queue is the per-site durable offline payment queue. One aggregate per
// site; all mutations are event-sourced like the other aggregates.
type Queue struct {
	SiteID  string       `json:"site_id"`
	Entries []*Entry     `json:"entries"`
	History []HistoryRow `json:"history"`
	Policy  Policy       `json:"policy"`

	TotalQueued    int64 `json:"total_queued"`
	TotalProcessed int64 `json:"total_processed"`
	TotalFailed    int64 `json:"total_failed"`

	UpdatedAt time.Time `json:"updated_at"`

	pending []event.Envelope
}

// New returns the queue for a site with the given policy.
func New(siteID string, policy Policy) *Queue {
	return &Queue{SiteID: siteID, Policy: policy}
}

// Replay rebuilds a queue from its event log.
func Replay(siteID string, policy Policy, log []event.Envelope) (*Queue, error) {
	q := New(siteID, policy)
	for _, env := range log {
		if err := q.apply(env); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// PendingEvents returns events appended since load, in order.
func (q *Queue) PendingEvents() []event.Envelope { return q.pending }

// ClearPending discards the pending events after a durable write.
func (q *Queue) ClearPending() { q.pending = nil }

type paymentQueuedData struct {
	EntryID     string          `json:"entry_id"`
	PaymentID   string          `json:"payment_id"`
	OrderID     string          `json:"order_id"`
	Method      string          `json:"method"`
	Amount      int64           `json:"amount"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	NextRetryAt time.Time       `json:"next_retry_at"`
}

type retryStartedData struct {
	EntryID string `json:"entry_id"`
	Attempt int    `json:"attempt"`
}

type retrySucceededData struct {
	EntryID    string `json:"entry_id"`
	Attempt    int    `json:"attempt"`
	GatewayRef string `json:"gateway_ref"`
}

type retryFailedData struct {
	EntryID      string     `json:"entry_id"`
	Attempt      int        `json:"attempt"`
	ErrorCode    string     `json:"error_code"`
	ErrorMessage string     `json:"error_message"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`
	Exhausted    bool       `json:"exhausted"`
}

type paymentCancelledData struct {
	EntryID string `json:"entry_id"`
	Reason  string `json:"reason,omitempty"`
}

// QueuePayment enqueues a payment that could not reach a processor. The
// first attempt is due one base delay from now.
func (q *Queue) QueuePayment(paymentID, orderID, method string, amount int64, payload json.RawMessage, now time.Time) (*Entry, error) {
	if paymentID == "" {
		return nil, errs.Validationf("payment id is required")
	}
	if amount <= 0 {
		return nil, errs.Validationf("amount must be positive, got %d", amount)
	}
	data := paymentQueuedData{
		EntryID:     uuid.New().String(),
		PaymentID:   paymentID,
		OrderID:     orderID,
		Method:      method,
		Amount:      amount,
		Payload:     payload,
		NextRetryAt: now.Add(time.Duration(q.Policy.BaseDelaySeconds) * time.Second),
	}
	if err := q.raise(EventPaymentQueued, now, data); err != nil {
		return nil, err
	}
	return q.entry(data.EntryID), nil
}

// ProcessQueue selects the due entries (Queued or Retrying, next retry in
// the past), ordered by original queue time, and marks each one Retrying
// with a pending history row. The caller performs the actual network
// attempt and reports back via RecordSuccess / RecordFailure.
func (q *Queue) ProcessQueue(now time.Time) ([]*Entry, error) {
	var due []*Entry
	for _, e := range q.Entries {
		if e.Status != StatusQueued && e.Status != StatusRetrying {
			continue
		}
		if e.NextRetryAt == nil || e.NextRetryAt.After(now) {
			continue
		}
		due = append(due, e)
	}
	// Entries keeps insertion order, so due is already ordered by queue time.
	for _, e := range due {
		if err := q.raise(EventRetryStarted, now, retryStartedData{
			EntryID: e.ID,
			Attempt: e.AttemptCount + 1,
		}); err != nil {
			return nil, err
		}
	}
	return due, nil
}

// RecordSuccess marks an in-flight entry processed.
func (q *Queue) RecordSuccess(entryID, gatewayRef string, now time.Time) error {
	e := q.entry(entryID)
	if e == nil {
		return errs.ErrNotFound
	}
	if e.Status != StatusRetrying {
		return errs.Conflictf("record success", e.Status)
	}
	return q.raise(EventRetrySucceeded, now, retrySucceededData{
		EntryID:    entryID,
		Attempt:    e.AttemptCount + 1,
		GatewayRef: gatewayRef,
	})
}

// RecordFailure records a failed attempt. The entry terminally fails exactly
// when the new attempt count reaches the policy maximum; otherwise it is
// requeued with backoff. Returns true when exhausted so the caller can raise
// the alert.
func (q *Queue) RecordFailure(entryID, errorCode, errorMessage string, now time.Time) (exhausted bool, err error) {
	e := q.entry(entryID)
	if e == nil {
		return false, errs.ErrNotFound
	}
	if e.Status != StatusRetrying {
		return false, errs.Conflictf("record failure", e.Status)
	}

	nextAttempt := e.AttemptCount + 1
	data := retryFailedData{
		EntryID:      entryID,
		Attempt:      nextAttempt,
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
	}
	if nextAttempt >= q.Policy.MaxAttempts {
		data.Exhausted = true
	} else {
		at := now.Add(q.Policy.Delay(nextAttempt))
		data.NextRetryAt = &at
	}
	if err := q.raise(EventRetryFailed, now, data); err != nil {
		return false, err
	}
	return data.Exhausted, nil
}

// CancelPayment removes a payment from retry consideration. Rejected once
// the entry has been processed.
func (q *Queue) CancelPayment(entryID, reason string, now time.Time) error {
	e := q.entry(entryID)
	if e == nil {
		return errs.ErrNotFound
	}
	if e.Status == StatusProcessed {
		return errs.Conflictf("cancel payment", e.Status)
	}
	if e.Status == StatusCancelled {
		return nil
	}
	return q.raise(EventPaymentCancelled, now, paymentCancelledData{EntryID: entryID, Reason: reason})
}

// PendingDepth counts entries still waiting on an outcome.
func (q *Queue) PendingDepth() int {
	n := 0
	for _, e := range q.Entries {
		if e.Status == StatusQueued || e.Status == StatusRetrying {
			n++
		}
	}
	return n
}

func (q *Queue) entry(id string) *Entry {
	for _, e := range q.Entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (q *Queue) raise(eventType string, now time.Time, payload interface{}) error {
	env, err := event.New(q.SiteID, eventType, now, payload)
	if err != nil {
		return err
	}
	if err := q.apply(env); err != nil {
		return err
	}
	q.pending = append(q.pending, env)
	return nil
}

// apply is the pure transition function shared by live operations and replay.
func (q *Queue) apply(env event.Envelope) error {
	switch env.Type {
	case EventPaymentQueued:
		var d paymentQueuedData
		if err := env.Decode(&d); err != nil {
			return err
		}
		at := d.NextRetryAt
		q.Entries = append(q.Entries, &Entry{
			ID:          d.EntryID,
			PaymentID:   d.PaymentID,
			OrderID:     d.OrderID,
			Method:      d.Method,
			Amount:      d.Amount,
			Payload:     d.Payload,
			Status:      StatusQueued,
			NextRetryAt: &at,
			QueuedAt:    env.OccurredAt,
		})
		q.TotalQueued++

	case EventRetryStarted:
		var d retryStartedData
		if err := env.Decode(&d); err != nil {
			return err
		}
		e := q.entry(d.EntryID)
		if e == nil {
			return fmt.Errorf("retry started for unknown entry: %s", d.EntryID)
		}
		e.Status = StatusRetrying
		q.History = append(q.History, HistoryRow{
			EntryID: d.EntryID,
			Attempt: d.Attempt,
			Pending: true,
			At:      env.OccurredAt,
		})

	case EventRetrySucceeded:
		var d retrySucceededData
		if err := env.Decode(&d); err != nil {
			return err
		}
		e := q.entry(d.EntryID)
		if e == nil {
			return fmt.Errorf("retry succeeded for unknown entry: %s", d.EntryID)
		}
		e.Status = StatusProcessed
		e.GatewayRef = d.GatewayRef
		e.NextRetryAt = nil
		e.LastErrorCode = ""
		e.LastErrorMessage = ""
		q.TotalProcessed++
		q.resolveHistory(d.EntryID, d.Attempt, true, "")

	case EventRetryFailed:
		var d retryFailedData
		if err := env.Decode(&d); err != nil {
			return err
		}
		e := q.entry(d.EntryID)
		if e == nil {
			return fmt.Errorf("retry failed for unknown entry: %s", d.EntryID)
		}
		e.AttemptCount = d.Attempt
		e.LastErrorCode = d.ErrorCode
		e.LastErrorMessage = d.ErrorMessage
		if d.Exhausted {
			e.Status = StatusFailed
			e.NextRetryAt = nil
			q.TotalFailed++
		} else {
			e.Status = StatusQueued
			e.NextRetryAt = d.NextRetryAt
		}
		q.resolveHistory(d.EntryID, d.Attempt, false, d.ErrorCode)

	case EventPaymentCancelled:
		var d paymentCancelledData
		if err := env.Decode(&d); err != nil {
			return err
		}
		e := q.entry(d.EntryID)
		if e == nil {
			return fmt.Errorf("cancel for unknown entry: %s", d.EntryID)
		}
		e.Status = StatusCancelled
		e.NextRetryAt = nil

	default:
		return fmt.Errorf("unknown queue event type: %s", env.Type)
	}

	q.UpdatedAt = env.OccurredAt
	return nil
}

// resolveHistory fills the pending row recorded when the attempt started.
func (q *Queue) resolveHistory(entryID string, attempt int, success bool, errorCode string) {
	for i := len(q.History) - 1; i >= 0; i-- {
		row := &q.History[i]
		if row.EntryID == entryID && row.Attempt == attempt && row.Pending {
			row.Pending = false
			row.Success = success
			row.ErrorCode = errorCode
			return
		}
	}
	q.History = append(q.History, HistoryRow{
		EntryID:   entryID,
		Attempt:   attempt,
		Success:   success,
		ErrorCode: errorCode,
	})
}
