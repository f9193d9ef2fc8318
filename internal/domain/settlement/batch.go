package settlement

import (
	"fmt"
	"time"

	"payment-service/internal/domain/errs"
	"payment-service/internal/domain/event"

	"github.com/google/uuid"
)

// Batch statuses
const (
	StatusOpen    = "OPEN"
	StatusClosed  = "CLOSED"
	StatusSettled = "SETTLED"
	StatusFailed  = "FAILED"
)

// Event types in a batch's log.
const (
	EventOpened           = "batch.opened"
	EventPaymentAdded     = "batch.payment_added"
	EventPaymentRemoved   = "batch.payment_removed"
	EventClosed           = "batch.closed"
	EventSettled          = "batch.settled"
	EventSettlementFailed = "batch.settlement_failed"
	EventReopened         = "batch.reopened"
)

// BatchEntry is one completed payment attached to the batch.
type BatchEntry struct {
	PaymentID  string    `json:"payment_id"`
	Amount     int64     `json:"amount"`
	Method     string    `json:"method"`
	GatewayRef string    `json:"gateway_ref,omitempty"`
	AddedAt    time.Time `json:"added_at"`
}

// MethodTotal is one group in the totals-by-method query.
type MethodTotal struct {
	Amount int64 `json:"amount"`
	Count  int   `json:"count"`
}

// CloseSummary is returned when a batch is closed.
type CloseSummary struct {
	BatchID      string                 `json:"batch_id"`
	BatchNumber  string                 `json:"batch_number"`
	TotalAmount  int64                  `json:"total_amount"`
	PaymentCount int                    `json:"payment_count"`
	ByMethod     map[string]MethodTotal `json:"by_method"`
}

// Batch aggregates completed payments for one site and business day.
type Batch struct {
	ID           string       `json:"id"`
	SiteID       string       `json:"site_id"`
	BusinessDate string       `json:"business_date"`
	BatchNumber  string       `json:"batch_number"`
	Status       string       `json:"status"`
	Entries      []BatchEntry `json:"entries"`
	TotalAmount  int64        `json:"total_amount"`
	PaymentCount int          `json:"payment_count"`

	SettlementReference string `json:"settlement_reference,omitempty"`
	SettledAmount       int64  `json:"settled_amount"`
	ProcessingFees      int64  `json:"processing_fees"`
	NetAmount           int64  `json:"net_amount"`

	LastErrorCode      string `json:"last_error_code,omitempty"`
	LastErrorMessage   string `json:"last_error_message,omitempty"`
	SettlementAttempts int    `json:"settlement_attempts"`

	OpenedBy  string     `json:"opened_by"`
	ClosedBy  string     `json:"closed_by,omitempty"`
	OpenedAt  time.Time  `json:"opened_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	SettledAt *time.Time `json:"settled_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`

	pending []event.Envelope
}

// New returns an empty batch aggregate for the given identifier.
func New(id string) *Batch {
	return &Batch{ID: id}
}

// Replay rebuilds a batch from its event log.
func Replay(id string, log []event.Envelope) (*Batch, error) {
	b := New(id)
	for _, env := range log {
		if err := b.apply(env); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// PendingEvents returns events appended since load, in order.
func (b *Batch) PendingEvents() []event.Envelope { return b.pending }

// ClearPending discards the pending events after a durable write.
func (b *Batch) ClearPending() { b.pending = nil }

type openedData struct {
	SiteID       string `json:"site_id"`
	BusinessDate string `json:"business_date"`
	BatchNumber  string `json:"batch_number"`
	OpenedBy     string `json:"opened_by"`
}

type paymentAddedData struct {
	PaymentID  string `json:"payment_id"`
	Amount     int64  `json:"amount"`
	Method     string `json:"method"`
	GatewayRef string `json:"gateway_ref,omitempty"`
}

type paymentRemovedData struct {
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
}

type closedData struct {
	ClosedBy string `json:"closed_by"`
}

type settledData struct {
	Reference     string `json:"reference"`
	SettledAmount int64  `json:"settled_amount"`
	Fees          int64  `json:"fees"`
	NetAmount     int64  `json:"net_amount"`
}

type settlementFailedData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type reopenedData struct {
	ReopenedBy string `json:"reopened_by"`
	Reason     string `json:"reason"`
}

// Open starts the batch for a business date.
func (b *Batch) Open(siteID, businessDate, openedBy string, now time.Time) error {
	if b.Status != "" {
		return errs.Conflictf("open", b.Status)
	}
	if businessDate == "" {
		return errs.Validationf("business date is required")
	}
	return b.raise(EventOpened, now, openedData{
		SiteID:       siteID,
		BusinessDate: businessDate,
		BatchNumber:  newBatchNumber(businessDate),
		OpenedBy:     openedBy,
	})
}

// AddPayment attaches a completed payment while the batch is open.
// Duplicate payment ids are rejected.
func (b *Batch) AddPayment(paymentID string, amount int64, method, gatewayRef string, now time.Time) error {
	if b.Status != StatusOpen {
		return errs.Conflictf("add payment", b.Status)
	}
	if paymentID == "" {
		return errs.Validationf("payment id is required")
	}
	if amount <= 0 {
		return errs.Validationf("amount must be positive, got %d", amount)
	}
	if b.hasPayment(paymentID) {
		return errs.Validationf("payment %s is already in batch %s", paymentID, b.BatchNumber)
	}
	return b.raise(EventPaymentAdded, now, paymentAddedData{
		PaymentID:  paymentID,
		Amount:     amount,
		Method:     method,
		GatewayRef: gatewayRef,
	})
}

// RemovePayment detaches a payment and reverses its totals.
func (b *Batch) RemovePayment(paymentID, reason string, now time.Time) error {
	if b.Status != StatusOpen {
		return errs.Conflictf("remove payment", b.Status)
	}
	entry := b.findEntry(paymentID)
	if entry == nil {
		return errs.Validationf("payment %s is not in batch %s", paymentID, b.BatchNumber)
	}
	return b.raise(EventPaymentRemoved, now, paymentRemovedData{
		PaymentID: paymentID,
		Amount:    entry.Amount,
		Reason:    reason,
	})
}

// Close freezes the batch totals and returns the closing summary.
func (b *Batch) Close(closedBy string, now time.Time) (*CloseSummary, error) {
	if b.Status != StatusOpen {
		return nil, errs.Conflictf("close", b.Status)
	}
	if err := b.raise(EventClosed, now, closedData{ClosedBy: closedBy}); err != nil {
		return nil, err
	}
	return &CloseSummary{
		BatchID:      b.ID,
		BatchNumber:  b.BatchNumber,
		TotalAmount:  b.TotalAmount,
		PaymentCount: b.PaymentCount,
		ByMethod:     b.GetTotalsByMethod(),
	}, nil
}

// RecordSettlement records the settlement outcome for a closed batch.
func (b *Batch) RecordSettlement(reference string, fees int64, now time.Time) error {
	if b.Status != StatusClosed && b.Status != StatusFailed {
		return errs.Conflictf("record settlement", b.Status)
	}
	if reference == "" {
		return errs.Validationf("settlement reference is required")
	}
	if fees < 0 {
		return errs.Validationf("fees must not be negative, got %d", fees)
	}
	return b.raise(EventSettled, now, settledData{
		Reference:     reference,
		SettledAmount: b.TotalAmount,
		Fees:          fees,
		NetAmount:     b.TotalAmount - fees,
	})
}

// RecordSettlementFailure marks the batch failed and counts the attempt.
func (b *Batch) RecordSettlementFailure(code, message string, now time.Time) error {
	if b.Status != StatusClosed && b.Status != StatusFailed {
		return errs.Conflictf("record settlement failure", b.Status)
	}
	return b.raise(EventSettlementFailed, now, settlementFailedData{Code: code, Message: message})
}

// Reopen returns a closed or failed batch to Open.
func (b *Batch) Reopen(reopenedBy, reason string, now time.Time) error {
	if b.Status != StatusClosed && b.Status != StatusFailed {
		return errs.Conflictf("reopen", b.Status)
	}
	return b.raise(EventReopened, now, reopenedData{ReopenedBy: reopenedBy, Reason: reason})
}

// GetTotalsByMethod groups the current entries by method. Pure query.
func (b *Batch) GetTotalsByMethod() map[string]MethodTotal {
	totals := make(map[string]MethodTotal, 4)
	for _, e := range b.Entries {
		t := totals[e.Method]
		t.Amount += e.Amount
		t.Count++
		totals[e.Method] = t
	}
	return totals
}

func (b *Batch) hasPayment(paymentID string) bool {
	return b.findEntry(paymentID) != nil
}

func (b *Batch) findEntry(paymentID string) *BatchEntry {
	for i := range b.Entries {
		if b.Entries[i].PaymentID == paymentID {
			return &b.Entries[i]
		}
	}
	return nil
}

func (b *Batch) raise(eventType string, now time.Time, payload interface{}) error {
	env, err := event.New(b.ID, eventType, now, payload)
	if err != nil {
		return err
	}
	if err := b.apply(env); err != nil {
		return err
	}
	b.pending = append(b.pending, env)
	return nil
}

// apply is the pure transition function shared by live operations and replay.
func (b *Batch) apply(env event.Envelope) error {
	switch env.Type {
	case EventOpened:
		var d openedData
		if err := env.Decode(&d); err != nil {
			return err
		}
		b.SiteID = d.SiteID
		b.BusinessDate = d.BusinessDate
		b.BatchNumber = d.BatchNumber
		b.OpenedBy = d.OpenedBy
		b.Status = StatusOpen
		b.OpenedAt = env.OccurredAt

	case EventPaymentAdded:
		var d paymentAddedData
		if err := env.Decode(&d); err != nil {
			return err
		}
		b.Entries = append(b.Entries, BatchEntry{
			PaymentID:  d.PaymentID,
			Amount:     d.Amount,
			Method:     d.Method,
			GatewayRef: d.GatewayRef,
			AddedAt:    env.OccurredAt,
		})
		b.TotalAmount += d.Amount
		b.PaymentCount = len(b.Entries)

	case EventPaymentRemoved:
		var d paymentRemovedData
		if err := env.Decode(&d); err != nil {
			return err
		}
		for i := range b.Entries {
			if b.Entries[i].PaymentID == d.PaymentID {
				b.Entries = append(b.Entries[:i], b.Entries[i+1:]...)
				break
			}
		}
		b.TotalAmount -= d.Amount
		b.PaymentCount = len(b.Entries)

	case EventClosed:
		var d closedData
		if err := env.Decode(&d); err != nil {
			return err
		}
		b.ClosedBy = d.ClosedBy
		b.Status = StatusClosed
		at := env.OccurredAt
		b.ClosedAt = &at

	case EventSettled:
		var d settledData
		if err := env.Decode(&d); err != nil {
			return err
		}
		b.SettlementReference = d.Reference
		b.SettledAmount = d.SettledAmount
		b.ProcessingFees = d.Fees
		b.NetAmount = d.NetAmount
		b.Status = StatusSettled
		b.LastErrorCode = ""
		b.LastErrorMessage = ""
		at := env.OccurredAt
		b.SettledAt = &at

	case EventSettlementFailed:
		var d settlementFailedData
		if err := env.Decode(&d); err != nil {
			return err
		}
		b.LastErrorCode = d.Code
		b.LastErrorMessage = d.Message
		b.SettlementAttempts++
		b.Status = StatusFailed

	case EventReopened:
		var d reopenedData
		if err := env.Decode(&d); err != nil {
			return err
		}
		b.Status = StatusOpen
		b.ClosedAt = nil
		b.ClosedBy = ""

	default:
		return fmt.Errorf("unknown batch event type: %s", env.Type)
	}

	b.UpdatedAt = env.OccurredAt
	return nil
}

func newBatchNumber(businessDate string) string {
	return fmt.Sprintf("BATCH-%s-%s", businessDate, uuid.New().String()[:6])
}
