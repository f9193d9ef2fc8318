package payment

import (
	"fmt"
	"time"

	"payment-service/internal/domain/errs"
	"payment-service/internal/domain/event"

	"github.com/google/uuid"
)

// Method identifies the tender type of a payment.
type Method string

const (
	MethodCash         Method = "CASH"
	MethodCard         Method = "CARD"
	MethodGiftCard     Method = "GIFT_CARD"
	MethodHouseAccount Method = "HOUSE_ACCOUNT"
)

// Payment statuses
const (
	StatusCreated           = "CREATED"
	StatusInitiated         = "INITIATED"
	StatusAuthorizing       = "AUTHORIZING"
	StatusAuthorized        = "AUTHORIZED"
	StatusCaptured          = "CAPTURED"
	StatusCompleted         = "COMPLETED"
	StatusPartiallyRefunded = "PARTIALLY_REFUNDED"
	StatusRefunded          = "REFUNDED"
	StatusVoided            = "VOIDED"
	StatusDeclined          = "DECLINED"
)

// CardInfo holds the masked card details recorded on a card tender.
type CardInfo struct {
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
}

// CashInfo holds the cash tender details.
type CashInfo struct {
	AmountTendered int64 `json:"amount_tendered"`
	ChangeGiven    int64 `json:"change_given"`
}

// GiftCardInfo holds the gift card tender details.
type GiftCardInfo struct {
	GiftCardID string `json:"gift_card_id"`
	CardNumber string `json:"card_number"`
}

// Refund is one refund issued against a completed payment.
type Refund struct {
	ID       string    `json:"id"`
	Amount   int64     `json:"amount"`
	Reason   string    `json:"reason"`
	IssuedBy string    `json:"issued_by"`
	IssuedAt time.Time `json:"issued_at"`
}

// RetryAttempt is one row in the ordered retry-attempt history.
type RetryAttempt struct {
	Attempt      int       `json:"attempt"`
	Success      bool      `json:"success"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	At           time.Time `json:"at"`
}

// RetryInfo is the retry bookkeeping snapshot exposed to drivers.
type RetryInfo struct {
	RetryCount       int            `json:"retry_count"`
	MaxRetries       int            `json:"max_retries"`
	NextRetryAt      *time.Time     `json:"next_retry_at,omitempty"`
	LastErrorCode    string         `json:"last_error_code,omitempty"`
	LastErrorMessage string         `json:"last_error_message,omitempty"`
	Exhausted        bool           `json:"exhausted"`
	History          []RetryAttempt `json:"history"`
}

// Payment is the event-sourced POS transaction aggregate. All mutations go
// through raise, which appends an event and derives the new state via apply;
// replaying the appended events from empty reconstructs identical state.
type Payment struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	SiteID      string `json:"site_id"`
	OrderID     string `json:"order_id"`
	Method      Method `json:"method"`
	Status      string `json:"status"`
	Amount      int64  `json:"amount"`
	TipAmount   int64  `json:"tip_amount"`
	TotalAmount int64  `json:"total_amount"`

	CashierID  string `json:"cashier_id"`
	CustomerID string `json:"customer_id,omitempty"`
	DrawerID   string `json:"drawer_id,omitempty"`

	Card     *CardInfo     `json:"card,omitempty"`
	Cash     *CashInfo     `json:"cash,omitempty"`
	GiftCard *GiftCardInfo `json:"gift_card,omitempty"`

	GatewayRef  string `json:"gateway_ref,omitempty"`
	AuthCode    string `json:"auth_code,omitempty"`
	GatewayName string `json:"gateway_name,omitempty"`

	Refunds        []Refund `json:"refunds"`
	RefundedAmount int64    `json:"refunded_amount"`
	BatchID        string   `json:"batch_id,omitempty"`

	RetryCount       int            `json:"retry_count"`
	MaxRetries       int            `json:"max_retries"`
	NextRetryAt      *time.Time     `json:"next_retry_at,omitempty"`
	LastErrorCode    string         `json:"last_error_code,omitempty"`
	LastErrorMessage string         `json:"last_error_message,omitempty"`
	RetryHistory     []RetryAttempt `json:"retry_history"`
	RetryExhausted   bool           `json:"retry_exhausted"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	VoidedAt    *time.Time `json:"voided_at,omitempty"`

	pending []event.Envelope
}

// New returns an empty payment aggregate for the given identifier.
func New(id string) *Payment {
	return &Payment{ID: id, Status: StatusCreated}
}

// Replay rebuilds a payment from its event log.
func Replay(id string, log []event.Envelope) (*Payment, error) {
	p := New(id)
	for _, env := range log {
		if err := p.apply(env); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// PendingEvents returns events appended since load, in order.
func (p *Payment) PendingEvents() []event.Envelope {
	return p.pending
}

// ClearPending discards the pending events after a durable write.
func (p *Payment) ClearPending() {
	p.pending = nil
}

// InitiateParams carries the inputs for starting a payment.
type InitiateParams struct {
	TenantID   string
	SiteID     string
	OrderID    string
	Method     Method
	Amount     int64
	CashierID  string
	CustomerID string
	DrawerID   string
	MaxRetries int
}

// Initiate creates the payment record. Fails if the aggregate already exists.
func (p *Payment) Initiate(params InitiateParams, now time.Time) error {
	if p.Status != StatusCreated {
		return errs.Conflictf("initiate", p.Status)
	}
	if params.Amount <= 0 {
		return errs.Validationf("amount must be positive, got %d", params.Amount)
	}
	if params.OrderID == "" {
		return errs.Validationf("order id is required")
	}
	return p.raise(EventInitiated, now, InitiatedData{
		TenantID:   params.TenantID,
		SiteID:     params.SiteID,
		OrderID:    params.OrderID,
		Method:     params.Method,
		Amount:     params.Amount,
		CashierID:  params.CashierID,
		CustomerID: params.CustomerID,
		DrawerID:   params.DrawerID,
		MaxRetries: params.MaxRetries,
	})
}

// CompleteCash completes a cash tender. Short payment is rejected so change
// can never go negative.
func (p *Payment) CompleteCash(amountTendered, tip int64, now time.Time) error {
	if p.Status != StatusInitiated {
		return errs.Conflictf("complete cash payment", p.Status)
	}
	if tip < 0 {
		return errs.Validationf("tip must not be negative, got %d", tip)
	}
	total := p.Amount + tip
	if amountTendered < total {
		return errs.Validationf("amount tendered %d is less than total %d", amountTendered, total)
	}
	return p.raise(EventCashCompleted, now, CashCompletedData{
		AmountTendered: amountTendered,
		TipAmount:      tip,
		TotalAmount:    total,
		ChangeGiven:    amountTendered - total,
	})
}

// CompleteCard completes a card tender, either directly from Initiated or
// after the two-phase authorize path.
func (p *Payment) CompleteCard(gatewayRef, authCode string, card CardInfo, gatewayName string, tip int64, now time.Time) error {
	if p.Status != StatusInitiated && p.Status != StatusAuthorized && p.Status != StatusCaptured {
		return errs.Conflictf("complete card payment", p.Status)
	}
	if tip < 0 {
		return errs.Validationf("tip must not be negative, got %d", tip)
	}
	return p.raise(EventCardCompleted, now, CardCompletedData{
		GatewayRef:  gatewayRef,
		AuthCode:    authCode,
		GatewayName: gatewayName,
		TipAmount:   tip,
		Card:        card,
	})
}

// CompleteGiftCard completes a gift card tender.
func (p *Payment) CompleteGiftCard(giftCardID, cardNumber string, now time.Time) error {
	if p.Status != StatusInitiated {
		return errs.Conflictf("complete gift card payment", p.Status)
	}
	if giftCardID == "" {
		return errs.Validationf("gift card id is required")
	}
	return p.raise(EventGiftCardCompleted, now, GiftCardCompletedData{
		GiftCardID: giftCardID,
		CardNumber: maskCardNumber(cardNumber),
	})
}

// RequestAuthorization starts the two-phase card path.
func (p *Payment) RequestAuthorization(now time.Time) error {
	if p.Status != StatusInitiated {
		return errs.Conflictf("request authorization", p.Status)
	}
	return p.raise(EventAuthRequested, now, struct{}{})
}

// RecordAuthorization records a successful authorization.
func (p *Payment) RecordAuthorization(gatewayRef, authCode, gatewayName string, now time.Time) error {
	if p.Status != StatusAuthorizing {
		return errs.Conflictf("record authorization", p.Status)
	}
	return p.raise(EventAuthorized, now, AuthorizedData{
		GatewayRef:  gatewayRef,
		AuthCode:    authCode,
		GatewayName: gatewayName,
	})
}

// RecordDecline records a decline; the payment terminates on the failure
// branch. The decline reason is state, not an error.
func (p *Payment) RecordDecline(code, message string, now time.Time) error {
	if p.Status != StatusAuthorizing {
		return errs.Conflictf("record decline", p.Status)
	}
	return p.raise(EventDeclined, now, DeclinedData{Code: code, Message: message})
}

// Capture captures a previously authorized amount.
func (p *Payment) Capture(now time.Time) error {
	if p.Status != StatusAuthorized {
		return errs.Conflictf("capture", p.Status)
	}
	return p.raise(EventCaptured, now, struct{}{})
}

// Refund issues a refund against a completed payment. Status is recomputed
// from the cumulative refunded amount.
func (p *Payment) Refund(amount int64, reason, issuedBy string, now time.Time) (*Refund, error) {
	if p.Status != StatusCompleted && p.Status != StatusPartiallyRefunded {
		return nil, errs.Conflictf("refund", p.Status)
	}
	if amount <= 0 {
		return nil, errs.Validationf("refund amount must be positive, got %d", amount)
	}
	remaining := p.TotalAmount - p.RefundedAmount
	if amount > remaining {
		return nil, errs.Validationf("refund amount %d exceeds remaining balance %d", amount, remaining)
	}
	data := RefundedData{
		RefundID: uuid.New().String(),
		Amount:   amount,
		Reason:   reason,
		IssuedBy: issuedBy,
	}
	if err := p.raise(EventRefunded, now, data); err != nil {
		return nil, err
	}
	return &p.Refunds[len(p.Refunds)-1], nil
}

// Void cancels the payment from any pre-terminal state.
func (p *Payment) Void(voidedBy, reason string, now time.Time) error {
	switch p.Status {
	case StatusVoided, StatusRefunded, StatusDeclined:
		return errs.Conflictf("void", p.Status)
	}
	return p.raise(EventVoided, now, VoidedData{VoidedBy: voidedBy, Reason: reason})
}

// AdjustTip changes the tip on a completed payment and recomputes the total.
func (p *Payment) AdjustTip(newTip int64, now time.Time) error {
	if p.Status != StatusCompleted {
		return errs.Conflictf("adjust tip", p.Status)
	}
	if newTip < 0 {
		return errs.Validationf("tip must not be negative, got %d", newTip)
	}
	return p.raise(EventTipAdjusted, now, TipAdjustedData{
		TipAmount:   newTip,
		TotalAmount: p.Amount + newTip,
	})
}

// AssignToBatch tags the payment with its settlement batch. Idempotent.
func (p *Payment) AssignToBatch(batchID string, now time.Time) error {
	if p.Status == StatusCreated {
		return errs.Conflictf("assign to batch", p.Status)
	}
	if batchID == "" {
		return errs.Validationf("batch id is required")
	}
	if p.BatchID == batchID {
		return nil
	}
	return p.raise(EventBatchAssigned, now, BatchAssignedData{BatchID: batchID})
}

// ScheduleRetry books the next attempt after a transient processing failure.
// Delay doubles per attempt from the base. Returns true once attempts are
// exhausted; the caller is expected to raise an alert exactly then.
func (p *Payment) ScheduleRetry(baseDelay time.Duration, errorCode, errorMessage string, now time.Time) (exhausted bool, err error) {
	if p.RetryExhausted {
		return true, errs.Conflictf("schedule retry", "RETRY_EXHAUSTED")
	}
	attempt := p.RetryCount + 1
	if attempt > p.MaxRetries {
		if err := p.raise(EventRetryExhausted, now, RetryExhaustedData{
			Attempts:     p.RetryCount,
			ErrorCode:    errorCode,
			ErrorMessage: errorMessage,
		}); err != nil {
			return false, err
		}
		return true, nil
	}
	delay := baseDelay * (1 << (attempt - 1))
	return false, p.raise(EventRetryScheduled, now, RetryScheduledData{
		Attempt:      attempt,
		NextRetryAt:  now.Add(delay),
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
	})
}

// RecordRetryAttempt records the outcome of one retry execution. A success
// clears the error and next-retry fields.
func (p *Payment) RecordRetryAttempt(success bool, errorCode, errorMessage string, now time.Time) error {
	if p.RetryCount == 0 {
		return errs.Conflictf("record retry attempt", p.Status)
	}
	return p.raise(EventRetryRecorded, now, RetryRecordedData{
		Attempt:      p.RetryCount,
		Success:      success,
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
	})
}

// ShouldRetry reports whether the payment is due for another attempt.
func (p *Payment) ShouldRetry(now time.Time) bool {
	if p.RetryExhausted || p.NextRetryAt == nil {
		return false
	}
	switch p.Status {
	case StatusVoided, StatusRefunded, StatusDeclined, StatusCompleted:
		return false
	}
	return !now.Before(*p.NextRetryAt)
}

// GetRetryInfo returns the retry bookkeeping snapshot.
func (p *Payment) GetRetryInfo() RetryInfo {
	return RetryInfo{
		RetryCount:       p.RetryCount,
		MaxRetries:       p.MaxRetries,
		NextRetryAt:      p.NextRetryAt,
		LastErrorCode:    p.LastErrorCode,
		LastErrorMessage: p.LastErrorMessage,
		Exhausted:        p.RetryExhausted,
		History:          p.RetryHistory,
	}
}

// MaskedInstrument returns a display reference for the tender, safe to put
// on outbound notifications.
func (p *Payment) MaskedInstrument() string {
	switch {
	case p.Card != nil:
		return fmt.Sprintf("%s ****%s", p.Card.Brand, p.Card.Last4)
	case p.GiftCard != nil:
		return p.GiftCard.CardNumber
	default:
		return string(p.Method)
	}
}

// raise appends a new event and applies it.
func (p *Payment) raise(eventType string, now time.Time, payload interface{}) error {
	env, err := event.New(p.ID, eventType, now, payload)
	if err != nil {
		return err
	}
	if err := p.apply(env); err != nil {
		return err
	}
	p.pending = append(p.pending, env)
	return nil
}

// apply is the pure transition function shared by live operations and
// replay. It must never reject an event that raise accepted.
func (p *Payment) apply(env event.Envelope) error {
	switch env.Type {
	case EventInitiated:
		var d InitiatedData
		if err := env.Decode(&d); err != nil {
			return err
		}
		p.TenantID = d.TenantID
		p.SiteID = d.SiteID
		p.OrderID = d.OrderID
		p.Method = d.Method
		p.Amount = d.Amount
		p.TotalAmount = d.Amount
		p.CashierID = d.CashierID
		p.CustomerID = d.CustomerID
		p.DrawerID = d.DrawerID
		p.MaxRetries = d.MaxRetries
		p.Status = StatusInitiated
		p.CreatedAt = env.OccurredAt

	case EventCashCompleted:
		var d CashCompletedData
		if err := env.Decode(&d); err != nil {
			return err
		}
		p.TipAmount = d.TipAmount
		p.TotalAmount = d.TotalAmount
		p.Cash = &CashInfo{AmountTendered: d.AmountTendered, ChangeGiven: d.ChangeGiven}
		p.complete(env.OccurredAt)

	case EventCardCompleted:
		var d CardCompletedData
		if err := env.Decode(&d); err != nil {
			return err
		}
		p.TipAmount = d.TipAmount
		p.TotalAmount = p.Amount + d.TipAmount
		card := d.Card
		p.Card = &card
		p.GatewayRef = d.GatewayRef
		p.AuthCode = d.AuthCode
		p.GatewayName = d.GatewayName
		p.complete(env.OccurredAt)

	case EventGiftCardCompleted:
		var d GiftCardCompletedData
		if err := env.Decode(&d); err != nil {
			return err
		}
		p.GiftCard = &GiftCardInfo{GiftCardID: d.GiftCardID, CardNumber: d.CardNumber}
		p.complete(env.OccurredAt)

	case EventAuthRequested:
		p.Status = StatusAuthorizing

	case EventAuthorized:
		var d AuthorizedData
		if err := env.Decode(&d); err != nil {
			return err
		}
		p.GatewayRef = d.GatewayRef
		p.AuthCode = d.AuthCode
		p.GatewayName = d.GatewayName
		p.Status = StatusAuthorized

	case EventDeclined:
		var d DeclinedData
		if err := env.Decode(&d); err != nil {
			return err
		}
		p.LastErrorCode = d.Code
		p.LastErrorMessage = d.Message
		p.Status = StatusDeclined

	case EventCaptured:
		p.Status = StatusCaptured

	case EventRefunded:
		var d RefundedData
		if err := env.Decode(&d); err != nil {
			return err
		}
		p.Refunds = append(p.Refunds, Refund{
			ID:       d.RefundID,
			Amount:   d.Amount,
			Reason:   d.Reason,
			IssuedBy: d.IssuedBy,
			IssuedAt: env.OccurredAt,
		})
		p.RefundedAmount += d.Amount
		if p.RefundedAmount >= p.TotalAmount {
			p.Status = StatusRefunded
		} else {
			p.Status = StatusPartiallyRefunded
		}

	case EventVoided:
		var d VoidedData
		if err := env.Decode(&d); err != nil {
			return err
		}
		p.Status = StatusVoided
		at := env.OccurredAt
		p.VoidedAt = &at

	case EventTipAdjusted:
		var d TipAdjustedData
		if err := env.Decode(&d); err != nil {
			return err
		}
		p.TipAmount = d.TipAmount
		p.TotalAmount = d.TotalAmount

	case EventBatchAssigned:
		var d BatchAssignedData
		if err := env.Decode(&d); err != nil {
			return err
		}
		p.BatchID = d.BatchID

	case EventRetryScheduled:
		var d RetryScheduledData
		if err := env.Decode(&d); err != nil {
			return err
		}
		p.RetryCount = d.Attempt
		at := d.NextRetryAt
		p.NextRetryAt = &at
		p.LastErrorCode = d.ErrorCode
		p.LastErrorMessage = d.ErrorMessage

	case EventRetryRecorded:
		var d RetryRecordedData
		if err := env.Decode(&d); err != nil {
			return err
		}
		p.RetryHistory = append(p.RetryHistory, RetryAttempt{
			Attempt:      d.Attempt,
			Success:      d.Success,
			ErrorCode:    d.ErrorCode,
			ErrorMessage: d.ErrorMessage,
			At:           env.OccurredAt,
		})
		if d.Success {
			p.NextRetryAt = nil
			p.LastErrorCode = ""
			p.LastErrorMessage = ""
		} else {
			p.LastErrorCode = d.ErrorCode
			p.LastErrorMessage = d.ErrorMessage
		}

	case EventRetryExhausted:
		var d RetryExhaustedData
		if err := env.Decode(&d); err != nil {
			return err
		}
		p.RetryExhausted = true
		p.NextRetryAt = nil
		p.LastErrorCode = d.ErrorCode
		p.LastErrorMessage = d.ErrorMessage

	default:
		return fmt.Errorf("unknown payment event type: %s", env.Type)
	}

	p.UpdatedAt = env.OccurredAt
	return nil
}

func (p *Payment) complete(at time.Time) {
	p.Status = StatusCompleted
	t := at
	p.CompletedAt = &t
}

func maskCardNumber(number string) string {
	if len(number) <= 4 {
		return number
	}
	return "****" + number[len(number)-4:]
}
