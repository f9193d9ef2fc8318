package intent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"payment-service/internal/domain/errs"
	"payment-service/internal/domain/event"
	"payment-service/internal/processor"

	"github.com/google/uuid"
)

// CaptureMode controls whether funds are captured at authorization time or
// held and captured separately.
type CaptureMode string

const (
	CaptureAutomatic CaptureMode = "automatic"
	CaptureManual    CaptureMode = "manual"
)

// Intent statuses, Stripe-shaped.
const (
	StatusRequiresPaymentMethod = "requires_payment_method"
	StatusRequiresConfirmation  = "requires_confirmation"
	StatusProcessing            = "processing"
	StatusRequiresAction        = "requires_action"
	StatusRequiresCapture       = "requires_capture"
	StatusSucceeded             = "succeeded"
	StatusCanceled              = "canceled"
)

// Intent is the gateway-style authorization aggregate. It is event-sourced
// the same way Payment is: every operation appends an event and derives
// state through apply. Processor calls happen between the confirm-started
// event and the outcome event; a processor failure is recorded as a decline
// event, never surfaced as an error.
type Intent struct {
	ID               string      `json:"id"`
	AccountID        string      `json:"account_id"`
	Amount           int64       `json:"amount"`
	AmountCapturable int64       `json:"amount_capturable"`
	AmountReceived   int64       `json:"amount_received"`
	Currency         string      `json:"currency"`
	CaptureMode      CaptureMode `json:"capture_mode"`
	Status           string      `json:"status"`

	ClientSecret        string            `json:"client_secret"`
	PaymentMethod       string            `json:"payment_method,omitempty"`
	CustomerID          string            `json:"customer_id,omitempty"`
	Description         string            `json:"description,omitempty"`
	StatementDescriptor string            `json:"statement_descriptor,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	IdempotencyKey      string            `json:"idempotency_key,omitempty"`

	ProcessorName      string                    `json:"processor_name"`
	TransactionID      string                    `json:"transaction_id,omitempty"`
	AuthorizationCode  string                    `json:"authorization_code,omitempty"`
	NextAction         *processor.RequiredAction `json:"next_action,omitempty"`
	LastDeclineCode    string                    `json:"last_decline_code,omitempty"`
	LastDeclineMessage string                    `json:"last_decline_message,omitempty"`
	CancellationReason string                    `json:"cancellation_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	SucceededAt *time.Time `json:"succeeded_at,omitempty"`
	CanceledAt  *time.Time `json:"canceled_at,omitempty"`

	pending []event.Envelope
}

// New returns an empty intent aggregate for the given identifier.
func New(id string) *Intent {
	return &Intent{ID: id}
}

// NewID generates a payment intent identifier.
func NewID() string {
	return "pi_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:24]
}

// Replay rebuilds an intent from its event log.
func Replay(id string, log []event.Envelope) (*Intent, error) {
	in := New(id)
	for _, env := range log {
		if err := in.apply(env); err != nil {
			return nil, err
		}
	}
	return in, nil
}

// PendingEvents returns events appended since load, in order.
func (in *Intent) PendingEvents() []event.Envelope { return in.pending }

// ClearPending discards the pending events after a durable write.
func (in *Intent) ClearPending() { in.pending = nil }

// CreateParams carries the inputs for creating an intent.
type CreateParams struct {
	AccountID           string
	Amount              int64
	Currency            string
	CaptureMode         CaptureMode
	PaymentMethod       string
	CustomerID          string
	Description         string
	StatementDescriptor string
	Metadata            map[string]string
	IdempotencyKey      string
	ProcessorName       string
}

// Create initializes the intent. The initial status depends on whether a
// payment method was supplied.
func (in *Intent) Create(params CreateParams, now time.Time) error {
	if in.Status != "" {
		return errs.Conflictf("create", in.Status)
	}
	if params.Amount <= 0 {
		return errs.Validationf("amount must be positive, got %d", params.Amount)
	}
	if params.Currency == "" {
		return errs.Validationf("currency is required")
	}
	mode := params.CaptureMode
	if mode == "" {
		mode = CaptureAutomatic
	}
	if mode != CaptureAutomatic && mode != CaptureManual {
		return errs.Validationf("unknown capture mode: %s", mode)
	}
	return in.raise(EventCreated, now, CreatedData{
		AccountID:           params.AccountID,
		Amount:              params.Amount,
		Currency:            params.Currency,
		CaptureMode:         mode,
		PaymentMethod:       params.PaymentMethod,
		CustomerID:          params.CustomerID,
		Description:         params.Description,
		StatementDescriptor: params.StatementDescriptor,
		Metadata:            params.Metadata,
		ClientSecret:        newClientSecret(in.ID),
		IdempotencyKey:      params.IdempotencyKey,
		ProcessorName:       params.ProcessorName,
	})
}

// AttachPaymentMethod attaches or replaces the payment method.
func (in *Intent) AttachPaymentMethod(methodToken string, now time.Time) error {
	if in.isTerminal() {
		return errs.Conflictf("attach payment method", in.Status)
	}
	if in.Status == StatusProcessing || in.Status == StatusRequiresAction || in.Status == StatusRequiresCapture {
		return errs.Conflictf("attach payment method", in.Status)
	}
	if methodToken == "" {
		return errs.Validationf("payment method is required")
	}
	return in.raise(EventMethodAttached, now, MethodAttachedData{PaymentMethod: methodToken})
}

// UpdateParams carries the mutable fields of an intent prior to success.
type UpdateParams struct {
	Amount      *int64
	Description *string
	CustomerID  *string
	Metadata    map[string]string
}

// Update changes amount/description/customer/metadata. Disallowed once the
// intent is terminal; amount may only change before confirmation.
func (in *Intent) Update(params UpdateParams, now time.Time) error {
	if in.isTerminal() {
		return errs.Conflictf("update", in.Status)
	}
	if params.Amount != nil {
		if in.Status != StatusRequiresPaymentMethod && in.Status != StatusRequiresConfirmation {
			return errs.Conflictf("update amount", in.Status)
		}
		if *params.Amount <= 0 {
			return errs.Validationf("amount must be positive, got %d", *params.Amount)
		}
	}
	return in.raise(EventUpdated, now, UpdatedData{
		Amount:      params.Amount,
		Description: params.Description,
		CustomerID:  params.CustomerID,
		Metadata:    params.Metadata,
	})
}

// Confirm drives an authorization through the adapter. The business outcome
// (decline, step-up, success) always lands in intent state; only an event
// append failure is returned as an error. Adapter panics and transport
// errors are converted into processing_error declines so a misbehaving
// integration cannot corrupt the aggregate.
func (in *Intent) Confirm(ctx context.Context, adapter processor.Adapter, now time.Time) error {
	if in.Status != StatusRequiresConfirmation {
		return errs.Conflictf("confirm", in.Status)
	}
	if in.PaymentMethod == "" {
		return errs.Validationf("a payment method is required to confirm")
	}
	if err := in.raise(EventConfirmStarted, now, ConfirmStartedData{PaymentMethod: in.PaymentMethod}); err != nil {
		return err
	}

	result := in.callAuthorize(ctx, adapter)
	return in.applyAuthorizeResult(result, now)
}

// callAuthorize invokes the adapter with a panic guard.
func (in *Intent) callAuthorize(ctx context.Context, adapter processor.Adapter) (result *processor.AuthorizeResult) {
	defer func() {
		if r := recover(); r != nil {
			result = &processor.AuthorizeResult{
				DeclineCode:    processor.DeclineProcessingError,
				DeclineMessage: fmt.Sprintf("processor panic: %v", r),
			}
		}
	}()

	res, err := adapter.Authorize(ctx, processor.AuthorizeRequest{
		IntentID:            in.ID,
		Amount:              in.Amount,
		Currency:            in.Currency,
		MethodToken:         in.PaymentMethod,
		AutoCapture:         in.CaptureMode == CaptureAutomatic,
		StatementDescriptor: in.StatementDescriptor,
		Metadata:            in.Metadata,
	})
	if err != nil {
		return &processor.AuthorizeResult{
			DeclineCode:    processor.DeclineProcessingError,
			DeclineMessage: err.Error(),
		}
	}
	return res
}

func (in *Intent) applyAuthorizeResult(result *processor.AuthorizeResult, now time.Time) error {
	switch {
	case result.RequiredAction != nil:
		return in.raise(EventActionRequired, now, ActionRequiredData{
			TransactionID: result.TransactionID,
			Action:        result.RequiredAction,
		})
	case result.Success:
		return in.raise(EventAuthRecorded, now, AuthRecordedData{
			TransactionID: result.TransactionID,
			AuthCode:      result.AuthCode,
			Captured:      in.CaptureMode == CaptureAutomatic,
			Amount:        in.Amount,
		})
	default:
		return in.raise(EventDeclineRecorded, now, DeclineRecordedData{
			Code:    result.DeclineCode,
			Message: result.DeclineMessage,
		})
	}
}

// Capture captures some or all of the capturable amount. Zero means full.
func (in *Intent) Capture(ctx context.Context, adapter processor.Adapter, amountToCapture int64, now time.Time) error {
	if in.Status != StatusRequiresCapture {
		return errs.Conflictf("capture", in.Status)
	}
	if amountToCapture == 0 {
		amountToCapture = in.AmountCapturable
	}
	if amountToCapture < 0 {
		return errs.Validationf("capture amount must be positive, got %d", amountToCapture)
	}
	if amountToCapture > in.AmountCapturable {
		return errs.Validationf("capture amount %d exceeds capturable %d", amountToCapture, in.AmountCapturable)
	}

	res, err := adapter.Capture(ctx, in.TransactionID, amountToCapture)
	if err != nil {
		return in.raise(EventCaptureFailed, now, CaptureFailedData{
			Code:    processor.DeclineProcessingError,
			Message: err.Error(),
		})
	}
	if !res.Success {
		return in.raise(EventCaptureFailed, now, CaptureFailedData{
			Code:    res.ErrorCode,
			Message: res.ErrorMessage,
		})
	}
	return in.raise(EventCaptureRecorded, now, CaptureRecordedData{
		CaptureID: res.CaptureID,
		Amount:    res.CapturedAmount,
	})
}

// Cancel cancels the intent, voiding any open processor authorization first.
func (in *Intent) Cancel(ctx context.Context, adapter processor.Adapter, reason string, now time.Time) error {
	if in.Status == StatusSucceeded || in.Status == StatusCanceled {
		return errs.Conflictf("cancel", in.Status)
	}

	voidFailed := false
	if in.TransactionID != "" && (in.Status == StatusRequiresCapture || in.Status == StatusProcessing || in.Status == StatusRequiresAction) {
		res, err := adapter.Void(ctx, in.TransactionID, reason)
		if err != nil || !res.Success {
			voidFailed = true
		}
	}
	return in.raise(EventCanceled, now, CanceledData{Reason: reason, VoidFailed: voidFailed})
}

// HandleNextAction completes a step-up: the action data is forwarded to the
// adapter's webhook handler and the intent returns to processing until the
// asynchronous authorization callback lands.
func (in *Intent) HandleNextAction(ctx context.Context, adapter processor.Adapter, actionData map[string]string, now time.Time) error {
	if in.Status != StatusRequiresAction {
		return errs.Conflictf("handle next action", in.Status)
	}
	if actionData == nil {
		actionData = map[string]string{}
	}
	actionData["transaction_id"] = in.TransactionID
	if err := adapter.HandleWebhook(ctx, "next_action.completed", actionData); err != nil {
		return fmt.Errorf("failed to forward next action: %w", err)
	}
	return in.raise(EventNextActionHandled, now, struct{}{})
}

// RecordAuthorization lets an asynchronous processor notification drive the
// same transition as a synchronous confirm.
func (in *Intent) RecordAuthorization(transactionID, authCode string, now time.Time) error {
	if in.Status != StatusProcessing && in.Status != StatusRequiresAction {
		return errs.Conflictf("record authorization", in.Status)
	}
	return in.raise(EventAuthRecorded, now, AuthRecordedData{
		TransactionID: transactionID,
		AuthCode:      authCode,
		Captured:      in.CaptureMode == CaptureAutomatic,
		Amount:        in.Amount,
	})
}

// RecordDecline records an asynchronous decline notification.
func (in *Intent) RecordDecline(code, message string, now time.Time) error {
	if in.Status != StatusProcessing && in.Status != StatusRequiresAction {
		return errs.Conflictf("record decline", in.Status)
	}
	return in.raise(EventDeclineRecorded, now, DeclineRecordedData{Code: code, Message: message})
}

// RecordCapture records an asynchronous capture notification.
func (in *Intent) RecordCapture(captureID string, amount int64, now time.Time) error {
	if in.Status != StatusRequiresCapture {
		return errs.Conflictf("record capture", in.Status)
	}
	if amount <= 0 || amount > in.AmountCapturable {
		return errs.Validationf("capture amount %d exceeds capturable %d", amount, in.AmountCapturable)
	}
	return in.raise(EventCaptureRecorded, now, CaptureRecordedData{CaptureID: captureID, Amount: amount})
}

func (in *Intent) isTerminal() bool {
	return in.Status == StatusSucceeded || in.Status == StatusCanceled
}

func (in *Intent) raise(eventType string, now time.Time, payload interface{}) error {
	env, err := event.New(in.ID, eventType, now, payload)
	if err != nil {
		return err
	}
	if err := in.apply(env); err != nil {
		return err
	}
	in.pending = append(in.pending, env)
	return nil
}

// apply is the pure transition function shared by live operations and replay.
func (in *Intent) apply(env event.Envelope) error {
	switch env.Type {
	case EventCreated:
		var d CreatedData
		if err := env.Decode(&d); err != nil {
			return err
		}
		in.AccountID = d.AccountID
		in.Amount = d.Amount
		in.Currency = d.Currency
		in.CaptureMode = d.CaptureMode
		in.PaymentMethod = d.PaymentMethod
		in.CustomerID = d.CustomerID
		in.Description = d.Description
		in.StatementDescriptor = d.StatementDescriptor
		in.Metadata = d.Metadata
		in.ClientSecret = d.ClientSecret
		in.IdempotencyKey = d.IdempotencyKey
		in.ProcessorName = d.ProcessorName
		in.CreatedAt = env.OccurredAt
		if d.PaymentMethod != "" {
			in.Status = StatusRequiresConfirmation
		} else {
			in.Status = StatusRequiresPaymentMethod
		}

	case EventMethodAttached:
		var d MethodAttachedData
		if err := env.Decode(&d); err != nil {
			return err
		}
		in.PaymentMethod = d.PaymentMethod
		if in.Status == StatusRequiresPaymentMethod {
			in.Status = StatusRequiresConfirmation
		}

	case EventUpdated:
		var d UpdatedData
		if err := env.Decode(&d); err != nil {
			return err
		}
		if d.Amount != nil {
			in.Amount = *d.Amount
		}
		if d.Description != nil {
			in.Description = *d.Description
		}
		if d.CustomerID != nil {
			in.CustomerID = *d.CustomerID
		}
		if d.Metadata != nil {
			if in.Metadata == nil {
				in.Metadata = map[string]string{}
			}
			for k, v := range d.Metadata {
				in.Metadata[k] = v
			}
		}

	case EventConfirmStarted:
		in.Status = StatusProcessing
		in.LastDeclineCode = ""
		in.LastDeclineMessage = ""

	case EventAuthRecorded:
		var d AuthRecordedData
		if err := env.Decode(&d); err != nil {
			return err
		}
		in.TransactionID = d.TransactionID
		in.AuthorizationCode = d.AuthCode
		in.NextAction = nil
		if d.Captured {
			in.Status = StatusSucceeded
			in.AmountReceived = d.Amount
			in.AmountCapturable = 0
			at := env.OccurredAt
			in.SucceededAt = &at
		} else {
			in.Status = StatusRequiresCapture
			in.AmountCapturable = d.Amount
		}

	case EventDeclineRecorded:
		var d DeclineRecordedData
		if err := env.Decode(&d); err != nil {
			return err
		}
		in.Status = StatusRequiresPaymentMethod
		in.LastDeclineCode = d.Code
		in.LastDeclineMessage = d.Message
		in.NextAction = nil
		in.AmountCapturable = 0

	case EventActionRequired:
		var d ActionRequiredData
		if err := env.Decode(&d); err != nil {
			return err
		}
		in.Status = StatusRequiresAction
		in.TransactionID = d.TransactionID
		in.NextAction = d.Action

	case EventNextActionHandled:
		in.Status = StatusProcessing
		in.NextAction = nil

	case EventCaptureRecorded:
		var d CaptureRecordedData
		if err := env.Decode(&d); err != nil {
			return err
		}
		in.AmountReceived += d.Amount
		in.AmountCapturable = 0
		in.Status = StatusSucceeded
		at := env.OccurredAt
		in.SucceededAt = &at

	case EventCaptureFailed:
		var d CaptureFailedData
		if err := env.Decode(&d); err != nil {
			return err
		}
		in.LastDeclineCode = d.Code
		in.LastDeclineMessage = d.Message

	case EventCanceled:
		var d CanceledData
		if err := env.Decode(&d); err != nil {
			return err
		}
		in.Status = StatusCanceled
		in.CancellationReason = d.Reason
		in.AmountCapturable = 0
		in.NextAction = nil
		at := env.OccurredAt
		in.CanceledAt = &at

	default:
		return fmt.Errorf("unknown intent event type: %s", env.Type)
	}

	in.UpdatedAt = env.OccurredAt
	return nil
}

func newClientSecret(id string) string {
	random := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("%s_secret_%s", id, random)
}
