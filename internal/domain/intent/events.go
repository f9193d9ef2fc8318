package intent

import "payment-service/internal/processor"

// Event types in a payment intent's log.
const (
	EventCreated           = "intent.created"
	EventMethodAttached    = "intent.payment_method_attached"
	EventUpdated           = "intent.updated"
	EventConfirmStarted    = "intent.confirm_started"
	EventAuthRecorded      = "intent.authorization_recorded"
	EventDeclineRecorded   = "intent.decline_recorded"
	EventActionRequired    = "intent.action_required"
	EventNextActionHandled = "intent.next_action_handled"
	EventCaptureRecorded   = "intent.capture_recorded"
	EventCaptureFailed     = "intent.capture_failed"
	EventCanceled          = "intent.canceled"
)

type CreatedData struct {
	AccountID           string            `json:"account_id"`
	Amount              int64             `json:"amount"`
	Currency            string            `json:"currency"`
	CaptureMode         CaptureMode       `json:"capture_mode"`
	PaymentMethod       string            `json:"payment_method,omitempty"`
	CustomerID          string            `json:"customer_id,omitempty"`
	Description         string            `json:"description,omitempty"`
	StatementDescriptor string            `json:"statement_descriptor,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	ClientSecret        string            `json:"client_secret"`
	IdempotencyKey      string            `json:"idempotency_key,omitempty"`
	ProcessorName       string            `json:"processor_name"`
}

type MethodAttachedData struct {
	PaymentMethod string `json:"payment_method"`
}

type UpdatedData struct {
	Amount      *int64            `json:"amount,omitempty"`
	Description *string           `json:"description,omitempty"`
	CustomerID  *string           `json:"customer_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type ConfirmStartedData struct {
	PaymentMethod string `json:"payment_method"`
}

type AuthRecordedData struct {
	TransactionID string `json:"transaction_id"`
	AuthCode      string `json:"auth_code"`
	Captured      bool   `json:"captured"`
	Amount        int64  `json:"amount"`
}

type DeclineRecordedData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ActionRequiredData struct {
	TransactionID string                    `json:"transaction_id"`
	Action        *processor.RequiredAction `json:"action"`
}

type CaptureRecordedData struct {
	CaptureID string `json:"capture_id"`
	Amount    int64  `json:"amount"`
}

type CaptureFailedData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type CanceledData struct {
	Reason     string `json:"reason,omitempty"`
	VoidFailed bool   `json:"void_failed,omitempty"`
}
