package models

import "time"

// Outbound event types consumed by order/ledger collaborators.
const (
	EventTypePaymentCompleted = "PAYMENT_COMPLETED"
	EventTypePaymentRefunded  = "PAYMENT_REFUNDED"
	EventTypePaymentVoided    = "PAYMENT_VOIDED"
)

// Alert types. Delivery is best effort; a failed alert never fails the
// operation that raised it.
const (
	AlertRetryExhausted        = "RETRY_EXHAUSTED"
	AlertOfflineQueueExhausted = "OFFLINE_QUEUE_EXHAUSTED"
	AlertSettlementFailed      = "SETTLEMENT_FAILED"
	AlertChargebackReceived    = "CHARGEBACK_RECEIVED"
)

// Inbound processor webhook event types.
const (
	EventTypeProcessorAuthorized = "PROCESSOR_AUTHORIZED"
	EventTypeProcessorDeclined   = "PROCESSOR_DECLINED"
	EventTypeProcessorCaptured   = "PROCESSOR_CAPTURED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentCompletedEvent published when a payment completes
type PaymentCompletedEvent struct {
	BaseEvent
	PaymentID        string `json:"payment_id"`
	OrderID          string `json:"order_id"`
	SiteID           string `json:"site_id"`
	Method           string `json:"method"`
	Amount           int64  `json:"amount"`
	TipAmount        int64  `json:"tip_amount"`
	TotalAmount      int64  `json:"total_amount"`
	MaskedInstrument string `json:"masked_instrument"`
}

// PaymentRefundedEvent published when a refund is issued
type PaymentRefundedEvent struct {
	BaseEvent
	PaymentID       string `json:"payment_id"`
	OrderID         string `json:"order_id"`
	SiteID          string `json:"site_id"`
	RefundID        string `json:"refund_id"`
	RefundAmount    int64  `json:"refund_amount"`
	RemainingAmount int64  `json:"remaining_amount"`
	Reason          string `json:"reason"`
}

// PaymentVoidedEvent published when a payment is voided
type PaymentVoidedEvent struct {
	BaseEvent
	PaymentID string `json:"payment_id"`
	OrderID   string `json:"order_id"`
	SiteID    string `json:"site_id"`
	VoidedBy  string `json:"voided_by"`
	Reason    string `json:"reason"`
}

// AlertEvent published to the alert topic for operator attention
type AlertEvent struct {
	BaseEvent
	AlertType string `json:"alert_type"`
	SiteID    string `json:"site_id,omitempty"`
	SubjectID string `json:"subject_id"`
	Detail    string `json:"detail,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
}

// ProcessorWebhookEvent is an asynchronous processor notification consumed
// by the webhook worker and routed to the owning intent.
type ProcessorWebhookEvent struct {
	BaseEvent
	IntentID      string `json:"intent_id"`
	TransactionID string `json:"transaction_id"`
	AuthCode      string `json:"auth_code,omitempty"`
	CaptureID     string `json:"capture_id,omitempty"`
	DeclineCode   string `json:"decline_code,omitempty"`
	DeclineMessage string `json:"decline_message,omitempty"`
	Amount        int64  `json:"amount,omitempty"`
}
