package payment

import "time"

// Event types appended to a payment's log. The order they appear in the log
// is the order they were applied; replaying them rebuilds the aggregate.
const (
	EventInitiated         = "payment.initiated"
	EventCashCompleted     = "payment.cash_completed"
	EventCardCompleted     = "payment.card_completed"
	EventGiftCardCompleted = "payment.gift_card_completed"
	EventAuthRequested     = "payment.authorization_requested"
	EventAuthorized        = "payment.authorized"
	EventDeclined          = "payment.declined"
	EventCaptured          = "payment.captured"
	EventRefunded          = "payment.refunded"
	EventVoided            = "payment.voided"
	EventTipAdjusted       = "payment.tip_adjusted"
	EventBatchAssigned     = "payment.batch_assigned"
	EventRetryScheduled    = "payment.retry_scheduled"
	EventRetryRecorded     = "payment.retry_recorded"
	EventRetryExhausted    = "payment.retry_exhausted"
)

type InitiatedData struct {
	TenantID   string `json:"tenant_id"`
	SiteID     string `json:"site_id"`
	OrderID    string `json:"order_id"`
	Method     Method `json:"method"`
	Amount     int64  `json:"amount"`
	CashierID  string `json:"cashier_id"`
	CustomerID string `json:"customer_id,omitempty"`
	DrawerID   string `json:"drawer_id,omitempty"`
	MaxRetries int    `json:"max_retries"`
}

type CashCompletedData struct {
	AmountTendered int64 `json:"amount_tendered"`
	TipAmount      int64 `json:"tip_amount"`
	TotalAmount    int64 `json:"total_amount"`
	ChangeGiven    int64 `json:"change_given"`
}

type CardCompletedData struct {
	GatewayRef  string   `json:"gateway_ref"`
	AuthCode    string   `json:"auth_code"`
	GatewayName string   `json:"gateway_name"`
	TipAmount   int64    `json:"tip_amount"`
	Card        CardInfo `json:"card"`
}

type GiftCardCompletedData struct {
	GiftCardID string `json:"gift_card_id"`
	CardNumber string `json:"card_number"`
}

type AuthorizedData struct {
	GatewayRef  string `json:"gateway_ref"`
	AuthCode    string `json:"auth_code"`
	GatewayName string `json:"gateway_name"`
}

type DeclinedData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type RefundedData struct {
	RefundID string `json:"refund_id"`
	Amount   int64  `json:"amount"`
	Reason   string `json:"reason"`
	IssuedBy string `json:"issued_by"`
}

type VoidedData struct {
	VoidedBy string `json:"voided_by"`
	Reason   string `json:"reason"`
}

type TipAdjustedData struct {
	TipAmount   int64 `json:"tip_amount"`
	TotalAmount int64 `json:"total_amount"`
}

type BatchAssignedData struct {
	BatchID string `json:"batch_id"`
}

type RetryScheduledData struct {
	Attempt      int       `json:"attempt"`
	NextRetryAt  time.Time `json:"next_retry_at"`
	ErrorCode    string    `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
}

type RetryRecordedData struct {
	Attempt      int    `json:"attempt"`
	Success      bool   `json:"success"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type RetryExhaustedData struct {
	Attempts     int    `json:"attempts"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}
