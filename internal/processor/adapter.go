package processor

import "context"

// AuthorizeRequest carries one authorization attempt to a payment network.
type AuthorizeRequest struct {
	IntentID            string            `json:"intent_id"`
	Amount              int64             `json:"amount"`
	Currency            string            `json:"currency"`
	MethodToken         string            `json:"method_token"`
	AutoCapture         bool              `json:"auto_capture"`
	StatementDescriptor string            `json:"statement_descriptor,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

// RequiredAction describes a step-up (e.g. 3-D Secure) the customer must
// complete before the charge can finish.
type RequiredAction struct {
	Type string            `json:"type"`
	Data map[string]string `json:"data,omitempty"`
}

// AuthorizeResult is the outcome of an authorization attempt. Declines are
// data here, never errors.
type AuthorizeResult struct {
	Success        bool            `json:"success"`
	TransactionID  string          `json:"transaction_id,omitempty"`
	AuthCode       string          `json:"auth_code,omitempty"`
	DeclineCode    string          `json:"decline_code,omitempty"`
	DeclineMessage string          `json:"decline_message,omitempty"`
	RequiredAction *RequiredAction `json:"required_action,omitempty"`
}

// CaptureResult is the outcome of a capture call.
type CaptureResult struct {
	Success        bool   `json:"success"`
	CaptureID      string `json:"capture_id,omitempty"`
	CapturedAmount int64  `json:"captured_amount"`
	ErrorCode      string `json:"error_code,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// RefundResult is the outcome of a refund call.
type RefundResult struct {
	Success        bool   `json:"success"`
	RefundID       string `json:"refund_id,omitempty"`
	RefundedAmount int64  `json:"refunded_amount"`
	ErrorCode      string `json:"error_code,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// VoidResult is the outcome of voiding an open authorization.
type VoidResult struct {
	Success      bool   `json:"success"`
	VoidID       string `json:"void_id,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Adapter is the per-network capability contract. Implementations return
// business failures inside the result structs; an error return means the
// call itself could not be made.
type Adapter interface {
	Name() string
	Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResult, error)
	Capture(ctx context.Context, transactionID string, amount int64) (*CaptureResult, error)
	Refund(ctx context.Context, transactionID string, amount int64, reason string) (*RefundResult, error)
	Void(ctx context.Context, transactionID string, reason string) (*VoidResult, error)
	HandleWebhook(ctx context.Context, eventType string, payload map[string]string) error
}
