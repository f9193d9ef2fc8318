package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Test instrument tokens. Each maps deterministically to one outcome so the
// same test input always produces the same result.
const (
	TokenVisa              = "tok_visa"
	TokenMastercard        = "tok_mastercard"
	TokenDeclined          = "tok_declined"
	TokenInsufficientFunds = "tok_insufficient_funds"
	TokenExpiredCard       = "tok_expired_card"
	TokenIncorrectCVC      = "tok_incorrect_cvc"
	TokenThreeDSRequired   = "tok_3ds_required"
	TokenProcessingError   = "tok_processing_error"
)

// Decline and error codes surfaced by the mock network.
const (
	DeclineCardDeclined      = "card_declined"
	DeclineInsufficientFunds = "insufficient_funds"
	DeclineExpiredCard       = "expired_card"
	DeclineIncorrectCVC      = "incorrect_cvc"
	DeclineProcessingError   = "processing_error"
)

// maxAuditEvents bounds the per-transaction audit log; the oldest entries
// are dropped once the bound is hit.
const maxAuditEvents = 200

// AuditEvent is one row in a transaction's append-only audit log.
type AuditEvent struct {
	At            time.Time `json:"at"`
	Type          string    `json:"type"`
	CorrelationID string    `json:"correlation_id"`
	Detail        string    `json:"detail,omitempty"`
}

// State is the per-authorization-attempt record kept by the processor; it is
// the processor's own source of truth for reconciliation.
type State struct {
	ProcessorName     string       `json:"processor_name"`
	IntentID          string       `json:"intent_id"`
	TransactionID     string       `json:"transaction_id"`
	AuthorizationCode string       `json:"authorization_code"`
	Status            string       `json:"status"`
	AuthorizedAmount  int64        `json:"authorized_amount"`
	CapturedAmount    int64        `json:"captured_amount"`
	RefundedAmount    int64        `json:"refunded_amount"`
	Attempts          int          `json:"attempts"`
	LastError         string       `json:"last_error,omitempty"`
	Events            []AuditEvent `json:"events"`
}

// AuthorizedCallback is invoked when a held step-up transaction completes
// via SimulateWebhook, so the owning intent can reconcile.
type AuthorizedCallback func(ctx context.Context, intentID, transactionID, authCode string) error

// Mock simulates a payment network. Outcomes are driven by the instrument
// token, or by an operator-forced next response.
type Mock struct {
	mu           sync.Mutex
	transactions map[string]*State
	held         map[string]AuthorizeRequest
	forced       *AuthorizeResult
	delay        time.Duration
	onAuthorized AuthorizedCallback
}

// NewMock creates a mock processor.
func NewMock() *Mock {
	return &Mock{
		transactions: make(map[string]*State),
		held:         make(map[string]AuthorizeRequest),
	}
}

// Name implements Adapter.
func (m *Mock) Name() string { return "mock" }

// OnAuthorized registers the callback fired when a step-up transaction is
// completed by SimulateWebhook.
func (m *Mock) OnAuthorized(cb AuthorizedCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAuthorized = cb
}

// ForceNextResponse makes the next Authorize call return the given result
// regardless of the instrument token.
func (m *Mock) ForceNextResponse(result AuthorizeResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forced = &result
}

// SetDelay injects a fixed latency into every call.
func (m *Mock) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Transaction returns a copy of the processor state for a transaction id.
func (m *Mock) Transaction(transactionID string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.transactions[transactionID]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// Authorize implements Adapter.
func (m *Mock) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResult, error) {
	if err := m.sleep(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	result := m.resolveLocked(req)

	txID := result.TransactionID
	if txID == "" {
		txID = newTransactionID()
	}
	st := &State{
		ProcessorName:     m.Name(),
		IntentID:          req.IntentID,
		TransactionID:     txID,
		AuthorizationCode: result.AuthCode,
		Attempts:          1,
	}

	switch {
	case result.RequiredAction != nil:
		result.TransactionID = txID
		st.Status = "requires_action"
		m.held[txID] = req
		m.audit(st, "authorization.held", req.IntentID, "step-up authentication required")
	case result.Success:
		result.TransactionID = txID
		st.Status = "authorized"
		st.AuthorizedAmount = req.Amount
		if req.AutoCapture {
			st.Status = "captured"
			st.CapturedAmount = req.Amount
		}
		m.audit(st, "authorization.approved", req.IntentID, fmt.Sprintf("amount=%d auto_capture=%t", req.Amount, req.AutoCapture))
	default:
		st.Status = "declined"
		st.LastError = result.DeclineCode
		m.audit(st, "authorization.declined", req.IntentID, result.DeclineCode)
	}

	m.transactions[st.TransactionID] = st
	return &result, nil
}

// resolveLocked picks the outcome for an authorize call.
func (m *Mock) resolveLocked(req AuthorizeRequest) AuthorizeResult {
	if m.forced != nil {
		result := *m.forced
		m.forced = nil
		return result
	}

	switch req.MethodToken {
	case TokenDeclined:
		return AuthorizeResult{DeclineCode: DeclineCardDeclined, DeclineMessage: "Your card was declined."}
	case TokenInsufficientFunds:
		return AuthorizeResult{DeclineCode: DeclineInsufficientFunds, DeclineMessage: "Your card has insufficient funds."}
	case TokenExpiredCard:
		return AuthorizeResult{DeclineCode: DeclineExpiredCard, DeclineMessage: "Your card has expired."}
	case TokenIncorrectCVC:
		return AuthorizeResult{DeclineCode: DeclineIncorrectCVC, DeclineMessage: "Your card's security code is incorrect."}
	case TokenProcessingError:
		return AuthorizeResult{DeclineCode: DeclineProcessingError, DeclineMessage: "An error occurred while processing your card."}
	case TokenThreeDSRequired:
		return AuthorizeResult{
			RequiredAction: &RequiredAction{
				Type: "three_d_secure",
				Data: map[string]string{"redirect_url": "https://mock.processor/3ds/" + req.IntentID},
			},
		}
	default:
		return AuthorizeResult{Success: true, AuthCode: newAuthCode()}
	}
}

// Capture implements Adapter.
func (m *Mock) Capture(ctx context.Context, transactionID string, amount int64) (*CaptureResult, error) {
	if err := m.sleep(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.transactions[transactionID]
	if !ok {
		return &CaptureResult{ErrorCode: "transaction_not_found", ErrorMessage: "unknown transaction: " + transactionID}, nil
	}
	if st.Status != "authorized" {
		return &CaptureResult{ErrorCode: "invalid_state", ErrorMessage: "transaction is " + st.Status}, nil
	}
	if amount <= 0 || amount > st.AuthorizedAmount {
		return &CaptureResult{ErrorCode: "amount_invalid", ErrorMessage: fmt.Sprintf("capture amount %d outside authorized %d", amount, st.AuthorizedAmount)}, nil
	}

	st.Status = "captured"
	st.CapturedAmount = amount
	captureID := "cap_" + uuid.New().String()[:8]
	m.audit(st, "capture.completed", transactionID, fmt.Sprintf("amount=%d", amount))

	return &CaptureResult{Success: true, CaptureID: captureID, CapturedAmount: amount}, nil
}

// Refund implements Adapter.
func (m *Mock) Refund(ctx context.Context, transactionID string, amount int64, reason string) (*RefundResult, error) {
	if err := m.sleep(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.transactions[transactionID]
	if !ok {
		return &RefundResult{ErrorCode: "transaction_not_found", ErrorMessage: "unknown transaction: " + transactionID}, nil
	}
	if st.Status != "captured" {
		return &RefundResult{ErrorCode: "invalid_state", ErrorMessage: "transaction is " + st.Status}, nil
	}
	if amount <= 0 || st.RefundedAmount+amount > st.CapturedAmount {
		return &RefundResult{ErrorCode: "amount_invalid", ErrorMessage: fmt.Sprintf("refund amount %d exceeds captured %d", amount, st.CapturedAmount)}, nil
	}

	st.RefundedAmount += amount
	refundID := "re_" + uuid.New().String()[:8]
	m.audit(st, "refund.completed", transactionID, fmt.Sprintf("amount=%d reason=%s", amount, reason))

	return &RefundResult{Success: true, RefundID: refundID, RefundedAmount: amount}, nil
}

// Void implements Adapter.
func (m *Mock) Void(ctx context.Context, transactionID string, reason string) (*VoidResult, error) {
	if err := m.sleep(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.transactions[transactionID]
	if !ok {
		return &VoidResult{ErrorCode: "transaction_not_found", ErrorMessage: "unknown transaction: " + transactionID}, nil
	}
	if st.Status == "captured" || st.Status == "voided" {
		return &VoidResult{ErrorCode: "invalid_state", ErrorMessage: "transaction is " + st.Status}, nil
	}

	st.Status = "voided"
	delete(m.held, transactionID)
	voidID := "void_" + uuid.New().String()[:8]
	m.audit(st, "authorization.voided", transactionID, reason)

	return &VoidResult{Success: true, VoidID: voidID}, nil
}

// HandleWebhook implements Adapter. The mock records the inbound event on
// the transaction's audit log.
func (m *Mock) HandleWebhook(ctx context.Context, eventType string, payload map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	txID := payload["transaction_id"]
	st, ok := m.transactions[txID]
	if !ok {
		return fmt.Errorf("unknown transaction in webhook: %s", txID)
	}
	m.audit(st, "webhook."+eventType, txID, "")
	return nil
}

// SimulateWebhook completes a held step-up transaction: the authorization is
// approved and the owning intent is notified through the registered
// callback.
func (m *Mock) SimulateWebhook(ctx context.Context, transactionID string) error {
	m.mu.Lock()
	req, held := m.held[transactionID]
	st, ok := m.transactions[transactionID]
	if !held || !ok {
		m.mu.Unlock()
		return fmt.Errorf("no held transaction: %s", transactionID)
	}
	delete(m.held, transactionID)

	st.Status = "authorized"
	st.AuthorizedAmount = req.Amount
	st.AuthorizationCode = newAuthCode()
	if req.AutoCapture {
		st.Status = "captured"
		st.CapturedAmount = req.Amount
	}
	authCode := st.AuthorizationCode
	intentID := st.IntentID
	cb := m.onAuthorized
	m.audit(st, "authorization.step_up_completed", intentID, "")
	m.mu.Unlock()

	if cb != nil {
		return cb(ctx, intentID, transactionID, authCode)
	}
	return nil
}

func (m *Mock) audit(st *State, eventType, correlationID, detail string) {
	st.Events = append(st.Events, AuditEvent{
		At:            time.Now(),
		Type:          eventType,
		CorrelationID: correlationID,
		Detail:        detail,
	})
	if len(st.Events) > maxAuditEvents {
		st.Events = st.Events[len(st.Events)-maxAuditEvents:]
	}
}

func (m *Mock) sleep(ctx context.Context) error {
	m.mu.Lock()
	d := m.delay
	m.mu.Unlock()
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newTransactionID() string {
	return "txn_" + uuid.New().String()[:8]
}

func newAuthCode() string {
	return "auth_" + uuid.New().String()[:6]
}
