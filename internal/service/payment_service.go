package service

import (
	"context"
	"fmt"
	"time"

	"payment-service/config"
	"payment-service/internal/broker"
	"payment-service/internal/domain/errs"
	"payment-service/internal/domain/payment"
	"payment-service/internal/models"
	"payment-service/internal/store"
	"payment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Drawer reason codes.
const (
	DrawerReasonCashSale   = "CASH_SALE"
	DrawerReasonCashRefund = "CASH_REFUND"
)

// PaymentService owns the POS payment lifecycle. Every operation runs under
// the payment's owner lock and persists the appended events before anything
// is published; notifications and collaborator calls after the durable
// write are fire-and-forget with logged failures.
type PaymentService struct {
	store     *store.Store
	owners    *ownerSet
	publisher *broker.EventPublisher
	ledger    OrderLedger
	drawer    CashDrawer
	retryCfg  config.RetryConfig
	logger    *zap.Logger
}

// NewPaymentService creates the payment service.
func NewPaymentService(
	st *store.Store,
	publisher *broker.EventPublisher,
	ledger OrderLedger,
	drawer CashDrawer,
	retryCfg config.RetryConfig,
) *PaymentService {
	return &PaymentService{
		store:     st,
		owners:    newOwnerSet(),
		publisher: publisher,
		ledger:    ledger,
		drawer:    drawer,
		retryCfg:  retryCfg,
		logger:    util.GetLogger(),
	}
}

// InitiateRequest starts a payment.
type InitiateRequest struct {
	PaymentID  string         `json:"payment_id,omitempty"`
	TenantID   string         `json:"tenant_id"`
	SiteID     string         `json:"site_id" binding:"required"`
	OrderID    string         `json:"order_id" binding:"required"`
	Method     payment.Method `json:"method" binding:"required"`
	Amount     int64          `json:"amount" binding:"required"`
	CashierID  string         `json:"cashier_id"`
	CustomerID string         `json:"customer_id,omitempty"`
	DrawerID   string         `json:"drawer_id,omitempty"`
}

// Initiate creates a payment in Initiated. Fails when the id already exists.
func (s *PaymentService) Initiate(ctx context.Context, req *InitiateRequest) (*payment.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Initiate")
	defer span.End()

	id := req.PaymentID
	if id == "" {
		id = uuid.New().String()
	}

	unlock := s.owners.Lock(id)
	defer unlock()

	exists, err := s.store.PaymentExists(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to check payment existence: %w", err)
	}
	if exists {
		return nil, errs.Validationf("payment %s already exists", id)
	}

	p := payment.New(id)
	if err := p.Initiate(payment.InitiateParams{
		TenantID:   req.TenantID,
		SiteID:     req.SiteID,
		OrderID:    req.OrderID,
		Method:     req.Method,
		Amount:     req.Amount,
		CashierID:  req.CashierID,
		CustomerID: req.CustomerID,
		DrawerID:   req.DrawerID,
		MaxRetries: s.retryCfg.MaxRetries,
	}, time.Now()); err != nil {
		return nil, err
	}

	if err := s.persist(ctx, p); err != nil {
		return nil, err
	}

	util.PaymentsInitiatedTotal.WithLabelValues(string(req.Method)).Inc()
	s.logger.Info("Payment initiated",
		zap.String("payment_id", p.ID),
		zap.String("order_id", p.OrderID),
		zap.Int64("amount", p.Amount))
	return p, nil
}

// CompleteCash completes a cash tender, moving the tender through the
// drawer and notifying the order ledger.
func (s *PaymentService) CompleteCash(ctx context.Context, paymentID string, amountTendered, tip int64) (*payment.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CompleteCash")
	defer span.End()

	p, err := s.mutate(ctx, paymentID, func(p *payment.Payment) error {
		return p.CompleteCash(amountTendered, tip, time.Now())
	})
	if err != nil {
		return nil, err
	}

	if p.DrawerID != "" {
		if err := s.drawer.Credit(ctx, p.DrawerID, DrawerReasonCashSale, p.TotalAmount); err != nil {
			s.logger.Error("Failed to credit cash drawer",
				zap.String("payment_id", p.ID),
				zap.Error(err))
		}
	}

	s.afterCompletion(ctx, p)
	return p, nil
}

// CompleteCard completes a card tender.
func (s *PaymentService) CompleteCard(ctx context.Context, paymentID, gatewayRef, authCode string, card payment.CardInfo, gatewayName string, tip int64) (*payment.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CompleteCard")
	defer span.End()

	p, err := s.mutate(ctx, paymentID, func(p *payment.Payment) error {
		return p.CompleteCard(gatewayRef, authCode, card, gatewayName, tip, time.Now())
	})
	if err != nil {
		return nil, err
	}

	s.afterCompletion(ctx, p)
	return p, nil
}

// CompleteGiftCard completes a gift card tender.
func (s *PaymentService) CompleteGiftCard(ctx context.Context, paymentID, giftCardID, cardNumber string) (*payment.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CompleteGiftCard")
	defer span.End()

	p, err := s.mutate(ctx, paymentID, func(p *payment.Payment) error {
		return p.CompleteGiftCard(giftCardID, cardNumber, time.Now())
	})
	if err != nil {
		return nil, err
	}

	s.afterCompletion(ctx, p)
	return p, nil
}

// RequestAuthorization starts the two-phase card path.
func (s *PaymentService) RequestAuthorization(ctx context.Context, paymentID string) (*payment.Payment, error) {
	return s.mutate(ctx, paymentID, func(p *payment.Payment) error {
		return p.RequestAuthorization(time.Now())
	})
}

// RecordAuthorization records a successful authorization.
func (s *PaymentService) RecordAuthorization(ctx context.Context, paymentID, gatewayRef, authCode, gatewayName string) (*payment.Payment, error) {
	return s.mutate(ctx, paymentID, func(p *payment.Payment) error {
		return p.RecordAuthorization(gatewayRef, authCode, gatewayName, time.Now())
	})
}

// RecordDecline records a decline.
func (s *PaymentService) RecordDecline(ctx context.Context, paymentID, code, message string) (*payment.Payment, error) {
	p, err := s.mutate(ctx, paymentID, func(p *payment.Payment) error {
		return p.RecordDecline(code, message, time.Now())
	})
	if err != nil {
		return nil, err
	}
	util.PaymentsDeclinedTotal.WithLabelValues(code).Inc()
	return p, nil
}

// Capture captures an authorized payment.
func (s *PaymentService) Capture(ctx context.Context, paymentID string) (*payment.Payment, error) {
	return s.mutate(ctx, paymentID, func(p *payment.Payment) error {
		return p.Capture(time.Now())
	})
}

// Refund issues a refund and notifies collaborators.
func (s *PaymentService) Refund(ctx context.Context, paymentID string, amount int64, reason, issuedBy string) (*payment.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Refund")
	defer span.End()

	var refund *payment.Refund
	p, err := s.mutate(ctx, paymentID, func(p *payment.Payment) error {
		r, err := p.Refund(amount, reason, issuedBy, time.Now())
		if err != nil {
			return err
		}
		refund = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.PaymentsRefundedTotal.Inc()

	if p.Method == payment.MethodCash && p.DrawerID != "" {
		if err := s.drawer.Debit(ctx, p.DrawerID, DrawerReasonCashRefund, amount); err != nil {
			s.logger.Error("Failed to debit cash drawer for refund",
				zap.String("payment_id", p.ID),
				zap.Error(err))
		}
	}

	if err := s.ledger.RecordRefund(ctx, p.OrderID, p.ID, amount); err != nil {
		s.logger.Error("Failed to record refund against order",
			zap.String("payment_id", p.ID),
			zap.Error(err))
	}

	event := &models.PaymentRefundedEvent{
		PaymentID:       p.ID,
		OrderID:         p.OrderID,
		SiteID:          p.SiteID,
		RefundID:        refund.ID,
		RefundAmount:    amount,
		RemainingAmount: p.TotalAmount - p.RefundedAmount,
		Reason:          reason,
	}
	if err := s.publisher.PublishPaymentRefunded(ctx, event); err != nil {
		s.logger.Error("Failed to publish PaymentRefunded event", zap.Error(err))
	}
	return p, nil
}

// Void voids the payment.
func (s *PaymentService) Void(ctx context.Context, paymentID, voidedBy, reason string) (*payment.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Void")
	defer span.End()

	p, err := s.mutate(ctx, paymentID, func(p *payment.Payment) error {
		return p.Void(voidedBy, reason, time.Now())
	})
	if err != nil {
		return nil, err
	}

	util.PaymentsVoidedTotal.Inc()

	event := &models.PaymentVoidedEvent{
		PaymentID: p.ID,
		OrderID:   p.OrderID,
		SiteID:    p.SiteID,
		VoidedBy:  voidedBy,
		Reason:    reason,
	}
	if err := s.publisher.PublishPaymentVoided(ctx, event); err != nil {
		s.logger.Error("Failed to publish PaymentVoided event", zap.Error(err))
	}
	return p, nil
}

// AdjustTip changes the tip on a completed payment.
func (s *PaymentService) AdjustTip(ctx context.Context, paymentID string, newTip int64) (*payment.Payment, error) {
	return s.mutate(ctx, paymentID, func(p *payment.Payment) error {
		return p.AdjustTip(newTip, time.Now())
	})
}

// AssignToBatch tags the payment with its settlement batch. Idempotent, so
// the settlement service can safely re-drive it during reconciliation.
func (s *PaymentService) AssignToBatch(ctx context.Context, paymentID, batchID string) error {
	_, err := s.mutate(ctx, paymentID, func(p *payment.Payment) error {
		return p.AssignToBatch(batchID, time.Now())
	})
	return err
}

// FailCompletion schedules a retry after a transient completion failure,
// raising the retry-exhausted alert when attempts run out.
func (s *PaymentService) FailCompletion(ctx context.Context, paymentID, errorCode, errorMessage string) (*payment.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.FailCompletion")
	defer span.End()

	var exhausted bool
	p, err := s.mutate(ctx, paymentID, func(p *payment.Payment) error {
		ex, err := p.ScheduleRetry(time.Duration(s.retryCfg.BaseDelaySeconds)*time.Second, errorCode, errorMessage, time.Now())
		exhausted = ex
		return err
	})
	if err != nil {
		return nil, err
	}

	if exhausted {
		util.PaymentRetriesExhaustedTotal.Inc()
		s.alert(ctx, &models.AlertEvent{
			AlertType: models.AlertRetryExhausted,
			SiteID:    p.SiteID,
			SubjectID: p.ID,
			Detail:    fmt.Sprintf("payment retries exhausted: %s", errorCode),
			Attempts:  p.RetryCount,
		})
	} else {
		util.PaymentRetriesScheduledTotal.Inc()
	}
	return p, nil
}

// RetryExecutor performs one network reattempt for a due payment. The
// returned gateway reference is recorded on success.
type RetryExecutor func(ctx context.Context, p *payment.Payment) (gatewayRef string, err error)

// ProcessDueRetries finds payments whose retry is due and drives one
// attempt each through the executor. Timer scheduling lives with the
// caller; this only asks each payment "are you due" and records outcomes.
func (s *PaymentService) ProcessDueRetries(ctx context.Context, now time.Time, limit int, exec RetryExecutor) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.ProcessDueRetries")
	defer span.End()

	ids, err := s.store.ListPaymentsDueForRetry(ctx, now, limit)
	if err != nil {
		return fmt.Errorf("failed to list due retries: %w", err)
	}

	for _, id := range ids {
		if err := s.retryOne(ctx, id, now, exec); err != nil {
			s.logger.Error("Retry attempt failed to record",
				zap.String("payment_id", id),
				zap.Error(err))
		}
	}
	return nil
}

func (s *PaymentService) retryOne(ctx context.Context, paymentID string, now time.Time, exec RetryExecutor) error {
	unlock := s.owners.Lock(paymentID)
	defer unlock()

	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if !p.ShouldRetry(now) {
		return nil
	}

	gatewayRef, execErr := exec(ctx, p)
	if execErr == nil {
		if err := p.RecordRetryAttempt(true, "", "", time.Now()); err != nil {
			return err
		}
		if err := p.CompleteCard(gatewayRef, "", payment.CardInfo{}, p.GatewayName, p.TipAmount, time.Now()); err != nil {
			// Payment may have completed through another path meanwhile;
			// the successful attempt record is still worth persisting.
			s.logger.Warn("Retried payment could not complete",
				zap.String("payment_id", p.ID),
				zap.String("status", p.Status),
				zap.Error(err))
		}
		if err := s.persist(ctx, p); err != nil {
			return err
		}
		if p.Status == payment.StatusCompleted {
			s.afterCompletion(ctx, p)
		}
		return nil
	}

	if err := p.RecordRetryAttempt(false, "processing_error", execErr.Error(), time.Now()); err != nil {
		return err
	}
	exhausted, err := p.ScheduleRetry(time.Duration(s.retryCfg.BaseDelaySeconds)*time.Second, "processing_error", execErr.Error(), time.Now())
	if err != nil {
		return err
	}
	if err := s.persist(ctx, p); err != nil {
		return err
	}
	if exhausted {
		util.PaymentRetriesExhaustedTotal.Inc()
		s.alert(ctx, &models.AlertEvent{
			AlertType: models.AlertRetryExhausted,
			SiteID:    p.SiteID,
			SubjectID: p.ID,
			Detail:    "payment retries exhausted: " + execErr.Error(),
			Attempts:  p.RetryCount,
		})
	} else {
		util.PaymentRetriesScheduledTotal.Inc()
	}
	return nil
}

// Get returns a payment by id.
func (s *PaymentService) Get(ctx context.Context, paymentID string) (*payment.Payment, error) {
	return s.store.GetPayment(ctx, paymentID)
}

// GetRetryInfo returns the retry bookkeeping for a payment.
func (s *PaymentService) GetRetryInfo(ctx context.Context, paymentID string) (*payment.RetryInfo, error) {
	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	info := p.GetRetryInfo()
	return &info, nil
}

// ReplayPayment rebuilds a payment from its event log, used by audit
// tooling to verify the snapshot matches the log.
func (s *PaymentService) ReplayPayment(ctx context.Context, paymentID string) (*payment.Payment, error) {
	log, err := s.store.ListPaymentEvents(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if len(log) == 0 {
		return nil, fmt.Errorf("%w: payment %s has no events", errs.ErrNotFound, paymentID)
	}
	return payment.Replay(paymentID, log)
}

// mutate runs op on the payment under its owner lock and persists.
func (s *PaymentService) mutate(ctx context.Context, paymentID string, op func(*payment.Payment) error) (*payment.Payment, error) {
	unlock := s.owners.Lock(paymentID)
	defer unlock()

	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if err := op(p); err != nil {
		return nil, err
	}
	if err := s.persist(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PaymentService) persist(ctx context.Context, p *payment.Payment) error {
	if len(p.PendingEvents()) == 0 {
		return nil
	}
	if err := s.store.SavePayment(ctx, p, p.PendingEvents()); err != nil {
		return fmt.Errorf("failed to persist payment %s: %w", p.ID, err)
	}
	p.ClearPending()
	return nil
}

// afterCompletion runs the post-completion fan-out: order ledger call plus
// the PaymentCompleted notification. Both are downstream of the durable
// write; failures are logged and closed by reconciliation, never bubbled.
func (s *PaymentService) afterCompletion(ctx context.Context, p *payment.Payment) {
	util.PaymentsCompletedTotal.WithLabelValues(string(p.Method)).Inc()

	if err := s.ledger.RecordPayment(ctx, p.OrderID, p.ID, p.TotalAmount, string(p.Method)); err != nil {
		s.logger.Error("Failed to record payment against order",
			zap.String("payment_id", p.ID),
			zap.String("order_id", p.OrderID),
			zap.Error(err))
	}

	event := &models.PaymentCompletedEvent{
		PaymentID:        p.ID,
		OrderID:          p.OrderID,
		SiteID:           p.SiteID,
		Method:           string(p.Method),
		Amount:           p.Amount,
		TipAmount:        p.TipAmount,
		TotalAmount:      p.TotalAmount,
		MaskedInstrument: p.MaskedInstrument(),
	}
	if err := s.publisher.PublishPaymentCompleted(ctx, event); err != nil {
		s.logger.Error("Failed to publish PaymentCompleted event",
			zap.String("payment_id", p.ID),
			zap.Error(err))
	}
}

func (s *PaymentService) alert(ctx context.Context, alert *models.AlertEvent) {
	if err := s.publisher.PublishAlert(ctx, alert); err != nil {
		s.logger.Error("Failed to publish alert",
			zap.String("alert_type", alert.AlertType),
			zap.String("subject_id", alert.SubjectID),
			zap.Error(err))
	}
}
