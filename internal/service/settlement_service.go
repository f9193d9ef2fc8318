package service

import (
	"context"
	"fmt"
	"time"

	"payment-service/internal/broker"
	"payment-service/internal/domain/settlement"
	"payment-service/internal/models"
	"payment-service/internal/store"
	"payment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SettlementService owns settlement batches. Adding a payment to a batch
// also tags the payment aggregate with the batch id, after the batch write
// is durable.
type SettlementService struct {
	store     *store.Store
	owners    *ownerSet
	publisher *broker.EventPublisher
	payments  *PaymentService
	logger    *zap.Logger
}

// NewSettlementService creates the settlement service.
func NewSettlementService(st *store.Store, publisher *broker.EventPublisher, payments *PaymentService) *SettlementService {
	return &SettlementService{
		store:     st,
		owners:    newOwnerSet(),
		publisher: publisher,
		payments:  payments,
		logger:    util.GetLogger(),
	}
}

// OpenBatchRequest opens a settlement batch for a site and business date.
type OpenBatchRequest struct {
	SiteID       string `json:"site_id" binding:"required"`
	BusinessDate string `json:"business_date" binding:"required"`
	OpenedBy     string `json:"opened_by"`
}

// OpenBatch opens a new batch.
func (s *SettlementService) OpenBatch(ctx context.Context, req *OpenBatchRequest) (*settlement.Batch, error) {
	ctx, span := util.StartSpan(ctx, "SettlementService.OpenBatch")
	defer span.End()

	id := uuid.New().String()
	unlock := s.owners.Lock(id)
	defer unlock()

	b := settlement.New(id)
	if err := b.Open(req.SiteID, req.BusinessDate, req.OpenedBy, time.Now()); err != nil {
		return nil, err
	}
	if err := s.persist(ctx, b); err != nil {
		return nil, err
	}

	s.logger.Info("Settlement batch opened",
		zap.String("batch_id", b.ID),
		zap.String("batch_number", b.BatchNumber),
		zap.String("site_id", b.SiteID),
		zap.String("business_date", b.BusinessDate))
	return b, nil
}

// AddPayment attaches a completed payment to an open batch and tags the
// payment with the batch id. The payment-side tag is driven after the batch
// write commits; AssignToBatch is idempotent so reconciliation can re-run it.
func (s *SettlementService) AddPayment(ctx context.Context, batchID, paymentID string, amount int64, method, gatewayRef string) (*settlement.Batch, error) {
	ctx, span := util.StartSpan(ctx, "SettlementService.AddPayment")
	defer span.End()

	b, err := s.mutate(ctx, batchID, func(b *settlement.Batch) error {
		return b.AddPayment(paymentID, amount, method, gatewayRef, time.Now())
	})
	if err != nil {
		return nil, err
	}

	if err := s.payments.AssignToBatch(ctx, paymentID, batchID); err != nil {
		s.logger.Error("Failed to tag payment with batch",
			zap.String("payment_id", paymentID),
			zap.String("batch_id", batchID),
			zap.Error(err))
	}
	return b, nil
}

// RemovePayment detaches a payment from an open batch.
func (s *SettlementService) RemovePayment(ctx context.Context, batchID, paymentID, reason string) (*settlement.Batch, error) {
	return s.mutate(ctx, batchID, func(b *settlement.Batch) error {
		return b.RemovePayment(paymentID, reason, time.Now())
	})
}

// CloseBatch closes the batch and returns the closing summary.
func (s *SettlementService) CloseBatch(ctx context.Context, batchID, closedBy string) (*settlement.CloseSummary, error) {
	ctx, span := util.StartSpan(ctx, "SettlementService.CloseBatch")
	defer span.End()

	var summary *settlement.CloseSummary
	b, err := s.mutate(ctx, batchID, func(b *settlement.Batch) error {
		cs, err := b.Close(closedBy, time.Now())
		if err != nil {
			return err
		}
		summary = cs
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Settlement batch closed",
		zap.String("batch_id", b.ID),
		zap.String("batch_number", b.BatchNumber),
		zap.Int64("total_amount", summary.TotalAmount),
		zap.Int("payment_count", summary.PaymentCount))
	return summary, nil
}

// RecordSettlement records a successful settlement for a closed batch.
func (s *SettlementService) RecordSettlement(ctx context.Context, batchID, reference string, fees int64) (*settlement.Batch, error) {
	ctx, span := util.StartSpan(ctx, "SettlementService.RecordSettlement")
	defer span.End()

	b, err := s.mutate(ctx, batchID, func(b *settlement.Batch) error {
		return b.RecordSettlement(reference, fees, time.Now())
	})
	if err != nil {
		return nil, err
	}

	util.SettlementBatchesSettledTotal.Inc()
	s.logger.Info("Settlement recorded",
		zap.String("batch_id", b.ID),
		zap.String("reference", reference),
		zap.Int64("settled_amount", b.SettledAmount),
		zap.Int64("net_amount", b.NetAmount))
	return b, nil
}

// RecordSettlementFailure marks the batch failed and raises the alert.
func (s *SettlementService) RecordSettlementFailure(ctx context.Context, batchID, code, message string) (*settlement.Batch, error) {
	ctx, span := util.StartSpan(ctx, "SettlementService.RecordSettlementFailure")
	defer span.End()

	b, err := s.mutate(ctx, batchID, func(b *settlement.Batch) error {
		return b.RecordSettlementFailure(code, message, time.Now())
	})
	if err != nil {
		return nil, err
	}

	util.SettlementFailuresTotal.Inc()
	if err := s.publisher.PublishAlert(ctx, &models.AlertEvent{
		AlertType: models.AlertSettlementFailed,
		SiteID:    b.SiteID,
		SubjectID: b.ID,
		Detail:    fmt.Sprintf("%s: %s", code, message),
		Attempts:  b.SettlementAttempts,
	}); err != nil {
		s.logger.Error("Failed to publish settlement alert",
			zap.String("batch_id", b.ID),
			zap.Error(err))
	}
	return b, nil
}

// Reopen returns a closed or failed batch to Open for corrections.
func (s *SettlementService) Reopen(ctx context.Context, batchID, reopenedBy, reason string) (*settlement.Batch, error) {
	return s.mutate(ctx, batchID, func(b *settlement.Batch) error {
		return b.Reopen(reopenedBy, reason, time.Now())
	})
}

// Get returns a batch by id.
func (s *SettlementService) Get(ctx context.Context, batchID string) (*settlement.Batch, error) {
	return s.store.GetBatch(ctx, batchID)
}

// GetTotalsByMethod groups the batch's entries by tender method.
func (s *SettlementService) GetTotalsByMethod(ctx context.Context, batchID string) (map[string]settlement.MethodTotal, error) {
	b, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return b.GetTotalsByMethod(), nil
}

// FindOpenBatch returns the open batch for a site and business date.
func (s *SettlementService) FindOpenBatch(ctx context.Context, siteID, businessDate string) (*settlement.Batch, error) {
	id, err := s.store.FindOpenBatch(ctx, siteID, businessDate)
	if err != nil {
		return nil, err
	}
	return s.store.GetBatch(ctx, id)
}

func (s *SettlementService) mutate(ctx context.Context, batchID string, op func(*settlement.Batch) error) (*settlement.Batch, error) {
	unlock := s.owners.Lock(batchID)
	defer unlock()

	b, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if err := op(b); err != nil {
		return nil, err
	}
	if err := s.persist(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *SettlementService) persist(ctx context.Context, b *settlement.Batch) error {
	if len(b.PendingEvents()) == 0 {
		return nil
	}
	if err := s.store.SaveBatch(ctx, b, b.PendingEvents()); err != nil {
		return fmt.Errorf("failed to persist batch %s: %w", b.ID, err)
	}
	b.ClearPending()
	return nil
}
