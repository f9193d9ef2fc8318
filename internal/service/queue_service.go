package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"payment-service/config"
	"payment-service/internal/broker"
	"payment-service/internal/domain/errs"
	"payment-service/internal/domain/offlinequeue"
	"payment-service/internal/models"
	"payment-service/internal/store"
	"payment-service/internal/util"

	"go.uber.org/zap"
)

// QueueService owns the per-site offline payment queues. Each site's queue
// is one aggregate; the service serializes on the site id so concurrent
// queueing and the retry sweep never interleave on the same queue.
type QueueService struct {
	store     *store.Store
	owners    *ownerSet
	publisher *broker.EventPublisher
	policy    offlinequeue.Policy
	logger    *zap.Logger
}

// NewQueueService creates the offline queue service.
func NewQueueService(st *store.Store, publisher *broker.EventPublisher, cfg config.QueueConfig) *QueueService {
	return &QueueService{
		store:     st,
		owners:    newOwnerSet(),
		publisher: publisher,
		policy: offlinequeue.Policy{
			MaxAttempts:       cfg.MaxAttempts,
			BaseDelaySeconds:  cfg.BaseDelaySeconds,
			BackoffMultiplier: cfg.BackoffMultiplier,
			MaxDelaySeconds:   cfg.MaxDelaySeconds,
		},
		logger: util.GetLogger(),
	}
}

// QueuePaymentRequest enqueues a payment for store-and-forward delivery.
type QueuePaymentRequest struct {
	SiteID    string          `json:"site_id" binding:"required"`
	PaymentID string          `json:"payment_id" binding:"required"`
	OrderID   string          `json:"order_id"`
	Method    string          `json:"method"`
	Amount    int64           `json:"amount" binding:"required"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// QueuePayment adds a payment to the site's offline queue.
func (s *QueueService) QueuePayment(ctx context.Context, req *QueuePaymentRequest) (*offlinequeue.Entry, error) {
	ctx, span := util.StartSpan(ctx, "QueueService.QueuePayment")
	defer span.End()

	unlock := s.owners.Lock(req.SiteID)
	defer unlock()

	q, err := s.load(ctx, req.SiteID)
	if err != nil {
		return nil, err
	}

	entry, err := q.QueuePayment(req.PaymentID, req.OrderID, req.Method, req.Amount, req.Payload, time.Now())
	if err != nil {
		return nil, err
	}
	if err := s.persist(ctx, q); err != nil {
		return nil, err
	}

	s.logger.Info("Payment queued for offline processing",
		zap.String("site_id", req.SiteID),
		zap.String("payment_id", req.PaymentID),
		zap.String("entry_id", entry.ID))
	return entry, nil
}

// EntryExecutor performs one delivery attempt for a queued payment. The
// returned gateway reference is recorded on success.
type EntryExecutor func(ctx context.Context, entry *offlinequeue.Entry) (gatewayRef string, err error)

// ProcessQueue runs one retry sweep for a site: selects the due entries in
// queue order, drives each through the executor, and records the outcome.
// An exhausted entry raises the offline-queue alert exactly once.
func (s *QueueService) ProcessQueue(ctx context.Context, siteID string, exec EntryExecutor) error {
	ctx, span := util.StartSpan(ctx, "QueueService.ProcessQueue")
	defer span.End()

	unlock := s.owners.Lock(siteID)
	defer unlock()

	q, err := s.load(ctx, siteID)
	if err != nil {
		return err
	}

	now := time.Now()
	due, err := q.ProcessQueue(now)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		util.OfflineQueueDepth.WithLabelValues(siteID).Set(float64(q.PendingDepth()))
		return nil
	}
	if err := s.persist(ctx, q); err != nil {
		return err
	}

	for _, entry := range due {
		gatewayRef, execErr := exec(ctx, entry)
		if execErr == nil {
			if err := q.RecordSuccess(entry.ID, gatewayRef, time.Now()); err != nil {
				s.logger.Error("Failed to record queue success",
					zap.String("entry_id", entry.ID),
					zap.Error(err))
				continue
			}
			util.OfflineQueueProcessedTotal.Inc()
			s.logger.Info("Queued payment processed",
				zap.String("site_id", siteID),
				zap.String("payment_id", entry.PaymentID),
				zap.String("gateway_ref", gatewayRef))
			continue
		}

		exhausted, err := q.RecordFailure(entry.ID, "processing_error", execErr.Error(), time.Now())
		if err != nil {
			s.logger.Error("Failed to record queue failure",
				zap.String("entry_id", entry.ID),
				zap.Error(err))
			continue
		}
		if exhausted {
			util.OfflineQueueFailedTotal.Inc()
			s.alert(ctx, &models.AlertEvent{
				AlertType: models.AlertOfflineQueueExhausted,
				SiteID:    siteID,
				SubjectID: entry.PaymentID,
				Detail:    fmt.Sprintf("offline queue attempts exhausted: %s", execErr.Error()),
				Attempts:  entry.AttemptCount,
			})
			s.logger.Warn("Queued payment failed terminally",
				zap.String("site_id", siteID),
				zap.String("payment_id", entry.PaymentID),
				zap.Int("attempts", entry.AttemptCount))
		}
	}

	if err := s.persist(ctx, q); err != nil {
		return err
	}
	util.OfflineQueueDepth.WithLabelValues(siteID).Set(float64(q.PendingDepth()))
	return nil
}

// CancelPayment removes a queued payment from retry consideration.
func (s *QueueService) CancelPayment(ctx context.Context, siteID, entryID, reason string) error {
	ctx, span := util.StartSpan(ctx, "QueueService.CancelPayment")
	defer span.End()

	unlock := s.owners.Lock(siteID)
	defer unlock()

	q, err := s.store.GetQueue(ctx, siteID)
	if err != nil {
		return err
	}
	q.Policy = s.policy
	if err := q.CancelPayment(entryID, reason, time.Now()); err != nil {
		return err
	}
	if err := s.persist(ctx, q); err != nil {
		return err
	}
	util.OfflineQueueDepth.WithLabelValues(siteID).Set(float64(q.PendingDepth()))
	return nil
}

// Get returns the queue for a site.
func (s *QueueService) Get(ctx context.Context, siteID string) (*offlinequeue.Queue, error) {
	q, err := s.store.GetQueue(ctx, siteID)
	if err != nil {
		return nil, err
	}
	q.Policy = s.policy
	return q, nil
}

// Sites lists every site with a queue, for the sweep worker.
func (s *QueueService) Sites(ctx context.Context) ([]string, error) {
	return s.store.ListQueueSites(ctx)
}

// load fetches the site's queue, creating an empty one on first use. The
// stored policy is superseded by the configured one so tuning changes take
// effect without touching persisted state.
func (s *QueueService) load(ctx context.Context, siteID string) (*offlinequeue.Queue, error) {
	q, err := s.store.GetQueue(ctx, siteID)
	if errs.IsNotFound(err) {
		return offlinequeue.New(siteID, s.policy), nil
	}
	if err != nil {
		return nil, err
	}
	q.Policy = s.policy
	return q, nil
}

func (s *QueueService) persist(ctx context.Context, q *offlinequeue.Queue) error {
	if len(q.PendingEvents()) == 0 {
		return nil
	}
	if err := s.store.SaveQueue(ctx, q, q.PendingEvents()); err != nil {
		return fmt.Errorf("failed to persist queue for site %s: %w", q.SiteID, err)
	}
	q.ClearPending()
	return nil
}

func (s *QueueService) alert(ctx context.Context, alert *models.AlertEvent) {
	if err := s.publisher.PublishAlert(ctx, alert); err != nil {
		s.logger.Error("Failed to publish alert",
			zap.String("alert_type", alert.AlertType),
			zap.String("subject_id", alert.SubjectID),
			zap.Error(err))
	}
}
