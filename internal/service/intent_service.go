package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"payment-service/internal/domain/intent"
	"payment-service/internal/models"
	"payment-service/internal/processor"
	"payment-service/internal/redisclient"
	"payment-service/internal/store"
	"payment-service/internal/util"

	"go.uber.org/zap"
)

const (
	idempotencyTTL = 24 * time.Hour
	intentCacheTTL = 5 * time.Minute
)

// IntentService owns the gateway-style payment intent lifecycle. Creation
// is deduplicated through the Redis idempotency cache; a retried request
// with the same idempotency key gets the originally returned snapshot back.
type IntentService struct {
	store   *store.Store
	redis   *redisclient.Client
	owners  *ownerSet
	adapter processor.Adapter
	logger  *zap.Logger
}

// NewIntentService creates the intent service.
func NewIntentService(st *store.Store, redis *redisclient.Client, adapter processor.Adapter) *IntentService {
	return &IntentService{
		store:   st,
		redis:   redis,
		owners:  newOwnerSet(),
		adapter: adapter,
		logger:  util.GetLogger(),
	}
}

// CreateIntentRequest creates a payment intent.
type CreateIntentRequest struct {
	AccountID           string             `json:"account_id" binding:"required"`
	Amount              int64              `json:"amount" binding:"required"`
	Currency            string             `json:"currency" binding:"required"`
	CaptureMode         intent.CaptureMode `json:"capture_mode,omitempty"`
	PaymentMethod       string             `json:"payment_method,omitempty"`
	CustomerID          string             `json:"customer_id,omitempty"`
	Description         string             `json:"description,omitempty"`
	StatementDescriptor string             `json:"statement_descriptor,omitempty"`
	Metadata            map[string]string  `json:"metadata,omitempty"`
	IdempotencyKey      string             `json:"idempotency_key,omitempty"`
}

// Create creates an intent, deduplicating on the idempotency key.
func (s *IntentService) Create(ctx context.Context, req *CreateIntentRequest) (*intent.Intent, error) {
	ctx, span := util.StartSpan(ctx, "IntentService.Create")
	defer span.End()

	if req.IdempotencyKey != "" {
		if cached, err := s.claimIdempotency(ctx, req.IdempotencyKey); err != nil {
			s.logger.Warn("Idempotency check failed, continuing without dedup", zap.Error(err))
		} else if cached != nil {
			s.logger.Info("Duplicate intent request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("intent_id", cached.ID))
			return cached, nil
		}
	}

	id := intent.NewID()
	unlock := s.owners.Lock(id)
	defer unlock()

	in := intent.New(id)
	if err := in.Create(intent.CreateParams{
		AccountID:           req.AccountID,
		Amount:              req.Amount,
		Currency:            req.Currency,
		CaptureMode:         req.CaptureMode,
		PaymentMethod:       req.PaymentMethod,
		CustomerID:          req.CustomerID,
		Description:         req.Description,
		StatementDescriptor: req.StatementDescriptor,
		Metadata:            req.Metadata,
		IdempotencyKey:      req.IdempotencyKey,
		ProcessorName:       s.adapter.Name(),
	}, time.Now()); err != nil {
		return nil, err
	}

	if err := s.persist(ctx, in); err != nil {
		return nil, err
	}

	util.IntentsCreatedTotal.Inc()

	if req.IdempotencyKey != "" {
		s.storeIdempotentResult(ctx, req.IdempotencyKey, in)
	}

	s.logger.Info("Payment intent created",
		zap.String("intent_id", in.ID),
		zap.String("status", in.Status),
		zap.Int64("amount", in.Amount))
	return in, nil
}

// claimIdempotency returns the cached intent when the key was already used.
func (s *IntentService) claimIdempotency(ctx context.Context, key string) (*intent.Intent, error) {
	claimed, existing, err := s.redis.ClaimIdempotency(ctx, key, []byte("{}"), idempotencyTTL)
	if err != nil {
		return nil, err
	}
	if claimed {
		return nil, nil
	}
	var cached intent.Intent
	if err := json.Unmarshal(existing, &cached); err != nil || cached.ID == "" {
		// Claim placeholder from a crashed creator; fall through to the
		// store via the recorded id once the snapshot lands.
		return nil, fmt.Errorf("idempotency snapshot unreadable")
	}
	return &cached, nil
}

func (s *IntentService) storeIdempotentResult(ctx context.Context, key string, in *intent.Intent) {
	snapshot, err := json.Marshal(in)
	if err != nil {
		s.logger.Error("Failed to marshal intent snapshot", zap.Error(err))
		return
	}
	if err := s.redis.UpdateIdempotencySnapshot(ctx, key, snapshot); err != nil {
		s.logger.Error("Failed to store idempotency snapshot",
			zap.String("idempotency_key", key),
			zap.Error(err))
	}
}

// AttachPaymentMethod attaches a payment method token.
func (s *IntentService) AttachPaymentMethod(ctx context.Context, intentID, methodToken string) (*intent.Intent, error) {
	return s.mutate(ctx, intentID, func(in *intent.Intent) error {
		return in.AttachPaymentMethod(methodToken, time.Now())
	})
}

// Update changes mutable intent fields.
func (s *IntentService) Update(ctx context.Context, intentID string, params intent.UpdateParams) (*intent.Intent, error) {
	return s.mutate(ctx, intentID, func(in *intent.Intent) error {
		return in.Update(params, time.Now())
	})
}

// Confirm drives an authorization through the processor adapter. A decline
// is a successful call; the caller must re-read status.
func (s *IntentService) Confirm(ctx context.Context, intentID string) (*intent.Intent, error) {
	ctx, span := util.StartSpan(ctx, "IntentService.Confirm")
	defer span.End()

	start := time.Now()
	in, err := s.mutate(ctx, intentID, func(in *intent.Intent) error {
		return in.Confirm(ctx, s.adapter, time.Now())
	})
	util.ProcessorAuthorizeLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	switch in.Status {
	case intent.StatusSucceeded:
		util.IntentConfirmsTotal.WithLabelValues("succeeded").Inc()
	case intent.StatusRequiresCapture:
		util.IntentConfirmsTotal.WithLabelValues("requires_capture").Inc()
	case intent.StatusRequiresAction:
		util.IntentConfirmsTotal.WithLabelValues("requires_action").Inc()
	default:
		util.IntentConfirmsTotal.WithLabelValues("declined").Inc()
	}

	s.logger.Info("Intent confirmed",
		zap.String("intent_id", in.ID),
		zap.String("status", in.Status),
		zap.String("decline_code", in.LastDeclineCode))
	return in, nil
}

// Capture captures some or all of a manual-capture authorization.
func (s *IntentService) Capture(ctx context.Context, intentID string, amount int64) (*intent.Intent, error) {
	ctx, span := util.StartSpan(ctx, "IntentService.Capture")
	defer span.End()

	return s.mutate(ctx, intentID, func(in *intent.Intent) error {
		return in.Capture(ctx, s.adapter, amount, time.Now())
	})
}

// Cancel cancels the intent, voiding any open authorization first.
func (s *IntentService) Cancel(ctx context.Context, intentID, reason string) (*intent.Intent, error) {
	ctx, span := util.StartSpan(ctx, "IntentService.Cancel")
	defer span.End()

	return s.mutate(ctx, intentID, func(in *intent.Intent) error {
		return in.Cancel(ctx, s.adapter, reason, time.Now())
	})
}

// HandleNextAction completes a step-up flow.
func (s *IntentService) HandleNextAction(ctx context.Context, intentID string, actionData map[string]string) (*intent.Intent, error) {
	return s.mutate(ctx, intentID, func(in *intent.Intent) error {
		return in.HandleNextAction(ctx, s.adapter, actionData, time.Now())
	})
}

// HandleProcessorAuthorized applies an asynchronous authorization
// notification. Converges to the same invariants as the synchronous path.
func (s *IntentService) HandleProcessorAuthorized(ctx context.Context, event *models.ProcessorWebhookEvent) error {
	_, err := s.mutate(ctx, event.IntentID, func(in *intent.Intent) error {
		return in.RecordAuthorization(event.TransactionID, event.AuthCode, time.Now())
	})
	return err
}

// HandleProcessorDeclined applies an asynchronous decline notification.
func (s *IntentService) HandleProcessorDeclined(ctx context.Context, event *models.ProcessorWebhookEvent) error {
	_, err := s.mutate(ctx, event.IntentID, func(in *intent.Intent) error {
		return in.RecordDecline(event.DeclineCode, event.DeclineMessage, time.Now())
	})
	return err
}

// HandleProcessorCaptured applies an asynchronous capture notification.
func (s *IntentService) HandleProcessorCaptured(ctx context.Context, event *models.ProcessorWebhookEvent) error {
	_, err := s.mutate(ctx, event.IntentID, func(in *intent.Intent) error {
		return in.RecordCapture(event.CaptureID, event.Amount, time.Now())
	})
	return err
}

// Get returns an intent, serving hot reads from the Redis cache.
func (s *IntentService) Get(ctx context.Context, intentID string) (*intent.Intent, error) {
	if cached, err := s.redis.GetCachedIntent(ctx, intentID); err == nil && cached != nil {
		var in intent.Intent
		if err := json.Unmarshal(cached, &in); err == nil && in.ID != "" {
			return &in, nil
		}
	}
	return s.store.GetIntent(ctx, intentID)
}

func (s *IntentService) mutate(ctx context.Context, intentID string, op func(*intent.Intent) error) (*intent.Intent, error) {
	unlock := s.owners.Lock(intentID)
	defer unlock()

	in, err := s.store.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if err := op(in); err != nil {
		return nil, err
	}
	if err := s.persist(ctx, in); err != nil {
		return nil, err
	}
	return in, nil
}

func (s *IntentService) persist(ctx context.Context, in *intent.Intent) error {
	if len(in.PendingEvents()) == 0 {
		return nil
	}
	if err := s.store.SaveIntent(ctx, in, in.PendingEvents()); err != nil {
		return fmt.Errorf("failed to persist intent %s: %w", in.ID, err)
	}
	in.ClearPending()

	if snapshot, err := json.Marshal(in); err == nil {
		if err := s.redis.CacheIntent(ctx, in.ID, snapshot, intentCacheTTL); err != nil {
			s.logger.Warn("Failed to cache intent", zap.String("intent_id", in.ID), zap.Error(err))
		}
	}
	return nil
}
