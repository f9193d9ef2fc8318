package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"payment-service/internal/models"
	"payment-service/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// EventPublisher fans out payment notifications and alerts. Alerts are best
// effort: callers are expected to log a delivery failure and move on.
type EventPublisher struct {
	payments *Producer
	alerts   *Producer
}

// NewEventPublisher creates a publisher over the payment and alert topics.
func NewEventPublisher(payments, alerts *Producer) *EventPublisher {
	return &EventPublisher{payments: payments, alerts: alerts}
}

// PublishPaymentCompleted publishes a PaymentCompleted notification.
func (ep *EventPublisher) PublishPaymentCompleted(ctx context.Context, event *models.PaymentCompletedEvent) error {
	event.BaseEvent = newBase(models.EventTypePaymentCompleted)
	return ep.payments.PublishEvent(ctx, paymentKey(event.PaymentID), event)
}

// PublishPaymentRefunded publishes a PaymentRefunded notification.
func (ep *EventPublisher) PublishPaymentRefunded(ctx context.Context, event *models.PaymentRefundedEvent) error {
	event.BaseEvent = newBase(models.EventTypePaymentRefunded)
	return ep.payments.PublishEvent(ctx, paymentKey(event.PaymentID), event)
}

// PublishPaymentVoided publishes a PaymentVoided notification.
func (ep *EventPublisher) PublishPaymentVoided(ctx context.Context, event *models.PaymentVoidedEvent) error {
	event.BaseEvent = newBase(models.EventTypePaymentVoided)
	return ep.payments.PublishEvent(ctx, paymentKey(event.PaymentID), event)
}

// PublishAlert publishes an alert event.
func (ep *EventPublisher) PublishAlert(ctx context.Context, alert *models.AlertEvent) error {
	alert.BaseEvent = newBase(alert.AlertType)
	util.AlertsPublishedTotal.WithLabelValues(alert.AlertType).Inc()
	return ep.alerts.PublishEvent(ctx, alert.SubjectID, alert)
}

func newBase(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

func paymentKey(paymentID string) string {
	return "payment-" + paymentID
}

// WebhookHandler routes inbound processor webhook messages to the
// registered intent callbacks.
type WebhookHandler struct {
	onAuthorized func(context.Context, *models.ProcessorWebhookEvent) error
	onDeclined   func(context.Context, *models.ProcessorWebhookEvent) error
	onCaptured   func(context.Context, *models.ProcessorWebhookEvent) error
}

// NewWebhookHandler creates an empty webhook handler.
func NewWebhookHandler() *WebhookHandler {
	return &WebhookHandler{}
}

// OnAuthorized registers a handler for processor authorization events.
func (wh *WebhookHandler) OnAuthorized(handler func(context.Context, *models.ProcessorWebhookEvent) error) {
	wh.onAuthorized = handler
}

// OnDeclined registers a handler for processor decline events.
func (wh *WebhookHandler) OnDeclined(handler func(context.Context, *models.ProcessorWebhookEvent) error) {
	wh.onDeclined = handler
}

// OnCaptured registers a handler for processor capture events.
func (wh *WebhookHandler) OnCaptured(handler func(context.Context, *models.ProcessorWebhookEvent) error) {
	wh.onCaptured = handler
}

// HandleMessage routes one message by its event type.
func (wh *WebhookHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var event models.ProcessorWebhookEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal webhook event: %w", err)
	}

	switch event.EventType {
	case models.EventTypeProcessorAuthorized:
		if wh.onAuthorized != nil {
			return wh.onAuthorized(ctx, &event)
		}
	case models.EventTypeProcessorDeclined:
		if wh.onDeclined != nil {
			return wh.onDeclined(ctx, &event)
		}
	case models.EventTypeProcessorCaptured:
		if wh.onCaptured != nil {
			return wh.onCaptured(ctx, &event)
		}
	}
	return nil
}
