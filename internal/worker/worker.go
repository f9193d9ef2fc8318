package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"payment-service/config"
	"payment-service/internal/broker"
	"payment-service/internal/domain/offlinequeue"
	"payment-service/internal/domain/payment"
	"payment-service/internal/processor"
	"payment-service/internal/service"
	"payment-service/internal/util"

	"go.uber.org/zap"
)

const retryBatchLimit = 50

// RetryWorker drives the time-based recovery paths: due payment retries and
// the per-site offline queue sweeps. One ticker covers both.
type RetryWorker struct {
	payments *service.PaymentService
	queues   *service.QueueService
	adapter  processor.Adapter
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewRetryWorker creates the retry worker.
func NewRetryWorker(
	payments *service.PaymentService,
	queues *service.QueueService,
	adapter processor.Adapter,
	cfg config.QueueConfig,
) *RetryWorker {
	return &RetryWorker{
		payments: payments,
		queues:   queues,
		adapter:  adapter,
		interval: time.Duration(cfg.PollSeconds) * time.Second,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop or context cancellation.
func (w *RetryWorker) Start(ctx context.Context) {
	log.Println("Starting retry worker...")
	go w.run(ctx)
}

// Stop signals the loop and waits for the in-flight sweep to finish.
func (w *RetryWorker) Stop() {
	log.Println("Stopping retry worker...")
	close(w.stop)
	<-w.done
}

func (w *RetryWorker) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *RetryWorker) sweep(ctx context.Context) {
	logger := util.GetLogger()

	if err := w.payments.ProcessDueRetries(ctx, time.Now(), retryBatchLimit, w.retryPayment); err != nil {
		logger.Error("Payment retry sweep failed", zap.Error(err))
	}

	sites, err := w.queues.Sites(ctx)
	if err != nil {
		logger.Error("Failed to list offline queue sites", zap.Error(err))
		return
	}
	for _, site := range sites {
		if err := w.queues.ProcessQueue(ctx, site, w.retryEntry); err != nil {
			logger.Error("Offline queue sweep failed",
				zap.String("site_id", site),
				zap.Error(err))
		}
	}
}

// retryPayment reattempts one due payment through the processor.
func (w *RetryWorker) retryPayment(ctx context.Context, p *payment.Payment) (string, error) {
	result, err := w.adapter.Authorize(ctx, processor.AuthorizeRequest{
		IntentID:    p.ID,
		Amount:      p.TotalAmount,
		Currency:    "usd",
		MethodToken: p.GatewayRef,
		AutoCapture: true,
	})
	if err != nil {
		return "", err
	}
	if !result.Success {
		return "", fmt.Errorf("%s: %s", result.DeclineCode, result.DeclineMessage)
	}
	return result.TransactionID, nil
}

// retryEntry replays one queued payment against the processor.
func (w *RetryWorker) retryEntry(ctx context.Context, entry *offlinequeue.Entry) (string, error) {
	result, err := w.adapter.Authorize(ctx, processor.AuthorizeRequest{
		IntentID:    entry.PaymentID,
		Amount:      entry.Amount,
		Currency:    "usd",
		MethodToken: entry.GatewayRef,
		AutoCapture: true,
	})
	if err != nil {
		return "", err
	}
	if !result.Success {
		return "", fmt.Errorf("%s: %s", result.DeclineCode, result.DeclineMessage)
	}
	return result.TransactionID, nil
}

// WebhookWorker consumes asynchronous processor notifications and routes
// them to the owning intents.
type WebhookWorker struct {
	consumer *broker.Consumer
	handler  *broker.WebhookHandler
}

// NewWebhookWorker creates the webhook worker wired to the intent service.
func NewWebhookWorker(consumer *broker.Consumer, intents *service.IntentService) *WebhookWorker {
	handler := broker.NewWebhookHandler()
	handler.OnAuthorized(intents.HandleProcessorAuthorized)
	handler.OnDeclined(intents.HandleProcessorDeclined)
	handler.OnCaptured(intents.HandleProcessorCaptured)

	return &WebhookWorker{
		consumer: consumer,
		handler:  handler,
	}
}

// Start starts the webhook consumer loop.
func (ww *WebhookWorker) Start(ctx context.Context) error {
	log.Println("Starting webhook worker...")
	return ww.consumer.StartConsuming(ctx, ww.handler.HandleMessage)
}

// Stop stops the webhook worker.
func (ww *WebhookWorker) Stop() error {
	log.Println("Stopping webhook worker...")
	return ww.consumer.Close()
}
