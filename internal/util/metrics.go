package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PaymentsInitiatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_initiated_total",
		Help: "Total number of payments initiated",
	}, []string{"method"})

	PaymentsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_completed_total",
		Help: "Total number of payments completed",
	}, []string{"method"})

	PaymentsDeclinedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_declined_total",
		Help: "Total number of declined payments",
	}, []string{"decline_code"})

	PaymentsRefundedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_refunded_total",
		Help: "Total number of refunds issued",
	})

	PaymentsVoidedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_voided_total",
		Help: "Total number of voided payments",
	})

	PaymentRetriesScheduledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_retries_scheduled_total",
		Help: "Total number of payment retries scheduled",
	})

	PaymentRetriesExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_retries_exhausted_total",
		Help: "Total number of payments that exhausted their retries",
	})

	IntentsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_intents_created_total",
		Help: "Total number of payment intents created",
	})

	IntentConfirmsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_intent_confirms_total",
		Help: "Total number of intent confirmations by outcome",
	}, []string{"outcome"})

	ProcessorAuthorizeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "processor_authorize_latency_seconds",
		Help:    "Latency of processor authorize calls",
		Buckets: prometheus.DefBuckets,
	})

	OfflineQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "offline_queue_depth",
		Help: "Number of pending entries in the offline payment queue",
	}, []string{"site_id"})

	OfflineQueueProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offline_queue_processed_total",
		Help: "Total number of offline queue entries processed successfully",
	})

	OfflineQueueFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offline_queue_failed_total",
		Help: "Total number of offline queue entries that exhausted retries",
	})

	SettlementBatchesSettledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_batches_settled_total",
		Help: "Total number of settlement batches settled",
	})

	SettlementFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_failures_total",
		Help: "Total number of settlement failures recorded",
	})

	AlertsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alerts_published_total",
		Help: "Total number of alert events published",
	}, []string{"type"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
