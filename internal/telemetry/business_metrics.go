package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics holds Prometheus metrics for business-level observability.
// All metrics include a club_id label for per-club dashboard segmentation.
type BusinessMetrics struct {
	// Invoices
	InvoicesCreated   *prometheus.CounterVec
	InvoicesPublished *prometheus.CounterVec
	InvoicesPaid      *prometheus.CounterVec
	InvoicesCancelled *prometheus.CounterVec
	InvoicesOverdue   *prometheus.CounterVec

	// Subscriptions
	SubscriptionsCreated   *prometheus.CounterVec
	SubscriptionsPaused    *prometheus.CounterVec
	SubscriptionsResumed   *prometheus.CounterVec
	SubscriptionsSuspended *prometheus.CounterVec
	SubscriptionsCancelled *prometheus.CounterVec

	// Payments
	PaymentsFailed *prometheus.CounterVec

	// Webhooks
	WebhookReceived  *prometheus.CounterVec
	WebhookProcessed *prometheus.CounterVec
	WebhookFailed    *prometheus.CounterVec
	WebhookLatency   *prometheus.HistogramVec

	// Background workers
	WorkerRuns     *prometheus.CounterVec
	WorkerFailures *prometheus.CounterVec
	WorkerDuration *prometheus.HistogramVec

	// Revenue tracking
	RevenueCollected *prometheus.CounterVec
}

// NewBusinessMetrics creates and registers all business metrics on the
// default registry.
func NewBusinessMetrics(namespace string) *BusinessMetrics {
	return NewBusinessMetricsFor(prometheus.DefaultRegisterer, namespace)
}

// NewBusinessMetricsFor registers the metrics on reg. Tests pass a fresh
// registry so repeated construction does not collide.
func NewBusinessMetricsFor(reg prometheus.Registerer, namespace string) *BusinessMetrics {
	if namespace == "" {
		namespace = "pitchside"
	}

	subsystem := "billing"
	factory := promauto.With(reg)

	return &BusinessMetrics{
		// =======================================================================
		// Invoices
		// =======================================================================
		InvoicesCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "invoices_created_total",
				Help:      "Total invoices created",
			},
			[]string{"club_id"},
		),
		InvoicesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "invoices_published_total",
				Help:      "Total invoices moved from draft to pending",
			},
			[]string{"club_id"},
		),
		InvoicesPaid: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "invoices_paid_total",
				Help:      "Total invoices marked paid",
			},
			[]string{"club_id", "source"}, // source: manual, webhook
		),
		InvoicesCancelled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "invoices_cancelled_total",
				Help:      "Total invoices cancelled",
			},
			[]string{"club_id"},
		),
		InvoicesOverdue: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "invoices_overdue_total",
				Help:      "Total invoices swept from pending to overdue",
			},
			[]string{"club_id"},
		),

		// =======================================================================
		// Subscriptions
		// =======================================================================
		SubscriptionsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "subscriptions_created_total",
				Help:      "Total subscriptions created",
			},
			[]string{"club_id", "frequency"},
		),
		SubscriptionsPaused: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "subscriptions_paused_total",
				Help:      "Total subscription pauses",
			},
			[]string{"club_id"},
		),
		SubscriptionsResumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "subscriptions_resumed_total",
				Help:      "Total subscription resumes",
			},
			[]string{"club_id"},
		),
		SubscriptionsSuspended: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "subscriptions_suspended_total",
				Help:      "Total subscription suspensions",
			},
			[]string{"club_id", "reason"}, // reason: manual, failed_payments
		),
		SubscriptionsCancelled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "subscriptions_cancelled_total",
				Help:      "Total subscription cancellations",
			},
			[]string{"club_id", "mode"}, // mode: immediate, period_end, provider
		),

		// =======================================================================
		// Payments
		// =======================================================================
		PaymentsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payments_failed_total",
				Help:      "Total provider-reported payment failures",
			},
			[]string{"club_id", "provider"},
		),

		// =======================================================================
		// Webhooks
		// =======================================================================
		WebhookReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_received_total",
				Help:      "Total webhook requests received",
			},
			[]string{"provider"},
		),
		WebhookProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_processed_total",
				Help:      "Total webhook events applied",
			},
			[]string{"provider", "event_kind"},
		),
		WebhookFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_failed_total",
				Help:      "Total webhook events that failed processing",
			},
			[]string{"provider", "reason"}, // reason: signature, parse, internal
		),
		WebhookLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_duration_seconds",
				Help:      "Webhook processing duration",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"provider"},
		),

		// =======================================================================
		// Background Workers
		// =======================================================================
		WorkerRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "worker_runs_total",
				Help:      "Total worker runs by outcome",
			},
			[]string{"worker", "status"}, // status: completed, failed, skipped
		),
		WorkerFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "worker_item_failures_total",
				Help:      "Total items that failed within worker runs",
			},
			[]string{"worker"},
		),
		WorkerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "worker_duration_seconds",
				Help:      "Worker run duration",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
			},
			[]string{"worker"},
		),

		// =======================================================================
		// Revenue
		// =======================================================================
		RevenueCollected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "revenue_collected_total",
				Help:      "Total revenue collected, in major currency units",
			},
			[]string{"club_id", "source"}, // source: manual, webhook
		),
	}
}
