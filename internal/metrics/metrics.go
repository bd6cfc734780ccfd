// Package metrics exposes Prometheus counters and gauges for the offer
// engine, the expiry sweeper and the notification job queue.
//
// Every Record method is safe to call on a nil *Collector, so components can
// run with metrics disabled without guarding each call site.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the service metrics.
type Collector struct {
	offersCreated   *prometheus.CounterVec
	offersExpired   prometheus.Counter
	offersAccepted  prometheus.Counter
	offersDeclined  prometheus.Counter
	queueJoined     prometheus.Counter
	refundsFlagged  prometheus.Counter
	sweepRuns       prometheus.Counter
	sweepErrors     prometheus.Counter
	sweepDuration   prometheus.Histogram
	jobsCompleted   prometheus.Counter
	jobsFailed      prometheus.Counter
	jobsDead        prometheus.Counter
	jobLatency      prometheus.Histogram
	queueLength     prometheus.Gauge
	notifyEnqueued  prometheus.Counter
	notifyDropped   prometheus.Counter
	webhookReceived *prometheus.CounterVec
}

// NewCollector creates the metrics and registers them with reg. A nil reg
// registers with prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		offersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wu_offers_created_total",
			Help: "Offers created, by source (auto_match, reassignment, manual)",
		}, []string{"source"}),
		offersExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wu_offers_expired_total",
			Help: "Pending offers expired by the sweeper",
		}),
		offersAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wu_offers_accepted_total",
			Help: "Offers accepted through a confirmation payment",
		}),
		offersDeclined: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wu_offers_declined_total",
			Help: "Offers explicitly declined by candidates",
		}),
		queueJoined: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wu_queue_joined_total",
			Help: "Candidates that entered the queue after paying the entry fee",
		}),
		refundsFlagged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wu_refunds_flagged_total",
			Help: "Candidates flagged for refund review",
		}),
		sweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wu_sweep_runs_total",
			Help: "Completed sweep invocations",
		}),
		sweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wu_sweep_errors_total",
			Help: "Per-item errors collected during sweeps",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wu_sweep_duration_seconds",
			Help:    "Sweep duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wu_jobs_completed_total",
			Help: "Background jobs completed successfully",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wu_jobs_failed_total",
			Help: "Background job attempts that failed",
		}),
		jobsDead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wu_jobs_dead_total",
			Help: "Background jobs moved to the dead letter table",
		}),
		jobLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wu_job_latency_seconds",
			Help:    "Background job processing latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wu_queue_length",
			Help: "Candidates currently waiting in the queue",
		}),
		notifyEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wu_notifications_enqueued_total",
			Help: "Notifications handed to the job queue",
		}),
		notifyDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wu_notifications_dropped_total",
			Help: "Notifications that could not be enqueued",
		}),
		webhookReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wu_payment_webhooks_total",
			Help: "Payment webhooks received, by outcome",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.offersCreated,
		c.offersExpired,
		c.offersAccepted,
		c.offersDeclined,
		c.queueJoined,
		c.refundsFlagged,
		c.sweepRuns,
		c.sweepErrors,
		c.sweepDuration,
		c.jobsCompleted,
		c.jobsFailed,
		c.jobsDead,
		c.jobLatency,
		c.queueLength,
		c.notifyEnqueued,
		c.notifyDropped,
		c.webhookReceived,
	)

	return c
}

// Offer sources.
const (
	SourceAutoMatch    = "auto_match"
	SourceReassignment = "reassignment"
	SourceManual       = "manual"
)

func (c *Collector) RecordOfferCreated(source string) {
	if c == nil {
		return
	}
	c.offersCreated.WithLabelValues(source).Inc()
}

func (c *Collector) RecordOfferExpired() {
	if c == nil {
		return
	}
	c.offersExpired.Inc()
}

func (c *Collector) RecordOfferAccepted() {
	if c == nil {
		return
	}
	c.offersAccepted.Inc()
}

func (c *Collector) RecordOfferDeclined() {
	if c == nil {
		return
	}
	c.offersDeclined.Inc()
}

func (c *Collector) RecordQueueJoined() {
	if c == nil {
		return
	}
	c.queueJoined.Inc()
}

func (c *Collector) RecordRefundFlagged() {
	if c == nil {
		return
	}
	c.refundsFlagged.Inc()
}

// RecordSweep records one finished sweep with its per-item error count.
func (c *Collector) RecordSweep(seconds float64, errs int) {
	if c == nil {
		return
	}
	c.sweepRuns.Inc()
	c.sweepErrors.Add(float64(errs))
	c.sweepDuration.Observe(seconds)
}

func (c *Collector) RecordJobCompleted(latencySeconds float64) {
	if c == nil {
		return
	}
	c.jobsCompleted.Inc()
	c.jobLatency.Observe(latencySeconds)
}

func (c *Collector) RecordJobFailed() {
	if c == nil {
		return
	}
	c.jobsFailed.Inc()
}

func (c *Collector) RecordJobDead() {
	if c == nil {
		return
	}
	c.jobsDead.Inc()
}

func (c *Collector) SetQueueLength(n int64) {
	if c == nil {
		return
	}
	c.queueLength.Set(float64(n))
}

func (c *Collector) RecordNotifyEnqueued() {
	if c == nil {
		return
	}
	c.notifyEnqueued.Inc()
}

func (c *Collector) RecordNotifyDropped() {
	if c == nil {
		return
	}
	c.notifyDropped.Inc()
}

// RecordWebhook counts a payment webhook by outcome (processed, duplicate,
// rejected, failed).
func (c *Collector) RecordWebhook(outcome string) {
	if c == nil {
		return
	}
	c.webhookReceived.WithLabelValues(outcome).Inc()
}

// Handler serves the metrics gathered by g in the Prometheus text format. A
// nil g serves prometheus.DefaultGatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
