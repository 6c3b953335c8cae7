package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tsaRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsa_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	tsaRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tsa_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	tsaLedgerAppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsa_ledger_appends_total",
		Help: "Total event ledger entries appended by feature.",
	}, []string{"feature"})

	tsaLedgerSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tsa_ledger_subscribers",
		Help: "Live event ledger subscribers.",
	})

	tsaLedgerSubscriberDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tsa_ledger_subscriber_drops_total",
		Help: "Total subscribers disconnected for falling behind.",
	})

	tsaChainAuditsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsa_chain_audits_total",
		Help: "Total periodic chain audits by result.",
	}, []string{"result"})

	tsaWebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsa_webhook_deliveries_total",
		Help: "Total webhook delivery attempts by result.",
	}, []string{"result"})

	tsaStreamMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsa_stream_messages_total",
		Help: "Total entries pushed to stream clients by transport.",
	}, []string{"transport"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		tsaRequestsTotal.WithLabelValues(method, path, status).Inc()
		tsaRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordLedgerAppend records an event ledger append.
func RecordLedgerAppend(feature string) {
	tsaLedgerAppendsTotal.WithLabelValues(feature).Inc()
}

// SetLedgerSubscribers sets the live subscriber gauge.
func SetLedgerSubscribers(active int) {
	tsaLedgerSubscribers.Set(float64(active))
}

// RecordSubscriberDrop records a slow subscriber being disconnected.
func RecordSubscriberDrop() {
	tsaLedgerSubscriberDropsTotal.Inc()
}

// RecordChainAudit records the result of a periodic chain audit.
func RecordChainAudit(success bool) {
	result := "ok"
	if !success {
		result = "failed"
	}
	tsaChainAuditsTotal.WithLabelValues(result).Inc()
}

// RecordWebhookDelivery records a webhook delivery attempt.
func RecordWebhookDelivery(success bool) {
	result := "ok"
	if !success {
		result = "failed"
	}
	tsaWebhookDeliveriesTotal.WithLabelValues(result).Inc()
}

func recordStreamMessage(transport string) {
	tsaStreamMessagesTotal.WithLabelValues(transport).Inc()
}
