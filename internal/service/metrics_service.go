package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by the enrollment and notification counters.
const (
	OutcomeAdmitted = "admitted"
	OutcomeFull     = "full"
	OutcomeNotFound = "not_found"
	OutcomeSent     = "sent"
	OutcomeFailed   = "failed"
	OutcomeSkipped  = "skipped"
	OutcomeQuota    = "quota_exceeded"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	enrollments     *prometheus.CounterVec
	messages        *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	sendDuration    *prometheus.HistogramVec
	queueDepth      prometheus.Gauge
	queueOverflow   prometheus.Counter
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_lookups_total",
		Help: "Cache lookups by result",
	}, []string{"result"})

	enrollments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "formation_enrollments_total",
		Help: "Enrollment attempts by outcome",
	}, []string{"outcome"})

	messages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messages_received_total",
		Help: "Inbound messages by kind",
	}, []string{"kind"})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Notification deliveries by channel, recipient and outcome",
	}, []string{"channel", "recipient", "outcome"})

	sendDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notification_send_duration_seconds",
		Help:    "Duration of single notification send attempts",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"channel"})

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notification_queue_depth",
		Help: "Dispatch jobs waiting in the queue",
	})

	queueOverflow := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notification_queue_overflow_total",
		Help: "Dispatches run outside the queue because its buffer was full",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLookups, enrollments, messages, notifications, sendDuration, queueDepth, queueOverflow, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLookups:    cacheLookups,
		enrollments:     enrollments,
		messages:        messages,
		notifications:   notifications,
		sendDuration:    sendDuration,
		queueDepth:      queueDepth,
		queueOverflow:   queueOverflow,
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheLookup counts a cache hit or miss.
func (m *MetricsService) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// RecordEnrollment counts an enrollment attempt outcome.
func (m *MetricsService) RecordEnrollment(outcome string) {
	if m == nil {
		return
	}
	m.enrollments.WithLabelValues(outcome).Inc()
}

// RecordMessage counts an accepted inbound message.
func (m *MetricsService) RecordMessage(kind string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(kind).Inc()
}

// RecordNotification counts the final outcome of one channel delivery.
func (m *MetricsService) RecordNotification(channel, recipient, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, recipient, outcome).Inc()
}

// ObserveSend records the duration of one send attempt.
func (m *MetricsService) ObserveSend(channel string, duration time.Duration) {
	if m == nil {
		return
	}
	m.sendDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// SetQueueDepth publishes the number of pending dispatch jobs.
func (m *MetricsService) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// RecordQueueOverflow counts a dispatch that bypassed the full queue.
func (m *MetricsService) RecordQueueOverflow() {
	if m == nil {
		return
	}
	m.queueOverflow.Inc()
}
