package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors exported on /metrics. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	appointmentsCreated   prometheus.Counter
	appointmentConflicts  *prometheus.CounterVec
	serializationFailures *prometheus.CounterVec
	statusTransitions     *prometheus.CounterVec
	appointmentsCancelled prometheus.Counter
	outboxPublished       *prometheus.CounterVec
	outboxFailures        prometheus.Counter
}

// NewMetrics registers every collector on a private registry together with
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clinic_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		appointmentsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinic_appointments_created_total",
			Help: "Appointments successfully created.",
		}),
		appointmentConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_appointment_conflicts_total",
			Help: "Create or update attempts rejected by the availability check.",
		}, []string{"operation"}),
		serializationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_appointment_serialization_failures_total",
			Help: "Appointment writes aborted by a concurrent transaction.",
		}, []string{"operation"}),
		statusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_appointment_status_transitions_total",
			Help: "Appointment status changes.",
		}, []string{"from", "to"}),
		appointmentsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinic_appointments_cancelled_total",
			Help: "Appointments cancelled.",
		}),
		outboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_outbox_published_total",
			Help: "Outbox events delivered to the broker.",
		}, []string{"event_type"}),
		outboxFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinic_outbox_publish_failures_total",
			Help: "Outbox relay batches that failed to publish.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.appointmentsCreated,
		m.appointmentConflicts,
		m.serializationFailures,
		m.statusTransitions,
		m.appointmentsCancelled,
		m.outboxPublished,
		m.outboxFailures,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) AppointmentCreated() {
	if m == nil {
		return
	}
	m.appointmentsCreated.Inc()
}

func (m *Metrics) AppointmentConflict(operation string) {
	if m == nil {
		return
	}
	m.appointmentConflicts.WithLabelValues(operation).Inc()
}

func (m *Metrics) SerializationFailure(operation string) {
	if m == nil {
		return
	}
	m.serializationFailures.WithLabelValues(operation).Inc()
}

func (m *Metrics) StatusTransition(from, to string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) AppointmentCancelled() {
	if m == nil {
		return
	}
	m.appointmentsCancelled.Inc()
}

func (m *Metrics) OutboxPublished(eventType string, n int) {
	if m == nil {
		return
	}
	m.outboxPublished.WithLabelValues(eventType).Add(float64(n))
}

func (m *Metrics) OutboxFailure() {
	if m == nil {
		return
	}
	m.outboxFailures.Inc()
}

// LiveFeed is the subscriber view of the live appointment hub.
type LiveFeed interface {
	ClientCount() int
	TopicCount(topic string) int
}

// TrackLiveFeed exports the connected live clients and the subscribers of
// topic as gauges read on every scrape.
func (m *Metrics) TrackLiveFeed(feed LiveFeed, topic string) {
	if m == nil {
		return
	}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "clinic_live_clients",
			Help: "Connected live feed clients.",
		}, func() float64 { return float64(feed.ClientCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "clinic_live_topic_subscribers",
			Help:        "Live feed clients subscribed to a topic.",
			ConstLabels: prometheus.Labels{"topic": topic},
		}, func() float64 { return float64(feed.TopicCount(topic)) }),
	)
}
