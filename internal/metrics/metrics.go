package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_active_connections",
			Help: "Number of in-flight HTTP requests",
		},
	)

	// Business metrics
	VisitTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visit_transitions_total",
			Help: "Visit status transitions by action",
		},
		[]string{"action", "from", "to"},
	)

	DispenseTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pharmacy_dispense_total",
			Help: "Dispense attempts by result",
		},
		[]string{"result"}, // "dispensed", "insufficient_stock", "conflict"
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Queue invalidation events published by topic and channel",
		},
		[]string{"topic", "channel"},
	)

	WebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_clients",
			Help: "Connected websocket clients",
		},
	)
)

func init() {
	registry.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPActiveConnections,
		VisitTransitionsTotal,
		DispenseTotal,
		NotificationsTotal,
		WebSocketClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records metrics for an HTTP request
func RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint, status).Observe(duration.Seconds())
}

func RecordTransition(action, from, to string) {
	if from == "" {
		from = "none"
	}
	VisitTransitionsTotal.WithLabelValues(action, from, to).Inc()
}

func RecordDispense(result string) {
	DispenseTotal.WithLabelValues(result).Inc()
}

func RecordNotification(topic, channel string) {
	NotificationsTotal.WithLabelValues(topic, channel).Inc()
}

func SetWebSocketClients(n int) {
	WebSocketClients.Set(float64(n))
}
