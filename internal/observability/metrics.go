package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP (GraphQL/REST ingress) metrics.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtmsg_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rtmsg_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// TCP connection metrics.
	tcpConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rtmsg_tcp_connections_active",
			Help: "Number of active TCP connections",
		},
	)

	// connectionsRejectedTotal covers both TCP and WebSocket sessions —
	// they share the Connection Manager's cap enforcement.
	connectionsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtmsg_connections_rejected_total",
			Help: "Total number of connections rejected by cap enforcement",
		},
		[]string{"reason"}, // per_ip, global
	)

	tcpFramesParsedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rtmsg_tcp_frames_parsed_total",
			Help: "Total number of TCP frames successfully parsed",
		},
	)

	tcpFrameErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtmsg_tcp_frame_errors_total",
			Help: "Total number of frame parse/decode errors",
		},
		[]string{"kind"},
	)

	// WebSocket session metrics.
	websocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rtmsg_websocket_connections_active",
			Help: "Number of active WebSocket sessions",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtmsg_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // sent, received
	)

	// Pub/sub broker metrics.
	pubsubMessagesPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rtmsg_pubsub_messages_published_total",
			Help: "Total number of messages published to the broker",
		},
	)

	pubsubMessagesDeliveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rtmsg_pubsub_messages_delivered_total",
			Help: "Total number of handler deliveries across all subscriptions",
		},
	)

	pubsubSubscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rtmsg_pubsub_subscriptions_active",
			Help: "Number of active broker subscriptions",
		},
	)

	// Event bus / bridge metrics.
	eventsEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtmsg_events_emitted_total",
			Help: "Total number of AppEvents emitted on the event bus",
		},
		[]string{"event_type"},
	)
)

// MetricsMiddleware wraps an HTTP handler with request metrics.
func MetricsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(wrapped, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(wrapped.statusCode)

		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(duration)
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Metric recording functions.

func RecordTCPConnection(delta int) {
	tcpConnectionsActive.Add(float64(delta))
}

func RecordConnectionRejected(reason string) {
	connectionsRejectedTotal.WithLabelValues(reason).Inc()
}

func RecordTCPFrameParsed() {
	tcpFramesParsedTotal.Inc()
}

func RecordTCPFrameError(kind string) {
	tcpFrameErrorsTotal.WithLabelValues(kind).Inc()
}

func RecordWebSocketConnection(delta int) {
	websocketConnectionsActive.Add(float64(delta))
}

func RecordWebSocketMessage(direction string) {
	websocketMessagesTotal.WithLabelValues(direction).Inc()
}

func RecordPubSubPublish() {
	pubsubMessagesPublishedTotal.Inc()
}

func RecordPubSubDelivery() {
	pubsubMessagesDeliveredTotal.Inc()
}

func RecordPubSubSubscriptions(count int) {
	pubsubSubscriptionsActive.Set(float64(count))
}

func RecordEventEmitted(eventType string) {
	eventsEmittedTotal.WithLabelValues(eventType).Inc()
}

// MetricsHandler returns the Prometheus metrics HTTP handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
