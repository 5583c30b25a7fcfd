package observability

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/skrumble/skrumble-go/skrumble"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skrumble_relay_http_requests_total",
			Help: "Total number of HTTP requests processed by the relay.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skrumble_relay_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	sdkRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skrumble_sdk_requests_total",
			Help: "Total number of platform API requests sent over the socket.",
		},
		[]string{"method", "status"},
	)
	sdkRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skrumble_sdk_request_duration_seconds",
			Help:    "Platform API round trip latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
	pushEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skrumble_push_events_total",
			Help: "Total number of push events received from the platform.",
		},
		[]string{"category", "verb"},
	)
	relayDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skrumble_relay_dropped_events_total",
			Help: "Push events dropped because the relay queue was full.",
		},
	)
	archivedMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skrumble_relay_archived_messages_total",
			Help: "Chat messages written to the archive.",
		},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "skrumble_relay_ws_active_connections",
			Help: "Number of active websocket subscribers.",
		},
		[]string{"category"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skrumble_relay_ws_events_total",
			Help: "Total number of websocket subscriber events.",
		},
		[]string{"category", "event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skrumble_relay_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		sdkRequestsTotal,
		sdkRequestDuration,
		pushEventsTotal,
		relayDroppedTotal,
		archivedMessagesTotal,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// SDKObserver feeds socket measurements into the relay metrics.
type SDKObserver struct{}

var _ skrumble.Observer = SDKObserver{}

func (SDKObserver) RequestDone(method string, statusCode int, elapsed time.Duration, err error) {
	sdkRequestsTotal.WithLabelValues(method, sdkStatusLabel(statusCode, err)).Inc()
	sdkRequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (SDKObserver) EventReceived(category skrumble.EventCategory, verb skrumble.Verb) {
	pushEventsTotal.WithLabelValues(string(category), string(verb)).Inc()
}

// sdkStatusLabel keeps the label set small: the reply code when one arrived,
// otherwise the kind of transport failure.
func sdkStatusLabel(statusCode int, err error) string {
	if statusCode != 0 {
		return strconv.Itoa(statusCode)
	}
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, skrumble.ErrNotConnected), errors.Is(err, skrumble.ErrConnectionClosed):
		return "disconnected"
	default:
		return "error"
	}
}

func IncRelayDropped() {
	relayDroppedTotal.Inc()
}

func IncArchivedMessage() {
	archivedMessagesTotal.Inc()
}

func IncWSActive(category string) {
	wsActiveConnections.WithLabelValues(category).Inc()
}

func DecWSActive(category string) {
	wsActiveConnections.WithLabelValues(category).Dec()
}

func IncWSEvent(category, event string) {
	wsEventsTotal.WithLabelValues(category, event).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
