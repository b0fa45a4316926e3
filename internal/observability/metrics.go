package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "resultstream",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "resultstream",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	socketFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "resultstream",
			Subsystem: "socket",
			Name:      "frames_total",
			Help:      "WebSocket frames handled, by direction and kind.",
		},
		[]string{"direction", "kind"},
	)
	socketDisconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "resultstream",
			Subsystem: "socket",
			Name:      "disconnects_total",
			Help:      "Connection faults observed, by resulting state.",
		},
		[]string{"reason"},
	)
	sessionHandshake = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "resultstream",
			Subsystem: "session",
			Name:      "handshake_duration_seconds",
			Help:      "Welcome/subscribe/confirm handshake duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	sessionResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "resultstream",
			Subsystem: "session",
			Name:      "results_total",
			Help:      "Result envelopes transmitted.",
		},
		[]string{"success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			socketFrames,
			socketDisconnects,
			sessionHandshake,
			sessionResults,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordFrame counts one frame; direction is "in" or "out".
func RecordFrame(direction, kind string) {
	RegisterMetrics()
	socketFrames.WithLabelValues(direction, kind).Inc()
}

func RecordDisconnect(reason string) {
	RegisterMetrics()
	socketDisconnects.WithLabelValues(reason).Inc()
}

func RecordHandshake(outcome string, duration time.Duration) {
	RegisterMetrics()
	sessionHandshake.WithLabelValues(outcome).Observe(duration.Seconds())
}

func RecordResultSent(success bool) {
	RegisterMetrics()
	sessionResults.WithLabelValues(strconv.FormatBool(success)).Inc()
}
