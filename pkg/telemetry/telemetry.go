// Package telemetry records request metrics and sync counters, exposed at
// /metrics via the standard Prometheus handler.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_http_requests_total",
		Help: "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatsync_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	syncMessagesMerged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_messages_merged_total",
		Help: "Messages newly accepted into the authoritative store by sync.",
	})

	syncRounds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_sync_rounds_total",
		Help: "Completed sync rounds by outcome.",
	}, []string{"outcome"})

	bridgeAppends = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_bridge_appends_total",
		Help: "Messages appended into desktop-side logs by the bridge.",
	})
)

// ObserveSync records one sync round: its outcome and how many messages the
// client contributed.
func ObserveSync(ok bool, newFromClient int) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	syncRounds.WithLabelValues(outcome).Inc()
	if newFromClient > 0 {
		syncMessagesMerged.Add(float64(newFromClient))
	}
}

// ObserveBridgeAppend records messages accepted by the desktop bridge.
func ObserveBridgeAppend(n int) {
	if n > 0 {
		bridgeAppends.Add(float64(n))
	}
}

// statusRecorder captures the response status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware wraps the handler and records request count and latency. Routes
// are bucketed by their first path segment to keep label cardinality flat.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		srw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(srw, r)

		route := routeBucket(r.URL.Path)
		requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(srw.status)).Inc()
		requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func routeBucket(path string) string {
	if len(path) <= 1 {
		return "/"
	}
	for i := 1; i < len(path); i++ {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return path
}
