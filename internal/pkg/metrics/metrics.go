// Package metrics holds the gateway's Prometheus collectors.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the gateway's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "revintel",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "revintel",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "revintel",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"method", "path"},
	)

	eventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "revintel",
			Subsystem: "eventbus",
			Name:      "events_emitted_total",
			Help:      "Total number of events emitted on the bus.",
		},
		[]string{"type"},
	)

	handlerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "revintel",
			Subsystem: "eventbus",
			Name:      "handler_failures_total",
			Help:      "Total number of event handlers that returned an error or panicked.",
		},
		[]string{"type"},
	)

	generations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "revintel",
			Subsystem: "generation",
			Name:      "requests_total",
			Help:      "Total number of resource generation requests by outcome.",
		},
		[]string{"resource_type", "outcome"},
	)

	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "revintel",
			Subsystem: "generation",
			Name:      "duration_seconds",
			Help:      "Duration of resource generation calls to the backend.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7m
		},
		[]string{"resource_type"},
	)

	authResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "revintel",
			Subsystem: "auth",
			Name:      "resolutions_total",
			Help:      "Total number of identity resolutions by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	storeOps = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "revintel",
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Duration of event store operations by outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op", "outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		eventsEmitted,
		handlerFailures,
		generations,
		generationDuration,
		authResolutions,
		storeOps,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordEvent counts an emitted bus event.
func RecordEvent(eventType string) {
	eventsEmitted.WithLabelValues(eventType).Inc()
}

// RecordHandlerFailure counts a failed bus handler.
func RecordHandlerFailure(eventType string) {
	handlerFailures.WithLabelValues(eventType).Inc()
}

// RecordGeneration records one generation attempt.
func RecordGeneration(resourceType, outcome string, duration time.Duration) {
	if resourceType == "" {
		resourceType = "unknown"
	}
	generations.WithLabelValues(resourceType, outcome).Inc()
	if duration > 0 {
		generationDuration.WithLabelValues(resourceType).Observe(duration.Seconds())
	}
}

// RecordStoreOp records one event store call.
func RecordStoreOp(op string, err error, duration time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	storeOps.WithLabelValues(op, outcome).Observe(duration.Seconds())
}

// RecordAuth records one identity resolution.
func RecordAuth(method, outcome string) {
	if method == "" {
		method = "none"
	}
	authResolutions.WithLabelValues(method, outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the event stream upgrade to a websocket through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// canonicalPath collapses IDs so label cardinality stays bounded.
func canonicalPath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return "/"
	}
	for i := 1; i < len(parts); i++ {
		switch parts[i-1] {
		case "customers", "resources":
			if parts[i] != "generate" {
				parts[i] = ":id"
			}
		}
	}
	// Proxied customer routes keep only their first segment.
	if len(parts) > 4 && parts[1] == "customers" {
		parts = append(parts[:4], "*")
	}
	return "/" + strings.Join(parts, "/")
}
