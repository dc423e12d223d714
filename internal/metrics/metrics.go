// Package metrics holds the Prometheus collectors shared by the API and the worker.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"afggram/internal/util"
)

const namespace = "afggram"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests handled.",
	}, []string{"method", "route", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"method", "route"})

	withdrawalRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "wallet",
		Name:      "withdrawal_requests_total",
		Help:      "Withdrawal requests by outcome (accepted or the rejection code).",
	}, []string{"outcome"})

	reviews = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "admin",
		Name:      "reviews_total",
		Help:      "Administrator reviews by kind and decision.",
	}, []string{"kind", "decision"})

	queueJobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "jobs_total",
		Help:      "Jobs enqueued or processed, by kind and outcome.",
	}, []string{"kind", "outcome"})

	realtimeConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "connections",
		Help:      "Open realtime WebSocket connections.",
	})

	realtimeEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "events_total",
		Help:      "Change events published, by table and type.",
	}, []string{"table", "type"})

	sweepRemoved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "sweep_removed_total",
		Help:      "Rows removed by periodic sweeps.",
	}, []string{"sweep"})
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		withdrawalRequests,
		reviews,
		queueJobs,
		realtimeConnections,
		realtimeEvents,
		sweepRemoved,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler exposes the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware records HTTP metrics keyed by the matched route template, so
// path parameters do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		rec := &util.StatusRecorder{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		status := rec.Status
		if status == 0 {
			status = http.StatusOK
		}
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// WithdrawalRequest counts a withdrawal request outcome.
func WithdrawalRequest(outcome string) {
	withdrawalRequests.WithLabelValues(outcome).Inc()
}

// Review counts an administrator decision.
func Review(kind string, approved bool) {
	decision := "rejected"
	if approved {
		decision = "approved"
	}
	reviews.WithLabelValues(kind, decision).Inc()
}

// QueueJob counts a job transition.
func QueueJob(kind, outcome string) {
	queueJobs.WithLabelValues(kind, outcome).Inc()
}

// RealtimeConnectionOpened and RealtimeConnectionClosed track open sockets.
func RealtimeConnectionOpened() { realtimeConnections.Inc() }

func RealtimeConnectionClosed() { realtimeConnections.Dec() }

// RealtimeEvent counts a published change event.
func RealtimeEvent(table, eventType string) {
	realtimeEvents.WithLabelValues(table, eventType).Inc()
}

// SweepRemoved counts rows removed by a sweep.
func SweepRemoved(sweep string, n int) {
	if n > 0 {
		sweepRemoved.WithLabelValues(sweep).Add(float64(n))
	}
}
