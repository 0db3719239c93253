// Package metrics owns the Prometheus registry for latch.
//
// All collectors live on a private registry rather than the global default so tests can build
// as many instances as they like. Every recording method is safe on a nil *Registry, which lets
// callers wire metrics optionally without branching at each call site.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "latch"

// Registry groups the service collectors.
type Registry struct {
	reg *prometheus.Registry

	authEvents   *prometheus.CounterVec
	purgedRows   *prometheus.CounterVec
	mailFailures *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New builds a Registry with the Go runtime and process collectors attached.
func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.authEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "events_total",
		Help:      "Authentication events by event name and result",
	}, []string{"event", "result"})

	r.purgedRows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "purged_rows_total",
		Help:      "Expired pending signups and reset tokens removed by the sweeper",
	}, []string{"kind"})

	r.mailFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mail",
		Name:      "failures_total",
		Help:      "Outbound mail deliveries that returned an error",
	}, []string{"kind"})

	r.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status class",
	}, []string{"method", "route", "class"})

	r.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.authEvents,
		r.purgedRows,
		r.mailFailures,
		r.httpRequests,
		r.httpDuration,
	)
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the underlying registry for tests and embedding.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

// AuthEvent counts one auth event, e.g. ("auth.signin", "fail").
func (r *Registry) AuthEvent(event, result string) {
	if r == nil {
		return
	}
	r.authEvents.WithLabelValues(event, result).Inc()
}

// Purged records rows removed by a purge pass.
func (r *Registry) Purged(pendingSignups, resetTokens int64) {
	if r == nil {
		return
	}
	if pendingSignups > 0 {
		r.purgedRows.WithLabelValues("pending_signup").Add(float64(pendingSignups))
	}
	if resetTokens > 0 {
		r.purgedRows.WithLabelValues("reset_token").Add(float64(resetTokens))
	}
}

// MailFailure counts a failed delivery of the given kind ("verification", "password_reset").
func (r *Registry) MailFailure(kind string) {
	if r == nil {
		return
	}
	r.mailFailures.WithLabelValues(kind).Inc()
}

// ObserveHTTP records one finished request.
func (r *Registry) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(method, route, StatusClass(status)).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// StatusClass maps a status code to "2xx", "4xx" and so on.
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
