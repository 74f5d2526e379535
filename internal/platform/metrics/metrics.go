// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package metrics exposes Prometheus instruments for security decisions and HTTP traffic.

A nil *Metrics is valid and records nothing, so domain services can be
constructed without an observability backend (tests, embedded use).
*/
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every instrument the service publishes.
type Metrics struct {
	admissions          *prometheus.CounterVec
	contentDecisions    *prometheus.CounterVec
	resolutions         *prometheus.CounterVec
	degradedRoles       prometheus.Counter
	auditFailures       *prometheus.CounterVec
	sessionsEvicted     prometheus.Counter
	httpInFlight        prometheus.Gauge
	httpRequestDuration *prometheus.HistogramVec
	gatherer            prometheus.Gatherer
}

// New creates and registers all instruments on registry.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_admission_decisions_total",
			Help: "Session admission decisions by outcome and reason.",
		}, []string{"outcome", "reason"}),
		contentDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_content_decisions_total",
			Help: "Content access decisions by outcome and watermarking.",
		}, []string{"outcome", "watermark"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_permission_resolutions_total",
			Help: "Effective permission resolutions by outcome.",
		}, []string{"outcome"}),
		degradedRoles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_permission_degraded_roles_total",
			Help: "Role references that contributed nothing because they were dangling or unreadable.",
		}),
		auditFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_audit_delivery_failures_total",
			Help: "Audit entries that a sink failed to persist.",
		}, []string{"sink"}),
		sessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_sessions_evicted_total",
			Help: "Sessions deactivated to make room for a new admission or after a limit reduction.",
		}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		gatherer: registry,
	}

	registry.MustRegister(
		m.admissions,
		m.contentDecisions,
		m.resolutions,
		m.degradedRoles,
		m.auditFailures,
		m.sessionsEvicted,
		m.httpInFlight,
		m.httpRequestDuration,
	)

	return m
}

// # Domain Instruments

// Admission counts one admission decision.
func (m *Metrics) Admission(allowed bool, reason string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(outcome(allowed), reason).Inc()
}

// ContentDecision counts one content access decision.
func (m *Metrics) ContentDecision(allowed, watermark bool) {
	if m == nil {
		return
	}
	m.contentDecisions.WithLabelValues(outcome(allowed), strconv.FormatBool(watermark)).Inc()
}

// Resolution counts one permission resolution and the roles it had to skip.
func (m *Metrics) Resolution(ok bool, degraded int) {
	if m == nil {
		return
	}
	label := "ok"
	if !ok {
		label = "error"
	}
	m.resolutions.WithLabelValues(label).Inc()
	m.degradedRoles.Add(float64(degraded))
}

// AuditFailure counts one audit entry lost by sink.
func (m *Metrics) AuditFailure(sink string) {
	if m == nil {
		return
	}
	m.auditFailures.WithLabelValues(sink).Inc()
}

// SessionsEvicted counts sessions deactivated by policy.
func (m *Metrics) SessionsEvicted(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.sessionsEvicted.Add(float64(count))
}

func outcome(allowed bool) string {
	if allowed {
		return "allow"
	}
	return "deny"
}

// # HTTP

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Instrument measures latency and in-flight requests, labelled by chi route pattern.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		start := time.Now()
		recorder := &statusWriter{ResponseWriter: writer, code: http.StatusOK}
		next.ServeHTTP(recorder, request)

		route := "unmatched"
		if routeContext := chi.RouteContext(request.Context()); routeContext != nil {
			if pattern := routeContext.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		m.httpRequestDuration.
			WithLabelValues(request.Method, route, strconv.Itoa(recorder.code)).
			Observe(time.Since(start).Seconds())
	})
}

// statusWriter records the response code for labelling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
