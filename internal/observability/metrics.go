// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/secrets/internal/auth"
)

// Metrics contains the service's Prometheus collectors.
type Metrics struct {
	AuthAttempts    *prometheus.CounterVec
	SessionsStarted *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secrets_auth_attempts_total",
				Help: "Authentication attempts by flow and outcome",
			},
			[]string{"flow", "outcome"},
		),
		SessionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secrets_sessions_started_total",
				Help: "Sessions issued by flow",
			},
			[]string{"flow"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secrets_http_requests_total",
				Help: "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "secrets_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}

	reg.MustRegister(m.AuthAttempts, m.SessionsStarted, m.HTTPRequests, m.HTTPDuration)
	return m
}

// RecordAttempt implements auth.Recorder.
func (m *Metrics) RecordAttempt(flow, outcome string) {
	m.AuthAttempts.WithLabelValues(flow, outcome).Inc()
}

// RecordSessionStarted implements auth.Recorder.
func (m *Metrics) RecordSessionStarted(flow string) {
	m.SessionsStarted.WithLabelValues(flow).Inc()
}

var _ auth.Recorder = (*Metrics)(nil)

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(route string, code int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
