// Copyright 2026 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package metrics records authentication and connection pool metrics with Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.pinniped.dev/ldapbind/internal/connpool"
)

const namespace = "ldapbind"

// Outcomes of an authentication attempt.
const (
	OutcomeSucceeded    = "succeeded"
	OutcomeRejected     = "rejected"
	OutcomeNotAttempted = "not_attempted"
)

// Causes of a failed bind. They are never shown to the end user.
const (
	CauseInvalidCredentials = "invalid_credentials"
	CauseUnavailable        = "unavailable"
	CauseError              = "error"
)

// Recorder is implemented by Metrics and Noop.
type Recorder interface {
	connpool.Observer

	RecordAuthentication(outcome string, duration time.Duration)
	RecordBindFailure(cause string)
	RecordDirectoryUnavailable()

	// Handler serves the metrics in the Prometheus exposition format.
	Handler() http.Handler
}

var _ Recorder = (*Metrics)(nil)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	registry *prometheus.Registry

	AuthenticationsTotal        *prometheus.CounterVec
	AuthenticationDuration      *prometheus.HistogramVec
	BindFailuresTotal           *prometheus.CounterVec
	DirectoryUnavailableTotal   prometheus.Counter
	ConnectionsDialedTotal      prometheus.Counter
	ConnectionsDiscardedTotal   prometheus.Counter
	ConnectionCheckoutsInFlight prometheus.Gauge
}

// Init returns Prometheus-backed metrics when enabled, otherwise a Recorder which does nothing.
func Init(enabled bool) Recorder {
	if !enabled {
		return NewNoop()
	}
	return New(prometheus.NewRegistry())
}

// New registers all metrics with the given registry, along with the Go runtime and process collectors.
func New(registry *prometheus.Registry) *Metrics {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		AuthenticationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "authentications_total",
				Help:      "Total number of authentication attempts",
			},
			[]string{"outcome"}, // succeeded, rejected, not_attempted
		),
		AuthenticationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "authentication_duration_seconds",
				Help:      "Time taken to resolve and verify credentials",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		BindFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bind_failures_total",
				Help:      "Total number of failed end user binds",
			},
			[]string{"cause"}, // invalid_credentials, unavailable, error
		),
		DirectoryUnavailableTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "directory_unavailable_total",
				Help:      "Total number of authentication attempts which could not reach the directory",
			},
		),
		ConnectionsDialedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_dialed_total",
				Help:      "Total number of directory connections dialed",
			},
		),
		ConnectionsDiscardedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_discarded_total",
				Help:      "Total number of directory connections closed because their state was unknown",
			},
		),
		ConnectionCheckoutsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connection_checkouts_in_flight",
				Help:      "Current number of directory connections checked out of the pool",
			},
		),
	}
}

func (m *Metrics) RecordAuthentication(outcome string, duration time.Duration) {
	m.AuthenticationsTotal.WithLabelValues(outcome).Inc()
	m.AuthenticationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *Metrics) RecordBindFailure(cause string) {
	m.BindFailuresTotal.WithLabelValues(cause).Inc()
}

func (m *Metrics) RecordDirectoryUnavailable() {
	m.DirectoryUnavailableTotal.Inc()
}

func (m *Metrics) ConnectionDialed() {
	m.ConnectionsDialedTotal.Inc()
}

func (m *Metrics) ConnectionDiscarded() {
	m.ConnectionsDiscardedTotal.Inc()
}

func (m *Metrics) CheckoutsInFlight(n int) {
	m.ConnectionCheckoutsInFlight.Set(float64(n))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
