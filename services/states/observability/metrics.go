// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the State resource.
//
// # Description
//
// Counts resource operations by outcome, records their latency, tracks
// in-flight requests and rate-limit rejections. Storage-level metrics live
// in the telemetry package as OTel instruments; these are the HTTP-facing
// numbers that dashboards and alerts key on.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace  = "states"
	resourceSubsystem = "resource"
)

// Operation names a resource operation for labeling.
type Operation string

const (
	OperationList   Operation = "list"
	OperationGet    Operation = "get"
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
	OperationStats  Operation = "stats"
)

// Outcome is the coarse result of an operation.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeClientError Outcome = "client_error"
	OutcomeNotFound    Outcome = "not_found"
	OutcomeError       Outcome = "error"
)

// ResourceMetrics holds the Prometheus collectors for the State resource.
type ResourceMetrics struct {
	// RequestsTotal counts operations.
	// Labels: operation, outcome
	RequestsTotal *prometheus.CounterVec

	// DurationSeconds measures operation latency.
	// Labels: operation
	DurationSeconds *prometheus.HistogramVec

	// ErrorsTotal counts failed operations by response code.
	// Labels: operation, error_code (MALFORMED_BODY, NOT_FOUND, ...)
	ErrorsTotal *prometheus.CounterVec

	// InFlight is the number of requests being served.
	InFlight prometheus.Gauge

	// RateLimitedTotal counts requests rejected by the rate limiter.
	RateLimitedTotal prometheus.Counter
}

// NewMetrics creates and registers the resource collectors on reg.
//
// # Description
//
// A nil reg uses the Prometheus default registry, which is what the
// /metrics handler serves in production. Tests pass their own registry so
// repeated construction does not panic on duplicate registration.
//
// # Inputs
//
//   - reg: Registerer to add collectors to. May be nil.
//
// # Outputs
//
//   - *ResourceMetrics: The registered collectors.
//
// # Limitations
//
//   - Panics if the same registry already holds these collectors.
func NewMetrics(reg prometheus.Registerer) *ResourceMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &ResourceMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: resourceSubsystem,
				Name:      "requests_total",
				Help:      "Total State resource operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),

		DurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: resourceSubsystem,
				Name:      "duration_seconds",
				Help:      "State resource operation duration in seconds",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"operation"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: resourceSubsystem,
				Name:      "errors_total",
				Help:      "Total failed State resource operations by error code",
			},
			[]string{"operation", "error_code"},
		),

		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: resourceSubsystem,
				Name:      "in_flight_requests",
				Help:      "Number of State resource requests being served",
			},
		),

		RateLimitedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "rate_limited_total",
				Help:      "Total requests rejected by the rate limiter",
			},
		),
	}
}

// Observe records one finished operation.
func (m *ResourceMetrics) Observe(op Operation, outcome Outcome, seconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(string(op), string(outcome)).Inc()
	m.DurationSeconds.WithLabelValues(string(op)).Observe(seconds)
}

// RecordError counts a failed operation under its response code.
func (m *ResourceMetrics) RecordError(op Operation, code string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(string(op), code).Inc()
}

// RequestStarted increments the in-flight gauge.
func (m *ResourceMetrics) RequestStarted() {
	if m == nil {
		return
	}
	m.InFlight.Inc()
}

// RequestEnded decrements the in-flight gauge.
func (m *ResourceMetrics) RequestEnded() {
	if m == nil {
		return
	}
	m.InFlight.Dec()
}

// RecordRateLimited counts a rejected request.
func (m *ResourceMetrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}
