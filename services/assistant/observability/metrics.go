// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the assistant.
//
// All metric operations are thread-safe via Prometheus's internal
// locking. Exposed on /metrics; pair with Prometheus + Grafana.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "aleutiandrive"
	chatSubsystem    = "chat"
)

// ChatMetrics holds the assistant's conversation metrics.
type ChatMetrics struct {
	// RequestsTotal counts conversation requests by outcome status code.
	RequestsTotal *prometheus.CounterVec

	// DenialsTotal counts entitlement denials by reason.
	DenialsTotal *prometheus.CounterVec

	// CompletionSeconds observes completion-call latency.
	CompletionSeconds prometheus.Histogram

	// PersistenceFailuresTotal counts swallowed persistence failures by
	// operation (user_turn, assistant_turn, usage). These are the
	// invisible degradations; the counter is how they stay visible.
	PersistenceFailuresTotal *prometheus.CounterVec

	// GuestTrialsTotal counts consumed guest trial messages.
	GuestTrialsTotal prometheus.Counter
}

// NewChatMetrics registers the conversation metrics on reg. Pass
// prometheus.DefaultRegisterer in production and a private registry in
// tests.
func NewChatMetrics(reg prometheus.Registerer) *ChatMetrics {
	factory := promauto.With(reg)
	return &ChatMetrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: chatSubsystem,
			Name:      "requests_total",
			Help:      "Conversation requests by HTTP status.",
		}, []string{"status"}),
		DenialsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: chatSubsystem,
			Name:      "denials_total",
			Help:      "Entitlement denials by reason.",
		}, []string{"reason"}),
		CompletionSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: chatSubsystem,
			Name:      "completion_seconds",
			Help:      "Latency of completion-service calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		PersistenceFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: chatSubsystem,
			Name:      "persistence_failures_total",
			Help:      "Swallowed best-effort persistence failures by operation.",
		}, []string{"operation"}),
		GuestTrialsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: chatSubsystem,
			Name:      "guest_trials_total",
			Help:      "Guest trial messages consumed.",
		}),
	}
}
