// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package txn

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "clientjobs"

// Metrics reports transaction outcomes from the retry envelope. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	successes prometheus.Counter
	retries   prometheus.Counter
	failures  prometheus.Counter
}

// NewMetrics returns a metrics collector for transaction outcomes.
// It implements prometheus.Collector; registration is left to the caller.
func NewMetrics() *Metrics {
	return &Metrics{
		successes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "txn",
			Name:      "successes_total",
			Help:      "Total number of committed transactions.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "txn",
			Name:      "retries_total",
			Help:      "Total number of transaction attempts, including retries of transient faults.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "txn",
			Name:      "failures_total",
			Help:      "Total number of transactions that surfaced an error to the caller.",
		}),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.successes.Describe(ch)
	m.retries.Describe(ch)
	m.failures.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.successes.Collect(ch)
	m.retries.Collect(ch)
	m.failures.Collect(ch)
}

func (m *Metrics) observeSuccess() {
	if m == nil {
		return
	}
	m.successes.Inc()
}

func (m *Metrics) observeRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) observeFailure() {
	if m == nil {
		return
	}
	m.failures.Inc()
}
