// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for the capture relay.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons.
const (
	ReasonUnknownClient = "unknown_client"
	ReasonShutdown      = "shutdown"
)

// Metrics holds all Prometheus metrics for udpcap.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Packet metrics
	PacketsReceived  *prometheus.CounterVec
	BytesReceived    *prometheus.CounterVec
	PacketsForwarded *prometheus.CounterVec
	PacketsDropped   *prometheus.CounterVec

	// Scheduler metrics
	PendingDeliveries prometheus.Gauge
	InjectedDelay     prometheus.Histogram

	// Session metrics
	SessionChanges prometheus.Counter
}

// New creates a new Metrics instance on its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "udpcap"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PacketsReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "packets_received_total",
				Help:      "Total number of datagrams received on the relay socket",
			},
			[]string{"direction"},
		),
		BytesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_received_total",
				Help:      "Total payload bytes received on the relay socket",
			},
			[]string{"direction"},
		),
		PacketsForwarded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "packets_forwarded_total",
				Help:      "Total number of datagrams sent to their destination",
			},
			[]string{"direction"},
		),
		PacketsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "packets_dropped_total",
				Help:      "Total number of datagrams that were never forwarded",
			},
			[]string{"reason"},
		),
		PendingDeliveries: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_deliveries",
				Help:      "Number of delayed datagrams waiting to be sent",
			},
		),
		InjectedDelay: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "injected_delay_seconds",
				Help:      "Delay injected in front of forwarded datagrams",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),
		SessionChanges: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_changes_total",
				Help:      "Number of times the client binding changed",
			},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveReceived counts one received datagram.
func (m *Metrics) ObserveReceived(direction string, size int) {
	if m == nil {
		return
	}
	m.PacketsReceived.WithLabelValues(direction).Inc()
	m.BytesReceived.WithLabelValues(direction).Add(float64(size))
}

// ObserveForwarded counts one datagram handed to the socket.
func (m *Metrics) ObserveForwarded(direction string) {
	if m == nil {
		return
	}
	m.PacketsForwarded.WithLabelValues(direction).Inc()
}

// ObserveDropped counts n datagrams that will never be forwarded.
func (m *Metrics) ObserveDropped(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PacketsDropped.WithLabelValues(reason).Add(float64(n))
}

// ObserveDelay records an injected delay.
func (m *Metrics) ObserveDelay(d time.Duration) {
	if m == nil {
		return
	}
	m.InjectedDelay.Observe(d.Seconds())
}

// SetPending updates the pending delivery gauge.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingDeliveries.Set(float64(n))
}

// ObserveSessionChange counts a client rebinding.
func (m *Metrics) ObserveSessionChange() {
	if m == nil {
		return
	}
	m.SessionChanges.Inc()
}
