// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exposes controller traffic as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/Thermoquad/vrctl/pkg/vrc"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vrctl"

// Result labels.
const (
	ResultOK          = "ok"
	ResultTimeout     = "timeout"
	ResultDeviceError = "device_error"
	ResultRejected    = "rejected"
	ResultError       = "error"
)

// Metrics implements vrc.Observer on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	syncAttempts   *prometheus.CounterVec
	exchanges      *prometheus.CounterVec
	commands       *prometheus.CounterVec
	recordWarnings prometheus.Counter
	lastCommand    prometheus.Gauge
}

var _ vrc.Observer = (*Metrics)(nil)

// New creates the collectors and registers them with the Go runtime
// collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		syncAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_attempts_total",
			Help:      "Interface synchronisation attempts by result.",
		}, []string{"result"}),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchanges_total",
			Help:      "Request/response exchanges with the controller by result.",
		}, []string{"result"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Device commands by kind and result.",
		}, []string{"kind", "result"}),
		recordWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "firmware_record_warnings_total",
			Help:      "Firmware records skipped or rejected during upgrades.",
		}),
		lastCommand: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_command_timestamp_seconds",
			Help:      "Unix time of the last completed device command.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.syncAttempts,
		m.exchanges,
		m.commands,
		m.recordWarnings,
		m.lastCommand,
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the registry to path in the format read by the
// node_exporter textfile collector, for one-shot runs with no scraper.
func (m *Metrics) WriteTextfile(path string) error {
	return errors.Wrap(prometheus.WriteToTextfile(path, m.registry), "write metrics")
}

func (m *Metrics) SyncAttempt(ok bool) {
	if ok {
		m.syncAttempts.WithLabelValues(ResultOK).Inc()
		return
	}
	m.syncAttempts.WithLabelValues(ResultError).Inc()
}

func (m *Metrics) Exchange(command string, err error) {
	m.exchanges.WithLabelValues(classify(err)).Inc()
}

// Command counts one finished device command.
func (m *Metrics) Command(kind vrc.Kind, out vrc.Outcome, err error) {
	result := classify(err)
	if err == nil && out.Rejected() {
		result = ResultRejected
	}
	m.commands.WithLabelValues(kind.String(), result).Inc()
	m.lastCommand.SetToCurrentTime()
}

// RecordWarnings adds firmware record warnings from an upgrade.
func (m *Metrics) RecordWarnings(n int) {
	m.recordWarnings.Add(float64(n))
}

func classify(err error) string {
	var devErr *vrc.DeviceError
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, vrc.ErrTimeout):
		return ResultTimeout
	case errors.As(err, &devErr):
		return ResultDeviceError
	default:
		return ResultError
	}
}
