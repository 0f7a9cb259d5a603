// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes Prometheus metrics for the network subsystem.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "netinstall"

// Registry owns the metric vectors. All observation helpers accept a nil
// receiver so that components can run without metrics.
type Registry struct {
	reg *prometheus.Registry

	ActionsTotal  *prometheus.CounterVec
	ApplyDuration prometheus.Histogram
	WriteFailures prometheus.Counter
	TreeObjects   *prometheus.GaugeVec
	ChangeEvents  *prometheus.CounterVec
	Devices       *prometheus.GaugeVec
	Connections   *prometheus.GaugeVec
}

// NewRegistry creates a registry with every metric registered.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Actions handled by the network control loop.",
		}, []string{"action", "result"}),
		ApplyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "apply_duration_seconds",
			Help:      "Time spent writing and re-reading the network state.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		WriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_failures_total",
			Help:      "Connections that could not be written to the network manager.",
		}),
		TreeObjects: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tree_objects",
			Help:      "Objects published on the bus.",
		}, []string{"kind"}),
		ChangeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "change_events_total",
			Help:      "Change notifications received from the network manager.",
		}, []string{"kind"}),
		Devices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices",
			Help:      "Known devices by state.",
		}, []string{"state"}),
		Connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Known connections by kind and status.",
		}, []string{"kind", "status"}),
	}
	r.reg.MustRegister(
		r.ActionsTotal, r.ApplyDuration, r.WriteFailures,
		r.TreeObjects, r.ChangeEvents, r.Devices, r.Connections,
	)
	return r
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Get returns the process-wide registry.
func Get() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry, mostly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// ObserveAction counts a handled action.
func (r *Registry) ObserveAction(action string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.ActionsTotal.WithLabelValues(action, result).Inc()
}

// ObserveApply records one apply and how many connections failed to write.
func (r *Registry) ObserveApply(d time.Duration, failed int) {
	if r == nil {
		return
	}
	r.ApplyDuration.Observe(d.Seconds())
	r.WriteFailures.Add(float64(failed))
}

func (r *Registry) SetTreeObjects(kind string, n int) {
	if r == nil {
		return
	}
	r.TreeObjects.WithLabelValues(kind).Set(float64(n))
}

func (r *Registry) ObserveChange(kind string) {
	if r == nil {
		return
	}
	r.ChangeEvents.WithLabelValues(kind).Inc()
}
