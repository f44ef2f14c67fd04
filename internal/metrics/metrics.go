// Package metrics exposes synchronization counters on a private Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vatdefs"

// Collector records origin fetches, synchronizer outcomes and watermarks.
// A nil *Collector is a valid no-op.
type Collector struct {
	registry     *prometheus.Registry
	originCalls  *prometheus.CounterVec
	syncOutcomes *prometheus.CounterVec
	watermarks   *prometheus.GaugeVec
	lastCheck    prometheus.Gauge
}

// New creates a collector with its own registry.
func New() *Collector {
	registry := prometheus.NewRegistry()
	collector := &Collector{
		registry: registry,
		originCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "origin_requests_total",
			Help:      "Origin requests by origin, operation and outcome.",
		}, []string{"origin", "operation", "outcome"}),
		syncOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_outcomes_total",
			Help:      "Synchronizer results by dataset kind and source.",
		}, []string{"kind", "source"}),
		watermarks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dataset_watermark_seconds",
			Help:      "Unix timestamp of the persisted version of each dataset kind.",
		}, []string{"kind"}),
		lastCheck: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_global_check_seconds",
			Help:      "Unix timestamp of the last completed staleness check.",
		}),
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collector.originCalls,
		collector.syncOutcomes,
		collector.watermarks,
		collector.lastCheck,
	)
	return collector
}

// OriginFetch counts one origin request.
func (c *Collector) OriginFetch(originName, operation string, err error) {
	if c == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.originCalls.WithLabelValues(originName, operation, outcome).Inc()
}

// SyncOutcome counts one synchronizer result.
func (c *Collector) SyncOutcome(kind, source string) {
	if c == nil {
		return
	}
	c.syncOutcomes.WithLabelValues(kind, source).Inc()
}

// Watermark publishes the persisted version timestamp of kind.
func (c *Collector) Watermark(kind string, unixSeconds int64) {
	if c == nil {
		return
	}
	c.watermarks.WithLabelValues(kind).Set(float64(unixSeconds))
}

// GlobalCheck publishes the last staleness check timestamp.
func (c *Collector) GlobalCheck(unixSeconds int64) {
	if c == nil {
		return
	}
	c.lastCheck.Set(float64(unixSeconds))
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
