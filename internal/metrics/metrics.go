// Package metrics exposes sync engine measurements as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fieldsync/internal/fieldsync"
)

const namespace = "fieldsync"

// Prometheus implements fieldsync.Metrics on a dedicated registry.
type Prometheus struct {
	registry *prometheus.Registry

	writesTotal   *prometheus.CounterVec
	drainedTotal  *prometheus.CounterVec
	drainsTotal   *prometheus.CounterVec
	drainDuration prometheus.Histogram
	queueDepth    prometheus.Gauge
}

var _ fieldsync.Metrics = (*Prometheus)(nil)

func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Prometheus{
		registry: reg,
		writesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "write",
				Name:      "completed_total",
				Help:      "Foreground writes by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		drainedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "items_drained_total",
				Help:      "Queue items attempted by drains, by entity type and outcome",
			},
			[]string{"entity_type", "outcome"},
		),
		drainsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "drain",
				Name:      "runs_total",
				Help:      "Completed drain passes by stop reason",
			},
			[]string{"reason"},
		),
		drainDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "drain",
				Name:      "duration_seconds",
				Help:      "Duration of drain passes in seconds",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
			},
		),
		queueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "depth",
				Help:      "Pending queue items after the last drain",
			},
		),
	}
}

func (p *Prometheus) WriteCompleted(op fieldsync.Operation, outcome string) {
	p.writesTotal.WithLabelValues(string(op), outcome).Inc()
}

func (p *Prometheus) ItemDrained(entityType fieldsync.EntityType, outcome string) {
	p.drainedTotal.WithLabelValues(string(entityType), outcome).Inc()
}

func (p *Prometheus) DrainFinished(elapsed time.Duration, reason fieldsync.StopReason) {
	p.drainsTotal.WithLabelValues(string(reason)).Inc()
	p.drainDuration.Observe(elapsed.Seconds())
}

func (p *Prometheus) QueueDepth(n int) {
	p.queueDepth.Set(float64(n))
}

// Registry returns the registry holding the engine metrics.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Register mounts the metrics endpoint at /metrics.
func (p *Prometheus) Register(e *echo.Echo) {
	e.GET("/metrics", echo.WrapHandler(p.Handler()))
}
