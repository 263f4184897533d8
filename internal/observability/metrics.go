package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds the Prometheus metrics of a bundling run. Each instance has its
// own registry so a CLI run can push exactly what it measured.
type Metrics struct {
	registry *prometheus.Registry

	// Build metrics
	buildsTotal   *prometheus.CounterVec
	buildDuration prometheus.Gauge

	// Chunk metrics
	chunkBuildsTotal   *prometheus.CounterVec
	chunkBuildDuration *prometheus.HistogramVec
	staleRemovedTotal  prometheus.Counter

	// Module metrics
	moduleCompilesTotal *prometheus.CounterVec

	// Source cache metrics
	sourceFetchesTotal  *prometheus.CounterVec
	sourceFetchDuration *prometheus.HistogramVec

	// Publish metrics
	publishObjectsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,

		buildsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxpack_builds_total",
				Help: "Total number of bundling sessions",
			},
			[]string{"status"},
		),
		buildDuration: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fluxpack_build_duration_seconds",
				Help: "Duration of the last bundling session in seconds",
			},
		),

		chunkBuildsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxpack_chunk_builds_total",
				Help: "Total number of chunk builds by cache outcome",
			},
			[]string{"cache"},
		),
		chunkBuildDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fluxpack_chunk_build_duration_seconds",
				Help:    "Chunk build duration in seconds",
				Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"chunk"},
		),
		staleRemovedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fluxpack_stale_bundles_removed_total",
				Help: "Total number of superseded bundle files deleted",
			},
		),

		moduleCompilesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxpack_module_compiles_total",
				Help: "Total number of bundling artifact requests by cache outcome",
			},
			[]string{"cache"},
		),

		sourceFetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxpack_source_fetches_total",
				Help: "Total number of remote module fetches by result",
			},
			[]string{"result"},
		),
		sourceFetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fluxpack_source_fetch_duration_seconds",
				Help:    "Remote module fetch duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),

		publishObjectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxpack_publish_objects_total",
				Help: "Total number of published objects by action",
			},
			[]string{"action"},
		),
	}

	return m
}

// RecordBuild records the outcome of a bundling session
func (m *Metrics) RecordBuild(duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.buildsTotal.WithLabelValues(status).Inc()
	m.buildDuration.Set(duration.Seconds())
}

// RecordChunkBuild records one chunk build
func (m *Metrics) RecordChunkBuild(chunk string, cached bool, duration time.Duration) {
	m.chunkBuildsTotal.WithLabelValues(cacheLabel(cached)).Inc()
	if !cached {
		m.chunkBuildDuration.WithLabelValues(chunk).Observe(duration.Seconds())
	}
}

// RecordModuleCompile records one bundling artifact request
func (m *Metrics) RecordModuleCompile(cached bool) {
	m.moduleCompilesTotal.WithLabelValues(cacheLabel(cached)).Inc()
}

// RecordStaleRemoved records deleted stale bundle files
func (m *Metrics) RecordStaleRemoved(count int) {
	if count > 0 {
		m.staleRemovedTotal.Add(float64(count))
	}
}

// RecordSourceFetch records a remote module fetch
func (m *Metrics) RecordSourceFetch(result string, duration time.Duration) {
	m.sourceFetchesTotal.WithLabelValues(result).Inc()
	m.sourceFetchDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordPublish records the objects handled by a publish run
func (m *Metrics) RecordPublish(uploaded, skipped, pruned int) {
	m.publishObjectsTotal.WithLabelValues("uploaded").Add(float64(uploaded))
	m.publishObjectsTotal.WithLabelValues("skipped").Add(float64(skipped))
	m.publishObjectsTotal.WithLabelValues("pruned").Add(float64(pruned))
}

// Gatherer exposes the registry, for pushing and tests
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Push sends every metric to a Prometheus Pushgateway under job
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return fmt.Errorf("pushgateway url is required")
	}
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}

func cacheLabel(cached bool) string {
	if cached {
		return "hit"
	}
	return "miss"
}
