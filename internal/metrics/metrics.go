// Package metrics defines the Prometheus instrumentation for the
// change-capture pipeline, wired the way cmd/rrr-server/main.go builds
// and registers its metric set against a dedicated registry served by
// go.ntppool.org/common/metricsserver.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every counter/gauge the pipeline reports. A nil
// *Metrics is not valid; use New to construct one and Register to
// attach it to a registry.
type Metrics struct {
	EventsClassified    *prometheus.CounterVec
	EventsSuppressed    *prometheus.CounterVec
	BatchesPublished    *prometheus.CounterVec
	BatchDiscards       prometheus.Counter
	RotateRetries       prometheus.Counter
	RecoveryPromotions  prometheus.Counter
	RecoveryFailures    prometheus.Counter
	ConfigReloads       *prometheus.CounterVec
	StagingBytesCurrent prometheus.Gauge
}

// New constructs the metric set. Registration is separate (Register)
// so callers can choose a custom registry, matching how rrr-server
// builds its CounterVec/Counter/Histogram/Gauge values before handing
// them to metricsSrv.Registry().MustRegister.
func New() *Metrics {
	return &Metrics{
		EventsClassified: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sfs_events_classified_total",
				Help: "Total number of filesystem operations classified into change events.",
			},
			[]string{"mode"},
		),
		EventsSuppressed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sfs_events_suppressed_total",
				Help: "Total number of operations suppressed by path filtering.",
			},
			[]string{"reason"},
		),
		BatchesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sfs_batches_published_total",
				Help: "Total number of batch files rotated from staging to outbox.",
			},
			[]string{"mode", "trigger"},
		),
		BatchDiscards: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sfs_batch_discards_total",
				Help: "Total number of batches abandoned due to fatal staging I/O errors.",
			},
		),
		RotateRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sfs_rotate_retries_total",
				Help: "Total number of rename retries during batch rotation.",
			},
		),
		RecoveryPromotions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sfs_recovery_promotions_total",
				Help: "Total number of staging files promoted to the outbox at startup.",
			},
		),
		RecoveryFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sfs_recovery_failures_total",
				Help: "Total number of recovery runs aborted because a staging file could not be renamed into the outbox; other recovery errors are not counted.",
			},
		),
		ConfigReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sfs_config_reloads_total",
				Help: "Total number of config reload attempts.",
			},
			[]string{"result"},
		),
		StagingBytesCurrent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sfs_staging_bytes_current",
				Help: "Bytes written to the currently open staging file since its last rotation.",
			},
		),
	}
}

// Register attaches every metric in m to reg.
func (m *Metrics) Register(reg *prometheus.Registry) {
	reg.MustRegister(
		m.EventsClassified,
		m.EventsSuppressed,
		m.BatchesPublished,
		m.BatchDiscards,
		m.RotateRetries,
		m.RecoveryPromotions,
		m.RecoveryFailures,
		m.ConfigReloads,
		m.StagingBytesCurrent,
	)
}
