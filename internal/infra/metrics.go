package infra

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the service's Prometheus collectors. A nil *Metrics is a
// valid no-op sink so tests and the repair CLI can run without a registry.
type Metrics struct {
	jobsCreated     prometheus.Counter
	jobsFailed      prometheus.Counter
	sceneReports    *prometheus.CounterVec
	reconstructions prometheus.Counter
	storiesMigrated prometheus.Counter
	sweepDeleted    prometheus.Counter
	sweepErrors     prometheus.Counter
}

// NewMetrics creates and registers the collectors on the default registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		jobsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storyloom_jobs_created_total",
			Help: "Story jobs created",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storyloom_jobs_failed_total",
			Help: "Story jobs explicitly marked failed",
		}),
		sceneReports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storyloom_scene_reports_total",
				Help: "Scene stage results reported, by kind and status",
			},
			[]string{"kind", "status"},
		),
		reconstructions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storyloom_reconstructions_total",
			Help: "Story reconstructions served from artifact files",
		}),
		storiesMigrated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storyloom_stories_migrated_total",
			Help: "Stories imported into the saved catalog by migration scans",
		}),
		sweepDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storyloom_sweeper_folders_deleted_total",
			Help: "Expired working folders deleted by the retention sweeper",
		}),
		sweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storyloom_sweeper_errors_total",
			Help: "Per-folder errors the retention sweeper logged and skipped",
		}),
	}

	prometheus.MustRegister(m.jobsCreated)
	prometheus.MustRegister(m.jobsFailed)
	prometheus.MustRegister(m.sceneReports)
	prometheus.MustRegister(m.reconstructions)
	prometheus.MustRegister(m.storiesMigrated)
	prometheus.MustRegister(m.sweepDeleted)
	prometheus.MustRegister(m.sweepErrors)

	return m
}

func (m *Metrics) JobCreated() {
	if m == nil {
		return
	}
	m.jobsCreated.Inc()
}

func (m *Metrics) JobFailed() {
	if m == nil {
		return
	}
	m.jobsFailed.Inc()
}

func (m *Metrics) SceneReport(kind, status string) {
	if m == nil {
		return
	}
	m.sceneReports.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) Reconstruction() {
	if m == nil {
		return
	}
	m.reconstructions.Inc()
}

func (m *Metrics) StoriesMigrated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.storiesMigrated.Add(float64(n))
}

func (m *Metrics) SweepDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweepDeleted.Add(float64(n))
}

func (m *Metrics) SweepError() {
	if m == nil {
		return
	}
	m.sweepErrors.Inc()
}
