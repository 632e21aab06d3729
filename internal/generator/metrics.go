package generator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// ok / error / cancelled
	Runs *prometheus.CounterVec

	RunDuration prometheus.Histogram

	// created / updated / error по типу сигнала
	Upserts *prometheus.CounterVec

	// expired / purged
	Swept *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		Runs: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "automation_generator_runs_total",
			Help: "Generator passes by result.",
		}, []string{"result"}),

		RunDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "automation_generator_run_duration_seconds",
			Help:    "Wall time of a full generator pass over all tenants.",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 180, 600},
		}),

		Upserts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "automation_generator_task_upserts_total",
			Help: "Task upserts by signal type and outcome.",
		}, []string{"task_type", "outcome"}),

		Swept: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "automation_generator_swept_total",
			Help: "Tasks moved to expired or purged by the sweep.",
		}, []string{"kind"}),
	}
}
