package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: полный путь approve-and-execute, включая хендлер
	RequestDuration *prometheus.HistogramVec

	// Traffic: решения по задачам
	Requests *prometheus.CounterVec

	// Errors: коды отказов таксономии
	ErrorTotal *prometheus.CounterVec

	// Saturation: решения лимитера безопасности
	LimiterDecisions *prometheus.CounterVec

	HandlerDuration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "automation_request_duration_seconds",
			Help:    "Histogram of automation action latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"action", "status"}),

		Requests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "automation_requests_total",
			Help: "Total number of automation actions by outcome.",
		}, []string{"action", "status"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "automation_errors_total",
			Help: "Total number of automation errors by code.",
		}, []string{"code"}),

		LimiterDecisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "automation_safety_decisions_total",
			Help: "Safety limiter decisions by action type.",
		}, []string{"action_type", "decision"}), // admitted, paused, limit_exceeded, no_policy

		HandlerDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "automation_handler_duration_seconds",
			Help:    "Intent handler execution time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"intent", "status"}),
	}
}
