package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// created / deduplicated / error
	Dispatched *prometheus.CounterVec

	// sent / retry / failed / skipped
	Deliveries *prometheus.CounterVec

	SendDuration *prometheus.HistogramVec

	// Saturation: состояние Circuit Breaker (0 - closed, 1 - half-open, 2 - open)
	CircuitBreakerState *prometheus.GaugeVec

	// Заполненность буфера журнала попыток (backpressure)
	AttemptBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object: без реестра метрики пишутся в локальный, никуда не подключенный
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		Dispatched: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "automation_outbox_dispatched_total",
			Help: "Outbox records requested by intent handlers.",
		}, []string{"result"}),

		Deliveries: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "automation_outbox_deliveries_total",
			Help: "Delivery attempts by outcome and channel.",
		}, []string{"channel", "outcome"}),

		SendDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "automation_outbox_send_duration_seconds",
			Help:    "Latency of channel transport sends.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"channel"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "automation_outbox_circuit_breaker_state",
			Help: "Current state of the transport circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"transport"}),

		AttemptBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "automation_outbox_attempt_buffer_utilization",
			Help: "Current number of delivery attempts waiting in the log buffer.",
		}),
	}
}
