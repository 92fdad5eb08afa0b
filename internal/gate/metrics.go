package gate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько времени заняла операция (включая verifier и протокол)
	OperationDuration *prometheus.HistogramVec

	// Traffic: общее кол-во операций
	OperationsTotal *prometheus.CounterVec

	// Errors: классификация отказов гейта
	RejectionsTotal *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker внешних вызовов (0 - ок, 1 - выбило)
	BreakerState *prometheus.GaugeVec

	// Сколько доказательств сожжено леджером
	ProofsConsumed prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern: если регистр не передан, используем локальный
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		OperationDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gate_operation_duration_seconds",
			Help:    "Histogram of gated operation latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"operation", "status"}),

		OperationsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gate_operations_total",
			Help: "Total number of processed operations.",
		}, []string{"agent", "operation"}),

		RejectionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gate_rejections_total",
			Help: "Total number of rejections by kind.",
		}, []string{"kind"}), // kinds: invalid_proof, proof_expired, exceeds_daily_limit...

		BreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "gate_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=open).",
		}, []string{"target"}),

		ProofsConsumed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "gate_proofs_consumed_total",
			Help: "Total number of spending proofs consumed.",
		}),
	}
}
