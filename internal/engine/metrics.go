package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: полное время пробы (включая платежный ретрай)
	ProbeDuration *prometheus.HistogramVec

	// Traffic: пробы по исходам
	ProbesTotal *prometheus.CounterVec

	// Spend: потрачено USDC за платные пробы
	SpendTotal prometheus.Counter

	// Платежные попытки по результату (paid, over_ceiling, proof_failed)
	PaymentsTotal *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker леджер-клиента (0 - ок, 1 - выбило)
	LedgerBreakerState prometheus.Gauge

	// Компиляции отчетов по результату (compiled, skipped, failed)
	ReportCompiles *prometheus.CounterVec

	// Выпущенные документы по типу и действию (issued, refreshed)
	CredentialsTotal *prometheus.CounterVec

	// Пробы, пропущенные из-за паузы агента оператором
	SuppressedSkips prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern — если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		ProbeDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auditor_probe_duration_seconds",
			Help:    "Histogram of probe latencies.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		}, []string{"category", "outcome"}),

		ProbesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "auditor_probes_total",
			Help: "Total number of probes by outcome.",
		}, []string{"outcome"}), // исходы: success, failed, paid, over_ceiling

		SpendTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "auditor_spend_usdc_total",
			Help: "Total USDC spent on paid probes.",
		}),

		PaymentsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "auditor_payments_total",
			Help: "Payment attempts by result.",
		}, []string{"result"}),

		LedgerBreakerState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "auditor_ledger_breaker_state",
			Help: "Current state of the ledger signer circuit breaker (0=closed, 1=open).",
		}),

		ReportCompiles: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "auditor_report_compiles_total",
			Help: "Daily report compilations by result.",
		}, []string{"result"}),

		CredentialsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "auditor_credentials_total",
			Help: "Credentials issued or refreshed by type.",
		}, []string{"type", "action"}),

		SuppressedSkips: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "auditor_suppressed_skips_total",
			Help: "Probes skipped because the agent is suppressed by an operator.",
		}),
	}
}
