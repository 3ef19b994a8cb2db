package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var connectionStates = []string{"disconnected", "connecting", "ready"}

// BillingMetrics счетчики жизненного цикла покупок. Реализует billing.Metrics.
type BillingMetrics struct {
	ackAttempts      *prometheus.CounterVec
	ackResults       *prometheus.CounterVec
	purchasesUpdated *prometheus.CounterVec
	published        *prometheus.CounterVec
	connection       *prometheus.GaugeVec
	eventsPublished  *prometheus.CounterVec
}

// NewBillingMetrics регистрирует метрики в registry
func NewBillingMetrics(registry *prometheus.Registry) *BillingMetrics {
	factory := promauto.With(registry)

	return &BillingMetrics{
		ackAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_acknowledge_attempts_total",
				Help: "Acknowledgement trials by classified outcome",
			},
			[]string{"outcome"},
		),
		ackResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_acknowledge_results_total",
				Help: "Acknowledgement calls by final result",
			},
			[]string{"result"},
		),
		purchasesUpdated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_purchases_updated_total",
				Help: "Purchase update callbacks by response code",
			},
			[]string{"code"},
		),
		published: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_purchase_lists_published_total",
				Help: "Purchase list publications by product type",
			},
			[]string{"type"},
		),
		connection: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "billing_connection_state",
				Help: "1 for the current billing connection state, 0 otherwise",
			},
			[]string{"state"},
		),
		eventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_events_published_total",
				Help: "Purchase events sent to Kafka by topic and status",
			},
			[]string{"topic", "status"},
		),
	}
}

func (m *BillingMetrics) IncAcknowledgeAttempt(outcome string) {
	m.ackAttempts.WithLabelValues(outcome).Inc()
}

func (m *BillingMetrics) IncAcknowledgeResult(result string) {
	m.ackResults.WithLabelValues(result).Inc()
}

func (m *BillingMetrics) IncPurchasesUpdated(code string) {
	m.purchasesUpdated.WithLabelValues(code).Inc()
}

func (m *BillingMetrics) IncPurchasesPublished(productType string) {
	m.published.WithLabelValues(productType).Inc()
}

// SetConnectionState выставляет 1 для текущего состояния и 0 для остальных
func (m *BillingMetrics) SetConnectionState(state string) {
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.connection.WithLabelValues(s).Set(v)
	}
}

// IncEventPublished учитывает отправку события в Kafka
func (m *BillingMetrics) IncEventPublished(topic string, ok bool) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.eventsPublished.WithLabelValues(topic, status).Inc()
}
