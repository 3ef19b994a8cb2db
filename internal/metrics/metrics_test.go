package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/Dhoini/purchase-lifecycle/internal/billing"
	"github.com/Dhoini/purchase-lifecycle/pkg/logger"
)

var _ billing.Metrics = (*BillingMetrics)(nil)

func TestBillingMetrics_ConnectionStateIsExclusive(t *testing.T) {
	m := NewBillingMetrics(prometheus.NewRegistry())

	m.SetConnectionState("connecting")
	m.SetConnectionState("ready")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.connection.WithLabelValues("ready")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.connection.WithLabelValues("connecting")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.connection.WithLabelValues("disconnected")))
}

func TestBillingMetrics_Counters(t *testing.T) {
	m := NewBillingMetrics(prometheus.NewRegistry())

	m.IncAcknowledgeAttempt("recoverable")
	m.IncAcknowledgeAttempt("recoverable")
	m.IncAcknowledgeResult("success")
	m.IncPurchasesPublished("subs")
	m.IncEventPublished("purchases.updated", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ackAttempts.WithLabelValues("recoverable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ackResults.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.published.WithLabelValues("subs")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsPublished.WithLabelValues("purchases.updated", "failed")))
}

func TestSystemMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSystemMetrics(reg, logger.NewNop())
	m.Record()

	assert.Greater(t, testutil.ToFloat64(m.goroutines), 0.0)
	assert.Greater(t, testutil.ToFloat64(m.memorySystem), 0.0)

	count, err := testutil.GatherAndCount(reg)
	assert.NoError(t, err)
	assert.Equal(t, 5, count)
}
