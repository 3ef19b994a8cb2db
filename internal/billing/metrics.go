package billing

// Metrics receives lifecycle counters. internal/metrics provides the
// Prometheus implementation.
type Metrics interface {
	IncAcknowledgeAttempt(outcome string)
	IncAcknowledgeResult(result string)
	IncPurchasesUpdated(code string)
	IncPurchasesPublished(productType string)
	SetConnectionState(state string)
}

type nopMetrics struct{}

func (nopMetrics) IncAcknowledgeAttempt(string) {}
func (nopMetrics) IncAcknowledgeResult(string)  {}
func (nopMetrics) IncPurchasesUpdated(string)   {}
func (nopMetrics) IncPurchasesPublished(string) {}
func (nopMetrics) SetConnectionState(string)    {}
