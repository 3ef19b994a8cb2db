package billing

import (
	"context"
	"sync"
	"time"
)

// fakeClock records requested sleeps and returns immediately.
type fakeClock struct {
	mu     sync.Mutex
	sleeps []time.Duration
	// block makes Sleep wait for ctx instead of returning.
	block bool
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	block := c.block
	c.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type recordingMetrics struct {
	mu        sync.Mutex
	published map[string]int
	results   map[string]int
	states    []string
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{published: map[string]int{}, results: map[string]int{}}
}

func (m *recordingMetrics) IncAcknowledgeAttempt(string) {}

func (m *recordingMetrics) IncAcknowledgeResult(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[result]++
}

func (m *recordingMetrics) IncPurchasesUpdated(string) {}

func (m *recordingMetrics) IncPurchasesPublished(productType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[productType]++
}

func (m *recordingMetrics) SetConnectionState(state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, state)
}

func (m *recordingMetrics) Published(productType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published[productType]
}

func (m *recordingMetrics) Result(result string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results[result]
}
