package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Dhoini/purchase-lifecycle/pkg/logger"
)

// SystemMetrics метрики процесса: горутины, память, аптайм
type SystemMetrics struct {
	log          *logger.Logger
	startedAt    time.Time
	goroutines   prometheus.Gauge
	memoryAlloc  prometheus.Gauge
	memorySystem prometheus.Gauge
	gcRuns       prometheus.Counter
	uptime       prometheus.Gauge
	lastNumGC    uint32
}

// NewSystemMetrics создает системные метрики
func NewSystemMetrics(registry *prometheus.Registry, log *logger.Logger) *SystemMetrics {
	factory := promauto.With(registry)

	return &SystemMetrics{
		log:       log,
		startedAt: time.Now(),
		goroutines: factory.NewGauge(prometheus.GaugeOpts{
			Name: "system_goroutines",
			Help: "Current number of goroutines",
		}),
		memoryAlloc: factory.NewGauge(prometheus.GaugeOpts{
			Name: "system_memory_alloc_bytes",
			Help: "Currently allocated memory in bytes",
		}),
		memorySystem: factory.NewGauge(prometheus.GaugeOpts{
			Name: "system_memory_system_bytes",
			Help: "Total memory obtained from system in bytes",
		}),
		gcRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "system_gc_runs_total",
			Help: "Total number of garbage collections",
		}),
		uptime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "system_uptime_seconds",
			Help: "Seconds since the service started",
		}),
	}
}

// Record снимает текущие значения
func (m *SystemMetrics) Record() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.memoryAlloc.Set(float64(memStats.Alloc))
	m.memorySystem.Set(float64(memStats.Sys))
	// NumGC монотонен, в счетчик добавляем только прирост
	if memStats.NumGC > m.lastNumGC {
		m.gcRuns.Add(float64(memStats.NumGC - m.lastNumGC))
		m.lastNumGC = memStats.NumGC
	}
	m.uptime.Set(time.Since(m.startedAt).Seconds())
}

// Run записывает метрики с заданным интервалом до отмены ctx
func (m *SystemMetrics) Run(ctx context.Context, interval time.Duration) {
	m.log.Info("System metrics recording started with interval %s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.Record()
	for {
		select {
		case <-ticker.C:
			m.Record()
		case <-ctx.Done():
			m.log.Info("System metrics recording stopped")
			return
		}
	}
}
