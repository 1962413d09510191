package monitor

import (
	"context"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Metrics is the analyzer's Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	inferences       *prometheus.CounterVec
	inferenceSeconds prometheus.Histogram
	rejected         *prometheus.CounterVec
	modelState       *prometheus.GaugeVec
	modelLoadSeconds prometheus.Gauge
	memUsage         prometheus.Gauge
	cpuUsage         prometheus.Gauge
}

var modelStates = []string{"loading", "ready", "failed"}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		inferences: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analyzer_inferences_total",
			Help: "Image analyses by outcome",
		}, []string{"outcome"}),
		inferenceSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "analyzer_inference_duration_seconds",
			Help:    "Time from decode to prediction",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analyzer_uploads_rejected_total",
			Help: "Uploads turned away before inference, by reason",
		}, []string{"reason"}),
		modelState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "analyzer_model_state",
			Help: "1 for the current model loading state",
		}, []string{"state"}),
		modelLoadSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "analyzer_model_load_seconds",
			Help: "Time taken to fetch and deserialize the model",
		}),
		memUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "memory_usage_Megabytes",
			Help: "Memory usage in Megabytes",
		}),
		cpuUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cpu_usage_percent",
			Help: "CPU usage in percent",
		}),
	}
	m.registry.MustRegister(m.inferences, m.inferenceSeconds, m.rejected,
		m.modelState, m.modelLoadSeconds, m.memUsage, m.cpuUsage)
	m.SetModelState("loading")
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveInference(outcome string, elapsed time.Duration) {
	m.inferences.WithLabelValues(outcome).Inc()
	m.inferenceSeconds.Observe(elapsed.Seconds())
}

func (m *Metrics) Rejected(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetModelState(state string) {
	for _, s := range modelStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.modelState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) ObserveModelLoad(elapsed time.Duration) {
	m.modelLoadSeconds.Set(elapsed.Seconds())
}

// SampleProcess updates the memory and CPU gauges every interval until ctx is done.
func (m *Metrics) SampleProcess(ctx context.Context, interval time.Duration, logger *zap.Logger) {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		logger.Warn("process metrics unavailable", zap.Error(err))
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample(ctx, proc)
		}
	}
}

func (m *Metrics) sample(ctx context.Context, proc *process.Process) {
	if mem, err := proc.MemoryInfoWithContext(ctx); err == nil {
		m.memUsage.Set(float64(mem.RSS / 1024 / 1024))
	}
	if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
		m.cpuUsage.Set(math.Round(cpu*100) / 100)
	}
}
