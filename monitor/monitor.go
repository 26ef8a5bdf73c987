package monitor

import (
	"context"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/aicamera/circle-detection-service/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Metrics owns a private registry so tests can build as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	circles       *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	poolInUse     prometheus.Gauge
	memUsage      prometheus.Gauge
	cpuUsage      prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "circledet_requests_total",
			Help: "Detection requests by route and outcome",
		}, []string{"route", "outcome"}),
		circles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "circledet_circles_total",
			Help: "Circles returned by class",
		}, []string{"class"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "circledet_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"stage"}),
		poolInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "circledet_pool_in_use",
			Help: "Detectors currently checked out of the pool",
		}),
		memUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "memory_usage_megabytes",
			Help: "Resident memory in megabytes",
		}),
		cpuUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cpu_usage_percent",
			Help: "CPU usage in percent",
		}),
	}
	m.registry.MustRegister(m.requests, m.circles, m.stageDuration, m.poolInUse, m.memUsage, m.cpuUsage)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveRequest(route, outcome string) {
	m.requests.WithLabelValues(route, outcome).Inc()
}

func (m *Metrics) ObserveCircles(circles []models.Circle) {
	for _, c := range circles {
		m.circles.WithLabelValues(c.ClassName).Inc()
	}
}

// ObserveTimings records the stages that ran; zero durations are skipped.
func (m *Metrics) ObserveTimings(t *models.ProcessingTimings) {
	if t == nil {
		return
	}
	stages := []struct {
		name string
		d    time.Duration
	}{
		{"decode", t.ImageDecode},
		{"letterbox", t.Letterbox},
		{"preprocess", t.Preprocess},
		{"inference", t.Inference},
		{"postprocess", t.Postprocess},
		{"suppression", t.Suppression},
		{"remap", t.Remap},
		{"total", t.Total},
	}
	for _, s := range stages {
		if s.d > 0 {
			m.stageDuration.WithLabelValues(s.name).Observe(s.d.Seconds())
		}
	}
}

func (m *Metrics) SetPoolInUse(n int) {
	m.poolInUse.Set(float64(n))
}

// StartProcessStats samples this process's RSS and CPU every interval until
// ctx is done.
func (m *Metrics) StartProcessStats(ctx context.Context, interval time.Duration, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		log.Warn("process stats unavailable", zap.Error(err))
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkProcessInfo(ctx, proc)
		}
	}
}

func (m *Metrics) checkProcessInfo(ctx context.Context, proc *process.Process) {
	if memInfo, err := proc.MemoryInfoWithContext(ctx); err == nil {
		m.memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	if cpuPercent, err := proc.CPUPercentWithContext(ctx); err == nil {
		m.cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}
