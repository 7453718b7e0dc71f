package worker

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "liveavatar_agent"

// 任务结束状态
const (
	jobStatusSucceeded = "succeeded"
	jobStatusFailed    = "failed"
	jobStatusRejected  = "rejected"
)

// Metrics worker 指标
type Metrics struct {
	JobsTotal     *prometheus.CounterVec
	JobsActive    prometheus.Gauge
	WebhookEvents *prometheus.CounterVec
	JobDuration   prometheus.Histogram
}

// NewMetrics 创建并注册指标，reg 为 nil 时不注册
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_total",
			Help:      "Total number of agent jobs by final status",
		}, []string{"status"}),
		JobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_active",
			Help:      "Number of agent jobs currently running",
		}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "webhook_events_total",
			Help:      "Total number of LiveKit webhook events received by event type",
		}, []string{"event"}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of agent jobs from dispatch to shutdown",
			Buckets:   []float64{1, 10, 30, 60, 300, 900, 1800, 3600},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.JobsTotal, m.JobsActive, m.WebhookEvents, m.JobDuration)
	}
	return m
}
