package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector 指标收集器
type Collector struct {
	generationsTotal   *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	retryAttemptsTotal *prometheus.CounterVec
	pollAttemptsTotal  *prometheus.CounterVec
	errorsTotal        *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器。reg 为 nil 时使用默认注册表。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	return &Collector{
		generationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generations_total",
				Help:      "Total number of generation calls by provider and final status",
			},
			[]string{"provider", "status"},
		),
		generationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "End-to-end generation duration in seconds",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 90, 120},
			},
			[]string{"provider"},
		),
		retryAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retried generation attempts",
			},
			[]string{"provider"},
		),
		pollAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_attempts_total",
				Help:      "Total number of async task poll attempts",
			},
			[]string{"provider"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of classified errors by code",
			},
			[]string{"code"},
		),
		logger: logger.With(zap.String("component", "metrics")),
	}
}

// RecordGeneration 记录一次生成调用的结果与耗时。
func (c *Collector) RecordGeneration(provider, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.generationsTotal.WithLabelValues(provider, status).Inc()
	c.generationDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordRetry 记录一次重试。
func (c *Collector) RecordRetry(provider string) {
	if c == nil {
		return
	}
	c.retryAttemptsTotal.WithLabelValues(provider).Inc()
}

// RecordPoll 记录一次任务轮询。
func (c *Collector) RecordPoll(provider string) {
	if c == nil {
		return
	}
	c.pollAttemptsTotal.WithLabelValues(provider).Inc()
}

// RecordError 记录一个分类错误。
func (c *Collector) RecordError(code string) {
	if c == nil {
		return
	}
	c.errorsTotal.WithLabelValues(code).Inc()
}
