package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fraudguard/pkg/models"
)

const namespace = "fraudguard"

// Collector Prometheus 指标，使用独立注册表避免全局状态
type Collector struct {
	registry *prometheus.Registry

	disputeEvents     *prometheus.CounterVec
	disputesResolved  *prometheus.CounterVec
	analysesTotal     *prometheus.CounterVec
	fraudScore        prometheus.Histogram
	oracleCalls       *prometheus.CounterVec
	oracleLatency     prometheus.Histogram
	feedbackTotal     *prometheus.CounterVec
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// NewCollector 创建并注册全部指标
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		disputeEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispute_events_total",
				Help:      "Total number of committed dispute events",
			},
			[]string{"type"},
		),
		disputesResolved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "disputes_resolved_total",
				Help:      "Total number of resolved disputes by resolution",
			},
			[]string{"resolution"},
		),
		analysesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "analyses_total",
				Help:      "Total number of fraud analyses by source and verdict",
			},
			[]string{"source", "verdict"},
		),
		fraudScore: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fraud_score",
				Help:      "Distribution of fraud scores",
				Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			},
		),
		oracleCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "oracle_calls_total",
				Help:      "Total number of scoring service calls by outcome",
			},
			[]string{"outcome"},
		),
		oracleLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "oracle_call_duration_seconds",
				Help:      "Scoring service call latency",
				Buckets:   prometheus.DefBuckets,
			},
		),
		feedbackTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feedback_total",
				Help:      "Total number of analysis feedback submissions",
			},
			[]string{"correct"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Registry 返回指标注册表
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler 返回 /metrics 处理器
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// HandleDisputeEvent 记录争议事件
func (c *Collector) HandleDisputeEvent(ctx context.Context, d *models.Dispute, ev models.DisputeEvent) {
	c.disputeEvents.WithLabelValues(string(ev.Type)).Inc()
	if ev.Type == models.EventResolved && d.Resolution != nil {
		c.disputesResolved.WithLabelValues(string(*d.Resolution)).Inc()
	}
}

// HandleAnalysis 记录分析结果
func (c *Collector) HandleAnalysis(ctx context.Context, tx *models.Transaction, result *models.AIAnalysisResult) {
	c.analysesTotal.WithLabelValues(string(result.Source), string(result.Verdict)).Inc()
	c.fraudScore.Observe(float64(result.FraudScore))
}

// HandleFeedback 记录反馈
func (c *Collector) HandleFeedback(ctx context.Context, fb *models.Feedback) {
	c.feedbackTotal.WithLabelValues(strconv.FormatBool(fb.IsCorrect)).Inc()
}

// ObserveOracleCall 记录评分服务调用
func (c *Collector) ObserveOracleCall(outcome string, elapsed time.Duration) {
	c.oracleCalls.WithLabelValues(outcome).Inc()
	c.oracleLatency.Observe(elapsed.Seconds())
}

// GinMiddleware HTTP 请求指标中间件
func (c *Collector) GinMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		c.httpRequestsTotal.WithLabelValues(ctx.Request.Method, route, strconv.Itoa(ctx.Writer.Status())).Inc()
		c.httpDuration.WithLabelValues(ctx.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
