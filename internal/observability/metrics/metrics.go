package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CompletionMetrics 补全与工具调用指标
type CompletionMetrics struct {
	completionsTotal *prometheus.CounterVec
	toolCallsTotal   *prometheus.CounterVec
	tokensTotal      *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
}

func NewCompletionMetrics(reg prometheus.Registerer) *CompletionMetrics {
	m := &CompletionMetrics{
		completionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contabil",
			Subsystem: "agent",
			Name:      "completions_total",
			Help:      "Total completions by mode and outcome",
		}, []string{"mode", "outcome"}),
		toolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contabil",
			Subsystem: "agent",
			Name:      "tool_calls_total",
			Help:      "Total tool dispatches by tool name",
		}, []string{"tool"}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contabil",
			Subsystem: "agent",
			Name:      "tokens_total",
			Help:      "Tokens reported by the provider",
		}, []string{"kind"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "contabil",
			Subsystem: "agent",
			Name:      "provider_latency_seconds",
			Help:      "Latency of provider calls per phase",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.completionsTotal, m.toolCallsTotal, m.tokensTotal, m.providerLatency)
	return m
}

func (m *CompletionMetrics) ObserveCompletion(mode, outcome string) {
	if m == nil {
		return
	}
	m.completionsTotal.WithLabelValues(mode, outcome).Inc()
}

func (m *CompletionMetrics) ObserveToolCall(tool string) {
	if m == nil {
		return
	}
	m.toolCallsTotal.WithLabelValues(tool).Inc()
}

func (m *CompletionMetrics) ObserveTokens(prompt, completion int64) {
	if m == nil {
		return
	}
	m.tokensTotal.WithLabelValues("prompt").Add(float64(prompt))
	m.tokensTotal.WithLabelValues("completion").Add(float64(completion))
}

func (m *CompletionMetrics) ObserveProviderLatency(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerLatency.WithLabelValues(phase).Observe(d.Seconds())
}

// HTTPMetrics HTTP 请求指标
type HTTPMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contabil",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "contabil",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requestsTotal, m.requestDuration)
	return m
}

func (m *HTTPMetrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, route, statusClass(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
