package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 汇总一次运行的 Prometheus 指标。nil 接收者上的方法均为空操作。
type Metrics struct {
	Registry *prometheus.Registry

	RegistryRequests *prometheus.CounterVec
	RegistryLatency  prometheus.Histogram
	CacheHits        prometheus.Counter
	OrdersEvaluated  prometheus.Counter
	ControlFailures  *prometheus.CounterVec
	APIErrors        prometheus.Counter
	ChunkFailures    prometheus.Counter
}

// New 在独立的 Registry 上创建并注册全部指标。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		RegistryRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "controls_registry_requests_total",
			Help: "Outbound registry requests by outcome",
		}, []string{"outcome"}),
		RegistryLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "controls_registry_request_duration_seconds",
			Help:    "Latency of outbound registry requests",
			Buckets: prometheus.DefBuckets,
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "controls_registry_cache_hits_total",
			Help: "Registry lookups served from the run cache",
		}),
		OrdersEvaluated: factory.NewCounter(prometheus.CounterOpts{
			Name: "controls_orders_evaluated_total",
			Help: "Orders walked through the control chain",
		}),
		ControlFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "controls_control_failures_total",
			Help: "Orders whose first failed control is the labelled one",
		}, []string{"control"}),
		APIErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "controls_api_errors_total",
			Help: "Orders left unevaluated because the registry was unreachable",
		}),
		ChunkFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "controls_batch_chunk_failures_total",
			Help: "Batch chunks that aborted and fell back to transport errors",
		}),
	}
}

// ObserveRegistryRequest 记录一次外部请求。
func (m *Metrics) ObserveRegistryRequest(outcome string, latency time.Duration) {
	if m == nil {
		return
	}
	m.RegistryRequests.WithLabelValues(outcome).Inc()
	m.RegistryLatency.Observe(latency.Seconds())
}

// IncrementCacheHits 记录缓存命中。
func (m *Metrics) IncrementCacheHits() {
	if m == nil {
		return
	}
	m.CacheHits.Inc()
}

// IncrementOrdersEvaluated 记录已评估订单。
func (m *Metrics) IncrementOrdersEvaluated() {
	if m == nil {
		return
	}
	m.OrdersEvaluated.Inc()
}

// IncrementControlFailures 记录首个失败的控制。
func (m *Metrics) IncrementControlFailures(control int) {
	if m == nil {
		return
	}
	m.ControlFailures.WithLabelValues(strconv.Itoa(control)).Inc()
}

// IncrementAPIErrors 记录因登记册不可达而中止的订单。
func (m *Metrics) IncrementAPIErrors() {
	if m == nil {
		return
	}
	m.APIErrors.Inc()
}

// IncrementChunkFailures 记录失败的批次。
func (m *Metrics) IncrementChunkFailures() {
	if m == nil {
		return
	}
	m.ChunkFailures.Inc()
}
