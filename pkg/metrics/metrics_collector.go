package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector 指标收集器
type MetricsCollector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 支付指标
	callbacksTotal     *prometheus.CounterVec
	callbackDuration   *prometheus.HistogramVec
	initiationsTotal   *prometheus.CounterVec
	discrepanciesTotal *prometheus.CounterVec
	orderTransitions   *prometheus.CounterVec
	guardBlocksTotal   *prometheus.CounterVec
	workerTasksTotal   *prometheus.CounterVec
	dbConnectionsInUse prometheus.Gauge
	dbConnectionsIdle  prometheus.Gauge
}

// NewMetricsCollector 在指定 Registerer 上创建指标收集器
func NewMetricsCollector(reg prometheus.Registerer) *MetricsCollector {
	f := promauto.With(reg)
	return &MetricsCollector{
		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		callbacksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_callbacks_total",
				Help: "Inbound payment callbacks by gateway and reconciliation result",
			},
			[]string{"gateway", "result"},
		),
		callbackDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_callback_duration_seconds",
				Help:    "Time spent reconciling a payment callback",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"gateway"},
		),
		initiationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_initiations_total",
				Help: "Payment initiations by gateway and result",
			},
			[]string{"gateway", "result"},
		),
		discrepanciesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_discrepancies_total",
				Help: "Payments finalized with a discrepancy that needs manual review",
			},
			[]string{"kind"},
		),
		orderTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_status_transitions_total",
				Help: "Order status transitions by target status",
			},
			[]string{"to"},
		),
		guardBlocksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guard_blocked_total",
				Help: "Requests rejected by the lockout guard",
			},
			[]string{"scope"},
		),
		workerTasksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worker_tasks_total",
				Help: "Async side-effect tasks by kind and result",
			},
			[]string{"kind", "result"},
		),
		dbConnectionsInUse: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_connections_in_use",
				Help: "Number of in-use database connections",
			},
		),
		dbConnectionsIdle: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *MetricsCollector) RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordCallback 记录回调处理结果
func (m *MetricsCollector) RecordCallback(gateway, result string, duration time.Duration) {
	m.callbacksTotal.WithLabelValues(gateway, result).Inc()
	m.callbackDuration.WithLabelValues(gateway).Observe(duration.Seconds())
}

// RecordInitiation 记录支付发起结果
func (m *MetricsCollector) RecordInitiation(gateway, result string) {
	m.initiationsTotal.WithLabelValues(gateway, result).Inc()
}

// RecordDiscrepancy 记录对账差异
func (m *MetricsCollector) RecordDiscrepancy(kind string) {
	m.discrepanciesTotal.WithLabelValues(kind).Inc()
}

// RecordOrderTransition 记录订单状态流转
func (m *MetricsCollector) RecordOrderTransition(to string) {
	m.orderTransitions.WithLabelValues(to).Inc()
}

// RecordGuardBlock 记录被锁定拦截的请求
func (m *MetricsCollector) RecordGuardBlock(scope string) {
	m.guardBlocksTotal.WithLabelValues(scope).Inc()
}

// RecordWorkerTask 记录异步任务执行结果
func (m *MetricsCollector) RecordWorkerTask(kind, result string) {
	m.workerTasksTotal.WithLabelValues(kind, result).Inc()
}

// UpdateDBConnections 更新数据库连接数
func (m *MetricsCollector) UpdateDBConnections(inUse, idle int) {
	m.dbConnectionsInUse.Set(float64(inUse))
	m.dbConnectionsIdle.Set(float64(idle))
}

var (
	globalCollector *MetricsCollector
	initOnce        sync.Once
)

// GetGlobalCollector 获取全局指标收集器，注册到默认 Registerer
func GetGlobalCollector() *MetricsCollector {
	initOnce.Do(func() {
		globalCollector = NewMetricsCollector(prometheus.DefaultRegisterer)
	})
	return globalCollector
}
