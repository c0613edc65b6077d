// Package metrics 暴露信号引擎的 Prometheus 指标。
// 使用独立 Registry，便于测试与多实例共存。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"book-signal-engine/internal/core/model"
)

// Collector 引擎指标集合
type Collector struct {
	registry *prometheus.Registry

	// Batches 批量计算次数（按操作、实际模式）
	Batches *prometheus.CounterVec
	// Fallbacks 加速路径回退次数（按操作）
	Fallbacks *prometheus.CounterVec
	// Rejected 被拒绝的批次（按操作、原因）
	Rejected *prometheus.CounterVec
	// Snapshots 处理的快照总数（按操作）
	Snapshots *prometheus.CounterVec
	// BatchSeconds 批量计算耗时分布
	BatchSeconds *prometheus.HistogramVec
	// BackendMode 当前后端模式（0 未初始化 / 1 并行 / 2 加速）
	BackendMode prometheus.Gauge
}

// NewCollector 创建并注册全部指标
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		Batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "booksig_batches_total", Help: "Batches computed"},
			[]string{"op", "mode"},
		),
		Fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "booksig_fallbacks_total", Help: "Accelerated path failures recovered on the parallel path"},
			[]string{"op"},
		),
		Rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "booksig_rejected_batches_total", Help: "Batches rejected before computation"},
			[]string{"op", "reason"},
		),
		Snapshots: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "booksig_snapshots_total", Help: "Snapshots processed"},
			[]string{"op"},
		),
		BatchSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "booksig_batch_seconds",
				Help:    "Wall-clock batch latency",
				Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
			[]string{"op"},
		),
		BackendMode: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "booksig_backend_mode", Help: "0=uninitialized 1=cpu_parallel 2=hardware_accelerated"},
		),
	}
	c.registry.MustRegister(c.Batches, c.Fallbacks, c.Rejected, c.Snapshots, c.BatchSeconds, c.BackendMode)
	return c
}

// ObserveBatch 记录一次完成的批量计算
func (c *Collector) ObserveBatch(op string, mode model.BackendMode, fellBack bool, n int, d time.Duration) {
	if c == nil {
		return
	}
	c.Batches.WithLabelValues(op, mode.String()).Inc()
	c.Snapshots.WithLabelValues(op).Add(float64(n))
	c.BatchSeconds.WithLabelValues(op).Observe(d.Seconds())
	if fellBack {
		c.Fallbacks.WithLabelValues(op).Inc()
	}
}

// ObserveRejected 记录一次被拒绝的批次
func (c *Collector) ObserveRejected(op, reason string) {
	if c == nil {
		return
	}
	c.Rejected.WithLabelValues(op, reason).Inc()
}

// SetMode 更新后端模式
func (c *Collector) SetMode(mode model.BackendMode) {
	if c == nil {
		return
	}
	c.BackendMode.Set(float64(mode))
}

// Handler 返回 /metrics 处理器
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve 在 addr 上启动 /metrics 服务
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
