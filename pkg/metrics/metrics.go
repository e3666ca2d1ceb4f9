// Package metrics 提供 Prometheus helper，包含交易处理管道的 counter/gauge/histogram
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wyfcoding/txengine/pkg/logger"
)

// Metrics 指标集合
type Metrics struct {
	// 解析成功的行数
	RowsParsed prometheus.Counter
	// 解析失败被跳过的行数
	RowsSkipped prometheus.Counter

	// 按类型统计已生效的交易
	TransactionsApplied *prometheus.CounterVec
	// 按类型和原因统计被拒绝的交易
	TransactionsRejected *prometheus.CounterVec

	// 运行中的账户状态机数量
	AccountsActive prometheus.Gauge
	// 已输出的账户快照
	SnapshotsWritten prometheus.Counter
	// 整个管道的运行耗时
	RunDuration prometheus.Histogram
}

// New 创建指标实例
// serviceName 作为 subsystem，非法字符替换为下划线（txengine-batch -> txengine_batch）
func New(serviceName string) *Metrics {
	subsystem := metricName(serviceName)
	return &Metrics{
		RowsParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txengine",
			Subsystem: subsystem,
			Name:      "rows_parsed_total",
			Help:      "Total input rows parsed into transactions",
		}),
		RowsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txengine",
			Subsystem: subsystem,
			Name:      "rows_skipped_total",
			Help:      "Total malformed input rows skipped",
		}),
		TransactionsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txengine",
			Subsystem: subsystem,
			Name:      "transactions_applied_total",
			Help:      "Transactions applied to an account",
		}, []string{"kind"}),
		TransactionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txengine",
			Subsystem: subsystem,
			Name:      "transactions_rejected_total",
			Help:      "Transactions consumed without effect",
		}, []string{"kind", "reason"}),
		AccountsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "txengine",
			Subsystem: subsystem,
			Name:      "accounts_active",
			Help:      "Number of running account state machines",
		}),
		SnapshotsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txengine",
			Subsystem: subsystem,
			Name:      "snapshots_written_total",
			Help:      "Final account snapshots handed to the writer",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "txengine",
			Subsystem: subsystem,
			Name:      "run_duration_seconds",
			Help:      "Pipeline run duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func metricName(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, s)
}

// Register 注册所有指标
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.RowsParsed,
		m.RowsSkipped,
		m.TransactionsApplied,
		m.TransactionsRejected,
		m.AccountsActive,
		m.SnapshotsWritten,
		m.RunDuration,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			logger.Error(context.Background(), "Failed to register metric", "error", err)
			return err
		}
	}

	logger.Debug(context.Background(), "Metrics registered successfully")
	return nil
}

// StartHTTPServer 启动 Prometheus HTTP 服务器，ctx 结束时关闭
func StartHTTPServer(ctx context.Context, reg prometheus.Gatherer, port int, path string) {
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info(ctx, "Starting Prometheus HTTP server", "addr", srv.Addr, "path", path)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "Failed to start Prometheus HTTP server", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
}

// Collector 指标收集器，实现 application.Recorder
type Collector struct {
	metrics *Metrics
}

// NewCollector 创建指标收集器
func NewCollector(metrics *Metrics) *Collector {
	return &Collector{metrics: metrics}
}

// RowParsed 记录解析成功的行
func (c *Collector) RowParsed() {
	c.metrics.RowsParsed.Inc()
}

// RowSkipped 记录被跳过的行
func (c *Collector) RowSkipped() {
	c.metrics.RowsSkipped.Inc()
}

// TransactionApplied 记录已生效的交易
func (c *Collector) TransactionApplied(kind string) {
	c.metrics.TransactionsApplied.WithLabelValues(kind).Inc()
}

// TransactionRejected 记录被拒绝的交易
func (c *Collector) TransactionRejected(kind, reason string) {
	c.metrics.TransactionsRejected.WithLabelValues(kind, reason).Inc()
}

// AccountStarted 账户状态机启动
func (c *Collector) AccountStarted() {
	c.metrics.AccountsActive.Inc()
}

// AccountStopped 账户状态机退出
func (c *Collector) AccountStopped() {
	c.metrics.AccountsActive.Dec()
}

// SnapshotWritten 记录已输出的快照
func (c *Collector) SnapshotWritten() {
	c.metrics.SnapshotsWritten.Inc()
}

// ObserveRun 记录一次完整运行的耗时
func (c *Collector) ObserveRun(d time.Duration) {
	c.metrics.RunDuration.Observe(d.Seconds())
}
