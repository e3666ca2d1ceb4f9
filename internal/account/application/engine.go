package application

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wyfcoding/txengine/internal/account/domain"
	"github.com/wyfcoding/txengine/pkg/logger"
)

// Options 管道的通道容量
type Options struct {
	InputBuffer   int
	AccountBuffer int
	ResultBuffer  int
}

// DefaultOptions 与默认配置一致
func DefaultOptions() Options {
	return Options{InputBuffer: 100, AccountBuffer: 100, ResultBuffer: 100}
}

// Summary 一次运行的统计
type Summary struct {
	Accounts  int
	Snapshots int
	Duration  time.Duration
}

// Engine 组装 解析器 -> 路由器 -> 账户状态机 -> 收集器 -> 输出 管道
type Engine struct {
	opts     Options
	recorder Recorder
}

// NewEngine 创建处理引擎
func NewEngine(opts Options, recorder Recorder) *Engine {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Engine{opts: opts, recorder: recorder}
}

// Run 处理 source 的全部交易并把每个客户的最终快照写入 writer
// 任一阶段失败都会取消其余阶段，返回第一个错误
func (e *Engine) Run(ctx context.Context, source TransactionSource, writer SnapshotWriter) (Summary, error) {
	start := time.Now()

	input := make(chan domain.Transaction, e.opts.InputBuffer)
	results := make(chan domain.Snapshot, e.opts.ResultBuffer)
	router := NewRouter(results, e.opts.AccountBuffer, e.recorder)
	collector := NewCollector(writer, e.recorder)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(input)
		return source.Stream(gctx, input)
	})

	g.Go(func() error {
		defer close(results)
		return router.Run(gctx, input)
	})

	var written int
	g.Go(func() error {
		n, err := collector.Run(gctx, results)
		written = n
		return err
	})

	err := g.Wait()
	summary := Summary{
		Accounts:  router.Accounts(),
		Snapshots: written,
		Duration:  time.Since(start),
	}
	e.recorder.ObserveRun(summary.Duration)

	if err != nil {
		logger.Error(ctx, "pipeline failed", "error", err, "accounts", summary.Accounts)
		return summary, err
	}

	logger.Info(ctx, "pipeline finished",
		"accounts", summary.Accounts,
		"snapshots", summary.Snapshots,
		"duration", summary.Duration,
	)
	return summary, nil
}
