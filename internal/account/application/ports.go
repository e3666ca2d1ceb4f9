package application

import (
	"context"
	"time"

	"github.com/wyfcoding/txengine/internal/account/domain"
)

// TransactionSource 交易输入（解析器）
type TransactionSource interface {
	// Stream 按输入顺序把交易写入 out，输入耗尽时返回 nil。不负责关闭 out
	Stream(ctx context.Context, out chan<- domain.Transaction) error
}

// SnapshotWriter 快照输出（报表渲染器）
type SnapshotWriter interface {
	Write(ctx context.Context, snap domain.Snapshot) error
	Flush() error
}

// Recorder 管道指标，由 pkg/metrics.Collector 实现
type Recorder interface {
	TransactionApplied(kind string)
	TransactionRejected(kind, reason string)
	AccountStarted()
	AccountStopped()
	SnapshotWritten()
	ObserveRun(d time.Duration)
}

// NopRecorder 不记录任何指标
type NopRecorder struct{}

func (NopRecorder) TransactionApplied(string)          {}
func (NopRecorder) TransactionRejected(string, string) {}
func (NopRecorder) AccountStarted()                    {}
func (NopRecorder) AccountStopped()                    {}
func (NopRecorder) SnapshotWritten()                   {}
func (NopRecorder) ObserveRun(time.Duration)           {}
