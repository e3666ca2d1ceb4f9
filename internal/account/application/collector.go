package application

import (
	"context"
	"fmt"

	"github.com/wyfcoding/txengine/internal/account/domain"
)

// Collector 收集各状态机的最终快照，按到达顺序交给 SnapshotWriter
type Collector struct {
	writer   SnapshotWriter
	recorder Recorder
}

// NewCollector 创建收集器
func NewCollector(writer SnapshotWriter, recorder Recorder) *Collector {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Collector{writer: writer, recorder: recorder}
}

// Run 消费 results 直到其关闭，返回写出的快照数
func (c *Collector) Run(ctx context.Context, results <-chan domain.Snapshot) (int, error) {
	written := 0
	for snap := range results {
		if err := c.writer.Write(ctx, snap); err != nil {
			return written, fmt.Errorf("failed to write snapshot for client %d: %w", snap.Client, err)
		}
		written++
		c.recorder.SnapshotWritten()
	}

	if err := c.writer.Flush(); err != nil {
		return written, fmt.Errorf("failed to flush snapshots: %w", err)
	}
	return written, nil
}
