// Package csvoutput 将账户快照渲染为 CSV：client, available, held, total, locked
package csvoutput

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/wyfcoding/txengine/internal/account/domain"
)

var header = []string{"client", "available", "held", "total", "locked"}

// Writer 快照 CSV 渲染器，实现 application.SnapshotWriter
// 首次写入时输出表头；没有任何快照时也会在 Flush 时输出表头
type Writer struct {
	w           *csv.Writer
	wroteHeader bool
}

// NewWriter 创建渲染器
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: csv.NewWriter(w)}
}

// Write 输出一行快照，金额固定四位小数
func (w *Writer) Write(_ context.Context, snap domain.Snapshot) error {
	if err := w.writeHeader(); err != nil {
		return err
	}
	return w.w.Write([]string{
		strconv.FormatUint(uint64(snap.Client), 10),
		snap.Available.StringFixed(domain.AmountScale),
		snap.Held.StringFixed(domain.AmountScale),
		snap.Total.StringFixed(domain.AmountScale),
		strconv.FormatBool(snap.Locked),
	})
}

// Flush 刷新缓冲区
func (w *Writer) Flush() error {
	if err := w.writeHeader(); err != nil {
		return err
	}
	w.w.Flush()
	if err := w.w.Error(); err != nil {
		return fmt.Errorf("csv flush: %w", err)
	}
	return nil
}

func (w *Writer) writeHeader() error {
	if w.wroteHeader {
		return nil
	}
	w.wroteHeader = true
	return w.w.Write(header)
}
