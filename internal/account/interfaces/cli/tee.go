package cli

import (
	"context"
	"errors"

	"github.com/wyfcoding/txengine/internal/account/application"
	"github.com/wyfcoding/txengine/internal/account/domain"
)

// teeWriter 把同一快照依次写入多个输出
type teeWriter struct {
	writers []application.SnapshotWriter
}

func newTeeWriter(writers ...application.SnapshotWriter) *teeWriter {
	return &teeWriter{writers: writers}
}

func (t *teeWriter) Write(ctx context.Context, snap domain.Snapshot) error {
	for _, w := range t.writers {
		if err := w.Write(ctx, snap); err != nil {
			return err
		}
	}
	return nil
}

// Flush 刷新全部输出，合并所有错误
func (t *teeWriter) Flush() error {
	var errs []error
	for _, w := range t.writers {
		if err := w.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
