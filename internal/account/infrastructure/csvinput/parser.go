// Package csvinput 逐行读取交易 CSV（type, client, tx, amount），
// 格式错误的行记录日志后跳过，不影响后续处理
package csvinput

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/txengine/internal/account/domain"
	"github.com/wyfcoding/txengine/pkg/logger"
)

// ErrMissingColumn 表头缺少必需的列
var ErrMissingColumn = errors.New("missing required column")

// Excel 等工具导出的 CSV 常带 BOM
const utf8BOM = "\ufeff"

// RowError 单行解析失败
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// RowRecorder 行级指标
type RowRecorder interface {
	RowParsed()
	RowSkipped()
}

type nopRecorder struct{}

func (nopRecorder) RowParsed()  {}
func (nopRecorder) RowSkipped() {}

type columns struct {
	kind, client, tx, amount int
}

// Parser 交易 CSV 解析器，实现 application.TransactionSource
type Parser struct {
	r        io.Reader
	closer   io.Closer
	recorder RowRecorder
}

// Open 打开输入文件。文件无法打开属于致命错误
func Open(path string, recorder RowRecorder) (*Parser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input %q: %w", path, err)
	}
	p := NewParser(f, recorder)
	p.closer = f
	return p, nil
}

// NewParser 基于任意 reader 创建解析器
func NewParser(r io.Reader, recorder RowRecorder) *Parser {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Parser{r: r, recorder: recorder}
}

// Close 关闭底层文件
func (p *Parser) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}

// Stream 按文件顺序把合法交易写入 out
func (p *Parser) Stream(ctx context.Context, out chan<- domain.Transaction) error {
	reader := csv.NewReader(p.r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	var parseErr *csv.ParseError
	if err != nil && !errors.As(err, &parseErr) {
		return fmt.Errorf("failed to read header: %w", err)
	}
	if err == nil {
		var cols columns
		if cols, err = parseHeader(header); err == nil {
			return p.stream(ctx, reader, cols, out)
		}
	}

	// 表头不可用：没有任何行能被解释，全部跳过，仍输出空报表
	logger.Warn(ctx, "unusable header, skipping all rows", "error", err)
	return p.skipRemaining(ctx, reader, err)
}

func (p *Parser) stream(ctx context.Context, reader *csv.Reader, cols columns, out chan<- domain.Transaction) error {
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				return fmt.Errorf("failed to read input: %w", err)
			}
			p.skip(ctx, &RowError{Line: parseErr.StartLine, Err: parseErr.Err})
			continue
		}

		line, _ := reader.FieldPos(0)
		msg, err := cols.parse(record)
		if err != nil {
			p.skip(ctx, &RowError{Line: line, Err: err})
			continue
		}
		p.recorder.RowParsed()

		select {
		case out <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Parser) skipRemaining(ctx context.Context, reader *csv.Reader, cause error) error {
	for {
		_, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		var line int
		if err != nil {
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				return fmt.Errorf("failed to read input: %w", err)
			}
			line = parseErr.StartLine
		} else {
			line, _ = reader.FieldPos(0)
		}
		p.skip(ctx, &RowError{Line: line, Err: cause})
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (p *Parser) skip(ctx context.Context, err *RowError) {
	p.recorder.RowSkipped()
	logger.Warn(ctx, "skipping malformed row", "line", err.Line, "error", err.Err)
}

func parseHeader(header []string) (columns, error) {
	cols := columns{kind: -1, client: -1, tx: -1, amount: -1}
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, utf8BOM)
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "type":
			cols.kind = i
		case "client":
			cols.client = i
		case "tx":
			cols.tx = i
		case "amount":
			cols.amount = i
		}
	}
	required := []struct {
		name string
		idx  int
	}{{"type", cols.kind}, {"client", cols.client}, {"tx", cols.tx}}
	for _, col := range required {
		if col.idx < 0 {
			return cols, fmt.Errorf("%w: %s", ErrMissingColumn, col.name)
		}
	}
	return cols, nil
}

func (c columns) parse(record []string) (domain.Transaction, error) {
	kind, err := domain.ParseKind(field(record, c.kind))
	if err != nil {
		return domain.Transaction{}, err
	}

	client, err := strconv.ParseUint(field(record, c.client), 10, 16)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("invalid client: %w", err)
	}

	tx, err := strconv.ParseUint(field(record, c.tx), 10, 32)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("invalid tx: %w", err)
	}

	var amount decimal.NullDecimal
	if raw := field(record, c.amount); raw != "" {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return domain.Transaction{}, fmt.Errorf("invalid amount: %w", err)
		}
		amount = decimal.NewNullDecimal(d)
	}

	return domain.NewTransaction(kind, domain.ClientID(client), domain.TxID(tx), amount)
}

// field 返回去除空白的字段，列缺失时返回空串
func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
