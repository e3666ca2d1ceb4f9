// Package cli 命令行入口：读取交易 CSV，把每个客户的最终余额输出到标准输出
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wyfcoding/txengine/internal/account/application"
	"github.com/wyfcoding/txengine/internal/account/infrastructure/csvinput"
	"github.com/wyfcoding/txengine/internal/account/infrastructure/csvoutput"
	"github.com/wyfcoding/txengine/internal/account/infrastructure/messaging"
	"github.com/wyfcoding/txengine/pkg/config"
	"github.com/wyfcoding/txengine/pkg/logger"
	"github.com/wyfcoding/txengine/pkg/metrics"
	"github.com/wyfcoding/txengine/pkg/mq"
)

// 退出码
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

// App 命令行应用
type App struct {
	ConfigPath string
	Stdout     io.Writer
	Stderr     io.Writer
	// NewProducer 为空时使用 mq.NewProducer
	NewProducer func(mq.KafkaConfig) messaging.Producer
}

// Run 执行一次完整处理，args 为去掉程序名后的参数
func (a *App) Run(ctx context.Context, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(a.Stderr, "usage: txengine <transactions.csv>")
		return ExitUsage
	}

	// 1. 初始化配置
	cfg, err := config.LoadWithDefaults(a.ConfigPath)
	if err != nil {
		fmt.Fprintf(a.Stderr, "failed to load config: %v\n", err)
		return ExitError
	}

	// 2. 初始化日志
	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	}); err != nil {
		fmt.Fprintf(a.Stderr, "failed to init logger: %v\n", err)
		return ExitError
	}

	runID := uuid.NewString()
	ctx, cancel := context.WithCancel(logger.WithRunID(ctx, runID))
	defer cancel()

	// 3. 初始化指标
	m := metrics.New(cfg.ServiceName)
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		logger.Error(ctx, "failed to register metrics", "error", err)
		return ExitError
	}
	if cfg.Metrics.Enabled {
		metrics.StartHTTPServer(ctx, reg, cfg.Metrics.Port, cfg.Metrics.Path)
	}
	recorder := metrics.NewCollector(m)

	// 4. 打开输入
	parser, err := csvinput.Open(args[0], recorder)
	if err != nil {
		logger.Error(ctx, "failed to open input", "path", args[0], "error", err)
		fmt.Fprintln(a.Stderr, err)
		return ExitError
	}
	defer parser.Close()

	// 5. 组装输出
	writers := []application.SnapshotWriter{csvoutput.NewWriter(a.Stdout)}
	if cfg.Kafka.Enabled {
		producer := a.newProducer(mq.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			MaxRetries:   cfg.Kafka.MaxRetries,
			RetryBackoff: cfg.Kafka.RetryBackoff,
		})
		// 无论管道成功与否都要关闭
		defer func() {
			if err := producer.Close(); err != nil {
				logger.Error(ctx, "failed to close kafka producer", "error", err)
			}
		}()
		writers = append(writers, messaging.NewSnapshotPublisher(producer, cfg.Kafka.Topic, runID))
	}

	// 6. 运行管道
	engine := application.NewEngine(application.Options{
		InputBuffer:   cfg.Engine.InputBuffer,
		AccountBuffer: cfg.Engine.AccountBuffer,
		ResultBuffer:  cfg.Engine.ResultBuffer,
	}, recorder)

	logger.Info(ctx, "processing transactions", "path", args[0], "service", cfg.ServiceName)
	if _, err := engine.Run(ctx, parser, newTeeWriter(writers...)); err != nil {
		fmt.Fprintln(a.Stderr, err)
		return ExitError
	}
	return ExitOK
}

func (a *App) newProducer(cfg mq.KafkaConfig) messaging.Producer {
	if a.NewProducer != nil {
		return a.NewProducer(cfg)
	}
	return mq.NewProducer(cfg)
}
