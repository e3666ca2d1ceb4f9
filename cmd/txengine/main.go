package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/wyfcoding/txengine/internal/account/interfaces/cli"
	"github.com/wyfcoding/txengine/pkg/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	configPath := config.DefaultPath
	if p := os.Getenv("TXENGINE_CONFIG"); p != "" {
		configPath = p
	}

	app := &cli.App{
		ConfigPath: configPath,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
	}
	code := app.Run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
