package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/codebuildervaibhav/meetcap/internal/cli"
	"github.com/codebuildervaibhav/meetcap/internal/config"
)

func main() {
	if err := run(); err != nil {
		formatter := cli.NewFormatter(os.Stderr)
		formatter.Error(err.Error())
		os.Exit(1)
	}
}

func run() error {
	path := os.Getenv("MEETCAP_CONFIG")
	if path == "" {
		path = "config/config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := &cli.Dependencies{
		Config: cfg,
		Server: "http://" + cfg.Addr(),
	}
	return cli.NewRootCmd(deps).ExecuteContext(ctx)
}
