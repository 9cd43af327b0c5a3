package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/zeromicro/go-zero/core/logx"

	"perpexec/internal/cli"
	"perpexec/internal/config"
	"perpexec/internal/svc"
)

var (
	configFile = flag.String("f", "etc/trader.yaml", "the config file")
	once       = flag.Bool("once", false, "run a single iteration and exit")
)

func main() {
	flag.Parse()

	cfg := config.MustLoad(*configFile)
	cfg.MustSetUp()
	defer logx.Close()
	cli.LogConfigSummary(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svcCtx, err := svc.NewServiceContext(*cfg)
	logx.Must(err)
	engine, err := svcCtx.BuildEngine(ctx)
	logx.Must(err)

	if *once {
		err = engine.RunOnce(ctx)
	} else {
		err = engine.Run(ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logx.Errorf("trader stopped: %v", err)
		logx.Close()
		os.Exit(1)
	}
	logx.Info("trader stopped")
}
