package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sendquill/sendquill/internal/app"
	"github.com/sendquill/sendquill/internal/config"
	"github.com/sendquill/sendquill/internal/pkg/logger"
	"github.com/sendquill/sendquill/internal/worker"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config.yaml")
	once := flag.Bool("once", false, "run a single scheduler pass and exit")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("load config failed", "error", err)
		os.Exit(1)
	}
	app.SetupLogging(cfg.Log)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	sched := worker.NewScheduler(a.Campaigns, a.Sender, a.AccessTokens(), worker.Config{
		Spec:      cfg.Scheduler.Spec,
		BatchSize: cfg.Scheduler.BatchSize,
	})

	if *once {
		n := sched.Tick(ctx)
		logger.Info("scheduler pass complete", "started", n)
		return
	}

	if err := sched.Start(); err != nil {
		logger.Error("scheduler start failed", "error", err)
		os.Exit(1)
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done

	logger.Info("shutting down worker")
	sched.Stop()
	logger.Info("worker stopped")
}
