package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sendquill/sendquill/internal/api"
	"github.com/sendquill/sendquill/internal/app"
	"github.com/sendquill/sendquill/internal/config"
	"github.com/sendquill/sendquill/internal/pkg/logger"
	"github.com/sendquill/sendquill/internal/tracking"
	"github.com/sendquill/sendquill/internal/worker"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config.yaml")
	withScheduler := flag.Bool("scheduler", false, "also run the scheduled-campaign worker in this process")
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

	handlers := api.NewHandlers(api.Deps{
		Campaigns: a.Campaigns,
		Contacts:  a.Contacts,
		Templates: a.Templates,
		Sender:    a.Sender,
		Tokens:    a.AccessTokens(),
	})
	router := api.NewRouter(handlers, tracking.NewHandler(a.Events), cfg.Server.AllowedOrigins)
	server := api.NewServer(router)

	var sched *worker.Scheduler
	if *withScheduler {
		sched = worker.NewScheduler(a.Campaigns, a.Sender, a.AccessTokens(), worker.Config{
			Spec:      cfg.Scheduler.Spec,
			BatchSize: cfg.Scheduler.BatchSize,
		})
		if err := sched.Start(); err != nil {
			logger.Error("scheduler start failed", "error", err)
			os.Exit(1)
		}
	}

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := cfg.Server.Addr()
		logger.Info("starting server", "addr", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if sched != nil {
		sched.Stop()
	}
	logger.Info("server stopped")
}
