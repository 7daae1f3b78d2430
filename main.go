package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"simtrade-core/internal/app"
	"simtrade-core/pkg/config"
	"simtrade-core/pkg/i18n"
	"simtrade-core/pkg/logger"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf(i18n.Get("ConfigLoadFailed"), err)
	}
	i18n.SetLanguage(i18n.Language(cfg.Language))

	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, app.Options{Config: cfg, Logger: zl})
	if err != nil {
		zl.Fatal("❌ startup failed", zap.Error(err))
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Shutdown(context.Background())
		zl.Fatal("❌ engine start failed", zap.Error(err))
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- a.ListenAndServe(":" + cfg.Port)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		zl.Info("📴 signal received", zap.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			zl.Error(fmt.Sprintf(i18n.Get("APIServerError"), err))
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer stop()
	cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		zl.Error("❌ shutdown incomplete", zap.Error(err))
	}
}
