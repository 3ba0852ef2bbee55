package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mekazstan/paygate/internal/app"
	"github.com/Mekazstan/paygate/internal/config"
	"github.com/Mekazstan/paygate/internal/ratelimit"
	"github.com/Mekazstan/paygate/internal/webhook"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := app.NewLogger(cfg.Environment)
	if err != nil {
		log.Fatalf("Unable to build logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}

	api := &apiConfig{
		payments: a.Payments,
		limiter:  ratelimit.New(a.Cache, cfg.RateLimit, time.Minute, logger),
		metrics:  a.Metrics,
		webhooks: webhook.NewController(a.Payments, a.Events, a.Metrics, logger, webhook.Config{
			VerifySignatures: cfg.Payments.VerifyWebhookSignatures,
			MaxBodyBytes:     maxRequestBodyBytes,
		}),
		logger:    logger,
		jwtSecret: cfg.JWTSecret,
	}

	if !cfg.Payments.VerifyWebhookSignatures {
		logger.Warn("webhook signature verification is disabled")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.routes(),
		WriteTimeout: time.Second * 90,
		ReadTimeout:  time.Second * 10,
		IdleTimeout:  time.Minute,
	}

	shutdown := make(chan error)
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		logger.Info("signal caught", zap.String("signal", s.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := srv.Shutdown(ctx)
		a.Close(ctx)
		shutdown <- err
	}()

	logger.Info("server has started",
		zap.String("addr", srv.Addr),
		zap.String("env", string(cfg.Environment)))

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
	}

	if err := <-shutdown; err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		return
	}

	logger.Info("server has stopped", zap.String("addr", srv.Addr))
}
