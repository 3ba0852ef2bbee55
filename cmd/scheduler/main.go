package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mekazstan/paygate/internal/app"
	"github.com/Mekazstan/paygate/internal/config"
	"github.com/Mekazstan/paygate/internal/jobs"
	"github.com/robfig/cron/v3"
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

	cronLog := cronLogger{logger.Named("cron").Sugar()}
	c := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	// Job 1: re-verify transactions no webhook has settled.
	_, err = c.AddFunc(cfg.ReconcileSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		res, err := jobs.ReconcilePending(ctx, a.Payments, cfg.ReconcileOlderThan, cfg.ReconcileBatchSize, logger)
		if err != nil {
			logger.Error("reconciliation failed", zap.Error(err))
			return
		}
		logger.Info("reconciliation completed",
			zap.Int("checked", res.Checked),
			zap.Int("settled", res.Settled),
			zap.Int("pending", res.Pending),
			zap.Int("errors", res.Errors))
	})
	if err != nil {
		logger.Fatal("failed to schedule reconciliation job",
			zap.String("schedule", cfg.ReconcileSchedule), zap.Error(err))
	}

	// Job 2: keep the provider health cache warm.
	_, err = c.AddFunc("@every "+cfg.Payments.HealthCheckTTL.String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		jobs.WarmHealthCache(ctx, a.Payments, logger)
	})
	if err != nil {
		logger.Fatal("failed to schedule health job", zap.Error(err))
	}

	c.Start()
	logger.Info("cron scheduler started",
		zap.String("reconcile_schedule", cfg.ReconcileSchedule),
		zap.Duration("reconcile_older_than", cfg.ReconcileOlderThan),
		zap.Duration("health_interval", cfg.Payments.HealthCheckTTL))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down cron scheduler")

	stopCtx := c.Stop()
	<-stopCtx.Done()

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.Close(closeCtx)

	logger.Info("cron scheduler stopped")
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
