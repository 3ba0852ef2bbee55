package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/Mekazstan/paygate/internal/cache"
	"github.com/Mekazstan/paygate/internal/config"
	"github.com/Mekazstan/paygate/internal/email"
	"github.com/Mekazstan/paygate/internal/events"
	"github.com/Mekazstan/paygate/internal/metrics"
	"github.com/Mekazstan/paygate/internal/payment"
	"github.com/Mekazstan/paygate/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// App holds the collaborators shared by the API server and the scheduler.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Store    store.TransactionStore
	Cache    cache.Store
	Metrics  *metrics.Metrics
	Events   *events.Dispatcher
	Payments *payment.Manager

	closers []func()
}

// NewLogger returns a JSON production logger, or a console logger with
// ISO8601 timestamps in development.
func NewLogger(env config.Environment) (*zap.Logger, error) {
	if env != config.Development {
		return zap.NewProduction()
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(os.Stdout), zapcore.DebugLevel)
	return zap.New(core, zap.AddCaller()), nil
}

// New connects the stores and builds the payment manager. Without
// DATABASE_URL or REDIS_URL it falls back to in-memory implementations.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
		Events:  events.NewDispatcher(logger),
	}

	if err := a.connectStore(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.connectCache(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.subscribeListeners(); err != nil {
		a.Close(ctx)
		return nil, err
	}

	factory := payment.NewDriverFactory(payment.Dependencies{
		Client: &http.Client{Timeout: 30 * time.Second},
		Logger: logger,
	})

	a.Payments = payment.NewManager(cfg.Payments.ManagerConfig(), payment.ManagerDeps{
		Factory:  factory,
		Store:    a.Store,
		Cache:    a.Cache,
		Logger:   logger,
		Recorder: a.Metrics,
	})

	logger.Info("payment manager ready",
		zap.String("default_provider", a.Payments.DefaultProvider()),
		zap.Strings("providers", a.Payments.EnabledProviders()))

	return a, nil
}

func (a *App) connectStore(ctx context.Context) error {
	if a.Config.DatabaseURL == "" {
		a.Logger.Warn("DATABASE_URL not set, transactions are kept in memory")
		a.Store = store.NewMemoryStore()
		return nil
	}

	pool, err := pgxpool.New(ctx, a.Config.DatabaseURL)
	if err != nil {
		return fmt.Errorf("unable to connect to database: %w", err)
	}
	a.closers = append(a.closers, pool.Close)

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("unable to ping database: %w", err)
	}

	pg := store.NewPostgresStore(pool)
	if err := pg.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate transactions table: %w", err)
	}
	a.Store = pg

	a.Logger.Info("connected to database")
	return nil
}

func (a *App) connectCache(ctx context.Context) error {
	if a.Config.RedisURL == "" {
		a.Logger.Warn("REDIS_URL not set, using in-process cache")
		a.Cache = cache.NewMemoryCache()
		return nil
	}

	rc, err := cache.NewRedisCacheFromURL(ctx, a.Config.RedisURL, "paygate")
	if err != nil {
		return fmt.Errorf("unable to connect to redis: %w", err)
	}
	a.closers = append(a.closers, func() { _ = rc.Close() })
	a.Cache = rc

	a.Logger.Info("connected to redis")
	return nil
}

func (a *App) subscribeListeners() error {
	a.Events.Subscribe(events.AnyEvent, events.NewLogListener(a.Logger))

	if len(a.Config.KafkaBrokers) > 0 {
		publisher := events.NewKafkaPublisher(a.Config.KafkaBrokers, a.Config.KafkaEventsTopic)
		a.Events.Subscribe(events.WebhookReceived, publisher)
		a.closers = append(a.closers, func() {
			if err := publisher.Close(); err != nil {
				a.Logger.Warn("failed to close kafka writer", zap.Error(err))
			}
		})
		a.Logger.Info("publishing payment events to kafka",
			zap.Strings("brokers", a.Config.KafkaBrokers),
			zap.String("topic", a.Config.KafkaEventsTopic))
	}

	if a.Config.SMTPEnabled() {
		mailer, err := email.NewEmailService(email.Options{
			SMTPHost:     a.Config.SMTPHost,
			SMTPPort:     a.Config.SMTPPort,
			SMTPUsername: a.Config.SMTPUsername,
			SMTPPassword: a.Config.SMTPPassword,
			FromEmail:    a.Config.FromEmail,
			FromName:     a.Config.FromName,
			AppURL:       a.Config.AppURL,
		})
		if err != nil {
			return err
		}
		a.Events.Subscribe(events.WebhookReceived, email.NewReceiptListener(mailer, a.Store, a.Cache, a.Logger))
	}
	return nil
}

// Close drains pending event deliveries and releases connections.
func (a *App) Close(ctx context.Context) {
	if err := a.Events.Wait(ctx); err != nil {
		a.Logger.Warn("event listeners did not finish", zap.Error(err))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
