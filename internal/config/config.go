package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Mekazstan/paygate/internal/payment"
	"github.com/joho/godotenv"
)

type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

type Config struct {
	Environment Environment
	Port        string
	AppURL      string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	FromEmail    string
	FromName     string

	RateLimit int

	KafkaBrokers     []string
	KafkaEventsTopic string

	ReconcileSchedule  string
	ReconcileOlderThan time.Duration
	ReconcileBatchSize int

	Payments PaymentsConfig
}

type PaymentsConfig struct {
	DefaultProvider         string
	FallbackProvider        string
	Providers               map[string]payment.DriverConfig
	HealthCheckTTL          time.Duration
	SessionTTL              time.Duration
	VerifyWebhookSignatures bool
}

// credentialKeys lists the credential names read for each driver. A
// provider NAME reads NAME_<KEY> for each key of its driver.
var credentialKeys = map[string][]string{
	"paystack":    {"secret_key"},
	"flutterwave": {"secret_key", "secret_hash"},
	"monnify":     {"api_key", "secret_key", "contract_code"},
	"stripe":      {"secret_key", "webhook_secret", "cancel_url"},
	"paypal":      {"client_id", "client_secret", "webhook_id", "cancel_url"},
	"mollie":      {"api_key", "webhook_url"},
	"square":      {"access_token", "location_id", "webhook_signature_key", "notification_url"},
	"nowpayments": {"api_key", "ipn_secret", "ipn_callback_url", "cancel_url", "email", "password"},
}

func Load() (*Config, error) {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if env != "production" {
		if err := godotenv.Load(); err != nil {
			// .env is optional.
			_ = godotenv.Load("../../.env")
		}
	}

	cfg := &Config{
		Environment: Environment(env),
		Port:        getEnv("PORT", "8080"),
		AppURL:      getEnv("APP_URL", "http://localhost:3000"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnv("SMTP_PORT", "587"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		FromEmail:    getEnv("FROM_EMAIL", "noreply@paygate.local"),
		FromName:     getEnv("FROM_NAME", "PayGate"),

		RateLimit: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 60),

		KafkaBrokers:     getEnvAsList("KAFKA_BROKERS", nil),
		KafkaEventsTopic: getEnv("KAFKA_EVENTS_TOPIC", "payment-events"),

		ReconcileSchedule:  getEnv("RECONCILE_SCHEDULE", "@every 10m"),
		ReconcileOlderThan: getEnvAsDuration("RECONCILE_OLDER_THAN", 15*time.Minute),
		ReconcileBatchSize: getEnvAsInt("RECONCILE_BATCH_SIZE", 100),

		Payments: loadPayments(),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadPayments() PaymentsConfig {
	pc := PaymentsConfig{
		DefaultProvider:         strings.ToLower(getEnv("PAYMENTS_DEFAULT_PROVIDER", "paystack")),
		FallbackProvider:        strings.ToLower(getEnv("PAYMENTS_FALLBACK_PROVIDER", "")),
		Providers:               make(map[string]payment.DriverConfig),
		HealthCheckTTL:          getEnvAsDuration("PAYMENTS_HEALTH_CHECK_TTL", 5*time.Minute),
		SessionTTL:              getEnvAsDuration("PAYMENTS_SESSION_TTL", time.Hour),
		VerifyWebhookSignatures: getEnvAsBool("PAYMENTS_VERIFY_WEBHOOK_SIGNATURES", true),
	}

	for _, name := range getEnvAsList("PAYMENTS_PROVIDERS", []string{pc.DefaultProvider}) {
		name = strings.ToLower(name)
		pc.Providers[name] = loadProvider(name)
	}
	return pc
}

func loadProvider(name string) payment.DriverConfig {
	prefix := strings.ToUpper(name) + "_"

	dc := payment.DriverConfig{
		Driver:      strings.ToLower(getEnv(prefix+"DRIVER", "")),
		BaseURL:     getEnv(prefix+"BASE_URL", ""),
		CallbackURL: getEnv(prefix+"CALLBACK_URL", ""),
		Currencies:  getEnvAsList(prefix+"CURRENCIES", nil),
		Credentials: make(map[string]string),
	}
	if os.Getenv(prefix+"ENABLED") != "" {
		enabled := getEnvAsBool(prefix+"ENABLED", true)
		dc.Enabled = &enabled
	}

	impl := dc.Driver
	if impl == "" {
		impl = name
	}
	for _, key := range credentialKeys[impl] {
		if v := getEnv(prefix+strings.ToUpper(key), ""); v != "" {
			dc.Credentials[key] = v
		}
	}
	return dc
}

// ManagerConfig converts the loaded settings for payment.NewManager.
func (p PaymentsConfig) ManagerConfig() payment.Config {
	return payment.Config{
		Default:        p.DefaultProvider,
		Fallback:       p.FallbackProvider,
		Providers:      p.Providers,
		HealthCheckTTL: p.HealthCheckTTL,
		SessionTTL:     p.SessionTTL,
	}
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.SMTPHost != "" || c.SMTPUsername != "" || c.SMTPPassword != "" {
		if c.SMTPHost == "" || c.SMTPUsername == "" || c.SMTPPassword == "" {
			return fmt.Errorf("incomplete SMTP configuration: all SMTP fields must be set")
		}
	}

	if c.Payments.DefaultProvider == "" {
		return fmt.Errorf("PAYMENTS_DEFAULT_PROVIDER is required")
	}
	if _, ok := c.Payments.Providers[c.Payments.DefaultProvider]; !ok {
		return fmt.Errorf("default provider %q is not listed in PAYMENTS_PROVIDERS", c.Payments.DefaultProvider)
	}
	if fb := c.Payments.FallbackProvider; fb != "" {
		if _, ok := c.Payments.Providers[fb]; !ok {
			return fmt.Errorf("fallback provider %q is not listed in PAYMENTS_PROVIDERS", fb)
		}
	}

	if c.RateLimit <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive")
	}

	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

func (c *Config) IsStaging() bool {
	return c.Environment == Staging
}

func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
