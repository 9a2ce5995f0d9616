package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	MetricsBuckets   string
	TracingEndpoint  string
	TracingExporter  string
	TracingSampling  float64

	BaseCurrency         string
	DefaultCommissionBps int64
	ProcessorFeeBps      int64
	LocalTaxBps          int64
	TaxTable             map[string]int64
	FreeShippingOver     string

	GatewayTimeout    time.Duration
	RateLookupTimeout time.Duration
	TransferTimeout   time.Duration
	ReconcileAfter    time.Duration
	SchedulerInterval time.Duration
	SchedulerLockTTL  time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		LogFormat:        valueOrDefault(k.String("LOG_FORMAT"), "json"),
		LogLevel:         valueOrDefault(k.String("LOG_LEVEL"), "info"),
		MetricsNamespace: valueOrDefault(k.String("METRICS_NAMESPACE"), "pasar"),
		MetricsBuckets:   k.String("METRICS_BUCKETS_MS"),
		TracingEndpoint:  k.String("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TracingExporter:  valueOrDefault(k.String("OTEL_TRACES_EXPORTER"), "none"),
		TracingSampling:  parseFloat(k.String("OTEL_TRACES_SAMPLER_ARG"), 1.0),

		BaseCurrency:         valueOrDefault(k.String("BASE_CURRENCY"), "USD"),
		DefaultCommissionBps: parseInt64(k.String("DEFAULT_COMMISSION_BPS"), 500),
		ProcessorFeeBps:      parseInt64(k.String("PROCESSOR_FEE_BPS"), 290),
		LocalTaxBps:          parseInt64(k.String("LOCAL_TAX_BPS"), 0),
		TaxTable:             parseTaxTable(k.String("TAX_TABLE")),
		FreeShippingOver:     k.String("FREE_SHIPPING_OVER"),

		GatewayTimeout:    parseDuration(k.String("GATEWAY_TIMEOUT"), "5s"),
		RateLookupTimeout: parseDuration(k.String("RATE_LOOKUP_TIMEOUT"), "3s"),
		TransferTimeout:   parseDuration(k.String("TRANSFER_TIMEOUT"), "30s"),
		ReconcileAfter:    parseDuration(k.String("RECONCILE_AFTER"), "15m"),
		SchedulerInterval: parseDuration(k.String("SCHEDULER_INTERVAL"), "1m"),
		SchedulerLockTTL:  parseDuration(k.String("SCHEDULER_LOCK_TTL"), "10m"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.DefaultCommissionBps < 0 || cfg.DefaultCommissionBps > 10000 {
		return nil, errors.New("DEFAULT_COMMISSION_BPS must be between 0 and 10000")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseTaxTable reads "CA=600,NY=885" into jurisdiction basis points.
func parseTaxTable(value string) map[string]int64 {
	entries := splitAndTrim(value)
	if len(entries) == 0 {
		return nil
	}
	table := make(map[string]int64, len(entries))
	for _, entry := range entries {
		code, bps, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(bps), 10, 64)
		if err != nil {
			continue
		}
		table[strings.ToUpper(strings.TrimSpace(code))] = n
	}
	return table
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt64(value string, fallback int64) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
