package config

import (
	"errors"
	"fmt"
	"net/http"
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
	AppEnv      string
	Port        string
	DatabaseURL string
	RedisURL    string
	AutoMigrate bool

	CurrencyCode           string
	CartTTL                time.Duration
	CartCookieName         string
	CookieDomain           string
	CookieSecure           bool
	CookieSameSite         http.SameSite
	CORSAllowedOrigins     []string
	TripCacheTTL           time.Duration
	PhaseInvalidateChannel string
	CatalogAdminToken      string

	BookingTokenSecret     string
	BookingTokenTTL        time.Duration
	BookingReferencePrefix string
	CheckoutLockTTL        time.Duration
	LockRetryBackoff       time.Duration
	IdempotencyTTL         time.Duration

	RateLimitGlobal           string
	RateLimitRewardsPerMinute int
	BodyLimitBytes            int64
	SecurityHeadersEnabled    bool
	CSRFEnabled               bool

	NotifyWebhookURL     string
	NotifyWebhookSecret  string
	NotifyWebhookTimeout time.Duration
	NotifyReplayTTL      time.Duration
	NotifyQueue          string
	NotifyMaxRetry       int
	WorkerConcurrency    int
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:      valueOrDefault(k.String("APP_ENV"), "development"),
		Port:        valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL: k.String("DATABASE_URL"),
		RedisURL:    k.String("REDIS_URL"),
		AutoMigrate: parseBool(k.String("DB_AUTO_MIGRATE")),

		CurrencyCode:           strings.ToUpper(valueOrDefault(k.String("CURRENCY_CODE"), "USD")),
		CartTTL:                parseDuration(k.String("CART_TTL"), "168h"),
		CartCookieName:         valueOrDefault(k.String("CART_COOKIE_NAME"), "trip_cart"),
		CookieDomain:           strings.TrimSpace(k.String("COOKIE_DOMAIN")),
		CookieSecure:           parseBool(k.String("COOKIE_SECURE")),
		CookieSameSite:         parseSameSite(k.String("COOKIE_SAMESITE")),
		CORSAllowedOrigins:     splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		TripCacheTTL:           parseDuration(k.String("TRIP_CACHE_TTL"), "10m"),
		PhaseInvalidateChannel: valueOrDefault(k.String("REWARD_PHASE_INVALIDATION_CHANNEL"), "reward_phases:invalidate"),
		CatalogAdminToken:      strings.TrimSpace(k.String("CATALOG_ADMIN_TOKEN")),

		BookingTokenSecret:     k.String("BOOKING_TOKEN_SECRET"),
		BookingTokenTTL:        parseDuration(k.String("BOOKING_TOKEN_TTL"), "72h"),
		BookingReferencePrefix: strings.ToUpper(valueOrDefault(k.String("BOOKING_REFERENCE_PREFIX"), "SKY")),
		CheckoutLockTTL:        parseDuration(k.String("CHECKOUT_LOCK_TTL"), "30s"),
		LockRetryBackoff:       parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
		IdempotencyTTL:         parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		RateLimitGlobal:           valueOrDefault(k.String("RATE_LIMIT_GLOBAL"), "600-M"),
		RateLimitRewardsPerMinute: parseInt(k.String("RATE_LIMIT_REWARDS_PER_MINUTE"), 30),
		BodyLimitBytes:            int64(parseInt(k.String("BODY_LIMIT_BYTES"), 1<<20)),
		SecurityHeadersEnabled:    parseBoolDefault(k.String("SECURITY_HEADERS_ENABLED"), true),
		CSRFEnabled:               parseBool(k.String("CSRF_ENABLED")),

		NotifyWebhookURL:     strings.TrimSpace(k.String("NOTIFY_WEBHOOK_URL")),
		NotifyWebhookSecret:  k.String("NOTIFY_WEBHOOK_SECRET"),
		NotifyWebhookTimeout: parseDuration(k.String("NOTIFY_WEBHOOK_TIMEOUT"), "5s"),
		NotifyReplayTTL:      parseDuration(k.String("NOTIFY_REPLAY_TTL"), "24h"),
		NotifyQueue:          valueOrDefault(k.String("NOTIFY_QUEUE"), "notifications"),
		NotifyMaxRetry:       parseInt(k.String("NOTIFY_MAX_RETRY"), 6),
		WorkerConcurrency:    parseInt(k.String("WORKER_CONCURRENCY"), 5),
	}

	if cfg.CookieSameSite == http.SameSiteDefaultMode {
		cfg.CookieSameSite = http.SameSiteLaxMode
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.BookingTokenSecret == "" {
		return nil, errors.New("BOOKING_TOKEN_SECRET is required")
	}
	if cfg.NotifyWebhookURL != "" && cfg.NotifyWebhookSecret == "" {
		return nil, errors.New("NOTIFY_WEBHOOK_SECRET is required when NOTIFY_WEBHOOK_URL is set")
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

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseSameSite(value string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "lax":
		return http.SameSiteLaxMode
	default:
		return http.SameSiteDefaultMode
	}
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
