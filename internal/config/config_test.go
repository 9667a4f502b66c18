package config_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/trip-rewards/internal/config"
)

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL":         "postgres://localhost/trips",
		"REDIS_URL":            "redis://localhost:6379/0",
		"BOOKING_TOKEN_SECRET": "secret",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(baseEnv())
	require.NoError(t, err)
	require.Equal(t, "USD", cfg.CurrencyCode)
	require.Equal(t, 168*time.Hour, cfg.CartTTL)
	require.Equal(t, "trip_cart", cfg.CartCookieName)
	require.Equal(t, 72*time.Hour, cfg.BookingTokenTTL)
	require.Equal(t, "SKY", cfg.BookingReferencePrefix)
	require.Equal(t, "reward_phases:invalidate", cfg.PhaseInvalidateChannel)
	require.Equal(t, "600-M", cfg.RateLimitGlobal)
	require.Equal(t, 30, cfg.RateLimitRewardsPerMinute)
	require.Equal(t, int64(1<<20), cfg.BodyLimitBytes)
	require.True(t, cfg.SecurityHeadersEnabled)
	require.False(t, cfg.AutoMigrate)
	require.Equal(t, http.SameSiteLaxMode, cfg.CookieSameSite)
	require.Equal(t, ":8080", cfg.HTTPAddr())
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["CURRENCY_CODE"] = "eur"
	env["CART_TTL"] = "2h"
	env["SECURITY_HEADERS_ENABLED"] = "false"
	env["DB_AUTO_MIGRATE"] = "true"
	env["CORS_ALLOWED_ORIGINS"] = "https://a.example, https://b.example"
	env["COOKIE_SAMESITE"] = "strict"
	env["WORKER_CONCURRENCY"] = "nope"
	env["PORT"] = ":9000"

	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, "EUR", cfg.CurrencyCode)
	require.Equal(t, 2*time.Hour, cfg.CartTTL)
	require.False(t, cfg.SecurityHeadersEnabled)
	require.True(t, cfg.AutoMigrate)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	require.Equal(t, http.SameSiteStrictMode, cfg.CookieSameSite)
	require.Equal(t, 5, cfg.WorkerConcurrency)
	require.Equal(t, ":9000", cfg.HTTPAddr())
}

func TestLoadRequiresSecrets(t *testing.T) {
	for _, key := range []string{"DATABASE_URL", "REDIS_URL", "BOOKING_TOKEN_SECRET"} {
		env := baseEnv()
		env[key] = ""
		_, err := config.LoadForTests(env)
		require.Error(t, err, key)
	}

	env := baseEnv()
	env["NOTIFY_WEBHOOK_URL"] = "https://notifier.example.com/hook"
	_, err := config.LoadForTests(env)
	require.ErrorContains(t, err, "NOTIFY_WEBHOOK_SECRET")
}
