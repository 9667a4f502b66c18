package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/trip-rewards/internal/config"
	"github.com/noah-isme/trip-rewards/internal/notify"
	"github.com/noah-isme/trip-rewards/internal/obs"
	"github.com/noah-isme/trip-rewards/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Str("env", cfg.AppEnv).Logger()

	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "trip"), nil)
	if envBool("OBS_ENABLE_TRACING", true) {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName: "trip-rewards-worker",
			Endpoint:    envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:    envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			Environment: cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	breaker := resilience.NewBreaker(
		envInt("NOTIFY_BREAKER_MIN_REQUESTS", 5),
		envFloat("NOTIFY_BREAKER_FAILURE_RATIO", 0.5),
		envDurationMillis("NOTIFY_BREAKER_OPEN_MS", 30000),
	)
	outbound := resilience.NewHTTPClient(
		notify.HttpClient(int(cfg.NotifyWebhookTimeout/time.Millisecond), false),
		breaker, "notifier", &logger,
	)
	outbound.MaxAttempts = envInt("NOTIFY_HTTP_ATTEMPTS", 3)
	outbound.BaseBackoff = 200 * time.Millisecond
	outbound.Jitter = 0.2

	handler := &notify.Handler{
		Sender: &notify.Sender{
			URL:       cfg.NotifyWebhookURL,
			Secret:    cfg.NotifyWebhookSecret,
			HTTP:      outbound,
			Replay:    notify.RedisReplayProtector{Client: redisClient},
			ReplayTTL: cfg.NotifyReplayTTL,
		},
		Logger: &logger,
	}
	if cfg.NotifyWebhookURL == "" {
		logger.Warn().Msg("NOTIFY_WEBHOOK_URL not set, booking notifications will be dropped")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url for queue")
	}
	queueName := cfg.NotifyQueue
	if queueName == "" {
		queueName = notify.DefaultQueue
	}
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues:      map[string]int{queueName: 1},
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return resilience.Backoff(2*time.Second, n+1, 0.2)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Error().Err(err).Str("task", task.Type()).Int("retry", retried).Int("max_retry", maxRetry).Msg("task failed")
		}),
		Logger:          queueLogger{l: logger},
		ShutdownTimeout: envDurationMillis("WORKER_SHUTDOWN_TIMEOUT_MS", 10000),
	})

	mux := asynq.NewServeMux()
	handler.Register(mux)

	metricsSrv := startMetrics(envOrDefault("WORKER_METRICS_ADDR", ":9091"), logger)

	logger.Info().Str("queue", queueName).Int("concurrency", cfg.WorkerConcurrency).Msg("worker starting")
	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}
	<-ctx.Done()
	srv.Shutdown()

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	logger.Info().Msg("worker shutdown complete")
}

func startMetrics(addr string, logger zerolog.Logger) *http.Server {
	if addr == "" || addr == "off" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	return srv
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

// queueLogger routes asynq's internal logging through zerolog.
type queueLogger struct {
	l zerolog.Logger
}

func (q queueLogger) Debug(args ...any) { q.l.Debug().Msg(fmt.Sprint(args...)) }
func (q queueLogger) Info(args ...any)  { q.l.Info().Msg(fmt.Sprint(args...)) }
func (q queueLogger) Warn(args ...any)  { q.l.Warn().Msg(fmt.Sprint(args...)) }
func (q queueLogger) Error(args ...any) { q.l.Error().Msg(fmt.Sprint(args...)) }
func (q queueLogger) Fatal(args ...any) { q.l.Fatal().Msg(fmt.Sprint(args...)) }

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		if trimmed := strings.TrimSpace(val); trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}
