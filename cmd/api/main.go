package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/trip-rewards/internal/cart"
	"github.com/noah-isme/trip-rewards/internal/catalog"
	"github.com/noah-isme/trip-rewards/internal/checkout"
	"github.com/noah-isme/trip-rewards/internal/common"
	"github.com/noah-isme/trip-rewards/internal/config"
	"github.com/noah-isme/trip-rewards/internal/db"
	"github.com/noah-isme/trip-rewards/internal/health"
	"github.com/noah-isme/trip-rewards/internal/lock"
	"github.com/noah-isme/trip-rewards/internal/notify"
	"github.com/noah-isme/trip-rewards/internal/obs"
	"github.com/noah-isme/trip-rewards/internal/ratelimit"
	"github.com/noah-isme/trip-rewards/internal/repo"
	"github.com/noah-isme/trip-rewards/internal/rewards"
	"github.com/noah-isme/trip-rewards/internal/security"
	"github.com/noah-isme/trip-rewards/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "trip")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "trip-rewards-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool := mustOpenPool(startCtx, cfg, logger)
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := db.Migrate(pool); err != nil {
			logger.Fatal().Err(err).Msg("apply migrations")
		}
		logger.Info().Msg("migrations applied")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(startCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	// Reward phases are cached per process and dropped on every pub/sub
	// invalidation so replicas agree after an admin edit.
	phaseCatalog := rewards.NewCatalog(repo.RewardPhaseRepo{DB: pool}, &logger)
	invalidator := rewards.Invalidator{
		Client:  redisClient,
		Channel: cfg.PhaseInvalidateChannel,
		Catalog: phaseCatalog,
		Logger:  &logger,
	}

	tripService, err := catalog.NewService(catalog.ServiceConfig{
		Store: repo.TripRepo{DB: pool},
		Cache: catalog.NewCache(redisClient, cfg.TripCacheTTL),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise trip catalog")
	}

	cartSvc, err := cart.NewService(cart.ServiceConfig{
		Store:  cart.NewRedisStore(redisClient, cfg.CartTTL),
		Phases: phaseCatalog,
		Trips:  tripService,
		Logger: &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise cart service")
	}

	queueClient := asynq.NewClientFromRedisClient(redisClient)
	checkoutSvc, err := checkout.NewService(checkout.Config{
		Carts:    cartSvc,
		Bookings: repo.BookingRepo{DB: pool},
		Lock:     lock.Locker{R: redisClient, RetryBackoff: cfg.LockRetryBackoff},
		Notifier: notify.Enqueuer{
			Client:   queueClient,
			Queue:    cfg.NotifyQueue,
			MaxRetry: cfg.NotifyMaxRetry,
		},
		Tokens:          checkout.TokenSigner{Secret: []byte(cfg.BookingTokenSecret), TTL: cfg.BookingTokenTTL},
		LockTTL:         cfg.CheckoutLockTTL,
		ReferencePrefix: cfg.BookingReferencePrefix,
		Logger:          &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise checkout service")
	}

	validate := common.NewValidator()
	idem := &common.Idem{
		R:     redisClient,
		TTL:   cfg.IdempotencyTTL,
		Scope: func(r *http.Request) string { return session.FromContext(r.Context()) },
	}
	checkoutHandler := &checkout.Handler{Svc: checkoutSvc, Idem: idem}
	rewardsHandler := &rewards.Handler{Catalog: phaseCatalog, Invalidator: invalidator, AdminToken: cfg.CatalogAdminToken}

	limiterStore, err := ratelimit.NewRedisStore(redisClient, "")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limit store")
	}
	globalLimit, err := ratelimit.NewGlobal(limiterStore, cfg.RateLimitGlobal, func(err error) {
		logger.Warn().Err(err).Msg("global rate limiter unavailable")
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise global rate limit")
	}
	rewardLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "ratelimit:rewards:"},
		Config: ratelimit.Config{
			Key:    ratelimit.BySession("reward"),
			Window: time.Minute,
			Max:    cfg.RateLimitRewardsPerMinute,
		},
		OnError: func(err error) {
			logger.Warn().Err(err).Msg("reward rate limiter unavailable")
		},
	}

	cartHandler := &cart.Handler{Svc: cartSvc, Validate: validate, RewardGuard: rewardLimit.Middleware}

	resolver := session.NewResolver(cfg.CartCookieName, cfg.CartTTL)
	resolver.Domain = cfg.CookieDomain
	resolver.Secure = cfg.CookieSecure
	resolver.SameSite = cfg.CookieSameSite

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRF-Token", session.DefaultHeaderName, common.IdempotencyHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(security.Headers{Enable: cfg.SecurityHeadersEnabled, EnableHSTS: cfg.CookieSecure, HSTSMaxAge: 31536000}.Middleware)

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:      health.Deps{DB: pool, Redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Post("/internal/reward-phases/invalidate", rewardsHandler.Invalidate)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(globalLimit)
		v.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)
		if cfg.CSRFEnabled {
			v.Use(security.CSRF{SessionHeader: session.DefaultHeaderName}.Middleware)
		}

		v.Get("/rewards/phases", rewardsHandler.List)
		v.Get("/bookings/confirmation", checkoutHandler.Confirmation)

		v.Group(func(s chi.Router) {
			s.Use(resolver.Middleware)
			s.Route("/cart", cartHandler.Routes)
			s.With(idem.Middleware).Post("/checkout", checkoutHandler.Checkout)
		})
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := invalidator.Listen(ctx); err != nil {
			logger.Error().Err(err).Msg("reward phase invalidation listener stopped")
		}
	}()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	}()

	<-ctx.Done()
	health.SetReady(false)
	logger.Info().Msg("shutting down")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), envDurationMillis("SHUTDOWN_TIMEOUT_MS", 15000))
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
	if err := queueClient.Close(); err != nil {
		logger.Error().Err(err).Msg("close queue client")
	}
}

func mustOpenPool(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{SlowQuery: envDurationMillis("OBS_SLOW_QUERY_MS", 250)}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "trip-rewards-api"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

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

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	ms := fallback
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			ms = parsed
		}
	}
	return time.Duration(ms) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		mux.Handle("/"+name, pprof.Handler(name))
	}
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
