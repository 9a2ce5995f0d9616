package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-pasar/internal/checkout"
	"github.com/noah-isme/backend-pasar/internal/commission"
	"github.com/noah-isme/backend-pasar/internal/config"
	"github.com/noah-isme/backend-pasar/internal/currency"
	"github.com/noah-isme/backend-pasar/internal/health"
	"github.com/noah-isme/backend-pasar/internal/lock"
	"github.com/noah-isme/backend-pasar/internal/money"
	"github.com/noah-isme/backend-pasar/internal/obs"
	"github.com/noah-isme/backend-pasar/internal/payment"
	"github.com/noah-isme/backend-pasar/internal/payout"
	"github.com/noah-isme/backend-pasar/internal/ratelimit"
	"github.com/noah-isme/backend-pasar/internal/repo"
	"github.com/noah-isme/backend-pasar/internal/security"
	"github.com/noah-isme/backend-pasar/internal/shippingtax"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "pasar-api",
			Endpoint:      cfg.TracingEndpoint,
			Exporter:      cfg.TracingExporter,
			SamplingRatio: cfg.TracingSampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				ctx := context.Background()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "pasar-api"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
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
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	orderRepo := repo.OrderRepo{Pool: pool}
	paymentRepo := repo.PaymentRepo{Pool: pool}
	payoutRepo := repo.PayoutRepo{Pool: pool}
	scheduleRepo := repo.ScheduleRepo{Pool: pool}
	commissionRepo := repo.CommissionRepo{Pool: pool}

	paymentSvc := &payment.Service{
		Store:   paymentRepo,
		Gateway: payment.NewSandboxGateway(),
		Vault:   repo.InstrumentRepo{Pool: pool},
		Orders:  orderRepo,
		Timeout: cfg.GatewayTimeout,
		Logger:  &logger,
	}

	var freeShippingOver money.Money
	if raw := strings.TrimSpace(cfg.FreeShippingOver); raw != "" {
		freeShippingOver, err = money.FromString(raw, cfg.BaseCurrency)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse FREE_SHIPPING_OVER")
		}
	}
	calculator := &shippingtax.Calculator{
		Geo:      repo.GeoRepo{Pool: pool, HomeCountry: envOrDefault("HOME_COUNTRY", "US")},
		Rates:    shippingtax.TierClient{FreeShippingOver: freeShippingOver},
		Taxes:    shippingtax.TaxTable(cfg.TaxTable),
		LocalBps: cfg.LocalTaxBps,
		Timeout:  cfg.RateLookupTimeout,
	}

	checkoutSvc := &checkout.Service{
		Calculator: calculator,
		Currencies: &currency.Resolver{Base: cfg.BaseCurrency},
		Payments:   paymentSvc,
		Orders:     orderRepo,
		Logger:     &logger,
	}
	checkoutHandler := &checkout.Handler{Svc: checkoutSvc}

	engine := &payout.Engine{
		Ledger:       payoutRepo,
		Commission:   &commission.Resolver{Rules: commissionRepo, DefaultBps: cfg.DefaultCommissionBps},
		Fees:         payout.DefaultFeeSchedule(),
		ProcessorBps: cfg.ProcessorFeeBps,
		Logger:       &logger,
	}
	processor := &payout.Processor{
		Store: payoutRepo,
		Transfers: map[string]payout.TransferProvider{
			"bank_transfer": payout.SandboxTransfer{},
		},
		Timeout: cfg.TransferTimeout,
		Logger:  &logger,
	}
	scheduler := &payout.Scheduler{
		Engine:    engine,
		Processor: processor,
		Configs:   scheduleRepo,
		Lock:      lock.Locker{R: redisClient},
		LockTTL:   cfg.SchedulerLockTTL,
		Logger:    &logger,
	}
	validate := validator.New()
	payoutHandler := &payout.Handler{
		Scheduler: scheduler,
		Processor: processor,
		Engine:    engine,
		Directory: payoutRepo,
		Configs:   scheduleRepo,
		Validate:  validate,
	}
	commissionHandler := &commission.Handler{
		Store:    commissionRepo,
		Validate: validate,
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(cfg.MetricsBuckets)
		httpMetrics = obs.NewHTTPMetrics(cfg.MetricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: true, EnableHSTS: cfg.AppEnv == "production", HSTSMaxAge: 31536000}.Middleware)
	r.Use(security.BodyLimit{Max: int64(envInt("HTTP_MAX_BODY_BYTES", 1<<20))}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", true) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{db: pool, redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	checkoutLimiter := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "ratelimit:checkout:"},
		Config: ratelimit.Config{
			Key:    func(r *http.Request) string { return r.RemoteAddr },
			Window: time.Minute,
			Max:    envInt("CHECKOUT_RATE_LIMIT_PER_MINUTE", 60),
		},
		OnError: func(err error) { logger.Error().Err(err).Msg("rate limiter") },
	}

	r.Route("/api/v1", func(v chi.Router) {
		v.With(checkoutLimiter.Middleware).Post("/checkout/totals", checkoutHandler.Totals)

		v.Route("/orders", func(o chi.Router) {
			o.With(checkoutLimiter.Middleware).Post("/", checkoutHandler.PlaceOrder)
			o.Post("/{id}/abandon", checkoutHandler.Abandon)
			o.Post("/{id}/delivery-confirmation", checkoutHandler.ConfirmDelivery)
		})

		v.Route("/sellers/{sellerID}", func(s chi.Router) {
			s.Get("/payouts", payoutHandler.List)
			s.Get("/balance", payoutHandler.Balance)
		})

		v.Route("/admin", func(admin chi.Router) {
			admin.Get("/payouts", payoutHandler.List)
			admin.Get("/payouts/stats", payoutHandler.Stats)
			admin.Post("/payouts/{id}/process", payoutHandler.Process)
			admin.Post("/payouts/{id}/complete", payoutHandler.Complete)
			admin.Post("/payouts/{id}/fail", payoutHandler.Fail)
			admin.Post("/payouts/{id}/cancel", payoutHandler.CancelPayout)
			admin.Post("/payouts/{id}/adjust", payoutHandler.Adjust)
			admin.Post("/sellers/{sellerID}/payouts/trigger", payoutHandler.Trigger)
			admin.Get("/sellers/{sellerID}/commission-override", commissionHandler.ListOverrides)
			admin.Post("/sellers/{sellerID}/commission-override", commissionHandler.CreateOverride)
			admin.Get("/payout-config", payoutHandler.GetConfig)
			admin.Put("/payout-config", payoutHandler.PutConfig)
		})
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
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

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/block", pprof.Handler("block"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	mux.Handle("/threadcreate", pprof.Handler("threadcreate"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
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
