package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-pasar/internal/commission"
	"github.com/noah-isme/backend-pasar/internal/config"
	"github.com/noah-isme/backend-pasar/internal/lock"
	"github.com/noah-isme/backend-pasar/internal/obs"
	"github.com/noah-isme/backend-pasar/internal/payment"
	"github.com/noah-isme/backend-pasar/internal/payout"
	"github.com/noah-isme/backend-pasar/internal/repo"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "worker").Logger()
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	payoutRepo := repo.PayoutRepo{Pool: pool}
	scheduler := &payout.Scheduler{
		Engine: &payout.Engine{
			Ledger:       payoutRepo,
			Commission:   &commission.Resolver{Rules: repo.CommissionRepo{Pool: pool}, DefaultBps: cfg.DefaultCommissionBps},
			Fees:         payout.DefaultFeeSchedule(),
			ProcessorBps: cfg.ProcessorFeeBps,
			Logger:       &logger,
		},
		Processor: &payout.Processor{
			Store: payoutRepo,
			Transfers: map[string]payout.TransferProvider{
				"bank_transfer": payout.SandboxTransfer{},
			},
			Timeout: cfg.TransferTimeout,
			Logger:  &logger,
		},
		Configs: repo.ScheduleRepo{Pool: pool},
		Lock:    lock.Locker{R: redisClient},
		LockTTL: cfg.SchedulerLockTTL,
		Logger:  &logger,
	}

	paymentSvc := &payment.Service{
		Store:   repo.PaymentRepo{Pool: pool},
		Gateway: payment.NewSandboxGateway(),
		Orders:  repo.OrderRepo{Pool: pool},
		Timeout: cfg.GatewayTimeout,
		Logger:  &logger,
	}

	logger.Info().
		Dur("interval", cfg.SchedulerInterval).
		Msg("worker starting")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scheduler.Run(ctx, cfg.SchedulerInterval)
	}()
	go func() {
		defer wg.Done()
		runReconciler(ctx, paymentSvc, cfg.ReconcileAfter, logger)
	}()
	wg.Wait()

	logger.Info().Msg("worker shutdown complete")
}

// runReconciler sweeps stranded authorization holds: holds whose order was
// persisted are captured, orphaned holds are released.
func runReconciler(ctx context.Context, svc *payment.Service, olderThan time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(olderThan)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary, err := svc.Reconcile(ctx, time.Now().Add(-olderThan))
			if err != nil {
				logger.Error().Err(err).Msg("reconcile stranded holds")
				continue
			}
			if len(summary.Captured) > 0 || len(summary.Canceled) > 0 || len(summary.Failed) > 0 {
				logger.Info().
					Int("captured", len(summary.Captured)).
					Int("canceled", len(summary.Canceled)).
					Int("failed", len(summary.Failed)).
					Msg("reconcile sweep finished")
			}
		}
	}
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "pasar-worker"
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
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
