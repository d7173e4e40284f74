package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/promo-core/internal/checkout"
	"github.com/noah-isme/promo-core/internal/config"
	"github.com/noah-isme/promo-core/internal/events"
	"github.com/noah-isme/promo-core/internal/ledger"
	"github.com/noah-isme/promo-core/internal/lock"
	"github.com/noah-isme/promo-core/internal/obs"
	"github.com/noah-isme/promo-core/internal/rates"
	"github.com/noah-isme/promo-core/internal/resilience"
)

const (
	taskReservationSweep = "reservation:sweep"
	taskRatesRefresh     = "rates:refresh"

	sweepLockKey = "promo:sweep"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	pool := mustInitDatabase(ctx, cfg, logger)
	redisClient := mustInitRedis(ctx, cfg, logger)
	cancel()
	defer pool.Close()
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	var usageLedger ledger.Ledger
	switch cfg.LedgerBackend {
	case "postgres":
		usageLedger = ledger.NewPostgresLedger(pool, cfg.ReservationTTL)
	default:
		usageLedger = ledger.NewRedisLedger(redisClient, cfg.ReservationTTL).
			WithRecorder(ledger.NewPostgresRecorder(pool))
	}

	sweeper := &checkout.Service{
		Ledger: usageLedger,
		Bus:    &events.Bus{Store: events.NewPostgresStore(pool)},
		Logger: logger,
	}

	var rateCache *rates.CachedSource
	if cfg.RatesBaseURL != "" {
		breaker := resilience.NewBreaker(cfg.BreakerMinRequests, cfg.BreakerFailureRatio, cfg.BreakerOpenFor).
			WithTarget("rates-api").
			WithLogger(logger)
		provider := rates.NewHTTPProvider(cfg.RatesBaseURL, httpClient(), breaker, logger)
		rateCache = rates.NewCachedSource(provider, redisClient, cfg.RatesCacheTTL, logger)
	}

	locker := lock.Locker{R: redisClient}

	redisConn, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis uri")
	}

	mux := asynq.NewServeMux()
	mux.HandleFunc(taskReservationSweep, func(ctx context.Context, _ *asynq.Task) error {
		return locker.WithLock(ctx, sweepLockKey, cfg.SweepInterval, func(ctx context.Context) error {
			_, err := sweeper.SweepExpired(ctx, time.Now())
			return err
		})
	})
	mux.HandleFunc(taskRatesRefresh, func(ctx context.Context, _ *asynq.Task) error {
		if rateCache == nil {
			return nil
		}
		if _, err := rateCache.Refresh(ctx, time.Now()); err != nil {
			return fmt.Errorf("refresh rates: %w", err)
		}
		return nil
	})

	srv := asynq.NewServer(redisConn, asynq.Config{
		Concurrency: envInt("WORKER_CONCURRENCY", 4),
		Logger:      asynqLogger{logger},
	})

	scheduler := asynq.NewScheduler(redisConn, &asynq.SchedulerOpts{
		Logger: asynqLogger{logger},
	})
	mustSchedule(scheduler, cfg.SweepInterval, taskReservationSweep, logger)
	if rateCache != nil {
		mustSchedule(scheduler, cfg.RatesCacheTTL, taskRatesRefresh, logger)
	}

	go func() {
		if err := scheduler.Run(); err != nil {
			logger.Fatal().Err(err).Msg("scheduler exited")
		}
	}()

	logger.Info().Str("backend", cfg.LedgerBackend).Msg("worker starting")
	if err := srv.Run(mux); err != nil {
		logger.Fatal().Err(err).Msg("worker exited unexpectedly")
	}
}

func mustSchedule(s *asynq.Scheduler, every time.Duration, taskType string, logger zerolog.Logger) {
	spec := fmt.Sprintf("@every %s", every)
	if _, err := s.Register(spec, asynq.NewTask(taskType, nil)); err != nil {
		logger.Fatal().Err(err).Str("task", taskType).Msg("register schedule")
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
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "promo-worker"

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
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return client
}

func httpClient() *http.Client {
	return &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// asynqLogger adapts zerolog to asynq's logging interface.
type asynqLogger struct {
	l zerolog.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Fatal().Msg(fmt.Sprint(args...)) }

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
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
