package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	cacheadapter "github.com/smallbiznis/returnwatch/internal/adapter/cache"
	"github.com/smallbiznis/returnwatch/internal/adapter/notify"
	oauthadapter "github.com/smallbiznis/returnwatch/internal/adapter/oauth"
	"github.com/smallbiznis/returnwatch/internal/bootstrap"
	"github.com/smallbiznis/returnwatch/internal/config"
	"github.com/smallbiznis/returnwatch/internal/credential"
	"github.com/smallbiznis/returnwatch/internal/decision"
	httptransport "github.com/smallbiznis/returnwatch/internal/http"
	"github.com/smallbiznis/returnwatch/internal/http/handler"
	"github.com/smallbiznis/returnwatch/internal/http/middleware"
	"github.com/smallbiznis/returnwatch/internal/policy"
	"github.com/smallbiznis/returnwatch/internal/repository"
	"github.com/smallbiznis/returnwatch/internal/retry"
	"github.com/smallbiznis/returnwatch/internal/scheduler"
	"github.com/smallbiznis/returnwatch/internal/server"
	"github.com/smallbiznis/returnwatch/internal/service"
	"github.com/smallbiznis/returnwatch/internal/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newReceiptRepository,
			newDeadlineStore,
			newCredentialStore,
			newPolicyRepository,
			newRedisClient,
			newDedupeGuard,
			newProviderClient,
			newRetryExecutor,
			newBroker,
			newNotifier,
			newRateLimiter,
			policy.NewCatalog,
			decision.NewEngine,
			service.NewReceiptService,
			service.NewDeadlineService,
			newScheduler,
			handler.NewAPIHandler,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, bootstrap.LoadPolicyOverrides, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	node, err := snowflake.NewNode(1)
	return node, err
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newReceiptRepository(pool *pgxpool.Pool) repository.ReceiptRepository {
	return repository.NewPostgresReceiptRepo(pool)
}

func newDeadlineStore(pool *pgxpool.Pool) repository.DeadlineStore {
	return repository.NewPostgresDeadlineStore(pool)
}

func newCredentialStore(pool *pgxpool.Pool) repository.CredentialStore {
	return repository.NewPostgresCredentialStore(pool)
}

func newPolicyRepository(pool *pgxpool.Pool) repository.PolicyRepository {
	return repository.NewPostgresPolicyRepo(pool)
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newDedupeGuard(client redis.UniversalClient) repository.DedupeGuard {
	return cacheadapter.NewRedisDedupeGuard(client)
}

func newProviderClient() oauthadapter.ProviderClient {
	return oauthadapter.NewHTTPProviderClient(nil)
}

func newRetryExecutor(cfg config.Config, logger *zap.Logger) *retry.Executor {
	return &retry.Executor{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		Logger:      logger,
	}
}

func newBroker(store repository.CredentialStore, client oauthadapter.ProviderClient, cfg config.Config, executor *retry.Executor, logger *zap.Logger) *credential.Broker {
	provider := oauthadapter.ProviderConfig{
		Name:         cfg.OAuthProviderName,
		TokenURL:     cfg.OAuthTokenURL,
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
	}
	return credential.NewBroker(store, client, provider, executor, cfg.TokenRefreshSkew, logger)
}

func newNotifier(cfg config.Config) notify.Notifier {
	return notify.NewWebhookNotifier(cfg.NotifyWebhookURL, nil)
}

func newRateLimiter(cfg config.Config) *middleware.RateLimiter {
	return middleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newScheduler(deadlines repository.DeadlineStore, receipts repository.ReceiptRepository, engine *decision.Engine, notifier notify.Notifier, cfg config.Config, logger *zap.Logger) *scheduler.Scheduler {
	return scheduler.NewScheduler(deadlines, receipts, engine, notifier, cfg.HeadsUpDays, logger)
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
