// Command server runs the tokend HTTP service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stratumsec/tokend/internal/application"
	"github.com/stratumsec/tokend/internal/config"
	"github.com/stratumsec/tokend/internal/domain/service"
	"github.com/stratumsec/tokend/internal/infrastructure/audit"
	"github.com/stratumsec/tokend/internal/infrastructure/crypto"
	"github.com/stratumsec/tokend/internal/infrastructure/monitoring"
	"github.com/stratumsec/tokend/internal/infrastructure/persistence/postgres"
	tokendredis "github.com/stratumsec/tokend/internal/infrastructure/redis"
	tokendhttp "github.com/stratumsec/tokend/internal/interfaces/http"
	"github.com/stratumsec/tokend/internal/interfaces/http/handlers"
	"github.com/stratumsec/tokend/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tokend: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	bootLog := logger.New("info")
	cfg, err := config.Load(bootLog)
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level)
	ctx := context.Background()

	tracing, err := monitoring.NewTracingManager(cfg, log)
	if err != nil {
		return err
	}
	metrics := monitoring.NewMetrics()

	pool, err := postgres.NewPgxPool(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		return err
	}
	gormDB, err := postgres.NewGormDB(&cfg.Database)
	if err != nil {
		return err
	}

	redisClient, err := tokendredis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	publisher := audit.NewKafkaPublisher(&cfg.Kafka, log)
	defer publisher.Close()

	kek, err := crypto.NewKEKProvider(cfg)
	if err != nil {
		return err
	}
	keys := crypto.NewKeyManager(postgres.NewKeyRepository(gormDB, log), kek, log,
		cfg.Keys.Size, cfg.Keys.Validity(), cfg.Keys.RotationInterval())

	tokenRepo := postgres.NewTokenRepository(pool, log)
	ledger := postgres.NewRevocationRepository(pool, log)
	cache := tokendredis.NewRevocationCache(redisClient, log)

	engine := service.NewTokenEngine(service.Config{
		Issuer:      cfg.JWT.Issuer,
		Audience:    cfg.JWT.Audience,
		AccessTTL:   cfg.JWT.AccessTTL(),
		RefreshTTL:  cfg.JWT.RefreshTTL(),
		IdentityTTL: cfg.JWT.IDTTL(),
	}, crypto.NewTokenSigner(keys), tokenRepo, ledger, cache, publisher, metrics, log)

	router := tokendhttp.NewRouter(cfg, log,
		handlers.NewTokenHandler(engine),
		handlers.NewJWKSHandler(keys, log),
		handlers.NewHealthHandler(map[string]handlers.HealthChecker{
			"postgres": func(ctx context.Context) error { return pool.Ping(ctx) },
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		}, log),
	)
	router.SetupRoutes()

	pruner := application.NewPruner(tokenRepo, ledger,
		time.Duration(cfg.Prune.Interval)*time.Second,
		time.Duration(cfg.Prune.Retention)*time.Second,
		cfg.Prune.BatchSize, metrics, log)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(router.Start)
	group.Go(func() error {
		err := pruner.Run(groupCtx)
		if err == context.Canceled {
			return nil
		}
		return err
	})
	if cfg.Keys.AutoRotate {
		sweeper := application.NewRotationSweeper(keys,
			time.Duration(cfg.Prune.Interval)*time.Second,
			time.Duration(cfg.Prune.Retention)*time.Second, metrics, log)
		group.Go(func() error {
			err := sweeper.Run(groupCtx)
			if err == context.Canceled {
				return nil
			}
			return err
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := router.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return tracing.Shutdown(shutdownCtx)
	})

	log.Info(ctx, "tokend started", logger.String("addr", cfg.Server.Addr()))
	return group.Wait()
}
