package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flagplane/internal/api"
	"flagplane/internal/config"
	"flagplane/internal/metrics"
	"flagplane/internal/middleware"
	"flagplane/internal/model"
	"flagplane/internal/repository"
	"flagplane/internal/service"
	"flagplane/pkg/logger"

	"github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

const devSigningKey = "flagplane-dev-signing-key"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.InitLogger(cfg.Server.Environment)
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Error("application exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Infrastructure
	rdb, err := initRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	store, outbox, sdkRepo, err := initStorage(cfg)
	if err != nil {
		return err
	}

	var etcdCli *clientv3.Client
	if cfg.Etcd.Enabled() {
		etcdCli, err = initEtcd(cfg.Etcd)
		if err != nil {
			return err
		}
		defer etcdCli.Close()
	}

	// Services
	observer := metrics.NewPrometheusObserver()
	hub := service.NewHub(cfg.Stream.BufferSize, cfg.Stream.HeartbeatInterval, observer)

	var relay *service.Relay
	var sink service.EventSink = hub
	if cfg.Stream.RelayChannel != "" {
		relay = service.NewRelay(rdb, cfg.Stream.RelayChannel, hub, cfg.Stream.BufferSize)
		sink = service.Sinks{hub, relay}
	}

	opts := []service.Option{service.WithStoreObserver(observer)}
	var (
		outboxWorker *service.OutboxWorker
		reconciler   *service.Reconciler
	)
	if etcdCli != nil {
		publisher := repository.NewPublisher(etcdCli, cfg.Etcd.Prefix)
		outboxWorker = service.NewOutboxWorker(outbox, publisher, cfg.Workers.OutboxInterval, cfg.Workers.OutboxBatch, cfg.Workers.OutboxMaxRetries)
		reconciler = service.NewReconciler(etcdCli, publisher, store, cfg.Workers.ReconcilerInterval, cfg.Workers.ReconcilerLockTTL)
		opts = append(opts, service.WithOutbox(publisher, outboxWorker))
	}
	features := service.NewFeatureService(store, sink, opts...)

	users, err := loadUsers(cfg.Auth.Users)
	if err != nil {
		return err
	}
	signingKey := cfg.Auth.SigningKey
	if signingKey == "" {
		logger.Warn("auth.signing_key not set, using the development key")
		signingKey = devSigningKey
	}
	authSvc := service.NewAuthService(users, repository.NewRedisSessionStore(rdb), service.AuthOptions{
		SigningKey:      []byte(signingKey),
		Issuer:          cfg.Auth.Issuer,
		AccessTokenTTL:  cfg.Auth.AccessTokenTTL,
		RefreshTokenTTL: cfg.Auth.RefreshTokenTTL,
	})
	limiter := middleware.NewRateLimiter(rdb, cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	// HTTP
	r := api.RegisterRoutes(
		api.NewFeatureHandler(features),
		api.NewStreamHandler(features, hub),
		api.NewAuthHandler(authSvc),
		authSvc,
		service.NewAPIKeyCache(sdkRepo, cfg.Auth.SDKKeyCacheTTL),
		limiter,
		api.RouterOptions{DevPass: cfg.Auth.DevPass, CorsOrigins: cfg.Server.CorsOrigins},
	)
	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		limiter.Run(gctx)
		return nil
	})
	if relay != nil {
		g.Go(func() error {
			logger.Info("starting stream relay", zap.String("channel", cfg.Stream.RelayChannel))
			return relay.Run(gctx)
		})
	}
	if outboxWorker != nil {
		g.Go(func() error {
			logger.Info("starting outbox worker")
			outboxWorker.Run(gctx)
			return nil
		})
		g.Go(func() error {
			logger.Info("starting reconciler")
			reconciler.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		logger.Info("server starting",
			zap.String("addr", cfg.Server.Port),
			zap.String("env", cfg.Server.Environment),
			zap.String("storage", cfg.Storage.Driver),
			zap.Bool("etcd", etcdCli != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")
		// streams are closed by the hub; Shutdown waits for the rest
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server exited properly")
	return nil
}

// -- Infrastructure Initializers --

func initRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

func initEtcd(cfg config.EtcdConfig) (*clientv3.Client, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return client, nil
}

func initStorage(cfg *config.Config) (repository.Store, repository.OutboxStore, repository.SDKRepository, error) {
	if cfg.Storage.Driver == "memory" {
		logger.Warn("using in-memory storage, flags are lost on restart")
		store := repository.NewMemoryStore()
		return store, store, repository.StaticSDKKeys(cfg.Auth.SDKKeys), nil
	}

	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to mysql: %w", err)
	}
	err = db.AutoMigrate(
		&model.FlagRecord{},
		&model.AuditEntry{},
		&model.OutboxTask{},
		&model.SDKClient{},
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	store := repository.NewGormStore(db)
	return store, store, repository.NewSDKKeyRepository(db), nil
}

func loadUsers(in []config.UserConfig) ([]service.User, error) {
	users := make([]service.User, 0, len(in))
	for _, u := range in {
		hash := u.PasswordHash
		if hash == "" {
			var err error
			if hash, err = service.HashPassword(u.Password); err != nil {
				return nil, fmt.Errorf("hash password of %q: %w", u.Username, err)
			}
		}
		users = append(users, service.User{ID: u.ID, Username: u.Username, Role: u.Role, PasswordHash: hash})
	}
	return users, nil
}
