package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"afggram/internal/metrics"
	"afggram/internal/util"
	"afggram/pkg/notify"
	"afggram/pkg/queue"
	"afggram/pkg/realtime"
	"afggram/pkg/storage"
	"afggram/pkg/store"
	"afggram/services/api/internal/app"
	"afggram/services/api/internal/config"
	"afggram/services/api/internal/server"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel, "api")

	sessionTTL, _ := config.ParseDuration("sessionTTL", cfg.SessionTTL)
	refreshTTL, _ := config.ParseDuration("refreshTTL", cfg.RefreshTTL)
	jwtLeeway, _ := config.ParseDuration("jwtLeeway", cfg.JWTLeeway)
	verifyKeys, _ := config.ParseVerifyPublicKeys(cfg.JWTVerifyPublicKeys)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer redisClient.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			util.Fatal("failed to connect to redis", "addr", cfg.RedisAddr, "err", err)
		}
	}

	var dataStore store.Store
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory store; data is lost on restart")
		dataStore = store.NewMemoryStore()
	default:
		gormStore, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			util.Fatal("failed to init postgres store", "err", err)
		}
		defer gormStore.Close()
		dataStore = gormStore
	}

	broker, err := newBroker(cfg, redisClient)
	if err != nil {
		util.Fatal("failed to init realtime broker", "broker", cfg.RealtimeBroker, "err", err)
	}
	defer broker.Close()

	origins := config.SplitList(cfg.AllowedOrigins)
	hub, err := realtime.NewHub(realtime.HubConfig{
		Broker:         broker,
		AllowedOrigins: origins,
		FrameRate:      cfg.RealtimeFrameRate,
	})
	if err != nil {
		util.Fatal("failed to init realtime hub", "err", err)
	}

	uploader, mediaDir, err := newUploader(cfg)
	if err != nil {
		util.Fatal("failed to init media storage", "err", err)
	}

	// The worker cannot see an in-process store, so notifications are handled inline.
	var jobs queue.Enqueuer
	if cfg.StoreDriver == config.StoreDriverMemory {
		jobs = queue.NewMemoryQueue(notify.Handler(dataStore, hub))
	}

	appCore, err := app.New(app.Config{
		Redis:               redisClient,
		SessionTTL:          sessionTTL,
		RefreshTTL:          refreshTTL,
		JWTPrivateKeyPath:   cfg.JWTPrivateKeyPath,
		JWTPublicKeyPath:    cfg.JWTPublicKeyPath,
		JWTKeyID:            cfg.JWTKeyID,
		JWTVerifyPublicKeys: verifyKeys,
		JWTIssuer:           cfg.JWTIssuer,
		JWTAudience:         cfg.JWTAudience,
		JWTLeeway:           jwtLeeway,
		QueueName:           cfg.QueueName,
		Store:               dataStore,
		Events:              hub,
		Sockets:             hub,
		Jobs:                jobs,
		Media:               uploader,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	trusted, err := util.NewTrustedProxies(config.SplitList(cfg.TrustedProxies))
	if err != nil {
		util.Fatal("failed to parse trusted proxies", "err", err)
	}
	httpServer, err := server.New(server.Config{
		App:                          appCore,
		Hub:                          hub,
		Redis:                        redisClient,
		AllowedOrigins:               origins,
		TrustedProxies:               trusted,
		SignupRateLimitPerMinute:     cfg.SignupRateLimitPerMinute,
		LoginRateLimitPerMinute:      cfg.LoginRateLimitPerMinute,
		RefreshRateLimitPerMinute:    cfg.RefreshRateLimitPerMinute,
		PasswordRateLimitPerMinute:   cfg.PasswordRateLimitPerMinute,
		WithdrawalRateLimitPerMinute: cfg.WithdrawalRateLimitPerMinute,
		UploadRateLimitPerMinute:     cfg.UploadRateLimitPerMinute,
		MaxUploadBytes:               cfg.MediaMaxBytes,
		MediaDir:                     mediaDir,
	})
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	// Metrics stay off the public router; scrape this port from inside the cluster.
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metrics.Handler())
	metricsSrv := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := hub.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("realtime hub: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("api server listening", "addr", addr, "store", cfg.StoreDriver, "broker", cfg.RealtimeBroker)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("metrics listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return errors.Join(srv.Shutdown(shutdownCtx), metricsSrv.Shutdown(shutdownCtx))
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
	logger.Info("api server stopped")
}

func newBroker(cfg config.FileConfig, client *redis.Client) (realtime.Broker, error) {
	switch cfg.RealtimeBroker {
	case config.BrokerRedis:
		return realtime.NewRedisBroker(client, cfg.RealtimeChannel)
	case config.BrokerAMQP:
		return realtime.NewAMQPBroker(cfg.AMQPURL, cfg.AMQPExchange)
	default:
		return realtime.NewMemoryBroker(), nil
	}
}

// newUploader prefers MinIO and falls back to a local directory. The returned
// directory is non-empty only when the API must serve the files itself.
func newUploader(cfg config.FileConfig) (*storage.Uploader, string, error) {
	if cfg.MinioEndpoint != "" {
		objects, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:   cfg.MinioEndpoint,
			AccessKey:  cfg.MinioAccessKey,
			SecretKey:  cfg.MinioSecretKey,
			Bucket:     cfg.MinioBucket,
			UseSSL:     cfg.MinioUseSSL,
			PublicRead: true,
		})
		if err != nil {
			return nil, "", err
		}
		return storage.NewUploader(objects, cfg.MediaBaseURL, cfg.MediaMaxBytes, util.NewID), "", nil
	}
	if cfg.MediaDir == "" {
		return nil, "", nil
	}
	files, err := storage.NewFileStore(cfg.MediaDir)
	if err != nil {
		return nil, "", err
	}
	return storage.NewUploader(files, cfg.MediaBaseURL, cfg.MediaMaxBytes, util.NewID), files.Root(), nil
}
