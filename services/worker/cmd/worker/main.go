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

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"afggram/internal/metrics"
	"afggram/internal/util"
	"afggram/pkg/queue"
	"afggram/pkg/realtime"
	"afggram/pkg/store"
	"afggram/services/worker/internal/app"
	"afggram/services/worker/internal/config"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel, "worker")
	staleAfter, _ := config.LiveStaleAfter(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer redisClient.Close()

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		util.Fatal("failed to init postgres store", "err", err)
	}
	defer dataStore.Close()

	var broker realtime.Broker
	if cfg.RealtimeBroker == config.BrokerAMQP {
		broker, err = realtime.NewAMQPBroker(cfg.AMQPURL, cfg.AMQPExchange)
	} else {
		broker, err = realtime.NewRedisBroker(redisClient, cfg.RealtimeChannel)
	}
	if err != nil {
		util.Fatal("failed to init realtime broker", "broker", cfg.RealtimeBroker, "err", err)
	}
	defer broker.Close()

	jobs, err := queue.NewRedisJobQueue(redisClient, queue.RedisQueueConfig{
		Stream:     cfg.QueueName,
		Group:      cfg.QueueGroup,
		MaxRetries: cfg.QueueMaxRetries,
		Observer: func(job queue.Job, outcome string) {
			metrics.QueueJob(job.Kind, outcome)
		},
	})
	if err != nil {
		util.Fatal("failed to init job queue", "err", err)
	}

	worker, err := app.New(app.Config{
		Store:            dataStore,
		Events:           broker,
		Jobs:             jobs,
		QueueConcurrency: cfg.QueueConcurrency,
		SweepSchedule:    cfg.SweepSchedule,
		LiveStaleAfter:   staleAfter,
		Logger:           logger,
	})
	if err != nil {
		util.Fatal("failed to init worker", "err", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := dataStore.Ping(pingCtx); err != nil {
			http.Error(w, `{"status":"unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			http.Error(w, `{"status":"unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("GET /metrics", metrics.Handler())

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      util.WithRequestID(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.RunQueue(gctx) })
	g.Go(func() error { return worker.RunSweeps(gctx) })
	g.Go(func() error {
		logger.Info("worker listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("worker error", "err", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
