package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/arena-wager-platform/internal/game-service/projection"
	"github.com/radieske/arena-wager-platform/internal/ledger-worker/consumer"
	"github.com/radieske/arena-wager-platform/internal/round"
	"github.com/radieske/arena-wager-platform/internal/roundfeed"
	"github.com/radieske/arena-wager-platform/internal/shared/cache"
	"github.com/radieske/arena-wager-platform/internal/shared/config"
	"github.com/radieske/arena-wager-platform/internal/shared/kafka"
	"github.com/radieske/arena-wager-platform/internal/shared/logger"
	"github.com/radieske/arena-wager-platform/internal/shared/metrics"
	"github.com/radieske/arena-wager-platform/internal/store"
)

func main() {
	cfg := config.Load()
	if cfg.ServiceName == "" {
		cfg.ServiceName = "ledger-event-worker"
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, ping, closeStore, err := store.Open(cfg.Store, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("failed to open store", zap.String("store", cfg.Store), zap.Error(err))
	}
	defer closeStore()

	redisClient, err := cache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("failed to connect redis", zap.Error(err))
	}
	defer redisClient.Close()

	if cfg.Env == "local" {
		if err := kafka.EnsureTopics(ctx, cfg.KafkaBrokers, log, cfg.TopicLedgerEvents, cfg.TopicLedgerEventsDLQ); err != nil {
			log.Warn("ensure kafka topics", zap.Error(err))
		}
	}

	// consumer group ledger-event-worker: commit explícito depois de aplicar
	reader := kafka.NewReader(cfg.KafkaBrokers, cfg.TopicLedgerEvents, "ledger-event-worker")
	defer reader.Close()

	// eventos aplicados aqui também alimentam o feed e a projeção
	writer := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicRoundEvents)
	publisher := roundfeed.NewKafkaPublisher(writer, log)
	defer publisher.Close()

	var dlq *kafka.Writer
	if cfg.TopicLedgerEventsDLQ != "" {
		dlq = kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicLedgerEventsDLQ)
		defer dlq.Close()
	}

	clock := quartz.NewReal()
	machine := round.NewMachine(st, clock, round.ParamsFromConfig(cfg.Game), log,
		publisher,
		roundfeed.NewRedisBroadcaster(redisClient, cfg.RedisPubSubChannel, log),
		projection.New(redisClient, log),
	)

	m := metrics.NewArena(prometheus.DefaultRegisterer)
	proc := &consumer.Processor{
		Log:     log,
		Reader:  reader,
		Machine: machine,
		Clock:   clock,
		Retries: cfg.Crank.RetryAttempts,
		Backoff: cfg.Crank.RetryBackoff,
		OnResult: func(kind, result string) {
			m.LedgerEventsByKind.WithLabelValues(kind, result).Inc()
			if result == consumer.ResultFatal {
				m.RoundsHalted.Inc()
			}
		},
	}
	if dlq != nil {
		proc.DLQ = dlq
	}

	srv := metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		if ping != nil {
			return ping(ctx)
		}
		return nil
	}, log)
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
	}()

	log.Info("ledger-event-worker started",
		zap.String("consume", cfg.TopicLedgerEvents),
		zap.String("dlq", cfg.TopicLedgerEventsDLQ),
	)
	if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("processor stopped with error", zap.Error(err))
		return
	}
	log.Info("ledger-event-worker stopped")
}
