package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/radieske/arena-wager-platform/internal/crank"
	"github.com/radieske/arena-wager-platform/internal/game-service/projection"
	"github.com/radieske/arena-wager-platform/internal/health"
	"github.com/radieske/arena-wager-platform/internal/ledger"
	"github.com/radieske/arena-wager-platform/internal/payout"
	"github.com/radieske/arena-wager-platform/internal/randomness"
	"github.com/radieske/arena-wager-platform/internal/round"
	"github.com/radieske/arena-wager-platform/internal/roundfeed"
	"github.com/radieske/arena-wager-platform/internal/shared/cache"
	"github.com/radieske/arena-wager-platform/internal/shared/config"
	"github.com/radieske/arena-wager-platform/internal/shared/kafka"
	"github.com/radieske/arena-wager-platform/internal/shared/logger"
	"github.com/radieske/arena-wager-platform/internal/shared/metrics"
	"github.com/radieske/arena-wager-platform/internal/store"
	"github.com/radieske/arena-wager-platform/internal/txqueue"
	"github.com/radieske/arena-wager-platform/internal/wallet"
)

func main() {
	cfg := config.Load()
	if cfg.ServiceName == "" {
		cfg.ServiceName = "arena-crank"
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// persistência das rodadas, seeds, saúde e fila de transações
	st, ping, closeStore, err := store.Open(cfg.Store, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("failed to open store", zap.String("store", cfg.Store), zap.Error(err))
	}
	defer closeStore()
	log.Info("store ready", zap.String("store", cfg.Store))

	// Redis: lease do tick, projeção e broadcast para o WebSocket
	redisClient, err := cache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("failed to connect redis", zap.Error(err))
	}
	defer redisClient.Close()

	if cfg.Env == "local" {
		if err := kafka.EnsureTopics(ctx, cfg.KafkaBrokers, log, cfg.TopicRoundEvents); err != nil {
			log.Warn("ensure kafka topics", zap.Error(err))
		}
	}
	writer := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicRoundEvents)
	publisher := roundfeed.NewKafkaPublisher(writer, log)
	defer publisher.Close()

	clock := quartz.NewReal()
	m := metrics.NewArena(prometheus.DefaultRegisterer)

	machine := round.NewMachine(st, clock, round.ParamsFromConfig(cfg.Game), log,
		publisher,
		roundfeed.NewRedisBroadcaster(redisClient, cfg.RedisPubSubChannel, log),
		projection.New(redisClient, log),
	)

	tracker := health.NewTracker(st, clock, log)
	c := crank.New(crank.Deps{
		Machine: machine,
		Rounds:  st,
		Broker:  randomness.NewBroker(st, randomness.NewHTTPOracle(cfg.OracleURL), clock, log),
		Gateway: ledger.NewHTTPGateway(cfg.LedgerURL, clock),
		Payouts: payout.NewDistributor(machine, wallet.BalanceTransferer{Balances: st}, log),
		Queue:   txqueue.New(st, st, wallet.New(cfg.WalletURL), clock, log),
		Health:  tracker,
		Locker:  crank.NewRedisLocker(redisClient),
		Clock:   clock,
		Log:     log,
		Metrics: m,
	}, crank.OptionsFromConfig(cfg.Crank))

	srv := metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		if ping != nil {
			if err := ping(ctx); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		if !tracker.Healthy() {
			return errors.New("degraded components")
		}
		return nil
	}, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		return srv.Shutdown(sctx)
	})

	log.Info("arena-crank started",
		zap.Duration("interval", cfg.Crank.Interval),
		zap.String("ledger", cfg.LedgerURL),
		zap.String("publish", cfg.TopicRoundEvents),
	)
	if err := g.Wait(); err != nil {
		log.Error("arena-crank stopped with error", zap.Error(err))
		return
	}
	log.Info("arena-crank stopped")
}
