package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/radieske/arena-wager-platform/internal/crank"
	httpapi "github.com/radieske/arena-wager-platform/internal/game-service/http"
	"github.com/radieske/arena-wager-platform/internal/game-service/projection"
	"github.com/radieske/arena-wager-platform/internal/game-service/ws"
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
		cfg.ServiceName = "game-service"
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

	writer := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicRoundEvents)
	publisher := roundfeed.NewKafkaPublisher(writer, log)
	defer publisher.Close()

	clock := quartz.NewReal()
	views := projection.New(redisClient, log)

	// apostas recebidas aqui também geram eventos para o feed e a projeção
	machine := round.NewMachine(st, clock, round.ParamsFromConfig(cfg.Game), log,
		publisher,
		roundfeed.NewRedisBroadcaster(redisClient, cfg.RedisPubSubChannel, log),
		views,
	)
	payouts := payout.NewDistributor(machine, wallet.BalanceTransferer{Balances: st}, log)
	queue := txqueue.New(st, st, wallet.New(cfg.WalletURL), clock, log)

	hub := ws.NewHub(func(r *http.Request) bool { return true }, log)
	ws.StartRedisSubscriber(ctx, redisClient, cfg.RedisPubSubChannel, hub, log)

	api := &httpapi.API{
		Machine:    machine,
		Payouts:    payouts,
		Queue:      queue,
		Balances:   st,
		Views:      views,
		WS:         hub.HandleWS,
		AdminToken: cfg.AdminToken,
		Log:        log,
	}
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	m := metrics.NewArena(prometheus.DefaultRegisterer)
	tracker := health.NewTracker(st, clock, log)
	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		if ping != nil {
			if err := ping(ctx); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
		}
		return redisClient.Ping(ctx).Err()
	}, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("game-service listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = metricsSrv.Shutdown(sctx)
		return srv.Shutdown(sctx)
	})

	// crank no mesmo processo: com STORE=memory é o único jeito de as rodadas avançarem
	if cfg.EmbedCrank {
		c := crank.New(crank.Deps{
			Machine: machine,
			Rounds:  st,
			Broker:  randomness.NewBroker(st, randomness.NewHTTPOracle(cfg.OracleURL), clock, log),
			Gateway: ledger.NewHTTPGateway(cfg.LedgerURL, clock),
			Payouts: payouts,
			Queue:   queue,
			Health:  tracker,
			Locker:  crank.NewMemoryLocker(clock),
			Clock:   clock,
			Log:     log,
			Metrics: m,
		}, crank.OptionsFromConfig(cfg.Crank))
		g.Go(func() error { return c.Run(gctx) })
		log.Info("embedded crank enabled")
	}

	if err := g.Wait(); err != nil {
		log.Error("game-service stopped with error", zap.Error(err))
		return
	}
	log.Info("game-service stopped")
}
