package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/radieske/arena-wager-platform/internal/ledger"
	"github.com/radieske/arena-wager-platform/internal/ledger-simulator/simulator"
	"github.com/radieske/arena-wager-platform/internal/randomness"
	"github.com/radieske/arena-wager-platform/internal/shared/config"
	"github.com/radieske/arena-wager-platform/internal/shared/kafka"
	"github.com/radieske/arena-wager-platform/internal/shared/logger"
	"github.com/radieske/arena-wager-platform/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	if cfg.ServiceName == "" {
		cfg.ServiceName = "ledger-simulator"
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Env == "local" {
		if err := kafka.EnsureTopics(ctx, cfg.KafkaBrokers, log, cfg.TopicLedgerEvents); err != nil {
			log.Warn("ensure kafka topics", zap.Error(err))
		}
	}
	writer := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicLedgerEvents)
	defer writer.Close()

	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_sim_events_published_total", Help: "eventos do ledger simulado publicados por tipo",
	}, []string{"kind"})
	prometheus.MustRegister(published)

	l := simulator.NewLedger(quartz.NewReal(), log)
	l.ConfirmDelay = time.Second
	l.Publish = func(ctx context.Context, ev ledger.Event) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()
		if err := kafka.WriteJSON(ctx, writer, strconv.FormatUint(ev.RoundID, 10), ev); err != nil {
			log.Warn("publish ledger event failed", zap.String("event_id", ev.ID), zap.Error(err))
			return
		}
		published.WithLabelValues(string(ev.Kind)).Inc()
	}

	sim := &simulator.Server{
		Ledger: l,
		Oracle: randomness.NewMockOracle([]byte(cfg.OracleSecret), cfg.OracleAutoFulfill),
		Wallet: simulator.NewWallet(),
		Log:    log,
	}
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           sim.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, nil, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("ledger-simulator listening", zap.String("addr", srv.Addr),
			zap.Bool("oracle_auto_fulfill", cfg.OracleAutoFulfill))
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
	if err := g.Wait(); err != nil {
		log.Error("ledger-simulator stopped with error", zap.Error(err))
	}
}
