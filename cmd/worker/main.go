// Command worker drains the raw-reading queue: validates, writes,
// detects anomalies, and republishes breaches to the broadcast exchange.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/airmesh/aqpipeline/internal/anomaly"
	"github.com/airmesh/aqpipeline/internal/broker"
	"github.com/airmesh/aqpipeline/internal/core/config"
	"github.com/airmesh/aqpipeline/internal/core/observability"
	"github.com/airmesh/aqpipeline/internal/logger"
	"github.com/airmesh/aqpipeline/internal/store"
	"github.com/airmesh/aqpipeline/internal/worker"
)

func main() {
	cfg := config.FromEnv()
	zlog := logger.Build(logger.Config{Level: cfg.LogLevel, Component: "worker"}, os.Stdout)

	observability.Init(prometheus.DefaultRegisterer, cfg.MetricsEnabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancelDial := context.WithTimeout(ctx, 15*time.Second)
	influxStore, err := store.NewInfluxStore(dialCtx, cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket, zlog,
		store.WithStoragePrecision(cfg.GeohashPrecisionStorage),
		store.WithHTTPTimeout(cfg.InfluxHTTPTimeout))
	cancelDial()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to connect to influxdb")
	}
	defer influxStore.Close()

	pool, err := broker.New(ctx, cfg.AMQPUrl(), broker.WithPoolSize(cfg.BrokerPoolSize))
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to connect to rabbitmq")
	}
	defer pool.Close()

	ch, err := pool.Checkout()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to open channel for topology setup")
	}
	topology := broker.Topology{QueueRaw: cfg.QueueRaw, ExchangeBroadcast: cfg.ExchangeBroadcast}
	if err := broker.Declare(ch, topology); err != nil {
		zlog.Fatal().Err(err).Msg("failed to declare broker topology")
	}
	pool.Checkin(ch)

	pub := broker.NewPublisher(pool, broker.WithMaxRetries(cfg.BrokerMaxRetries), broker.WithRetryDelay(cfg.BrokerRetryDelay))

	evaluator := anomaly.NewEvaluator(anomaly.Thresholds{
		PM25: cfg.ThresholdPM25,
		PM10: cfg.ThresholdPM10,
		NO2:  cfg.ThresholdNO2,
		SO2:  cfg.ThresholdSO2,
		O3:   cfg.ThresholdO3,
	})

	w := worker.New(pool, influxStore, pub, evaluator, worker.Config{
		QueueRaw:          cfg.QueueRaw,
		ExchangeBroadcast: cfg.ExchangeBroadcast,
		StoragePrecision:  cfg.GeohashPrecisionStorage,
		Prefetch:          cfg.WorkerPrefetch,
	}, zlog)

	zlog.Info().Str("queue", cfg.QueueRaw).Int("prefetch", cfg.WorkerPrefetch).Msg("worker starting")
	if err := w.Start(ctx); err != nil {
		zlog.Error().Err(err).Msg("worker stopped with error")
		os.Exit(1)
	}
	zlog.Info().Msg("worker stopped")
}
