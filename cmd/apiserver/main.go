// Command apiserver runs the ingestion HTTP endpoint, the spatial
// query endpoints, and the per-replica websocket anomaly fanout.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/airmesh/aqpipeline/internal/api"
	"github.com/airmesh/aqpipeline/internal/broadcast"
	"github.com/airmesh/aqpipeline/internal/broker"
	"github.com/airmesh/aqpipeline/internal/core/config"
	"github.com/airmesh/aqpipeline/internal/core/health"
	"github.com/airmesh/aqpipeline/internal/core/observability"
	"github.com/airmesh/aqpipeline/internal/core/server"
	"github.com/airmesh/aqpipeline/internal/ingest"
	"github.com/airmesh/aqpipeline/internal/logger"
	"github.com/airmesh/aqpipeline/internal/store"
	"github.com/airmesh/aqpipeline/internal/wshub"
)

func main() {
	cfg := config.FromEnv()
	zlog := logger.Build(logger.Config{Level: cfg.LogLevel, Component: "apiserver"}, os.Stdout)
	slogger := logger.NewSlog(&zlog)

	observability.Init(prometheus.DefaultRegisterer, cfg.MetricsEnabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancelDial := context.WithTimeout(ctx, 15*time.Second)
	influxStore, err := store.NewInfluxStore(dialCtx, cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket, zlog,
		store.WithStoragePrecision(cfg.GeohashPrecisionStorage),
		store.WithHTTPTimeout(cfg.InfluxHTTPTimeout))
	cancelDial()
	if err != nil {
		slogger.Error("failed to connect to influxdb", "err", err)
		os.Exit(1)
	}
	defer influxStore.Close()

	pool, err := broker.New(ctx, cfg.AMQPUrl(), broker.WithPoolSize(cfg.BrokerPoolSize))
	if err != nil {
		slogger.Error("failed to connect to rabbitmq", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	ch, err := pool.Checkout()
	if err != nil {
		slogger.Error("failed to open channel for topology setup", "err", err)
		os.Exit(1)
	}
	topology := broker.Topology{QueueRaw: cfg.QueueRaw, ExchangeBroadcast: cfg.ExchangeBroadcast}
	if err := broker.Declare(ch, topology); err != nil {
		slogger.Error("failed to declare broker topology", "err", err)
		os.Exit(1)
	}
	pool.Checkin(ch)

	pub := broker.NewPublisher(pool, broker.WithMaxRetries(cfg.BrokerMaxRetries), broker.WithRetryDelay(cfg.BrokerRetryDelay))

	hub := wshub.NewHub(influxStore, zlog)
	consumer := broadcast.New(pool, cfg.ExchangeBroadcast, hub, zlog)
	go func() {
		if err := consumer.Start(ctx); err != nil {
			zlog.Error().Err(err).Msg("broadcast consumer stopped")
		}
	}()

	ingestHandler := ingest.NewHandler(zlog, pub, cfg.QueueRaw)
	handlers := api.NewHandlers(influxStore, pub, hub, zlog, cfg.ExchangeBroadcast, cfg.GeohashPrecisionStorage)

	checks := map[string]health.Checker{
		"store":  influxStore,
		"broker": pool,
	}
	router := api.NewRouter(slogger, handlers, ingestHandler, checks)

	if err := server.Run(ctx, cfg.Addr, slogger, router); err != nil {
		slogger.Error("server error", "err", err)
		os.Exit(1)
	}
	slogger.Info("apiserver stopped")
}
