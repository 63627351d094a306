package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/absmach/fedcycle/manager"
	"github.com/absmach/fedcycle/manager/api"
	"github.com/absmach/fedcycle/manager/middleware"
	"github.com/absmach/fedcycle/pkg/eligibility"
	"github.com/absmach/fedcycle/pkg/fl"
	"github.com/absmach/fedcycle/pkg/mqtt"
	"github.com/absmach/fedcycle/pkg/storage"
	"github.com/absmach/supermq/pkg/jaeger"
	"github.com/absmach/supermq/pkg/prometheus"
	"github.com/absmach/supermq/pkg/server"
	httpserver "github.com/absmach/supermq/pkg/server/http"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

const (
	svcName       = "manager"
	defHTTPPort   = "7070"
	envPrefixHTTP = "MANAGER_HTTP_"
	pathEnv       = ".env"
	statusTopic   = "fl/manager/status"
)

type envConfig struct {
	LogLevel      string        `env:"MANAGER_LOG_LEVEL"      envDefault:"info"`
	InstanceID    string        `env:"MANAGER_INSTANCE_ID"`
	MQTT          mqtt.Config   `envPrefix:"MANAGER_MQTT_"`
	SweepSchedule string        `env:"MANAGER_SWEEP_SCHEDULE" envDefault:"@every 5s"`
	PlanTimeout   time.Duration `env:"MANAGER_PLAN_TIMEOUT"   envDefault:"30s"`
	Storage       storage.Config
	OTELURL       url.URL `env:"MANAGER_OTEL_URL"`
	TraceRatio    float64 `env:"MANAGER_TRACE_RATIO" envDefault:"0"`
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg := envConfig{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to load configuration : %s", err.Error())
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Fatalf("failed to parse log level: %s", err.Error())
	}
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	var tp trace.TracerProvider
	switch {
	case cfg.OTELURL == (url.URL{}):
		tp = noop.NewTracerProvider()
	default:
		sdktp, err := jaeger.NewProvider(ctx, svcName, cfg.OTELURL, cfg.InstanceID, cfg.TraceRatio)
		if err != nil {
			logger.Error("failed to initialize opentelemetry", slog.String("error", err.Error()))

			return
		}
		defer func() {
			if err := sdktp.Shutdown(ctx); err != nil {
				logger.Error("error shutting down tracer provider", slog.Any("error", err))
			}
		}()
		tp = sdktp
	}
	tracer := tp.Tracer(svcName)

	repos, err := storage.NewRepositories(cfg.Storage)
	if err != nil {
		logger.Error("failed to initialize storage", slog.String("type", cfg.Storage.Type), slog.String("error", err.Error()))

		return
	}
	if repos.Closer != nil {
		defer repos.Closer.Close()
	}
	logger.Info("storage initialized", slog.String("type", cfg.Storage.Type))

	pubsub := mqtt.NewNoop()
	if cfg.MQTT.Address != "" {
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = svcName + "-" + cfg.InstanceID
		}
		if cfg.MQTT.StatusTopic == "" {
			cfg.MQTT.StatusTopic = statusTopic
		}
		pubsub, err = mqtt.NewPubSub(cfg.MQTT, logger)
		if err != nil {
			logger.Error("failed to initialize mqtt pubsub", slog.String("error", err.Error()))

			return
		}
		defer func() {
			dctx, dcancel := context.WithTimeout(context.Background(), cfg.MQTT.Timeout)
			defer dcancel()
			if err := pubsub.Disconnect(dctx); err != nil {
				logger.Error("failed to disconnect mqtt pubsub", slog.Any("error", err))
			}
		}()
	}

	aggregator := fl.NewWasmAggregator(fl.NewFedAvgAggregator(), cfg.PlanTimeout)
	defer aggregator.Close(context.Background())

	svc := manager.NewService(repos, aggregator, eligibility.Bandwidth(), pubsub, logger)
	svc = middleware.Logging(logger, svc)
	svc = middleware.Tracing(tracer, svc)
	counter, latency := prometheus.MakeMetrics(svcName, "api")
	svc = middleware.Metrics(counter, latency, svc)

	if cfg.MQTT.Address != "" {
		if err := manager.Subscribe(ctx, svc, pubsub, logger); err != nil {
			logger.Error("failed to subscribe to worker topics", slog.String("error", err.Error()))

			return
		}
	}

	sweeper, err := manager.NewSweeper(svc, cfg.SweepSchedule, logger)
	if err != nil {
		logger.Error("failed to initialize cycle sweeper", slog.String("error", err.Error()))

		return
	}

	httpServerConfig := server.Config{Port: defHTTPPort}
	if err := env.ParseWithOptions(&httpServerConfig, env.Options{Prefix: envPrefixHTTP}); err != nil {
		logger.Error(fmt.Sprintf("failed to load %s HTTP server configuration : %s", svcName, err.Error()))

		return
	}

	hs := httpserver.NewServer(ctx, cancel, svcName, httpServerConfig, api.MakeHandler(svc, logger, cfg.InstanceID), logger)

	g.Go(func() error {
		return hs.Start()
	})

	g.Go(func() error {
		err := sweeper.Start(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}

		return err
	})

	g.Go(func() error {
		defer sweeper.Stop()

		return server.StopSignalHandler(ctx, cancel, logger, svcName, hs)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("%s service exited with error: %s", svcName, err))
	}
}
