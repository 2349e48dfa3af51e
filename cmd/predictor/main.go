// Command predictor serves live-migration downtime predictions.
//
// On startup the predictor loads the latest model artifact written by the
// trainer. Without an artifact it still starts, reports degraded on /health
// and refuses predictions until a reload succeeds. Reloads are explicit:
// POST /admin/reload or SIGHUP.
//
// The predictor serves an HTTP API on port 8001 (configurable) providing:
//   - POST /predict - Downtime estimate for a feature vector
//   - GET /health   - Readiness (200 ok / 503 degraded)
//   - GET /simulate - In-process synthetic load
//   - GET /metrics  - Prometheus metrics
//
// and the standard gRPC health service on :50051, where the service name
// vmpredict.Predictor is SERVING only while a model is loaded.
//
// Usage:
//
//	predictor -model-path=/app/model/model.json
//	predictor -storage=redis -redis-addr=redis:6379
//
// Environment variables:
//
//	LISTEN                - HTTP listen address (default: :8001)
//	GRPC_LISTEN           - gRPC health listen address (default: :50051)
//	STORAGE               - Artifact storage: file or redis (default: file)
//	MODEL_PATH            - Artifact path for storage=file
//	REDIS_ADDR            - Redis address for storage=redis
//	MAX_DISK_IO           - Upper bound for disk_io (default: unbounded)
//	MAX_NETWORK_BANDWIDTH - Upper bound for network_bandwidth (default: unbounded)
//	LOG_LEVEL             - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT            - Logging format: text, json (default: text)
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/HatiCode/vmpredict/cmd/predictor/config"
	"github.com/HatiCode/vmpredict/cmd/predictor/metrics"
	"github.com/HatiCode/vmpredict/cmd/predictor/router"
	"github.com/HatiCode/vmpredict/pkg/features"
	"github.com/HatiCode/vmpredict/pkg/httpx"
	"github.com/HatiCode/vmpredict/pkg/logging"
	"github.com/HatiCode/vmpredict/pkg/service"
	"github.com/HatiCode/vmpredict/pkg/storage"
	vmtls "github.com/HatiCode/vmpredict/pkg/tls"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("starting vm migration predictor",
		"version", version,
		"listen", cfg.Listen,
		"grpc_listen", cfg.GRPCListen,
		"storage", cfg.Storage,
		"tls_enabled", cfg.TLS.Enabled,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("predictor failed", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	store, err := newStore(cfg, logger)
	if err != nil {
		return err
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				logger.Error("failed to close store", "error", err)
			}
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	health := newHealthServer()

	svc := service.New(store, service.Options{
		Bounds: features.Bounds{
			MaxDiskIO:           cfg.MaxDiskIO,
			MaxNetworkBandwidth: cfg.MaxNetworkBandwidth,
		},
		Recorder:      m,
		MaxSimulate:   cfg.MaxSimulate,
		OnStateChange: health.setState,
	}, logger)

	reload := func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.LoadTimeout)
		defer cancel()
		if err := svc.Reload(ctx); err != nil {
			logger.Warn("model not loaded", "error", err)
		}
	}
	reload()

	mux := router.SetupRoutes(svc, m, reg, version, logger)
	handler := httpx.Chain(mux,
		httpx.RecoveryMiddleware(logger),
		httpx.LoggingMiddleware(logger, "/healthz", "/health", "/metrics"),
		httpx.CORSMiddleware(cfg.CORSOrigins...),
	)
	httpServer := httpx.NewServer(cfg.Listen, handler, logger)

	var grpcServer *grpc.Server
	var grpcOpts []grpc.ServerOption
	if cfg.TLS.Enabled {
		tlsConfig, err := vmtls.NewServerTLSConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile)
		if err != nil {
			return err
		}
		httpServer.SetTLSConfig(tlsConfig)
		grpcOpts = append(grpcOpts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}

	var lis net.Listener
	if cfg.GRPCListen != "" {
		lis, err = net.Listen("tcp", cfg.GRPCListen)
		if err != nil {
			return err
		}
		grpcServer = grpc.NewServer(grpcOpts...)
		grpc_health_v1.RegisterHealthServer(grpcServer, health.server)
		reflection.Register(grpcServer)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if cfg.TLS.Enabled {
			return httpServer.StartTLS()
		}
		return httpServer.Start()
	})

	if grpcServer != nil {
		g.Go(func() error {
			logger.Info("grpc server listening", "address", cfg.GRPCListen)
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				logger.Info("received SIGHUP, reloading model")
				reload()
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		health.shutdown()
		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		return httpServer.Stop(cfg.ShutdownTimeout)
	})

	return g.Wait()
}

func newStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Storage {
	case config.StorageRedis:
		logger.Info("using redis artifact storage", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
		s, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		logger.Info("using file artifact storage", "path", cfg.ModelPath)
		s, err := storage.NewFileStore(cfg.ModelPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
