package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/HatiCode/vmpredict/pkg/features"
	"github.com/HatiCode/vmpredict/pkg/httpx"
	"github.com/HatiCode/vmpredict/pkg/models"
	"github.com/HatiCode/vmpredict/pkg/storage"
	vmtls "github.com/HatiCode/vmpredict/pkg/tls"
)

// config holds the trainer settings.
type config struct {
	Samples        int
	Seed           uint64
	TestSplit      float64
	Estimators     int
	MaxDepth       int
	MinSamplesLeaf int
	Monotone       bool
	DataFile       string

	Storage       string
	ModelPath     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ReloadURL     string
	ReloadTimeout time.Duration
	TLS           vmtls.Config

	LogLevel  string
	LogFormat string
}

func parseFlags(args []string) (*config, error) {
	cfg := &config{}
	fs := flag.NewFlagSet("trainer", flag.ContinueOnError)

	fs.IntVar(&cfg.Samples, "samples", getEnvInt("SAMPLES", 1000), "Number of synthetic training samples")
	seed := fs.Int("seed", getEnvInt("SEED", 42), "Random seed for data generation, split and bagging")
	fs.Float64Var(&cfg.TestSplit, "test-split", getEnvFloat("TEST_SPLIT", 0.2), "Held-out fraction, in (0,1)")
	fs.IntVar(&cfg.Estimators, "estimators", getEnvInt("ESTIMATORS", 100), "Number of trees")
	fs.IntVar(&cfg.MaxDepth, "max-depth", getEnvInt("MAX_DEPTH", 0), "Maximum tree depth (0 = unlimited)")
	fs.IntVar(&cfg.MinSamplesLeaf, "min-samples-leaf", getEnvInt("MIN_SAMPLES_LEAF", 1), "Minimum samples per leaf")
	fs.BoolVar(&cfg.Monotone, "monotone", getEnvBool("MONOTONE", true), "Constrain downtime to be non-decreasing in every feature")
	fs.StringVar(&cfg.DataFile, "data", getEnv("DATA", ""), "Historical CSV file (empty = synthetic data)")

	fs.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "file"), "Artifact storage: file or redis")
	fs.StringVar(&cfg.ModelPath, "model-path", getEnv("MODEL_PATH", "/app/model/model.json"), "Model artifact path (storage=file)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	fs.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")

	fs.StringVar(&cfg.ReloadURL, "reload-url", getEnv("RELOAD_URL", ""), "Predictor reload endpoint to POST after saving")
	fs.DurationVar(&cfg.ReloadTimeout, "reload-timeout", getEnvDuration("RELOAD_TIMEOUT", 30*time.Second), "Total time allowed for the reload call")
	fs.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Use TLS for the reload call")
	fs.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "TLS client certificate file")
	fs.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "TLS client private key file")
	fs.StringVar(&cfg.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", ""), "TLS CA certificate file")

	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *seed < 0 {
		fmt.Fprintln(fs.Output(), "Error: -seed must not be negative")
		return nil, errors.New("negative seed")
	}
	cfg.Seed = uint64(*seed)
	return cfg, nil
}

func (c *config) modelConfig() models.Config {
	return models.Config{
		NEstimators:    c.Estimators,
		TestSplit:      c.TestSplit,
		Seed:           c.Seed,
		MaxDepth:       c.MaxDepth,
		MinSamplesLeaf: c.MinSamplesLeaf,
		Monotone:       c.Monotone,
	}
}

func run(ctx context.Context, cfg *config, logger *slog.Logger) error {
	mcfg := cfg.modelConfig()
	if err := mcfg.Validate(); err != nil {
		return err
	}

	set, source, err := loadTrainingSet(cfg)
	if err != nil {
		return err
	}
	logger.Info("training set ready", "source", source, "samples", len(set))

	start := time.Now()
	m, err := models.Train(ctx, set, mcfg)
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}

	logger.Info("model trained",
		"model_id", m.ID,
		"train_samples", m.TrainSamples,
		"held_out_samples", m.HeldOutSamples,
		"r2", m.R2,
		"mae_ms", m.MAE,
		"trees", len(m.Trees),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	logImportance(logger, m)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer closer.Close()
	}
	if err := store.Put(ctx, m); err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	logger.Info("model saved", "storage", cfg.Storage, "model_id", m.ID)

	if cfg.ReloadURL == "" {
		return nil
	}
	return requestReload(ctx, cfg, logger)
}

func loadTrainingSet(cfg *config) (models.TrainingSet, string, error) {
	if cfg.DataFile == "" {
		return models.GenerateSynthetic(cfg.Samples, cfg.Seed), "synthetic", nil
	}
	f, err := os.Open(cfg.DataFile)
	if err != nil {
		return nil, "", fmt.Errorf("open training data: %w", err)
	}
	defer f.Close()

	set, err := models.ReadCSV(f)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", cfg.DataFile, err)
	}
	return set, cfg.DataFile, nil
}

// logImportance logs one line per feature in canonical order.
func logImportance(logger *slog.Logger, m *models.FittedModel) {
	for i, name := range features.Names {
		logger.Info("feature importance", "feature", name, "importance", m.FeatureImportance[i])
	}
}

func openStore(cfg *config) (storage.Store, error) {
	switch cfg.Storage {
	case "file":
		s, err := storage.NewFileStore(cfg.ModelPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "redis":
		s, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("invalid storage %q (must be file or redis)", cfg.Storage)
	}
}

// requestReload POSTs to the predictor's reload endpoint, retrying with
// exponential backoff while the predictor is unreachable or answers 5xx.
func requestReload(ctx context.Context, cfg *config, logger *slog.Logger) error {
	client, err := httpx.NewClient(cfg.TLS, 5*time.Second)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ReloadTimeout)
	defer cancel()

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.ReloadURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			return nil
		case resp.StatusCode >= 500:
			return fmt.Errorf("reload: status %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("reload: status %d", resp.StatusCode))
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	notify := func(err error, wait time.Duration) {
		logger.Warn("reload request failed, retrying", "error", err, "retry_in", wait)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return fmt.Errorf("request reload: %w", err)
	}

	logger.Info("predictor reloaded", "url", cfg.ReloadURL)
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
