// Package config provides configuration parsing for the predictor service.
//
// Values come from command-line flags with environment variables as
// fallbacks. The Config struct covers:
//   - Listeners (HTTP address, gRPC health address)
//   - Artifact storage (file path or Redis connection)
//   - Input bounds applied to every prediction request
//   - Logging configuration (level, format)
//   - TLS configuration (cert, key, CA files)
//
// Supported configuration sources (in order of precedence):
//  1. Command-line flags
//  2. Environment variables
//  3. Default values
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/HatiCode/vmpredict/pkg/tls"
)

// Storage backends.
const (
	StorageFile  = "file"
	StorageRedis = "redis"
)

// DefaultModelPath is where the trainer writes and the predictor loads the artifact.
const DefaultModelPath = "/app/model/model.json"

// Config holds all predictor configuration.
type Config struct {
	Listen     string
	GRPCListen string
	LogFormat  string
	LogLevel   string

	Storage       string
	ModelPath     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LoadTimeout   time.Duration

	MaxDiskIO           float64
	MaxNetworkBandwidth float64
	MaxSimulate         int
	CORSOrigins         []string

	ShutdownTimeout time.Duration
	TLS             tls.Config
}

// ParseFlags parses command-line flags and environment variables into a Config.
func ParseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8001"), "HTTP listen address")
	flag.StringVar(&cfg.GRPCListen, "grpc-listen", getEnv("GRPC_LISTEN", ":50051"), "gRPC health listen address (empty disables)")

	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	flag.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", StorageFile), "Artifact storage: file or redis")
	flag.StringVar(&cfg.ModelPath, "model-path", getEnv("MODEL_PATH", DefaultModelPath), "Model artifact path (storage=file)")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	flag.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	flag.DurationVar(&cfg.LoadTimeout, "load-timeout", getEnvDuration("LOAD_TIMEOUT", 10*time.Second), "Timeout of one model load")

	flag.Float64Var(&cfg.MaxDiskIO, "max-disk-io", getEnvFloat("MAX_DISK_IO", 0), "Upper bound for disk_io in MB/s (0 = unbounded)")
	flag.Float64Var(&cfg.MaxNetworkBandwidth, "max-network-bandwidth", getEnvFloat("MAX_NETWORK_BANDWIDTH", 0), "Upper bound for network_bandwidth in Mbps (0 = unbounded)")
	flag.IntVar(&cfg.MaxSimulate, "max-simulate", getEnvInt("MAX_SIMULATE", 100), "Maximum sample count of one /simulate call")
	cors := flag.String("cors-origins", getEnv("CORS_ORIGINS", ""), "Comma-separated allowed CORS origins (* for any)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second), "Graceful shutdown timeout")

	flag.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Enable TLS for HTTP and gRPC servers")
	flag.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "TLS certificate file")
	flag.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "TLS private key file")
	flag.StringVar(&cfg.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", ""), "TLS CA certificate file for client verification")

	flag.Parse()

	cfg.CORSOrigins = splitList(*cors)
	return cfg
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address cannot be empty")
	}

	switch c.Storage {
	case StorageFile:
		if c.ModelPath == "" {
			return errors.New("model-path is required when storage=file")
		}
	case StorageRedis:
		if c.RedisAddr == "" {
			return errors.New("redis-addr is required when storage=redis")
		}
	default:
		return fmt.Errorf("invalid storage %q (must be file or redis)", c.Storage)
	}

	if c.MaxDiskIO < 0 || c.MaxNetworkBandwidth < 0 {
		return errors.New("throughput bounds cannot be negative")
	}
	if c.MaxSimulate <= 0 {
		return errors.New("max-simulate must be > 0")
	}
	if c.LoadTimeout <= 0 {
		return errors.New("load-timeout must be > 0")
	}

	if err := c.TLS.Validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
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
