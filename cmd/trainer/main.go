// Command trainer fits the downtime model and persists the artifact that
// the predictor serves.
//
// Training data is either generated synthetically (default) or read from a
// CSV file of historical migrations with the header
//
//	cpu_load,memory_usage,disk_io,network_bandwidth,downtime_ms
//
// The artifact carries the held-out R² used as prediction confidence. With
// -reload-url set, the trainer asks a running predictor to load the new
// artifact once it is stored.
//
// Usage:
//
//	trainer -samples=1000 -seed=42 -model-path=/app/model/model.json
//	trainer -data=history.csv -storage=redis -redis-addr=redis:6379
//	trainer -reload-url=http://predictor:8001/admin/reload
//
// Environment variables:
//
//	SAMPLES      - Synthetic sample count (default: 1000)
//	SEED         - Random seed (default: 42)
//	DATA         - Historical CSV file (default: synthetic data)
//	STORAGE      - Artifact storage: file or redis (default: file)
//	MODEL_PATH   - Artifact path for storage=file
//	REDIS_ADDR   - Redis address for storage=redis
//	RELOAD_URL   - Predictor reload endpoint to call after saving
//	LOG_LEVEL    - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT   - Logging format: text, json (default: text)
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/HatiCode/vmpredict/pkg/logging"
	"github.com/HatiCode/vmpredict/pkg/models"
)

// Exit codes.
const (
	exitOK = iota
	exitFailure
	exitInsufficientData
	exitUsage
)

func main() {
	os.Exit(mainExit(os.Args[1:]))
}

func mainExit(args []string) int {
	cfg, err := parseFlags(args)
	if err != nil {
		return exitUsage
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("training failed", "error", err)
		if errors.Is(err, models.ErrInsufficientData) {
			return exitInsufficientData
		}
		return exitFailure
	}
	return exitOK
}
