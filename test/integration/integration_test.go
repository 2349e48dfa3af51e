//go:build integration

package integration

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/HatiCode/vmpredict/cmd/predictor/metrics"
	"github.com/HatiCode/vmpredict/cmd/predictor/router"
	"github.com/HatiCode/vmpredict/pkg/features"
	"github.com/HatiCode/vmpredict/pkg/models"
	"github.com/HatiCode/vmpredict/pkg/sampler"
	"github.com/HatiCode/vmpredict/pkg/service"
	"github.com/HatiCode/vmpredict/pkg/simulation"
	"github.com/HatiCode/vmpredict/pkg/storage"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := redis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("Failed to start redis: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("Failed to terminate redis: %v", err)
		}
	})

	endpoint, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get redis endpoint: %v", err)
	}
	return strings.TrimPrefix(endpoint, "redis://")
}

// TestPredictorSimulatorE2E trains a model into Redis, serves it through the
// predictor routes and drives it with the simulation driver.
func TestPredictorSimulatorE2E(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := storage.NewRedisStore(startRedis(t), "", 0)
	if err != nil {
		t.Fatalf("Failed to connect to redis: %v", err)
	}
	defer store.Close()

	// 1. Start the predictor with an empty store: degraded, no model.
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	svc := service.New(store, service.Options{Recorder: m, Bounds: features.DefaultBounds()}, logger)
	if err := svc.Reload(ctx); err == nil {
		t.Fatal("Reload() on empty store expected error")
	}
	if svc.State() != service.Degraded {
		t.Fatalf("state = %v, want degraded", svc.State())
	}

	server := httptest.NewServer(router.SetupRoutes(svc, m, reg, "e2e", logger))
	defer server.Close()

	client := simulation.NewClient(server.URL, nil)
	if _, err := client.Health(ctx); err == nil {
		t.Fatal("Health() on degraded predictor expected error")
	}

	// 2. Train and publish a model, then ask the predictor to reload it.
	cfg := models.DefaultConfig()
	cfg.NEstimators = 20
	fitted, err := models.Train(ctx, models.GenerateSynthetic(500, 42), cfg)
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	if err := store.Put(ctx, fitted); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	resp, err := http.Post(server.URL+"/admin/reload", "application/json", nil)
	if err != nil {
		t.Fatalf("reload request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reload status = %d, want 200", resp.StatusCode)
	}

	health, err := client.WaitReady(ctx, 10*time.Second)
	if err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}
	if health.ModelID != fitted.ID {
		t.Errorf("model_id = %q, want %q", health.ModelID, fitted.ID)
	}

	// 3. Drive the predictor with simulated migrations.
	driver := simulation.NewDriver(client, sampler.NewSynthetic(9), simulation.NewMigrator(9), nil, logger)
	driver.StressPause = 10 * time.Millisecond
	if err := driver.RunStress(ctx); err != nil {
		t.Fatalf("RunStress() error = %v", err)
	}
	if _, err := driver.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	results := driver.Results()
	if len(results) != len(sampler.StressScenarios)+1 {
		t.Fatalf("results = %d, want %d", len(results), len(sampler.StressScenarios)+1)
	}
	for i, r := range results {
		if r.PredictedDowntime <= 0 || r.ActualDowntime <= 0 {
			t.Errorf("result %d downtime = %v/%v", i, r.PredictedDowntime, r.ActualDowntime)
		}
		if r.Accuracy < 0 || r.Accuracy > 100 {
			t.Errorf("result %d accuracy = %v", i, r.Accuracy)
		}
	}

	if got := testutil.ToFloat64(m.PredictionsTotal.WithLabelValues(service.OutcomeSuccess)); got != float64(len(results)) {
		t.Errorf("successful predictions = %v, want %d", got, len(results))
	}
	if got := testutil.CollectAndCount(m.AccuracyPercent); got != 1 {
		t.Errorf("accuracy histogram families = %d, want 1", got)
	}
	if summary, err := simulation.Summarize(results); err != nil || summary.Count != len(results) {
		t.Errorf("Summarize() = %+v, %v", summary, err)
	}
}

// TestRedisStoreLatestWins checks that the predictor follows the latest
// artifact written by another process.
func TestRedisStoreLatestWins(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	addr := startRedis(t)

	writer, err := storage.NewRedisStore(addr, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer writer.Close()
	reader, err := storage.NewRedisStore(addr, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()

	cfg := models.DefaultConfig()
	cfg.NEstimators = 5
	svc := service.New(reader, service.Options{}, logger)

	var lastID string
	for seed := range uint64(2) {
		cfg.Seed = seed + 1
		fitted, err := models.Train(ctx, models.GenerateSynthetic(200, seed+1), cfg)
		if err != nil {
			t.Fatal(err)
		}
		if err := writer.Put(ctx, fitted); err != nil {
			t.Fatal(err)
		}
		if err := svc.Reload(ctx); err != nil {
			t.Fatalf("Reload() error = %v", err)
		}
		lastID = fitted.ID
	}

	if got := svc.Health().ModelID; got != lastID {
		t.Errorf("served model = %q, want latest %q", got, lastID)
	}
}
