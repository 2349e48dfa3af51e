package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/HatiCode/vmpredict/pkg/features"
	"github.com/HatiCode/vmpredict/pkg/models"
	"github.com/HatiCode/vmpredict/pkg/predictor"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseFlags_Defaults(t *testing.T) {
	cfg, err := parseFlags(nil)
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if cfg.Samples != 1000 || cfg.Seed != 42 || cfg.TestSplit != 0.2 || cfg.Estimators != 100 {
		t.Errorf("defaults = %+v", cfg)
	}
	if !cfg.Monotone {
		t.Error("Monotone default = false, want true")
	}
	if cfg.Storage != "file" || cfg.ModelPath != "/app/model/model.json" {
		t.Errorf("storage = %q %q", cfg.Storage, cfg.ModelPath)
	}
}

func TestParseFlags_Invalid(t *testing.T) {
	for _, args := range [][]string{{"-seed=-1"}, {"-samples=abc"}, {"-unknown"}} {
		if _, err := parseFlags(args); err == nil {
			t.Errorf("parseFlags(%v) expected error", args)
		}
	}
}

func TestRun_SyntheticToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model", "model.json")
	cfg, err := parseFlags([]string{"-samples=300", "-estimators=10", "-model-path=" + path})
	if err != nil {
		t.Fatal(err)
	}

	if err := run(context.Background(), cfg, testLogger()); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	p, err := predictor.LoadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	m := p.Model()
	if m.TrainSamples != 240 || m.HeldOutSamples != 60 {
		t.Errorf("split = %d/%d, want 240/60", m.TrainSamples, m.HeldOutSamples)
	}
	if !m.Config.Monotone || len(m.Trees) != 10 {
		t.Errorf("config = %+v, trees = %d", m.Config, len(m.Trees))
	}
}

func TestRun_CSV(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "history.csv")

	var b strings.Builder
	b.WriteString("cpu_load,memory_usage,disk_io,network_bandwidth,downtime_ms\n")
	for _, ex := range models.GenerateSynthetic(50, 1) {
		v := ex.Features
		b.WriteString(strings.Join([]string{
			ftoa(v.CPULoad), ftoa(v.MemoryUsage), ftoa(v.DiskIO), ftoa(v.NetworkBandwidth), ftoa(ex.DowntimeMs),
		}, ",") + "\n")
	}
	if err := os.WriteFile(data, []byte(b.String()), 0o600); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "model.json")
	cfg, _ := parseFlags([]string{"-data=" + data, "-estimators=5", "-model-path=" + path})
	if err := run(context.Background(), cfg, testLogger()); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("artifact not written: %v", err)
	}
}

func TestRun_InsufficientData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	cfg, _ := parseFlags([]string{"-samples=5", "-model-path=" + path})

	err := run(context.Background(), cfg, testLogger())
	if !errors.Is(err, models.ErrInsufficientData) {
		t.Fatalf("run() error = %v, want ErrInsufficientData", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("artifact written despite training failure")
	}

	if code := mainExit([]string{"-samples=5", "-model-path=" + path, "-log-level=error"}); code != exitInsufficientData {
		t.Errorf("mainExit() = %d, want %d", code, exitInsufficientData)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg, _ := parseFlags([]string{"-test-split=1.5", "-model-path=" + filepath.Join(t.TempDir(), "m.json")})
	if err := run(context.Background(), cfg, testLogger()); err == nil {
		t.Error("run() with test-split 1.5 expected error")
	}

	cfg, _ = parseFlags([]string{"-storage=s3", "-samples=50", "-estimators=2"})
	if err := run(context.Background(), cfg, testLogger()); err == nil || !strings.Contains(err.Error(), "invalid storage") {
		t.Errorf("run() error = %v, want invalid storage", err)
	}
}

func TestRun_RequestsReload(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/admin/reload" {
			http.NotFound(w, r)
			return
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg, _ := parseFlags([]string{
		"-samples=100",
		"-estimators=3",
		"-model-path=" + filepath.Join(t.TempDir(), "model.json"),
		"-reload-url=" + server.URL + "/admin/reload",
	})
	if err := run(context.Background(), cfg, testLogger()); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("reload calls = %d, want 2 (one retry)", got)
	}
}

func TestRun_ReloadRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cfg, _ := parseFlags([]string{
		"-samples=100",
		"-estimators=3",
		"-model-path=" + filepath.Join(t.TempDir(), "model.json"),
		"-reload-url=" + server.URL,
	})
	if err := run(context.Background(), cfg, testLogger()); err == nil {
		t.Error("run() expected error for rejected reload")
	}
}

func TestLogImportance_CanonicalOrder(t *testing.T) {
	m := &models.FittedModel{FeatureImportance: [features.NumFeatures]float64{0.4, 0.3, 0.2, 0.1}}

	for range 20 {
		var buf bytes.Buffer
		logImportance(slog.New(slog.NewTextHandler(&buf, nil)), m)

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != features.NumFeatures {
			t.Fatalf("logged %d lines, want %d:\n%s", len(lines), features.NumFeatures, buf.String())
		}
		for i, name := range features.Names {
			if !strings.Contains(lines[i], "feature="+name+" ") {
				t.Fatalf("line %d = %q, want feature %s", i, lines[i], name)
			}
		}
	}
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
