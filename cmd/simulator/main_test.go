package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

type fakeAPI struct {
	predicts  atomic.Int32
	feedbacks atomic.Int32
}

func (f *fakeAPI) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok","model_loaded":true,"model_id":"m1","confidence":0.9}`))
	})
	mux.HandleFunc("POST /predict", func(w http.ResponseWriter, r *http.Request) {
		f.predicts.Add(1)
		w.Write([]byte(`{"predicted_downtime":200,"confidence":0.9,"status":"success"}`))
	})
	mux.HandleFunc("POST /feedback", func(w http.ResponseWriter, r *http.Request) {
		f.feedbacks.Add(1)
		w.Write([]byte(`{"accuracy":90}`))
	})
	s := httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func readResults(t *testing.T, dir string) []map[string]any {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "simulation_results_*.json"))
	if err != nil || len(files) != 1 {
		t.Fatalf("result files = %v, %v", files, err)
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatal(err)
	}
	var results []map[string]any
	if err := json.Unmarshal(data, &results); err != nil {
		t.Fatal(err)
	}
	return results
}

func TestSingle(t *testing.T) {
	api := &fakeAPI{}
	server := api.server(t)
	dir := t.TempDir()

	out, err := runCmd(t, "single",
		"--api-url", server.URL,
		"--results-dir", dir,
		"--metrics-listen", "",
		"--seed", "7",
		"--log-level", "error",
	)
	if err != nil {
		t.Fatalf("single error = %v", err)
	}
	if !strings.Contains(out, "Total Simulations:          1") {
		t.Errorf("output missing summary:\n%s", out)
	}
	if api.predicts.Load() != 1 || api.feedbacks.Load() != 1 {
		t.Errorf("predicts = %d, feedbacks = %d", api.predicts.Load(), api.feedbacks.Load())
	}

	results := readResults(t, dir)
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	for _, key := range []string{"timestamp", "metrics", "predicted_downtime", "actual_downtime", "accuracy", "confidence"} {
		if _, ok := results[0][key]; !ok {
			t.Errorf("result missing %q", key)
		}
	}
}

func TestStress(t *testing.T) {
	api := &fakeAPI{}
	server := api.server(t)
	dir := t.TempDir()

	if _, err := runCmd(t, "stress",
		"--api-url", server.URL,
		"--results-dir", dir,
		"--metrics-listen", "",
		"--pause", "1ms",
		"--log-level", "error",
	); err != nil {
		t.Fatalf("stress error = %v", err)
	}
	if got := len(readResults(t, dir)); got != 3 {
		t.Errorf("results = %d, want 3", got)
	}
}

func TestInvalidSampler(t *testing.T) {
	_, err := runCmd(t, "single", "--sampler", "dice", "--metrics-listen", "")
	if err == nil || !strings.Contains(err.Error(), "invalid sampler") {
		t.Errorf("error = %v, want invalid sampler", err)
	}
}

func TestPredictorUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"degraded","model_loaded":false}`))
	}))
	defer server.Close()

	_, err := runCmd(t, "single", "--api-url", server.URL, "--wait", "300ms", "--metrics-listen", "", "--log-level", "error")
	if err == nil || !strings.Contains(err.Error(), "not ready") {
		t.Errorf("error = %v, want not ready", err)
	}
}
