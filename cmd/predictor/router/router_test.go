package router

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/HatiCode/vmpredict/cmd/predictor/metrics"
	"github.com/HatiCode/vmpredict/pkg/features"
	"github.com/HatiCode/vmpredict/pkg/models"
	"github.com/HatiCode/vmpredict/pkg/service"
	"github.com/HatiCode/vmpredict/pkg/storage"
)

type fixture struct {
	mux     *http.ServeMux
	svc     *service.Service
	store   *storage.MemoryStore
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, withModel bool) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	store := storage.NewMemoryStore()

	svc := service.New(store, service.Options{
		Recorder: m,
		Bounds:   features.Bounds{MaxNetworkBandwidth: 10000},
	}, logger)

	if withModel {
		cfg := models.DefaultConfig()
		cfg.NEstimators = 10
		fitted, err := models.Train(context.Background(), models.GenerateSynthetic(200, 42), cfg)
		if err != nil {
			t.Fatalf("train: %v", err)
		}
		if err := store.Put(context.Background(), fitted); err != nil {
			t.Fatal(err)
		}
		if err := svc.Reload(context.Background()); err != nil {
			t.Fatal(err)
		}
	} else {
		_ = svc.Reload(context.Background())
	}

	return &fixture{
		mux:     SetupRoutes(svc, m, reg, "test", logger),
		svc:     svc,
		store:   store,
		metrics: m,
	}
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

const validPayload = `{"cpu_load":75.5,"memory_usage":68.2,"disk_io":45.8,"network_bandwidth":850.0}`

func TestRoot(t *testing.T) {
	f := newFixture(t, false)
	w := f.do(http.MethodGet, "/", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decode(t, w)
	if body["name"] != ServiceName || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}

	if w := f.do(http.MethodGet, "/unknown", ""); w.Code != http.StatusNotFound {
		t.Errorf("GET /unknown status = %d, want 404", w.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Errorf("/healthz = %d %q, want 200 OK", w.Code, w.Body.String())
	}

	w = f.do(http.MethodGet, "/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("/health status = %d, want 503", w.Code)
	}
	if body := decode(t, w); body["status"] != "degraded" {
		t.Errorf("/health status field = %v, want degraded", body["status"])
	}

	ready := newFixture(t, true)
	w = ready.do(http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("/health status = %d, want 200", w.Code)
	}
	body := decode(t, w)
	if body["status"] != "ok" || body["model_loaded"] != true {
		t.Errorf("/health body = %v", body)
	}
}

func TestPredict_Success(t *testing.T) {
	f := newFixture(t, true)
	w := f.do(http.MethodPost, "/predict", validPayload)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["status"] != "success" {
		t.Errorf("status = %v, want success", body["status"])
	}
	downtime, _ := body["predicted_downtime"].(float64)
	if downtime <= 0 {
		t.Errorf("predicted_downtime = %v, want > 0", body["predicted_downtime"])
	}
	conf, _ := body["confidence"].(float64)
	if conf < 0 || conf > 1 {
		t.Errorf("confidence = %v, want within [0,1]", conf)
	}

	if got := testutil.ToFloat64(f.metrics.PredictionsTotal.WithLabelValues(service.OutcomeSuccess)); got != 1 {
		t.Errorf("predictions success = %v, want 1", got)
	}
	if got := testutil.ToFloat64(f.metrics.APIRequestsTotal.WithLabelValues("predict", "200", "post")); got != 1 {
		t.Errorf("api_requests_total = %v, want 1", got)
	}
}

func TestPredict_Errors(t *testing.T) {
	tests := []struct {
		name       string
		withModel  bool
		body       string
		wantStatus int
		wantError  string
		wantField  string
	}{
		{
			name:       "out of range",
			withModel:  true,
			body:       `{"cpu_load":101,"memory_usage":68.2,"disk_io":45.8,"network_bandwidth":850}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid input",
			wantField:  features.CPULoad,
		},
		{
			name:       "missing field",
			withModel:  true,
			body:       `{"cpu_load":10,"memory_usage":68.2,"disk_io":45.8}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid input",
			wantField:  features.NetworkBandwidth,
		},
		{
			name:       "malformed JSON",
			withModel:  true,
			body:       `{"cpu_load":`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid input",
			wantField:  "body",
		},
		{
			name:       "no model",
			body:       validPayload,
			wantStatus: http.StatusServiceUnavailable,
			wantError:  "model not loaded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.withModel)
			w := f.do(http.MethodPost, "/predict", tt.body)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			body := decode(t, w)
			if body["error"] != tt.wantError {
				t.Errorf("error = %v, want %q", body["error"], tt.wantError)
			}
			if tt.wantField == "" {
				return
			}
			fields, _ := body["fields"].([]any)
			if len(fields) == 0 {
				t.Fatalf("fields missing in %v", body)
			}
			first, _ := fields[0].(map[string]any)
			if first["field"] != tt.wantField {
				t.Errorf("field = %v, want %q", first["field"], tt.wantField)
			}
		})
	}
}

func TestPredict_BodyTooLarge(t *testing.T) {
	f := newFixture(t, true)
	body := `{"pad":"` + strings.Repeat("x", MaxBodyBytes) + `"}`

	if w := f.do(http.MethodPost, "/predict", body); w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
}

func TestPredict_MethodNotAllowed(t *testing.T) {
	f := newFixture(t, true)
	if w := f.do(http.MethodGet, "/predict", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestSimulate(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(http.MethodGet, "/simulate?mode=stress&count=3", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["mode"] != "stress" || body["count"] != float64(3) {
		t.Errorf("body = %v", body)
	}
	if results, _ := body["results"].([]any); len(results) != 3 {
		t.Errorf("results = %d, want 3", len(results))
	}

	for _, target := range []string{"/simulate?count=abc", "/simulate?mode=chaos", "/simulate?count=-2"} {
		if w := f.do(http.MethodGet, target, ""); w.Code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", target, w.Code)
		}
	}

	degraded := newFixture(t, false)
	if w := degraded.do(http.MethodGet, "/simulate", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("degraded /simulate status = %d, want 503", w.Code)
	}
}

func TestFeedback(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(http.MethodPost, "/feedback", `{"predicted_downtime":120,"actual_downtime":150}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if body := decode(t, w); body["accuracy"] != float64(80) {
		t.Errorf("accuracy = %v, want 80", body["accuracy"])
	}
	if got := testutil.ToFloat64(f.metrics.Accuracy); got != 80 {
		t.Errorf("accuracy gauge = %v, want 80", got)
	}

	for _, body := range []string{`{"predicted_downtime":0,"actual_downtime":1}`, `not json`} {
		if w := f.do(http.MethodPost, "/feedback", body); w.Code != http.StatusBadRequest {
			t.Errorf("POST /feedback %s status = %d, want 400", body, w.Code)
		}
	}
}

func TestAdminReload(t *testing.T) {
	f := newFixture(t, false)

	if w := f.do(http.MethodPost, "/admin/reload", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("reload with empty store status = %d, want 503", w.Code)
	}

	cfg := models.DefaultConfig()
	cfg.NEstimators = 5
	m, err := models.Train(context.Background(), models.GenerateSynthetic(100, 3), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.store.Put(context.Background(), m); err != nil {
		t.Fatal(err)
	}

	w := f.do(http.MethodPost, "/admin/reload", "")
	if w.Code != http.StatusOK {
		t.Fatalf("reload status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if body := decode(t, w); body["model_id"] != m.ID {
		t.Errorf("model_id = %v, want %s", body["model_id"], m.ID)
	}
	if w := f.do(http.MethodPost, "/predict", validPayload); w.Code != http.StatusOK {
		t.Errorf("predict after reload status = %d, want 200", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, true)
	f.do(http.MethodPost, "/predict", validPayload)
	f.do(http.MethodPost, "/predict", `{}`)

	w := f.do(http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	text := w.Body.String()
	for _, want := range []string{
		`vm_migration_predictions_total{outcome="success"} 1`,
		`vm_migration_predictions_total{outcome="validation_error"} 1`,
		"vm_migration_predicted_downtime_ms_count 1",
		"vm_migration_model_ready 1",
		`api_requests_total{code="400",handler="predict",method="post"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
