// Package router configures the HTTP API of the predictor.
//
// Routes configured:
//   - GET  /             - Service metadata (name, version, endpoints)
//   - GET  /health       - Readiness: 200 when a model is served, 503 otherwise
//   - GET  /healthz      - Liveness (always 200 OK)
//   - POST /predict      - Downtime estimate for one feature vector
//   - GET  /simulate     - In-process synthetic load (?mode=random|stress&count=N)
//   - POST /feedback     - Accuracy of a measured migration against its prediction
//   - POST /admin/reload - Reload the model artifact from storage
//   - GET  /metrics      - Prometheus metrics
//
// Validation failures return 400 with field-level detail, an unloaded model
// returns 503 and any other failure a generic 500.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/vmpredict/cmd/predictor/metrics"
	"github.com/HatiCode/vmpredict/pkg/features"
	"github.com/HatiCode/vmpredict/pkg/httpx"
	"github.com/HatiCode/vmpredict/pkg/predictor"
	"github.com/HatiCode/vmpredict/pkg/service"
)

// ServiceName is reported by GET /.
const ServiceName = "vm-migration-predictor"

// MaxBodyBytes limits the size of request bodies.
const MaxBodyBytes = 64 << 10

const (
	simulateTimeout = 10 * time.Second
	reloadTimeout   = 30 * time.Second
)

var endpoints = []string{
	"GET /",
	"GET /health",
	"GET /healthz",
	"POST /predict",
	"GET /simulate",
	"POST /feedback",
	"POST /admin/reload",
	"GET /metrics",
}

// SetupRoutes configures HTTP endpoints for the predictor. Every route except
// /healthz and /metrics is counted in api_requests_total.
func SetupRoutes(svc *service.Service, m *metrics.Metrics, gatherer prometheus.Gatherer, version string, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	handle := func(pattern, name string, h http.HandlerFunc) {
		mux.Handle(pattern, m.InstrumentHandler(name, h))
	}

	handle("GET /{$}", "root", handleRoot(version))
	handle("GET /health", "health", handleHealth(svc, logger))
	handle("POST /predict", "predict", handlePredict(svc, logger))
	handle("GET /simulate", "simulate", handleSimulate(svc, logger))
	handle("POST /feedback", "feedback", handleFeedback(svc, logger))
	handle("POST /admin/reload", "reload", handleReload(svc, logger))

	mux.Handle("GET /healthz", httpx.HealthHandler())
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return mux
}

func handleRoot(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"name":      ServiceName,
			"version":   version,
			"endpoints": endpoints,
		})
	}
}

func handleHealth(svc *service.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		if svc.State() != service.Ready {
			status = http.StatusServiceUnavailable
		}
		if err := httpx.WriteJSON(w, status, svc.Health()); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

func handlePredict(svc *service.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := readBody(w, r)
		if !ok {
			return
		}

		res, err := svc.Predict(raw)
		if err != nil {
			writeServiceError(w, err, logger)
			return
		}

		if err := httpx.WriteJSON(w, http.StatusOK, res); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

func handleSimulate(svc *service.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		req := service.SimulateRequest{Mode: q.Get("mode")}

		if c := q.Get("count"); c != "" {
			n, err := strconv.Atoi(c)
			if err != nil {
				httpx.WriteErrorMessage(w, http.StatusBadRequest, "count must be an integer")
				return
			}
			req.Count = n
		}

		ctx, cancel := context.WithTimeout(r.Context(), simulateTimeout)
		defer cancel()

		sum, err := svc.Simulate(ctx, req)
		if err != nil {
			writeServiceError(w, err, logger)
			return
		}

		if err := httpx.WriteJSON(w, http.StatusOK, sum); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

func handleFeedback(svc *service.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := readBody(w, r)
		if !ok {
			return
		}

		var fb service.Feedback
		if err := json.Unmarshal(raw, &fb); err != nil {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		acc, err := svc.RecordFeedback(fb)
		if err != nil {
			writeServiceError(w, err, logger)
			return
		}

		if err := httpx.WriteJSON(w, http.StatusOK, map[string]float64{"accuracy": acc}); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

func handleReload(svc *service.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), reloadTimeout)
		defer cancel()

		if err := svc.Reload(ctx); err != nil {
			logger.Warn("reload requested but failed", "error", err)
			httpx.WriteErrorFields(w, http.StatusServiceUnavailable, "reload failed", svc.Health())
			return
		}

		if err := httpx.WriteJSON(w, http.StatusOK, svc.Health()); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// readBody reads a size-limited request body, writing the error response itself.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.WriteErrorMessage(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		httpx.WriteErrorMessage(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	return raw, true
}

// writeServiceError maps service errors to HTTP responses.
func writeServiceError(w http.ResponseWriter, err error, logger *slog.Logger) {
	var verr *features.ValidationError
	switch {
	case errors.As(err, &verr):
		httpx.WriteErrorFields(w, http.StatusBadRequest, "invalid input", verr.Fields)
	case errors.Is(err, predictor.ErrModelNotFound):
		httpx.WriteErrorMessage(w, http.StatusServiceUnavailable, "model not loaded")
	case errors.Is(err, service.ErrInvalidSimulation), errors.Is(err, service.ErrInvalidFeedback):
		httpx.WriteError(w, http.StatusBadRequest, err)
	default:
		logger.Error("request failed", "error", err)
		httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
	}
}
