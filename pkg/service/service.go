// Package service implements the prediction service core.
//
// A Service owns the one shared, read-only Predictor and exposes the
// request-level operations served by cmd/predictor:
//
//	Health  → O(1) state snapshot, never blocks on reloads
//	Predict → validate → predictor.Predict → record outcome
//	Simulate → bounded in-process synthetic load through Predict
//	RecordFeedback → accuracy of a measured migration vs. its prediction
//
// The model reference lives in an atomic.Pointer. Predict loads it without
// locking; Reload and Install serialize on a mutex, load the new artifact
// completely and then swap the pointer, so in-flight predictions see either
// the old or the new model.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HatiCode/vmpredict/pkg/features"
	"github.com/HatiCode/vmpredict/pkg/models"
	"github.com/HatiCode/vmpredict/pkg/predictor"
	"github.com/HatiCode/vmpredict/pkg/storage"
)

// State is the lifecycle state of a Service.
type State int32

const (
	Uninitialized State = iota
	Ready
	Degraded
)

// String returns the wire form reported by /health.
func (s State) String() string {
	switch s {
	case Ready:
		return "ok"
	case Degraded:
		return "degraded"
	default:
		return "uninitialized"
	}
}

// Prediction outcomes, used as the outcome label of the request counter.
const (
	OutcomeSuccess         = "success"
	OutcomeValidationError = "validation_error"
	OutcomeModelError      = "model_error"
)

// Reload results.
const (
	ReloadSuccess = "success"
	ReloadFailure = "failure"
)

// Recorder receives the observability events of a Service.
// Implementations must be safe for concurrent use.
type Recorder interface {
	// RecordPrediction is called exactly once per Predict call. downtimeMs is
	// zero unless outcome is OutcomeSuccess.
	RecordPrediction(outcome string, downtimeMs float64, duration time.Duration)
	// RecordReload is called once per Reload or Install attempt.
	RecordReload(result string)
	// SetModel reports the currently served model.
	SetModel(ready bool, confidence float64)
	// RecordAccuracy reports the accuracy of one feedback, in percent.
	RecordAccuracy(percent float64)
}

type nopRecorder struct{}

func (nopRecorder) RecordPrediction(string, float64, time.Duration) {}
func (nopRecorder) RecordReload(string)                             {}
func (nopRecorder) SetModel(bool, float64)                          {}
func (nopRecorder) RecordAccuracy(float64)                          {}

// DefaultMaxSimulate caps the sample count of a single Simulate call.
const DefaultMaxSimulate = 100

// Options configures a Service. The zero value is usable.
type Options struct {
	// Bounds are applied to every incoming feature vector.
	Bounds features.Bounds
	// Recorder receives metric events; nil disables recording.
	Recorder Recorder
	// MaxSimulate caps Simulate counts (default DefaultMaxSimulate).
	MaxSimulate int
	// OnStateChange is called after every state transition, outside the reload lock.
	OnStateChange func(State)
}

// Service is safe for concurrent use.
type Service struct {
	store       storage.Store
	bounds      features.Bounds
	recorder    Recorder
	maxSimulate int
	onState     func(State)
	logger      *slog.Logger

	current atomic.Pointer[predictor.Predictor]
	state   atomic.Int32

	reloadMu sync.Mutex
	lastErr  atomic.Pointer[string]
}

// New creates a Service in the Uninitialized state. No model is loaded until
// Reload or Install succeeds. store may be nil when models are only installed.
func New(store storage.Store, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.MaxSimulate <= 0 {
		opts.MaxSimulate = DefaultMaxSimulate
	}

	s := &Service{
		store:       store,
		bounds:      opts.Bounds,
		recorder:    opts.Recorder,
		maxSimulate: opts.MaxSimulate,
		onState:     opts.OnStateChange,
		logger:      logger,
	}
	s.recorder.SetModel(false, 0)
	return s
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	return State(s.state.Load())
}

// Reload loads the latest artifact from the store and swaps it in.
//
// On failure the service enters Degraded if it has no model; a previously
// loaded model keeps serving and the service stays Ready. The error is
// returned in both cases.
func (s *Service) Reload(ctx context.Context) error {
	if s.store == nil {
		return s.fail(fmt.Errorf("%w: no artifact store configured", predictor.ErrModelNotFound))
	}

	s.reloadMu.Lock()
	p, err := predictor.Load(ctx, s.store)
	if err != nil {
		s.reloadMu.Unlock()
		return s.fail(err)
	}
	prev := s.swap(p)
	s.reloadMu.Unlock()

	s.loaded(p, prev)
	return nil
}

// Install swaps in an already fitted model without going through the store.
func (s *Service) Install(m *models.FittedModel) error {
	p, err := predictor.New(m)
	if err != nil {
		return s.fail(err)
	}

	s.reloadMu.Lock()
	prev := s.swap(p)
	s.reloadMu.Unlock()

	s.loaded(p, prev)
	return nil
}

// swap must be called with reloadMu held.
func (s *Service) swap(p *predictor.Predictor) State {
	s.current.Store(p)
	s.lastErr.Store(nil)
	return State(s.state.Swap(int32(Ready)))
}

func (s *Service) loaded(p *predictor.Predictor, prev State) {
	m := p.Model()
	s.recorder.RecordReload(ReloadSuccess)
	s.recorder.SetModel(true, m.Confidence())
	s.logger.Info("model loaded",
		"model_id", m.ID,
		"trained_at", m.CreatedAt.Format(time.RFC3339),
		"train_samples", m.TrainSamples,
		"r2", m.R2,
		"mae", m.MAE,
		"trees", len(m.Trees),
	)
	if prev != Ready {
		s.notify(Ready)
	}
}

func (s *Service) fail(err error) error {
	msg := err.Error()
	s.recorder.RecordReload(ReloadFailure)

	s.reloadMu.Lock()
	s.lastErr.Store(&msg)
	if s.current.Load() != nil {
		s.reloadMu.Unlock()
		s.logger.Warn("model reload failed, keeping current model", "error", err)
		return err
	}
	prev := State(s.state.Swap(int32(Degraded)))
	s.reloadMu.Unlock()

	s.recorder.SetModel(false, 0)
	s.logger.Error("model load failed, service degraded", "error", err)
	if prev != Degraded {
		s.notify(Degraded)
	}
	return err
}

func (s *Service) notify(st State) {
	if s.onState != nil {
		s.onState(st)
	}
}

// Health is the snapshot reported by /health.
type Health struct {
	Status      string  `json:"status"`
	ModelLoaded bool    `json:"model_loaded"`
	ModelID     string  `json:"model_id,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	TrainedAt   string  `json:"trained_at,omitempty"`
	// LastError is the most recent load failure, cleared by a successful load.
	// A failed reload with a model loaded keeps that model serving, so Status
	// stays "ok" while LastError is set.
	LastError string `json:"last_error,omitempty"`
}

// Health never blocks on an in-progress reload.
func (s *Service) Health() Health {
	h := Health{Status: s.State().String()}
	if p := s.current.Load(); p != nil {
		m := p.Model()
		h.ModelLoaded = true
		h.ModelID = m.ID
		h.Confidence = m.Confidence()
		h.TrainedAt = m.CreatedAt.Format(time.RFC3339)
	}
	if msg := s.lastErr.Load(); msg != nil {
		h.LastError = *msg
	}
	return h
}

// Model returns the served model, or nil when none is loaded.
func (s *Service) Model() *models.FittedModel {
	if p := s.current.Load(); p != nil {
		return p.Model()
	}
	return nil
}

// Predict validates the raw JSON payload and estimates its downtime.
//
// It returns an error wrapping predictor.ErrModelNotFound when no model is
// loaded and a *features.ValidationError for bad input.
func (s *Service) Predict(raw []byte) (predictor.Result, error) {
	start := time.Now()
	p := s.current.Load()
	if p == nil {
		return s.modelMissing(start)
	}

	v, err := features.Parse(raw, s.bounds)
	if err != nil {
		s.recorder.RecordPrediction(OutcomeValidationError, 0, time.Since(start))
		return predictor.Result{}, err
	}
	return s.predict(p, v, start), nil
}

// PredictVector is Predict for an already decoded vector. The vector is
// still checked against the configured bounds.
func (s *Service) PredictVector(v features.Vector) (predictor.Result, error) {
	start := time.Now()
	p := s.current.Load()
	if p == nil {
		return s.modelMissing(start)
	}

	if err := s.bounds.Check(v); err != nil {
		s.recorder.RecordPrediction(OutcomeValidationError, 0, time.Since(start))
		return predictor.Result{}, err
	}
	return s.predict(p, v, start), nil
}

func (s *Service) predict(p *predictor.Predictor, v features.Vector, start time.Time) predictor.Result {
	res := p.Predict(v)
	s.recorder.RecordPrediction(OutcomeSuccess, res.PredictedDowntime, time.Since(start))
	return res
}

func (s *Service) modelMissing(start time.Time) (predictor.Result, error) {
	s.recorder.RecordPrediction(OutcomeModelError, 0, time.Since(start))
	return predictor.Result{}, fmt.Errorf("%w: service is %s", predictor.ErrModelNotFound, s.State())
}

// Feedback pairs a prediction with the downtime actually measured.
type Feedback struct {
	PredictedDowntime float64 `json:"predicted_downtime"`
	ActualDowntime    float64 `json:"actual_downtime"`
}

// ErrInvalidFeedback is returned for non-positive or non-finite downtimes.
var ErrInvalidFeedback = errors.New("invalid feedback")

// Accuracy scores a prediction against the measured downtime in percent:
// 100 for an exact match, falling linearly with the relative error, floored at 0.
func Accuracy(predicted, actual float64) float64 {
	denom := max(predicted, actual)
	if denom <= 0 {
		return 0
	}
	diff := predicted - actual
	if diff < 0 {
		diff = -diff
	}
	return max(0, 100-diff/denom*100)
}

// RecordFeedback scores fb and records the accuracy.
func (s *Service) RecordFeedback(fb Feedback) (float64, error) {
	if !validDowntime(fb.PredictedDowntime) || !validDowntime(fb.ActualDowntime) {
		return 0, fmt.Errorf("%w: predicted_downtime and actual_downtime must be positive numbers", ErrInvalidFeedback)
	}
	acc := Accuracy(fb.PredictedDowntime, fb.ActualDowntime)
	s.recorder.RecordAccuracy(acc)
	s.logger.Debug("feedback recorded",
		"predicted_ms", fb.PredictedDowntime,
		"actual_ms", fb.ActualDowntime,
		"accuracy", acc,
	)
	return acc, nil
}

func validDowntime(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
