// Package predictor serves downtime estimates from a loaded model artifact.
package predictor

import (
	"context"
	"errors"
	"fmt"

	"github.com/HatiCode/vmpredict/pkg/features"
	"github.com/HatiCode/vmpredict/pkg/models"
	"github.com/HatiCode/vmpredict/pkg/storage"
)

// ErrModelNotFound is returned when no usable model artifact could be loaded,
// whether it is absent or failed to decode.
var ErrModelNotFound = errors.New("model not found")

// StatusSuccess is the status reported with every successful prediction.
const StatusSuccess = "success"

// Result is the outcome of a single prediction.
type Result struct {
	// PredictedDowntime is the estimated migration pause, in milliseconds.
	PredictedDowntime float64 `json:"predicted_downtime"`
	// Confidence is the held-out R² of the model, in [0,1].
	Confidence float64 `json:"confidence"`
	Status     string  `json:"status"`
}

// Predictor wraps an immutable fitted model. It holds no mutable state and
// is safe for concurrent use without locking.
type Predictor struct {
	model      *models.FittedModel
	confidence float64
}

// New wraps an already fitted model. The caller must not modify m afterwards.
func New(m *models.FittedModel) (*Predictor, error) {
	if m == nil || len(m.Trees) == 0 {
		return nil, fmt.Errorf("%w: model has no trees", ErrModelNotFound)
	}
	return &Predictor{model: m, confidence: m.Confidence()}, nil
}

// Load reads the latest artifact from store. Every failure wraps ErrModelNotFound.
func Load(ctx context.Context, store storage.Store) (*Predictor, error) {
	m, found, err := store.GetLatest(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelNotFound, err)
	}
	if !found {
		return nil, fmt.Errorf("%w: no artifact stored", ErrModelNotFound)
	}
	return New(m)
}

// LoadFile reads the artifact at path.
func LoadFile(ctx context.Context, path string) (*Predictor, error) {
	store, err := storage.NewFileStore(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelNotFound, err)
	}
	return Load(ctx, store)
}

// Predict estimates the downtime for v. v must already be validated.
// The same v always yields the same Result for a given Predictor.
func (p *Predictor) Predict(v features.Vector) Result {
	return Result{
		PredictedDowntime: p.model.Estimate(v),
		Confidence:        p.confidence,
		Status:            StatusSuccess,
	}
}

// Model returns the underlying artifact. It must be treated as read-only.
func (p *Predictor) Model() *models.FittedModel {
	return p.model
}
