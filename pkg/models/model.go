// Package models fits and represents the migration downtime regression model.
//
// A FittedModel is a bagged ensemble of CART regression trees mapping a
// features.Vector to a downtime estimate in milliseconds. It is produced once
// by Train, persisted as a JSON artifact and never mutated afterwards:
// retraining always yields a new artifact with a new ID.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/HatiCode/vmpredict/pkg/features"
)

// FormatVersion is the artifact schema version written by Encode.
const FormatVersion = 1

// MinTrainingSamples is the smallest training set Train accepts.
const MinTrainingSamples = 10

var (
	// ErrInsufficientData is returned by Train when the training set is too
	// small to leave a non-empty held-out partition.
	ErrInsufficientData = errors.New("insufficient training data")

	// ErrInvalidArtifact is returned by Decode for unreadable or inconsistent artifacts.
	ErrInvalidArtifact = errors.New("invalid model artifact")
)

// Config controls training.
type Config struct {
	// NEstimators is the number of trees in the ensemble.
	NEstimators int `json:"n_estimators"`
	// TestSplit is the fraction of examples held out for scoring, in (0,1).
	TestSplit float64 `json:"test_split"`
	// Seed drives the split and the bootstrap samples.
	Seed uint64 `json:"seed"`
	// MaxDepth limits tree depth; 0 means unlimited.
	MaxDepth int `json:"max_depth"`
	// MinSamplesLeaf is the minimum number of samples in a leaf.
	MinSamplesLeaf int `json:"min_samples_leaf"`
	// Monotone constrains the model to be non-decreasing in every feature.
	Monotone bool `json:"monotone"`
}

// DefaultConfig returns the standard training configuration. It trains a
// monotone ensemble, so downtime never decreases when a single feature rises.
func DefaultConfig() Config {
	return Config{
		NEstimators:    100,
		TestSplit:      0.2,
		Seed:           42,
		MinSamplesLeaf: 1,
		Monotone:       true,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.NEstimators <= 0 {
		return fmt.Errorf("n_estimators must be > 0, got %d", c.NEstimators)
	}
	if !(c.TestSplit > 0 && c.TestSplit < 1) {
		return fmt.Errorf("test_split must be in (0, 1), got %g", c.TestSplit)
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("max_depth must be >= 0, got %d", c.MaxDepth)
	}
	if c.MinSamplesLeaf < 1 {
		return fmt.Errorf("min_samples_leaf must be >= 1, got %d", c.MinSamplesLeaf)
	}
	return nil
}

// FittedModel is the trained ensemble together with its training metadata.
type FittedModel struct {
	Version           int                           `json:"version"`
	ID                string                        `json:"id"`
	CreatedAt         time.Time                     `json:"created_at"`
	TrainSamples      int                           `json:"train_samples"`
	HeldOutSamples    int                           `json:"held_out_samples"`
	R2                float64                       `json:"r2"`
	MAE               float64                       `json:"mae"`
	FeatureImportance [features.NumFeatures]float64 `json:"feature_importance"`
	LabelMin          float64                       `json:"label_min"`
	LabelMax          float64                       `json:"label_max"`
	Config            Config                        `json:"config"`
	Trees             []Tree                        `json:"trees"`
}

// Estimate returns the ensemble mean for v, in milliseconds.
func (m *FittedModel) Estimate(v features.Vector) float64 {
	x := v.Slice()
	var sum float64
	for _, t := range m.Trees {
		sum += t.Predict(x)
	}
	return sum / float64(len(m.Trees))
}

// Confidence is the held-out R² clamped to [0,1]. It is a training-time
// statistic and is the same for every prediction made with m.
func (m *FittedModel) Confidence() float64 {
	if math.IsNaN(m.R2) {
		return 0
	}
	return clamp(m.R2, 0, 1)
}

// Importance returns the feature importance keyed by feature name.
func (m *FittedModel) Importance() map[string]float64 {
	out := make(map[string]float64, features.NumFeatures)
	for i, name := range features.Names {
		out[name] = m.FeatureImportance[i]
	}
	return out
}

// Encode writes m as a JSON artifact.
func (m *FittedModel) Encode(w io.Writer) error {
	if err := json.NewEncoder(w).Encode(m); err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	return nil
}

// Decode reads a JSON artifact and checks that it is structurally usable.
func Decode(r io.Reader) (*FittedModel, error) {
	var m FittedModel
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	if err := m.check(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *FittedModel) check() error {
	if m.Version != FormatVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidArtifact, m.Version)
	}
	if len(m.Trees) == 0 {
		return fmt.Errorf("%w: no trees", ErrInvalidArtifact)
	}
	for ti, t := range m.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("%w: tree %d is empty", ErrInvalidArtifact, ti)
		}
		for ni, n := range t.Nodes {
			if n.Feature == leafFeature {
				continue
			}
			// Children always follow their parent, which also rules out cycles.
			if n.Feature < 0 || n.Feature >= features.NumFeatures ||
				n.Left <= ni || n.Right <= ni || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
				return fmt.Errorf("%w: tree %d node %d is malformed", ErrInvalidArtifact, ti, ni)
			}
		}
	}
	return nil
}
