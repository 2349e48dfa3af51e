package models

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/HatiCode/vmpredict/pkg/features"
)

// PCG stream identifiers, so the split and each bootstrap draw from
// independent sequences of the same seed.
const (
	splitStream     = 0x51
	bootstrapStream = 0xb0075700
)

// Train fits a bagged regression-tree ensemble on set.
//
// The set is shuffled with cfg.Seed and round(len*TestSplit) examples (at
// least one) are held out; the rest train cfg.NEstimators trees, each on its
// own bootstrap sample. The held-out partition yields R² and MAE. Train
// returns ErrInsufficientData for sets smaller than MinTrainingSamples or
// whose split would leave a partition empty. The context is checked between
// trees.
func Train(ctx context.Context, set TrainingSet, cfg Config) (*FittedModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid training config: %w", err)
	}

	n := len(set)
	if n < MinTrainingSamples {
		return nil, fmt.Errorf("%w: got %d examples, need at least %d", ErrInsufficientData, n, MinTrainingSamples)
	}
	heldOut := max(int(math.Round(float64(n)*cfg.TestSplit)), 1)
	if n-heldOut < 1 {
		return nil, fmt.Errorf("%w: test split %g leaves no training examples", ErrInsufficientData, cfg.TestSplit)
	}

	x := make([][features.NumFeatures]float64, n)
	y := make([]float64, n)
	for i, ex := range set {
		if err := ex.validate(); err != nil {
			return nil, fmt.Errorf("example %d: %w", i, err)
		}
		x[i] = ex.Features.Slice()
		y[i] = ex.DowntimeMs
	}

	perm := rand.New(rand.NewPCG(cfg.Seed, splitStream)).Perm(n)
	testIdx, trainIdx := perm[:heldOut], perm[heldOut:]

	b := &treeBuilder{
		x:        x,
		y:        y,
		maxDepth: cfg.MaxDepth,
		minLeaf:  cfg.MinSamplesLeaf,
		monotone: cfg.Monotone,
	}

	trees := make([]Tree, 0, cfg.NEstimators)
	var importance [features.NumFeatures]float64
	sample := make([]int, len(trainIdx))
	for t := 0; t < cfg.NEstimators; t++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("training canceled after %d trees: %w", t, err)
		}

		r := rand.New(rand.NewPCG(cfg.Seed, bootstrapStream+uint64(t)))
		for i := range sample {
			sample[i] = trainIdx[r.IntN(len(trainIdx))]
		}

		trees = append(trees, b.grow(sample))
		addNormalized(&importance, b.importance)
	}
	normalize(&importance)

	m := &FittedModel{
		Version:           FormatVersion,
		ID:                uuid.NewString(),
		CreatedAt:         time.Now().UTC(),
		TrainSamples:      len(trainIdx),
		HeldOutSamples:    heldOut,
		FeatureImportance: importance,
		Config:            cfg,
		Trees:             trees,
	}
	m.LabelMin, m.LabelMax = set.LabelRange()
	m.R2, m.MAE = score(m, x, y, testIdx)
	return m, nil
}

// score computes R² and mean absolute error of m over the given rows.
// A constant held-out label scores 1 when predicted exactly and 0 otherwise.
func score(m *FittedModel, x [][features.NumFeatures]float64, y []float64, rows []int) (r2, mae float64) {
	var mean float64
	for _, i := range rows {
		mean += y[i]
	}
	mean /= float64(len(rows))

	var ssRes, ssTot, absErr float64
	for _, i := range rows {
		pred := m.Estimate(features.FromSlice(x[i]))
		d := y[i] - pred
		ssRes += d * d
		absErr += math.Abs(d)
		ssTot += (y[i] - mean) * (y[i] - mean)
	}
	mae = absErr / float64(len(rows))

	if ssTot == 0 {
		if ssRes == 0 {
			return 1, mae
		}
		return 0, mae
	}
	return 1 - ssRes/ssTot, mae
}

func addNormalized(dst *[features.NumFeatures]float64, src [features.NumFeatures]float64) {
	normalize(&src)
	for i := range dst {
		dst[i] += src[i]
	}
}

func normalize(v *[features.NumFeatures]float64) {
	var sum float64
	for _, x := range v {
		sum += x
	}
	if sum == 0 {
		return
	}
	for i := range v {
		v[i] /= sum
	}
}
