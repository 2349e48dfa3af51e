// Package sampler provides sources of feature vectors for driving the
// prediction service: seeded synthetic load, fixed stress scenarios, the
// live utilization of the local host and queries against Prometheus.
//
// Samplers report raw observations. They do not validate against model
// bounds; that is the prediction service's job.
package sampler

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/HatiCode/vmpredict/pkg/features"
)

// Sampler produces feature vectors. Sample must respect ctx cancellation.
type Sampler interface {
	// Sample returns the next feature vector.
	Sample(ctx context.Context) (features.Vector, error)
	// Name returns a short identifier such as "synthetic" or "host".
	Name() string
}

// Range is a closed interval used by Synthetic.
type Range struct {
	Min, Max float64
}

// SyntheticRanges are the per-feature ranges used by NewSynthetic, in
// canonical feature order. They describe a moderately to heavily loaded host.
var SyntheticRanges = [features.NumFeatures]Range{
	{Min: 20, Max: 95},
	{Min: 30, Max: 90},
	{Min: 10, Max: 100},
	{Min: 50, Max: 1000},
}

// Synthetic draws each feature uniformly from its range. It is safe for
// concurrent use; the sequence is deterministic for a given seed when
// sampled from a single goroutine.
type Synthetic struct {
	mu     sync.Mutex
	rng    *rand.Rand
	ranges [features.NumFeatures]Range
}

// NewSynthetic creates a synthetic sampler over SyntheticRanges.
func NewSynthetic(seed uint64) *Synthetic {
	return NewSyntheticWithRanges(seed, SyntheticRanges)
}

// NewSyntheticWithRanges creates a synthetic sampler over custom ranges.
func NewSyntheticWithRanges(seed uint64, ranges [features.NumFeatures]Range) *Synthetic {
	return &Synthetic{
		rng:    rand.New(rand.NewPCG(seed, seed^0xda3e39cb94b95bdb)),
		ranges: ranges,
	}
}

func (s *Synthetic) Name() string { return "synthetic" }

func (s *Synthetic) Sample(ctx context.Context) (features.Vector, error) {
	if err := ctx.Err(); err != nil {
		return features.Vector{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var x [features.NumFeatures]float64
	for i, r := range s.ranges {
		x[i] = r.Min + s.rng.Float64()*(r.Max-r.Min)
	}
	return features.FromSlice(x), nil
}

// StressScenarios are high-load conditions that stress the predictor:
// saturated CPU and memory with heavy disk I/O and constrained bandwidth.
var StressScenarios = []features.Vector{
	{CPULoad: 95, MemoryUsage: 85, DiskIO: 90, NetworkBandwidth: 200},
	{CPULoad: 80, MemoryUsage: 95, DiskIO: 75, NetworkBandwidth: 150},
	{CPULoad: 90, MemoryUsage: 90, DiskIO: 95, NetworkBandwidth: 100},
}

// Fixed cycles through a list of vectors. It is safe for concurrent use.
type Fixed struct {
	mu      sync.Mutex
	vectors []features.Vector
	next    int
}

// NewFixed creates a sampler cycling through vectors in order.
func NewFixed(vectors ...features.Vector) (*Fixed, error) {
	if len(vectors) == 0 {
		return nil, errors.New("fixed sampler needs at least one vector")
	}
	return &Fixed{vectors: vectors}, nil
}

// NewStress creates a fixed sampler over StressScenarios.
func NewStress() *Fixed {
	f, _ := NewFixed(StressScenarios...)
	return f
}

func (f *Fixed) Name() string { return "fixed" }

func (f *Fixed) Sample(ctx context.Context) (features.Vector, error) {
	if err := ctx.Err(); err != nil {
		return features.Vector{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	v := f.vectors[f.next]
	f.next = (f.next + 1) % len(f.vectors)
	return v, nil
}

// Len returns the number of vectors in the cycle.
func (f *Fixed) Len() int {
	return len(f.vectors)
}
