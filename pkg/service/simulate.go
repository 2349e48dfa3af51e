package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/HatiCode/vmpredict/pkg/features"
	"github.com/HatiCode/vmpredict/pkg/predictor"
	"github.com/HatiCode/vmpredict/pkg/sampler"
)

// Simulation modes.
const (
	ModeRandom = "random"
	ModeStress = "stress"
)

// DefaultSimulateCount is used when a SimulateRequest leaves Count at zero.
const DefaultSimulateCount = 5

const simulateWorkers = 8

// ErrInvalidSimulation is returned for an unknown mode or a negative count.
var ErrInvalidSimulation = errors.New("invalid simulation request")

// SimulateRequest describes one in-process synthetic load exercise.
type SimulateRequest struct {
	Mode  string
	Count int
	// Seed drives the random sampler; zero picks a time-based seed.
	Seed uint64
}

// SimulationResult is one simulated prediction.
type SimulationResult struct {
	Features          features.Vector `json:"features"`
	PredictedDowntime float64         `json:"predicted_downtime"`
	Confidence        float64         `json:"confidence"`
}

// SimulationSummary aggregates a Simulate call.
type SimulationSummary struct {
	Mode         string             `json:"mode"`
	Count        int                `json:"count"`
	ModelID      string             `json:"model_id"`
	MinDowntime  float64            `json:"min_downtime"`
	MeanDowntime float64            `json:"mean_downtime"`
	MaxDowntime  float64            `json:"max_downtime"`
	DurationMs   int64              `json:"duration_ms"`
	Results      []SimulationResult `json:"results"`
}

// Simulate generates synthetic vectors and predicts each one, recording every
// simulated prediction like a real one. Generated vectors always lie within
// the configured bounds: random samples are drawn from the synthetic ranges
// narrowed to the bounds and stress scenarios are clamped to them. Count is
// capped at the configured maximum.
func (s *Service) Simulate(ctx context.Context, req SimulateRequest) (SimulationSummary, error) {
	start := time.Now()

	count := req.Count
	switch {
	case count < 0:
		return SimulationSummary{}, fmt.Errorf("%w: count must not be negative", ErrInvalidSimulation)
	case count == 0:
		count = DefaultSimulateCount
	case count > s.maxSimulate:
		count = s.maxSimulate
	}

	var src sampler.Sampler
	switch req.Mode {
	case "", ModeRandom:
		req.Mode = ModeRandom
		seed := req.Seed
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		src = sampler.NewSyntheticWithRanges(seed, boundedRanges(s.bounds))
	case ModeStress:
		src = sampler.NewStress()
	default:
		return SimulationSummary{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidSimulation, req.Mode)
	}

	// One predictor serves the whole run, so a concurrent reload cannot mix
	// models within a summary.
	p := s.current.Load()
	if p == nil {
		_, err := s.modelMissing(start)
		return SimulationSummary{}, err
	}

	vectors := make([]features.Vector, count)
	for i := range vectors {
		v, err := src.Sample(ctx)
		if err != nil {
			return SimulationSummary{}, fmt.Errorf("sample %d: %w", i, err)
		}
		vectors[i] = clampToBounds(v, s.bounds)
	}

	results := make([]SimulationResult, count)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(simulateWorkers)
	for i, v := range vectors {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := s.predict(p, v, time.Now())
			results[i] = toSimulationResult(v, res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SimulationSummary{}, err
	}

	sum := SimulationSummary{
		Mode:       req.Mode,
		Count:      count,
		ModelID:    p.Model().ID,
		DurationMs: time.Since(start).Milliseconds(),
		Results:    results,
	}
	for i, r := range results {
		if i == 0 || r.PredictedDowntime < sum.MinDowntime {
			sum.MinDowntime = r.PredictedDowntime
		}
		if r.PredictedDowntime > sum.MaxDowntime {
			sum.MaxDowntime = r.PredictedDowntime
		}
		sum.MeanDowntime += r.PredictedDowntime
	}
	sum.MeanDowntime /= float64(count)

	s.logger.Info("simulation complete",
		"mode", sum.Mode,
		"count", sum.Count,
		"mean_ms", sum.MeanDowntime,
		"duration_ms", sum.DurationMs,
	)
	return sum, nil
}

// boundedRanges narrows sampler.SyntheticRanges to b.
func boundedRanges(b features.Bounds) [features.NumFeatures]sampler.Range {
	ranges := sampler.SyntheticRanges
	for i := range ranges {
		ranges[i].Max = min(ranges[i].Max, b.Upper(i))
		ranges[i].Min = min(ranges[i].Min, ranges[i].Max)
	}
	return ranges
}

func clampToBounds(v features.Vector, b features.Bounds) features.Vector {
	x := v.Slice()
	for i := range x {
		x[i] = min(x[i], b.Upper(i))
	}
	return features.FromSlice(x)
}

func toSimulationResult(v features.Vector, res predictor.Result) SimulationResult {
	return SimulationResult{
		Features:          v,
		PredictedDowntime: res.PredictedDowntime,
		Confidence:        res.Confidence,
	}
}
