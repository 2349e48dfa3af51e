package models

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/HatiCode/vmpredict/pkg/features"
)

// Example is one observed or simulated migration: the utilization at the time
// the migration started and the measured downtime.
type Example struct {
	Features   features.Vector `json:"features"`
	DowntimeMs float64         `json:"downtime_ms"`
}

// TrainingSet is an ordered sequence of examples. Order does not affect the
// fitted model beyond the seeded train/held-out split.
type TrainingSet []Example

// LabelRange returns the smallest and largest downtime label in the set.
func (s TrainingSet) LabelRange() (lo, hi float64) {
	if len(s) == 0 {
		return 0, 0
	}
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, ex := range s {
		lo = math.Min(lo, ex.DowntimeMs)
		hi = math.Max(hi, ex.DowntimeMs)
	}
	return lo, hi
}

// Synthetic label formula:
//
//	downtime = 50 + 0.8*cpu + 0.6*mem + 0.4*disk + 0.1*net + noise
//
// with noise ~ N(0, 10) clamped to ±30 ms and the result floored at 10 ms.
// Every weight is positive, so the noiseless label is monotonically
// increasing in each feature.
const (
	SyntheticBaseMs       = 50.0
	SyntheticNoiseStdDev  = 10.0
	SyntheticNoiseLimit   = 30.0
	SyntheticMinDowntime  = 10.0
	SyntheticMaxDiskIO    = 1000.0
	SyntheticMaxBandwidth = 1000.0
)

// SyntheticWeights are the per-feature weights of the synthetic formula, in
// canonical feature order.
var SyntheticWeights = [features.NumFeatures]float64{0.8, 0.6, 0.4, 0.1}

// SyntheticDowntime evaluates the noiseless synthetic formula for v.
func SyntheticDowntime(v features.Vector) float64 {
	x := v.Slice()
	d := SyntheticBaseMs
	for i, w := range SyntheticWeights {
		d += w * x[i]
	}
	return math.Max(d, SyntheticMinDowntime)
}

// GenerateSynthetic produces n examples spanning the full feature domain:
// cpu and memory uniform on [0,100], disk I/O and bandwidth uniform on
// [0,1000]. The output is a pure function of (n, seed).
func GenerateSynthetic(n int, seed uint64) TrainingSet {
	r := rand.New(rand.NewPCG(seed, 0x9e3779b97f4a7c15))
	set := make(TrainingSet, n)
	for i := range set {
		v := features.Vector{
			CPULoad:          r.Float64() * 100,
			MemoryUsage:      r.Float64() * 100,
			DiskIO:           r.Float64() * SyntheticMaxDiskIO,
			NetworkBandwidth: r.Float64() * SyntheticMaxBandwidth,
		}
		noise := r.NormFloat64() * SyntheticNoiseStdDev
		noise = math.Max(-SyntheticNoiseLimit, math.Min(SyntheticNoiseLimit, noise))
		set[i] = Example{
			Features:   v,
			DowntimeMs: math.Max(SyntheticDowntime(v)+noise, SyntheticMinDowntime),
		}
	}
	return set
}

// CSVHeader is the header expected by ReadCSV.
var CSVHeader = []string{
	features.CPULoad, features.MemoryUsage, features.DiskIO, features.NetworkBandwidth, "downtime_ms",
}

// ReadCSV reads historical training data. The first record must be CSVHeader
// (column names are matched case-insensitively, in any order). Every row is
// validated against features.DefaultBounds and must carry a positive label.
func ReadCSV(r io.Reader) (TrainingSet, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("csv: empty input")
		}
		return nil, fmt.Errorf("csv: read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	idx := make([]int, len(CSVHeader))
	for i, name := range CSVHeader {
		c, ok := cols[name]
		if !ok {
			return nil, fmt.Errorf("csv: missing column %q", name)
		}
		idx[i] = c
	}

	var set TrainingSet
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: line %d: %w", line, err)
		}

		var vals [5]float64
		for i, c := range idx {
			f, err := strconv.ParseFloat(strings.TrimSpace(rec[c]), 64)
			if err != nil {
				return nil, fmt.Errorf("csv: line %d: column %q: %w", line, CSVHeader[i], err)
			}
			vals[i] = f
		}

		ex := Example{
			Features:   features.FromSlice([features.NumFeatures]float64{vals[0], vals[1], vals[2], vals[3]}),
			DowntimeMs: vals[4],
		}
		if err := ex.validate(); err != nil {
			return nil, fmt.Errorf("csv: line %d: %w", line, err)
		}
		set = append(set, ex)
	}
	return set, nil
}

func (ex Example) validate() error {
	if err := features.DefaultBounds().Check(ex.Features); err != nil {
		return err
	}
	if !(ex.DowntimeMs > 0) || math.IsInf(ex.DowntimeMs, 0) {
		return fmt.Errorf("downtime label must be a positive number, got %g", ex.DowntimeMs)
	}
	return nil
}
