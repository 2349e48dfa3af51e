package simulation

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNoResults is returned when there is nothing to summarize.
var ErrNoResults = errors.New("no simulation results")

// Summary aggregates a set of simulated migrations.
type Summary struct {
	Count           int     `json:"count"`
	MeanAccuracy    float64 `json:"mean_accuracy"`
	BestAccuracy    float64 `json:"best_accuracy"`
	WorstAccuracy   float64 `json:"worst_accuracy"`
	MeanPredictedMs float64 `json:"mean_predicted_downtime"`
	MeanActualMs    float64 `json:"mean_actual_downtime"`
}

// Summarize aggregates results.
func Summarize(results []Result) (Summary, error) {
	if len(results) == 0 {
		return Summary{}, ErrNoResults
	}

	s := Summary{
		Count:         len(results),
		BestAccuracy:  results[0].Accuracy,
		WorstAccuracy: results[0].Accuracy,
	}
	var acc, pred, actual float64
	for _, r := range results {
		acc += r.Accuracy
		pred += r.PredictedDowntime
		actual += r.ActualDowntime
		s.BestAccuracy = max(s.BestAccuracy, r.Accuracy)
		s.WorstAccuracy = min(s.WorstAccuracy, r.Accuracy)
	}
	n := float64(len(results))
	s.MeanAccuracy = acc / n
	s.MeanPredictedMs = pred / n
	s.MeanActualMs = actual / n
	return s, nil
}

// WriteResults writes results as indented JSON to
// dir/simulation_results_YYYYMMDD_HHMMSS.json and returns the path.
func WriteResults(dir string, results []Result, at time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create results dir: %w", err)
	}
	if results == nil {
		results = []Result{}
	}

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode results: %w", err)
	}

	path := filepath.Join(dir, "simulation_results_"+at.Format("20060102_150405")+".json")
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write results: %w", err)
	}
	return path, nil
}
