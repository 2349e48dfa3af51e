package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/HatiCode/vmpredict/pkg/features"
	"github.com/HatiCode/vmpredict/pkg/sampler"
	"github.com/HatiCode/vmpredict/pkg/service"
)

// DefaultStressPause separates consecutive stress scenarios.
const DefaultStressPause = 2 * time.Second

// Result is one simulated migration.
type Result struct {
	Timestamp         time.Time       `json:"timestamp"`
	Metrics           features.Vector `json:"metrics"`
	PredictedDowntime float64         `json:"predicted_downtime"`
	ActualDowntime    float64         `json:"actual_downtime"`
	Accuracy          float64         `json:"accuracy"`
	Confidence        float64         `json:"confidence"`
}

// Driver runs simulated migrations against the predictor and keeps the
// results of the successful ones.
type Driver struct {
	client   *Client
	sampler  sampler.Sampler
	migrator *Migrator
	metrics  *Metrics
	logger   *slog.Logger

	// StressPause is the wait between stress scenarios.
	StressPause time.Duration

	mu      sync.Mutex
	results []Result

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDriver creates a driver. metrics may be nil.
func NewDriver(client *Client, s sampler.Sampler, m *Migrator, metrics *Metrics, logger *slog.Logger) *Driver {
	return &Driver{
		client:      client,
		sampler:     s,
		migrator:    m,
		metrics:     metrics,
		logger:      logger.With("component", "simulation", "sampler", s.Name()),
		StressPause: DefaultStressPause,
		now:         time.Now,
		sleep:       sleepContext,
	}
}

// RunOnce samples the host and simulates one migration.
func (d *Driver) RunOnce(ctx context.Context) (Result, error) {
	v, err := d.sampler.Sample(ctx)
	if err != nil {
		d.metrics.failed()
		return Result{}, fmt.Errorf("sample: %w", err)
	}
	return d.Run(ctx, v)
}

// Run simulates one migration of a host under load v: predict, migrate,
// measure and report back. A failed feedback call is logged and counted
// but does not fail the run.
func (d *Driver) Run(ctx context.Context, v features.Vector) (Result, error) {
	pred, err := d.client.Predict(ctx, v)
	if err != nil {
		d.metrics.failed()
		return Result{}, fmt.Errorf("predict: %w", err)
	}

	d.logger.Info("starting migration",
		"cpu_load", v.CPULoad,
		"memory_usage", v.MemoryUsage,
		"disk_io", v.DiskIO,
		"network_bandwidth", v.NetworkBandwidth,
		"predicted_downtime_ms", pred.PredictedDowntime,
	)

	elapsed, err := d.migrator.Migrate(ctx, v)
	if err != nil {
		d.metrics.failed()
		return Result{}, fmt.Errorf("migrate: %w", err)
	}

	actual := float64(elapsed) / float64(time.Millisecond)
	r := Result{
		Timestamp:         d.now(),
		Metrics:           v,
		PredictedDowntime: pred.PredictedDowntime,
		ActualDowntime:    actual,
		Accuracy:          service.Accuracy(pred.PredictedDowntime, actual),
		Confidence:        pred.Confidence,
	}

	if _, err := d.client.Feedback(ctx, service.Feedback{
		PredictedDowntime: r.PredictedDowntime,
		ActualDowntime:    r.ActualDowntime,
	}); err != nil {
		d.metrics.feedbackFailed()
		d.logger.Warn("feedback not recorded", "error", err)
	}

	d.mu.Lock()
	d.results = append(d.results, r)
	d.mu.Unlock()
	d.metrics.observe(r)

	d.logger.Info("migration completed",
		"actual_downtime_ms", r.ActualDowntime,
		"accuracy", r.Accuracy,
		"confidence", r.Confidence,
	)
	return r, nil
}

// RunContinuous simulates a migration every interval until duration has
// elapsed or ctx is done. Failed runs are logged and skipped. Cancellation
// ends the run early and is not an error.
func (d *Driver) RunContinuous(ctx context.Context, duration, interval time.Duration) error {
	if duration <= 0 || interval <= 0 {
		return errors.New("duration and interval must be positive")
	}
	d.logger.Info("starting continuous simulation", "duration", duration, "interval", interval)

	deadline := d.now().Add(duration)
	for n := 1; d.now().Before(deadline); n++ {
		if _, err := d.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.logger.Error("simulation failed", "run", n, "error", err)
		} else {
			d.logger.Info("running average", "run", n, "accuracy", d.meanAccuracy())
		}

		if err := d.sleep(ctx, interval); err != nil {
			return nil
		}
	}
	return nil
}

// RunStress simulates one migration per stress scenario, pausing
// StressPause between them. Every scenario is attempted; the failures are
// joined into the returned error.
func (d *Driver) RunStress(ctx context.Context) error {
	d.logger.Info("starting stress test", "scenarios", len(sampler.StressScenarios))

	var errs []error
	for i, v := range sampler.StressScenarios {
		if i > 0 {
			if err := d.sleep(ctx, d.StressPause); err != nil {
				return errors.Join(append(errs, err)...)
			}
		}
		d.logger.Info("stress scenario", "scenario", i+1)
		if _, err := d.Run(ctx, v); err != nil {
			errs = append(errs, fmt.Errorf("scenario %d: %w", i+1, err))
		}
	}
	return errors.Join(errs...)
}

// Results returns a copy of the successful runs so far.
func (d *Driver) Results() []Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Result, len(d.results))
	copy(out, d.results)
	return out
}

func (d *Driver) meanAccuracy() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range d.results {
		sum += r.Accuracy
	}
	return sum / float64(len(d.results))
}
