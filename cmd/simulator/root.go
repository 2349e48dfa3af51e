package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/HatiCode/vmpredict/pkg/httpx"
	"github.com/HatiCode/vmpredict/pkg/logging"
	"github.com/HatiCode/vmpredict/pkg/sampler"
	"github.com/HatiCode/vmpredict/pkg/simulation"
	vmtls "github.com/HatiCode/vmpredict/pkg/tls"
)

// options are the persistent flags shared by every sub-command.
type options struct {
	APIURL        string
	Sampler       string
	PrometheusURL string
	ResultsDir    string
	MetricsListen string
	Seed          uint64
	WaitTimeout   time.Duration
	TLS           vmtls.Config
	LogLevel      string
	LogFormat     string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "simulator",
		Short: "Drive the downtime predictor with emulated VM migrations",
		Long: `Runs emulated live migrations against a running predictor, measures the
actual pause of each one and reports it back so the predictor can track its
accuracy. Results are summarized and saved as JSON.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	f := root.PersistentFlags()
	f.StringVar(&opts.APIURL, "api-url", getEnv("API_URL", "http://localhost:8001"), "Predictor base URL")
	f.StringVar(&opts.Sampler, "sampler", getEnv("SAMPLER", "synthetic"), "Feature source: synthetic, host or prometheus")
	f.StringVar(&opts.PrometheusURL, "prom-url", getEnv("PROMETHEUS_URL", "http://localhost:9090"), "Prometheus base URL (sampler=prometheus)")
	f.StringVar(&opts.ResultsDir, "results-dir", getEnv("RESULTS_DIR", "."), "Directory for simulation result files")
	f.StringVar(&opts.MetricsListen, "metrics-listen", getEnv("METRICS_LISTEN", ":9100"), "Address to expose simulator metrics on (empty disables)")
	f.Uint64Var(&opts.Seed, "seed", 0, "Random seed for synthetic load and migration jitter (0 = time based)")
	f.DurationVar(&opts.WaitTimeout, "wait", 30*time.Second, "How long to wait for the predictor to become ready")
	f.BoolVar(&opts.TLS.Enabled, "tls-enabled", false, "Use TLS towards the predictor")
	f.StringVar(&opts.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "TLS client certificate file")
	f.StringVar(&opts.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "TLS client private key file")
	f.StringVar(&opts.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", ""), "TLS CA certificate file")
	f.StringVar(&opts.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	f.StringVar(&opts.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")

	root.AddCommand(newSingleCmd(opts), newContinuousCmd(opts), newStressCmd(opts))
	return root
}

func newSingleCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "single",
		Short: "Simulate one migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execute(cmd, opts, func(ctx context.Context, d *simulation.Driver) error {
				_, err := d.RunOnce(ctx)
				return err
			})
		},
	}
}

func newContinuousCmd(opts *options) *cobra.Command {
	var duration, interval time.Duration

	cmd := &cobra.Command{
		Use:   "continuous",
		Short: "Simulate a migration at a fixed interval for a while",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execute(cmd, opts, func(ctx context.Context, d *simulation.Driver) error {
				return d.RunContinuous(ctx, duration, interval)
			})
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 5*time.Minute, "Total simulation time")
	cmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "Wait between migrations")
	return cmd
}

func newStressCmd(opts *options) *cobra.Command {
	var (
		pause   time.Duration
		burn    time.Duration
		workers int
	)

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Simulate migrations under the high-load scenarios",
		Long: `Runs one migration per high-load scenario. With --burn, CPU is kept busy
for the given time and one more migration is simulated from the configured
sampler while the host is under that load.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execute(cmd, opts, func(ctx context.Context, d *simulation.Driver) error {
				d.StressPause = pause
				if burn <= 0 {
					return d.RunStress(ctx)
				}

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					_, err := simulation.Burn(gctx, workers, burn)
					return err
				})
				g.Go(func() error {
					if err := d.RunStress(gctx); err != nil {
						return err
					}
					_, err := d.RunOnce(gctx)
					return err
				})
				return g.Wait()
			})
		},
	}
	cmd.Flags().DurationVar(&pause, "pause", simulation.DefaultStressPause, "Wait between scenarios")
	cmd.Flags().DurationVar(&burn, "burn", 0, "Keep the CPU busy for this long during the run (0 disables)")
	cmd.Flags().IntVar(&workers, "burn-workers", 0, "Busy goroutines for --burn (0 = one per CPU)")
	return cmd
}

// execute wires the driver for one sub-command, runs it and reports the
// results. Results gathered before a failure or an interrupt are still
// summarized and saved.
func execute(cmd *cobra.Command, opts *options, run func(context.Context, *simulation.Driver) error) error {
	logger := logging.NewWithWriter(cmd.ErrOrStderr(), opts.LogLevel, opts.LogFormat)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient, err := httpx.NewClient(opts.TLS, 5*time.Second)
	if err != nil {
		return err
	}
	s, err := newSampler(opts)
	if err != nil {
		return err
	}

	client := simulation.NewClient(opts.APIURL, httpClient)
	health, err := client.WaitReady(ctx, opts.WaitTimeout)
	if err != nil {
		return fmt.Errorf("predictor at %s: %w", opts.APIURL, err)
	}
	logger.Info("predictor is ready", "url", opts.APIURL, "model_id", health.ModelID, "confidence", health.Confidence)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := simulation.NewMetrics(reg)
	if opts.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv := httpx.NewServer(opts.MetricsListen, mux, logger)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Stop(5 * time.Second)
	}

	driver := simulation.NewDriver(client, s, simulation.NewMigrator(seed(opts.Seed)+1), metrics, logger)
	runErr := run(ctx, driver)
	if errors.Is(runErr, context.Canceled) {
		logger.Info("simulation stopped")
		runErr = nil
	}

	if err := report(cmd.OutOrStdout(), opts.ResultsDir, driver.Results(), logger); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func report(w io.Writer, dir string, results []simulation.Result, logger *slog.Logger) error {
	summary, err := simulation.Summarize(results)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "Simulation summary")
	fmt.Fprintf(w, "  Total Simulations:          %d\n", summary.Count)
	fmt.Fprintf(w, "  Average Accuracy:           %.1f%%\n", summary.MeanAccuracy)
	fmt.Fprintf(w, "  Best Accuracy:              %.1f%%\n", summary.BestAccuracy)
	fmt.Fprintf(w, "  Worst Accuracy:             %.1f%%\n", summary.WorstAccuracy)
	fmt.Fprintf(w, "  Average Predicted Downtime: %.2f ms\n", summary.MeanPredictedMs)
	fmt.Fprintf(w, "  Average Actual Downtime:    %.2f ms\n", summary.MeanActualMs)

	path, err := simulation.WriteResults(dir, results, time.Now())
	if err != nil {
		return err
	}
	logger.Info("results saved", "path", path, "count", len(results))
	return nil
}

func newSampler(opts *options) (sampler.Sampler, error) {
	switch opts.Sampler {
	case "synthetic":
		return sampler.NewSynthetic(seed(opts.Seed)), nil
	case "host":
		return sampler.NewHost(time.Second), nil
	case "prometheus":
		return &sampler.Prometheus{
			ServerURL: opts.PrometheusURL,
			Queries:   sampler.DefaultPrometheusQueries(),
		}, nil
	default:
		return nil, fmt.Errorf("invalid sampler %q (must be synthetic, host or prometheus)", opts.Sampler)
	}
}

func seed(s uint64) uint64 {
	if s == 0 {
		return uint64(time.Now().UnixNano())
	}
	return s
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
