// Command simulator exercises a running predictor with emulated VM
// migrations and reports how close the predictions were.
//
// Each simulated migration samples a feature vector, asks the predictor for
// the expected downtime, performs an emulated stop-and-copy pause whose
// length grows with host load, then posts the measured downtime back to
// /feedback. Results are summarized on stdout and written as JSON.
//
// Usage:
//
//	simulator single --api-url=http://localhost:8001
//	simulator continuous --duration=5m --interval=30s --sampler=host
//	simulator stress --burn=10s
//
// Environment variables:
//
//	API_URL        - Predictor base URL (default: http://localhost:8001)
//	SAMPLER        - Feature source: synthetic, host or prometheus (default: synthetic)
//	PROMETHEUS_URL - Prometheus base URL for sampler=prometheus
//	RESULTS_DIR    - Directory for result files (default: .)
//	METRICS_LISTEN - Address for the simulator's /metrics (default: :9100)
//	LOG_LEVEL      - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT     - Logging format: text, json (default: text)
package main

import (
	"os"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
