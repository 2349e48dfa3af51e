package sampler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/HatiCode/vmpredict/pkg/features"
)

// PrometheusQueries holds one PromQL expression per feature.
type PrometheusQueries struct {
	CPULoad          string
	MemoryUsage      string
	DiskIO           string
	NetworkBandwidth string
}

// DefaultPrometheusQueries derives the features from node_exporter metrics.
func DefaultPrometheusQueries() PrometheusQueries {
	return PrometheusQueries{
		CPULoad:          `100 * (1 - avg(rate(node_cpu_seconds_total{mode="idle"}[1m])))`,
		MemoryUsage:      `100 * (1 - sum(node_memory_MemAvailable_bytes) / sum(node_memory_MemTotal_bytes))`,
		DiskIO:           `sum(rate(node_disk_read_bytes_total[1m]) + rate(node_disk_written_bytes_total[1m])) / 1048576`,
		NetworkBandwidth: `sum(rate(node_network_receive_bytes_total{device!="lo"}[1m]) + rate(node_network_transmit_bytes_total{device!="lo"}[1m])) * 8 / 1048576`,
	}
}

func (q PrometheusQueries) slice() [features.NumFeatures]string {
	return [features.NumFeatures]string{q.CPULoad, q.MemoryUsage, q.DiskIO, q.NetworkBandwidth}
}

// Prometheus samples features with instant queries against the Prometheus
// HTTP API (/api/v1/query). Vector results with several series are summed.
type Prometheus struct {
	// ServerURL is the base URL to Prometheus, e.g. http://prometheus:9090
	ServerURL string
	// Queries holds the PromQL expression evaluated for each feature.
	Queries PrometheusQueries
	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

func (p *Prometheus) Name() string { return "prometheus" }

func (p *Prometheus) Sample(ctx context.Context) (features.Vector, error) {
	if p.ServerURL == "" {
		return features.Vector{}, errors.New("prometheus sampler: ServerURL is required")
	}

	var x [features.NumFeatures]float64
	for i, q := range p.Queries.slice() {
		if q == "" {
			return features.Vector{}, fmt.Errorf("prometheus sampler: query for %s is empty", features.Names[i])
		}
		v, err := p.query(ctx, q)
		if err != nil {
			return features.Vector{}, fmt.Errorf("query %s: %w", features.Names[i], err)
		}
		x[i] = v
	}
	return features.FromSlice(x), nil
}

func (p *Prometheus) query(ctx context.Context, promql string) (float64, error) {
	u, err := url.Parse(p.ServerURL)
	if err != nil {
		return 0, fmt.Errorf("invalid ServerURL: %w", err)
	}
	u.Path = "/api/v1/query"

	q := u.Query()
	q.Set("query", promql)
	u.RawQuery = q.Encode()

	cli := p.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := cli.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("prometheus: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("read prometheus response: %w", err)
	}
	return ParseInstantValue(body)
}

// ParseInstantValue extracts the value of an instant query response. Vector
// results are summed across series; scalar results are returned as is.
func ParseInstantValue(body []byte) (float64, error) {
	if !gjson.ValidBytes(body) {
		return 0, errors.New("prometheus: invalid JSON response")
	}
	if status := gjson.GetBytes(body, "status").String(); status != "success" {
		return 0, fmt.Errorf("prometheus status: %s", status)
	}

	switch rt := gjson.GetBytes(body, "data.resultType").String(); rt {
	case "scalar":
		return parseSampleValue(gjson.GetBytes(body, "data.result.1"))
	case "vector":
		values := gjson.GetBytes(body, "data.result.#.value.1").Array()
		if len(values) == 0 {
			return 0, errors.New("prometheus: empty result")
		}
		var sum float64
		for _, v := range values {
			f, err := parseSampleValue(v)
			if err != nil {
				return 0, err
			}
			sum += f
		}
		return sum, nil
	default:
		return 0, fmt.Errorf("prometheus: unsupported result type %q", rt)
	}
}

func parseSampleValue(v gjson.Result) (float64, error) {
	switch v.Type {
	case gjson.String:
		f, err := strconv.ParseFloat(v.Str, 64)
		if err != nil {
			return 0, fmt.Errorf("parse value: %w", err)
		}
		return f, nil
	case gjson.Number:
		return v.Num, nil
	default:
		return 0, fmt.Errorf("unexpected value %q", v.Raw)
	}
}
