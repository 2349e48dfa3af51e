package sampler

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/HatiCode/vmpredict/pkg/features"
)

func TestSynthetic_WithinRanges(t *testing.T) {
	s := NewSynthetic(42)
	ctx := context.Background()

	for i := 0; i < 500; i++ {
		v, err := s.Sample(ctx)
		if err != nil {
			t.Fatalf("Sample() error = %v", err)
		}
		x := v.Slice()
		for f, r := range SyntheticRanges {
			if x[f] < r.Min || x[f] > r.Max {
				t.Fatalf("%s = %v outside [%v, %v]", features.Names[f], x[f], r.Min, r.Max)
			}
		}
	}
}

func TestSynthetic_Deterministic(t *testing.T) {
	a, b := NewSynthetic(7), NewSynthetic(7)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		va, _ := a.Sample(ctx)
		vb, _ := b.Sample(ctx)
		if va != vb {
			t.Fatalf("sample %d differs: %+v vs %+v", i, va, vb)
		}
	}
}

func TestSynthetic_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewSynthetic(1).Sample(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Sample() error = %v, want context.Canceled", err)
	}
}

func TestFixed_Cycles(t *testing.T) {
	s := NewStress()
	ctx := context.Background()

	for round := 0; round < 2; round++ {
		for i, want := range StressScenarios {
			got, err := s.Sample(ctx)
			if err != nil {
				t.Fatalf("Sample() error = %v", err)
			}
			if got != want {
				t.Errorf("round %d sample %d = %+v, want %+v", round, i, got, want)
			}
		}
	}

	if _, err := NewFixed(); err == nil {
		t.Error("NewFixed() with no vectors expected error")
	}
}

func TestHost_RatesFromCounterDeltas(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := start
	var diskTotal, netTotal uint64 = 10 * mib, 100 * mib

	h := NewHost(time.Millisecond)
	h.readers = hostReaders{
		cpuPercent: func(context.Context, time.Duration) (float64, error) { return 42.5, nil },
		memPercent: func(context.Context) (float64, error) { return 61, nil },
		diskBytes:  func(context.Context) (uint64, error) { return diskTotal, nil },
		netBytes:   func(context.Context) (uint64, error) { return netTotal, nil },
		now:        func() time.Time { return clock },
	}
	ctx := context.Background()

	first, err := h.Sample(ctx)
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if first.DiskIO != 0 || first.NetworkBandwidth != 0 {
		t.Errorf("first sample rates = %v/%v, want 0/0", first.DiskIO, first.NetworkBandwidth)
	}
	if first.CPULoad != 42.5 || first.MemoryUsage != 61 {
		t.Errorf("first sample = %+v", first)
	}

	clock = start.Add(2 * time.Second)
	diskTotal += 20 * mib
	netTotal += 50 * mib

	second, err := h.Sample(ctx)
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if math.Abs(second.DiskIO-10) > 1e-9 {
		t.Errorf("DiskIO = %v MB/s, want 10", second.DiskIO)
	}
	if math.Abs(second.NetworkBandwidth-200) > 1e-9 {
		t.Errorf("NetworkBandwidth = %v Mbps, want 200", second.NetworkBandwidth)
	}

	clock = start.Add(3 * time.Second)
	diskTotal = 0
	third, _ := h.Sample(ctx)
	if third.DiskIO != 0 {
		t.Errorf("DiskIO after counter reset = %v, want 0", third.DiskIO)
	}
}

func TestHost_ReaderError(t *testing.T) {
	h := NewHost(time.Millisecond)
	h.readers.cpuPercent = func(context.Context, time.Duration) (float64, error) {
		return 0, errors.New("no /proc")
	}
	if _, err := h.Sample(context.Background()); err == nil || !strings.Contains(err.Error(), "read cpu") {
		t.Errorf("Sample() error = %v, want read cpu error", err)
	}
}

func TestParseInstantValue(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    float64
		wantErr bool
	}{
		{
			name: "single series",
			body: `{"status":"success","data":{"resultType":"vector","result":[{"metric":{},"value":[1700000000,"42.5"]}]}}`,
			want: 42.5,
		},
		{
			name: "series are summed",
			body: `{"status":"success","data":{"resultType":"vector","result":[{"metric":{"device":"sda"},"value":[1700000000,"1.5"]},{"metric":{"device":"sdb"},"value":[1700000000,"2"]}]}}`,
			want: 3.5,
		},
		{
			name: "scalar",
			body: `{"status":"success","data":{"resultType":"scalar","result":[1700000000,"7"]}}`,
			want: 7,
		},
		{name: "empty vector", body: `{"status":"success","data":{"resultType":"vector","result":[]}}`, wantErr: true},
		{name: "error status", body: `{"status":"error","error":"bad query"}`, wantErr: true},
		{name: "matrix", body: `{"status":"success","data":{"resultType":"matrix","result":[]}}`, wantErr: true},
		{name: "garbage value", body: `{"status":"success","data":{"resultType":"vector","result":[{"value":[1,"abc"]}]}}`, wantErr: true},
		{name: "invalid json", body: `{`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseInstantValue([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseInstantValue() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseInstantValue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPrometheus_Sample(t *testing.T) {
	values := map[string]string{
		"cpu":  "55",
		"mem":  "70",
		"disk": "12.5",
		"net":  "640",
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/query" {
			http.NotFound(w, r)
			return
		}
		v, ok := values[r.URL.Query().Get("query")]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","data":{"resultType":"vector","result":[{"metric":{},"value":[1700000000,"` + v + `"]}]}}`))
	}))
	defer server.Close()

	p := &Prometheus{
		ServerURL: server.URL,
		Queries:   PrometheusQueries{CPULoad: "cpu", MemoryUsage: "mem", DiskIO: "disk", NetworkBandwidth: "net"},
	}

	got, err := p.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	want := features.Vector{CPULoad: 55, MemoryUsage: 70, DiskIO: 12.5, NetworkBandwidth: 640}
	if got != want {
		t.Errorf("Sample() = %+v, want %+v", got, want)
	}

	p.Queries.DiskIO = "unknown"
	if _, err := p.Sample(context.Background()); err == nil || !strings.Contains(err.Error(), features.DiskIO) {
		t.Errorf("Sample() error = %v, want disk_io query error", err)
	}
}

func TestPrometheus_Misconfigured(t *testing.T) {
	if _, err := (&Prometheus{Queries: DefaultPrometheusQueries()}).Sample(context.Background()); err == nil {
		t.Error("expected error without ServerURL")
	}
	if _, err := (&Prometheus{ServerURL: "http://localhost:9090"}).Sample(context.Background()); err == nil {
		t.Error("expected error with empty queries")
	}
}
