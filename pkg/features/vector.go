// Package features defines the canonical input of the downtime model: a
// four-field resource utilization vector, and the rules that decide whether a
// caller-supplied vector is acceptable.
//
// The only way to build a Vector from an untyped payload is Parse, which
// validates every field before any of them is used. Out-of-domain values are
// rejected, never clamped.
package features

import (
	"fmt"
	"math"
	"strings"
)

// Field names in canonical order. This order is also the column order of the
// model, the feature importance vector and training CSV files.
const (
	CPULoad          = "cpu_load"
	MemoryUsage      = "memory_usage"
	DiskIO           = "disk_io"
	NetworkBandwidth = "network_bandwidth"
)

// Names lists the feature names in canonical order.
var Names = [NumFeatures]string{CPULoad, MemoryUsage, DiskIO, NetworkBandwidth}

// NumFeatures is the dimension of a Vector.
const NumFeatures = 4

// Vector is a point-in-time sample of the utilization of a VM host.
type Vector struct {
	// CPULoad is CPU utilization in percent, [0,100].
	CPULoad float64 `json:"cpu_load"`
	// MemoryUsage is memory utilization in percent, [0,100].
	MemoryUsage float64 `json:"memory_usage"`
	// DiskIO is disk throughput (MB/s), >= 0.
	DiskIO float64 `json:"disk_io"`
	// NetworkBandwidth is network throughput (Mbps), >= 0.
	NetworkBandwidth float64 `json:"network_bandwidth"`
}

// Slice returns the vector in canonical order.
func (v Vector) Slice() [NumFeatures]float64 {
	return [NumFeatures]float64{v.CPULoad, v.MemoryUsage, v.DiskIO, v.NetworkBandwidth}
}

// FromSlice builds a Vector from values in canonical order.
func FromSlice(x [NumFeatures]float64) Vector {
	return Vector{CPULoad: x[0], MemoryUsage: x[1], DiskIO: x[2], NetworkBandwidth: x[3]}
}

// With returns a copy of v with the feature at index i set to value.
func (v Vector) With(i int, value float64) Vector {
	x := v.Slice()
	x[i] = value
	return FromSlice(x)
}

// Bounds holds the configurable upper limits for the throughput fields.
// A zero limit means unbounded above. The percentage fields are always [0,100].
type Bounds struct {
	MaxDiskIO           float64
	MaxNetworkBandwidth float64
}

// DefaultBounds returns bounds with no upper limit on throughput fields.
func DefaultBounds() Bounds {
	return Bounds{}
}

// Check validates v against the bounds and returns a *ValidationError listing
// every offending field, or nil.
func (b Bounds) Check(v Vector) error {
	var verr ValidationError
	x := v.Slice()
	for i, name := range Names {
		if msg := b.checkField(i, x[i]); msg != "" {
			verr.add(name, msg)
		}
	}
	return verr.orNil()
}

func (b Bounds) checkField(i int, value float64) string {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return "must be a finite number"
	}
	switch i {
	case 0, 1:
		if value < 0 || value > 100 {
			return fmt.Sprintf("must be within [0, 100], got %g", value)
		}
	case 2:
		return checkThroughput(value, b.MaxDiskIO)
	case 3:
		return checkThroughput(value, b.MaxNetworkBandwidth)
	}
	return ""
}

// Upper returns the inclusive upper limit of feature i, or +Inf when the
// feature is unbounded above.
func (b Bounds) Upper(i int) float64 {
	var limit float64
	switch i {
	case 0, 1:
		return 100
	case 2:
		limit = b.MaxDiskIO
	case 3:
		limit = b.MaxNetworkBandwidth
	}
	if limit > 0 {
		return limit
	}
	return math.Inf(1)
}

func checkThroughput(value, limit float64) string {
	if value < 0 {
		return fmt.Sprintf("must be >= 0, got %g", value)
	}
	if limit > 0 && value > limit {
		return fmt.Sprintf("must be <= %g, got %g", limit, value)
	}
	return ""
}

// FieldError describes why a single field was rejected.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports every field of an input that failed validation.
// Fields are listed in canonical order; payload-level problems use the
// field name "body".
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Message)
	}
	return "invalid feature vector: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
