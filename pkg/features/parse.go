package features

import (
	"github.com/tidwall/gjson"
)

// Parse validates a raw JSON payload and builds a Vector from it.
//
// The payload must be a JSON object holding all four fields as JSON numbers.
// Unknown keys are ignored. Missing fields, non-numeric values and values
// outside b are reported together in a single *ValidationError.
func Parse(raw []byte, b Bounds) (Vector, error) {
	if !gjson.ValidBytes(raw) {
		return Vector{}, &ValidationError{Fields: []FieldError{{Field: "body", Message: "must be valid JSON"}}}
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return Vector{}, &ValidationError{Fields: []FieldError{{Field: "body", Message: "must be a JSON object"}}}
	}

	var (
		verr ValidationError
		x    [NumFeatures]float64
	)
	for i, name := range Names {
		r := doc.Get(name)
		switch {
		case !r.Exists() || r.Type == gjson.Null:
			verr.add(name, "is required")
		case r.Type != gjson.Number:
			verr.add(name, "must be a number")
		default:
			x[i] = r.Float()
			if msg := b.checkField(i, x[i]); msg != "" {
				verr.add(name, msg)
			}
		}
	}
	if err := verr.orNil(); err != nil {
		return Vector{}, err
	}
	return FromSlice(x), nil
}
