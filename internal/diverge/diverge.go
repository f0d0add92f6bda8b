// Package diverge explains why two pieces of content differ, down to a
// bounded depth.
package diverge

import (
	"sort"

	"github.com/jmerrifield20/chainledger/internal/canonical"
)

// DefaultMaxDepth reports nested fields one level below the top-level keys.
const DefaultMaxDepth = 2

// RootPath labels a divergence that covers the whole value.
const RootPath = "(root)"

// Divergence is one field-level difference.
type Divergence struct {
	FieldPath string `json:"field_path"`
	Expected  any    `json:"expected_value"`
	Actual    any    `json:"actual_value"`
}

// Diff compares expected with actual. Objects are descended while depth is
// below maxDepth; arrays and anything past maxDepth are reported whole.
// Keys are visited in sorted order so the result is stable.
func Diff(expected, actual any, maxDepth int) []Divergence {
	if maxDepth < 0 {
		maxDepth = 0
	}
	out := []Divergence{}
	visit("", normalize(expected), normalize(actual), 0, maxDepth, &out)
	return out
}

// Explain decodes two content values and diffs them. It backs ad-hoc
// comparisons of blobs that never went through the ledger.
func Explain(expected, actual canonical.Content, maxDepth int) ([]Divergence, error) {
	e, err := canonical.Decode(expected)
	if err != nil {
		return nil, err
	}
	a, err := canonical.Decode(actual)
	if err != nil {
		return nil, err
	}
	return Diff(e, a, maxDepth), nil
}

func visit(path string, a, b any, depth, maxDepth int, out *[]Divergence) {
	if Equal(a, b) {
		return
	}
	if depth < maxDepth {
		ma, okA := a.(map[string]any)
		mb, okB := b.(map[string]any)
		if okA && okB {
			for _, k := range unionKeys(ma, mb) {
				va, inA := ma[k]
				vb, inB := mb[k]
				next := join(path, k)
				if inA != inB {
					*out = append(*out, Divergence{FieldPath: next, Expected: va, Actual: vb})
					continue
				}
				visit(next, va, vb, depth+1, maxDepth, out)
			}
			return
		}
	}
	if path == "" {
		path = RootPath
	}
	*out = append(*out, Divergence{FieldPath: path, Expected: a, Actual: b})
}

// Equal is deep equality over decoded JSON values: arrays element-wise,
// objects over the union of their keys.
func Equal(a, b any) bool {
	switch x := a.(type) {
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok {
			return false
		}
		for _, k := range unionKeys(x, y) {
			va, inA := x[k]
			vb, inB := y[k]
			if inA != inB || !Equal(va, vb) {
				return false
			}
		}
		return true
	case nil:
		return b == nil
	default:
		switch b.(type) {
		case []any, map[string]any:
			return false
		}
		return a == b
	}
}

// normalize parses JSON text so that stored block content and live values
// compare structurally. Non-JSON strings stay opaque scalars.
func normalize(v any) any {
	switch t := v.(type) {
	case string:
		parsed, _ := canonical.Parse(t)
		return parsed
	case canonical.Content:
		d, err := canonical.Decode(t)
		if err != nil {
			return v
		}
		return d
	case nil, bool, float64:
		return v
	default:
		d, err := canonical.Decode(canonical.Structured(v))
		if err != nil {
			return v
		}
		return d
	}
}

func unionKeys(a, b map[string]any) []string {
	keys := make([]string, 0, len(a)+len(b))
	for k := range a {
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
