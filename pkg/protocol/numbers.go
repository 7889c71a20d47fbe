package protocol

import (
	"encoding/json"
	"math"
)

// IntValues rewrites integer-valued numbers in decoded params back to int,
// the type DecodeLine yields for int: values. Maps and slices are rewritten
// in place. Whole float64 values are only rewritten when floats is set, for
// formats with no integer type of their own.
func IntValues(v any, floats bool) any {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			x[k] = IntValues(e, floats)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = IntValues(e, floats)
		}
		return x
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return IntValues(n, floats)
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case int64:
		if x >= math.MinInt && x <= math.MaxInt {
			return int(x)
		}
	case uint64:
		if x <= math.MaxInt {
			return int(x)
		}
	case float64:
		if floats && x == math.Trunc(x) && x >= -(1<<53) && x <= 1<<53 {
			return int(x)
		}
	}
	return v
}
