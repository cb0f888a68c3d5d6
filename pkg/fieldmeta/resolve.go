package fieldmeta

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ResolveLimit resolves a string-length limit from the structured location
// first, falling back to the legacy flat field. Limits must coerce to a
// positive number; anything else is treated as not configured.
func ResolveLimit(primary, legacy any) (int, bool) {
	for _, candidate := range []any{primary, legacy} {
		value, ok := coerceNumber(candidate)
		if !ok {
			continue
		}
		if value <= 0 || math.IsNaN(value) || math.IsInf(value, 0) {
			return 0, false
		}
		return int(value), true
	}
	return 0, false
}

// ResolveBound resolves a numeric value bound with the same two-step lookup
// as ResolveLimit. Unlike lengths, zero and negative bounds are valid.
func ResolveBound(primary, legacy any) (float64, bool) {
	for _, candidate := range []any{primary, legacy} {
		value, ok := coerceNumber(candidate)
		if !ok {
			continue
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return 0, false
		}
		return value, true
	}
	return 0, false
}

// coerceNumber converts configured limit values to float64. Nil, empty
// strings and non-numeric values report absence rather than zero so a
// missing limit is never confused with a configured one.
func coerceNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case nil:
		return 0, false
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
