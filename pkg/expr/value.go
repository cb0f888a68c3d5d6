package expr

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type orNode struct {
	left  node
	right node
}

func (n orNode) eval(values map[string]any) (any, error) {
	left, err := n.left.eval(values)
	if err != nil {
		return nil, err
	}
	if truthy(left) {
		return true, nil
	}
	right, err := n.right.eval(values)
	if err != nil {
		return nil, err
	}
	return truthy(right), nil
}

type andNode struct {
	left  node
	right node
}

func (n andNode) eval(values map[string]any) (any, error) {
	left, err := n.left.eval(values)
	if err != nil {
		return nil, err
	}
	if !truthy(left) {
		return false, nil
	}
	right, err := n.right.eval(values)
	if err != nil {
		return nil, err
	}
	return truthy(right), nil
}

type notNode struct {
	inner node
}

func (n notNode) eval(values map[string]any) (any, error) {
	inner, err := n.inner.eval(values)
	if err != nil {
		return nil, err
	}
	return !truthy(inner), nil
}

type litNode struct {
	value any
}

func (n litNode) eval(map[string]any) (any, error) {
	return n.value, nil
}

type identNode struct {
	path string
}

func (n identNode) eval(values map[string]any) (any, error) {
	value, ok := lookup(values, n.path)
	if !ok {
		return nil, fmt.Errorf("expr: unknown identifier %q", n.path)
	}
	return value, nil
}

type negNode struct {
	inner node
}

func (n negNode) eval(values map[string]any) (any, error) {
	inner, err := n.inner.eval(values)
	if err != nil {
		return nil, err
	}
	num, ok := coerceNumber(inner)
	if !ok {
		return nil, fmt.Errorf("expr: cannot negate %v", inner)
	}
	return -num, nil
}

type arithNode struct {
	left  node
	op    tokenKind
	opRaw string
	right node
}

func (n arithNode) eval(values map[string]any) (any, error) {
	left, err := n.left.eval(values)
	if err != nil {
		return nil, err
	}
	right, err := n.right.eval(values)
	if err != nil {
		return nil, err
	}

	// String concatenation is the one non-numeric arithmetic case rule
	// authors rely on.
	if n.op == tokenPlus {
		if ls, ok := left.(string); ok {
			return ls + coerceString(right), nil
		}
		if rs, ok := right.(string); ok {
			return coerceString(left) + rs, nil
		}
	}

	ln, ok := coerceNumber(left)
	if !ok {
		return nil, fmt.Errorf("expr: operand %v is not numeric", left)
	}
	rn, ok := coerceNumber(right)
	if !ok {
		return nil, fmt.Errorf("expr: operand %v is not numeric", right)
	}

	switch n.op {
	case tokenPlus:
		return ln + rn, nil
	case tokenMinus:
		return ln - rn, nil
	case tokenStar:
		return ln * rn, nil
	case tokenSlash:
		if rn == 0 {
			return nil, fmt.Errorf("expr: division by zero")
		}
		return ln / rn, nil
	default:
		return nil, fmt.Errorf("expr: unsupported operator %q", n.opRaw)
	}
}

type cmpNode struct {
	left  node
	op    tokenKind
	opRaw string
	right node
}

func (n cmpNode) eval(values map[string]any) (any, error) {
	left, err := n.left.eval(values)
	if err != nil {
		return nil, err
	}
	right, err := n.right.eval(values)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case tokenEq:
		return equal(left, right), nil
	case tokenNeq:
		return !equal(left, right), nil
	}

	order, err := compare(left, right)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case tokenLt:
		return order < 0, nil
	case tokenLte:
		return order <= 0, nil
	case tokenGt:
		return order > 0, nil
	case tokenGte:
		return order >= 0, nil
	default:
		return nil, fmt.Errorf("expr: unsupported operator %q", n.opRaw)
	}
}

// equal mirrors loose equality as rule authors expect: null only equals
// null, booleans coerce their counterpart, numbers compare numerically, and
// everything else falls back to string comparison.
func equal(left, right any) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	if lb, ok := left.(bool); ok {
		rb, _ := coerceBool(right)
		return lb == rb
	}
	if rb, ok := right.(bool); ok {
		lb, _ := coerceBool(left)
		return lb == rb
	}
	if ln, ok := coerceNumber(left); ok {
		if rn, ok := coerceNumber(right); ok {
			return ln == rn
		}
	}
	return coerceString(left) == coerceString(right)
}

// compare orders two operands: numerically when both sides are numbers,
// by instant when both parse as dates, lexicographically otherwise. ISO
// date strings order correctly either way.
func compare(left, right any) (int, error) {
	if left == nil || right == nil {
		return 0, fmt.Errorf("expr: cannot order null values")
	}

	if ln, ok := coerceNumber(left); ok {
		if rn, ok := coerceNumber(right); ok {
			switch {
			case ln < rn:
				return -1, nil
			case ln > rn:
				return 1, nil
			default:
				return 0, nil
			}
		}
	}

	if lt, ok := coerceTime(left); ok {
		if rt, ok := coerceTime(right); ok {
			switch {
			case lt.Before(rt):
				return -1, nil
			case lt.After(rt):
				return 1, nil
			default:
				return 0, nil
			}
		}
	}

	return strings.Compare(coerceString(left), coerceString(right)), nil
}

// lookup resolves a dot-path against the values map. A flattened key match
// wins over nested traversal so callers can use either shape.
func lookup(values map[string]any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" || len(values) == 0 {
		return nil, false
	}

	if v, ok := values[path]; ok {
		return v, true
	}

	parts := strings.Split(path, ".")
	var current any = values
	for _, part := range parts {
		typed, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		next, ok := typed[part]
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return strings.TrimSpace(v) != ""
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case float32:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}

func coerceBool(value any) (bool, bool) {
	switch v := value.(type) {
	case nil:
		return false, false
	case bool:
		return v, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		if err == nil {
			return parsed, true
		}
		return strings.TrimSpace(v) != "", true
	default:
		return truthy(value), true
	}
}

func coerceNumber(value any) (float64, bool) {
	switch v := value.(type) {
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
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func coerceTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case string:
		trimmed := strings.TrimSpace(v)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, trimmed); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func coerceString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(value)
	}
}
