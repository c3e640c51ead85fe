package expr

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Resolve resolves a literal or a variable path against vars.
func Resolve(s string, vars map[string]any) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}

	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		return resolveList(s[1:len(s)-1], vars)
	}

	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	case "null", "nil":
		return nil
	}

	var num json.Number
	if err := json.Unmarshal([]byte(s), &num); err == nil {
		if i, err := num.Int64(); err == nil {
			return i
		}
		if f, err := num.Float64(); err == nil {
			return f
		}
	}

	if v, ok := vars[s]; ok {
		return v
	}
	if strings.Contains(s, ".") {
		v, _ := lookup(s, vars)
		return v
	}

	// Unquoted identifier not in vars is a string literal.
	return s
}

// Lookup walks a dotted path through nested maps.
func Lookup(path string, vars map[string]any) (any, bool) {
	return lookup(path, vars)
}

func lookup(path string, vars map[string]any) (any, bool) {
	var cur any = vars
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func resolveList(body string, vars map[string]any) []any {
	items := []any{}
	for {
		body = strings.TrimSpace(body)
		if body == "" {
			return items
		}
		head, rest, ok := splitOutside(body, ",")
		if !ok {
			return append(items, Resolve(body, vars))
		}
		items = append(items, Resolve(head, vars))
		body = rest
	}
}

// IsTruthy returns whether a value is truthy.
func IsTruthy(v any) bool {
	if v == nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	case []any:
		return len(val) > 0
	case []string:
		return len(val) > 0
	default:
		return true
	}
}

// ToFloat64 converts a value to float64 for numeric comparison.
// Returns 0 for values that cannot be converted.
func ToFloat64(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case float32:
		return float64(val)
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f
	default:
		return 0
	}
}
