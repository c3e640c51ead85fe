package intakeflow

import (
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/randalmurphal/intakeflow/pkg/intakeflow/session"
)

// Project applies the flow's config mappings to a session and returns the
// external record. Without mappings the record is a copy of collected.
//
// A mapping whose source is absent falls back to Default and is skipped
// when there is none. Enum-restricted values are matched case-insensitively
// and replaced with the canonical member.
func (g *FlowGraph) Project(st *session.State) map[string]any {
	if len(g.def.ConfigMappings) == 0 {
		out := maps.Clone(st.Collected)
		if out == nil {
			out = make(map[string]any)
		}
		return out
	}

	out := make(map[string]any)
	for _, m := range g.def.ConfigMappings {
		v, ok := g.mappingValue(m, st)
		if !ok {
			continue
		}
		setPath(out, m.Target, v)
	}
	return out
}

func (g *FlowGraph) mappingValue(m ConfigMapping, st *session.State) (any, bool) {
	var v any
	var ok bool
	if m.Source != "" {
		v, ok = sourceValue(m.Source, st)
	} else if m.Value != nil {
		v, ok = m.Value, true
	}
	if !ok || v == nil {
		return m.Default, m.Default != nil
	}

	v = applyTransform(m.Transform, v)

	if m.Enum != "" {
		canonical, member := matchEnum(g.def.Enums[m.Enum], v)
		if !member {
			return m.Default, m.Default != nil
		}
		v = canonical
	}
	return v, true
}

func sourceValue(source string, st *session.State) (any, bool) {
	switch {
	case strings.HasPrefix(source, "collected."):
		v, ok := st.Collected[strings.TrimPrefix(source, "collected.")]
		return v, ok
	case strings.HasPrefix(source, "derived."):
		v, ok := st.Derived[strings.TrimPrefix(source, "derived.")]
		return v, ok
	default:
		v, ok := st.Collected[source]
		return v, ok
	}
}

func applyTransform(name string, v any) any {
	switch name {
	case "lower":
		return strings.ToLower(toString(v))
	case "upper":
		return strings.ToUpper(toString(v))
	case "trim":
		return strings.TrimSpace(toString(v))
	case "string":
		return toString(v)
	case "number":
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		case int64:
			return float64(n)
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(toString(v)), 64); err == nil {
			return f
		}
		return v
	case "bool":
		if b, ok := v.(bool); ok {
			return b
		}
		if b, err := strconv.ParseBool(strings.TrimSpace(toString(v))); err == nil {
			return b
		}
		return v
	case "join":
		return toString(v)
	default:
		return v
	}
}

// toString renders scalars with fmt and joins lists with ", ".
func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []string:
		return strings.Join(x, ", ")
	case []any:
		parts := make([]string, len(x))
		for i, p := range x {
			parts[i] = toString(p)
		}
		return strings.Join(parts, ", ")
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func matchEnum(members []string, v any) (string, bool) {
	s := toString(v)
	for _, m := range members {
		if strings.EqualFold(m, s) {
			return m, true
		}
	}
	return "", false
}

// setPath writes v at a dotted path, creating nested maps. A scalar in the
// way is replaced.
func setPath(out map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	cur := out
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}
