package expr

import (
	"fmt"
	"regexp"
	"strings"
)

// builtinOps is ordered so that longer tokens win over their prefixes.
var builtinOps = []struct {
	token   string
	compare BinaryOp
}{
	{" contains ", compareContains},
	{" matches ", compareMatches},
	{" in ", compareIn},
	{"==", compareEquals},
	{"!=", compareNotEquals},
	{">=", compareGTE},
	{"<=", compareLTE},
	{">", compareGT},
	{"<", compareLT},
}

// Compare compares two values using the named operator.
// Returns an error for unknown operators.
func Compare(left, right any, op string) (bool, error) {
	op = strings.TrimSpace(op)
	for _, b := range builtinOps {
		if strings.TrimSpace(b.token) == op {
			return b.compare(left, right), nil
		}
	}
	return false, fmt.Errorf("unknown operator: %s", op)
}

func render(v any) string {
	return fmt.Sprintf("%v", v)
}

func compareEquals(left, right any) bool {
	return render(left) == render(right)
}

func compareNotEquals(left, right any) bool {
	return render(left) != render(right)
}

func compareLT(left, right any) bool {
	return ToFloat64(left) < ToFloat64(right)
}

func compareGT(left, right any) bool {
	return ToFloat64(left) > ToFloat64(right)
}

func compareLTE(left, right any) bool {
	return ToFloat64(left) <= ToFloat64(right)
}

func compareGTE(left, right any) bool {
	return ToFloat64(left) >= ToFloat64(right)
}

// compareContains is membership when left is a list, substring otherwise.
func compareContains(left, right any) bool {
	if items, ok := toList(left); ok {
		return member(items, right)
	}
	return strings.Contains(render(left), render(right))
}

// compareIn is membership when right is a list, substring otherwise.
func compareIn(left, right any) bool {
	if items, ok := toList(right); ok {
		return member(items, left)
	}
	if right == nil {
		return false
	}
	return strings.Contains(render(right), render(left))
}

func compareMatches(left, right any) bool {
	re, err := regexp.Compile(render(right))
	if err != nil {
		return false
	}
	return re.MatchString(render(left))
}

func member(items []any, v any) bool {
	want := render(v)
	for _, item := range items {
		if render(item) == want {
			return true
		}
	}
	return false
}

func toList(v any) ([]any, bool) {
	switch val := v.(type) {
	case []any:
		return val, true
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}
