package template

import (
	"fmt"
	"regexp"
	"strings"
)

// DerivedPrefix marks a placeholder that names a derived fact.
const DerivedPrefix = "derived."

// placeholder matches ${name} and ${derived.name}.
var placeholder = regexp.MustCompile(`\$\{((?:derived\.)?[a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Lookup resolves a placeholder name to its text.
type Lookup func(name string) (string, bool)

// MapLookup resolves names from a map. Nil values count as missing.
func MapLookup(vars map[string]any) Lookup {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		if !ok || v == nil {
			return "", false
		}
		return fmt.Sprint(v), true
	}
}

// Expander replaces placeholders in strings.
type Expander struct {
	missingAction MissingAction
}

// NewExpander creates an Expander with the given options.
func NewExpander(opts ...Option) *Expander {
	e := &Expander{missingAction: MissingEmpty}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand replaces every placeholder in s. An error is only returned with
// MissingError; the partially expanded string is still returned.
func (e *Expander) Expand(s string, lookup Lookup) (string, error) {
	if s == "" || !strings.Contains(s, "${") {
		return s, nil
	}

	var missing []string
	seen := map[string]bool{}
	out := placeholder.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if lookup != nil {
			if val, ok := lookup(name); ok {
				return val
			}
		}
		if e.missingAction != MissingError {
			return ""
		}
		if !seen[name] {
			seen[name] = true
			missing = append(missing, name)
		}
		return match
	})
	if len(missing) > 0 {
		return out, &UndefinedVariableError{Names: missing}
	}
	return out, nil
}

// UndefinedVariableError is returned with MissingError when one or more
// placeholders have no value. Names are in order of first appearance.
type UndefinedVariableError struct {
	Names []string
}

// Error implements the error interface.
func (e *UndefinedVariableError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("undefined variable: %s", e.Names[0])
	}
	return fmt.Sprintf("undefined variables: %s", strings.Join(e.Names, ", "))
}
