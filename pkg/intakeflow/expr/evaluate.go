package expr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for malformed expressions.
var (
	// ErrEmpty indicates an empty expression was checked.
	ErrEmpty = errors.New("empty expression")

	// ErrSyntax indicates a malformed expression.
	ErrSyntax = errors.New("syntax error")
)

// BinaryOp is a function that compares two values and returns a boolean result.
type BinaryOp func(left, right any) bool

// Evaluator evaluates boolean expressions with optional custom operators.
// An Evaluator is safe for concurrent use once built.
type Evaluator struct {
	customOps map[string]BinaryOp
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithCustomOperator registers a custom word operator, matched with
// surrounding spaces. Built-in operators take precedence.
func WithCustomOperator(name string, fn BinaryOp) Option {
	return func(e *Evaluator) {
		if e.customOps == nil {
			e.customOps = make(map[string]BinaryOp)
		}
		e.customOps[name] = fn
	}
}

// New creates a new Evaluator with the given options.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate evaluates a boolean expression against the provided variables.
// An empty expression is false.
func (e *Evaluator) Evaluate(expr string, vars map[string]any) (bool, error) {
	return e.evaluateCondition(expr, vars)
}

// Check reports whether expr is well-formed without binding variables.
func (e *Evaluator) Check(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return ErrEmpty
	}
	if err := balanced(expr); err != nil {
		return err
	}
	_, err := e.evaluateCondition(expr, nil)
	return err
}

// Eval evaluates an expression using the default evaluator.
func Eval(expr string, vars map[string]any) (bool, error) {
	return New().Evaluate(expr, vars)
}

// Check validates an expression using the default evaluator.
func Check(expr string) error {
	return New().Check(expr)
}

func (e *Evaluator) evaluateCondition(expr string, vars map[string]any) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false, nil
	}

	if inner, ok := strings.CutPrefix(expr, "not "); ok {
		result, err := e.evaluateCondition(inner, vars)
		return !result && err == nil, err
	}
	if inner, ok := strings.CutPrefix(expr, "!"); ok && !strings.HasPrefix(inner, "=") {
		result, err := e.evaluateCondition(inner, vars)
		return !result && err == nil, err
	}

	if left, right, ok := splitOutside(expr, " and "); ok {
		l, err := e.evaluateCondition(left, vars)
		if err != nil {
			return false, err
		}
		r, err := e.evaluateCondition(right, vars)
		if err != nil {
			return false, err
		}
		return l && r, nil
	}

	if left, right, ok := splitOutside(expr, " or "); ok {
		l, err := e.evaluateCondition(left, vars)
		if err != nil {
			return false, err
		}
		r, err := e.evaluateCondition(right, vars)
		if err != nil {
			return false, err
		}
		return l || r, nil
	}

	for _, op := range builtinOps {
		if left, right, ok := splitOutside(expr, op.token); ok {
			return binary(expr, left, right, op.compare, vars)
		}
	}

	for name, fn := range e.customOps {
		if left, right, ok := splitOutside(expr, " "+name+" "); ok {
			return binary(expr, left, right, fn, vars)
		}
	}

	return IsTruthy(Resolve(expr, vars)), nil
}

func binary(expr, left, right string, fn BinaryOp, vars map[string]any) (bool, error) {
	left, right = strings.TrimSpace(left), strings.TrimSpace(right)
	if left == "" || right == "" {
		return false, fmt.Errorf("%w: missing operand in %q", ErrSyntax, expr)
	}
	return fn(Resolve(left, vars), Resolve(right, vars)), nil
}

// splitOutside splits s at the first occurrence of sep that is not inside
// quotes or list brackets.
func splitOutside(s, sep string) (string, string, bool) {
	var quote byte
	depth := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
			continue
		case c == '\'' || c == '"':
			quote = c
			continue
		case c == '[':
			depth++
			continue
		case c == ']':
			depth--
			continue
		}
		if depth == 0 && strings.HasPrefix(s[i:], sep) {
			return s[:i], s[i+len(sep):], true
		}
	}
	return "", "", false
}

// balanced reports unterminated quotes and mismatched brackets.
func balanced(s string) error {
	var quote byte
	depth := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '[':
			depth++
		case c == ']':
			depth--
			if depth < 0 {
				return fmt.Errorf("%w: unexpected ']' in %q", ErrSyntax, s)
			}
		}
	}
	if quote != 0 {
		return fmt.Errorf("%w: unterminated string in %q", ErrSyntax, s)
	}
	if depth != 0 {
		return fmt.Errorf("%w: unclosed '[' in %q", ErrSyntax, s)
	}
	return nil
}
