// Package errors classifies failures raised while compiling flows and
// running sessions, and provides a retry helper for the retryable ones.
//
// Four classes of failure cross package boundaries:
//   - Structural: a flow definition violates a graph invariant (build time)
//   - Input: an answer fails its input checks (recovered by re-prompting)
//   - External: the completion service or another collaborator failed
//   - Conflict: a slot reservation or session write lost a race
//
// Conflict and external failures are retryable; the rest are not.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryPermanent indicates retry won't help and no local recovery exists.
	CategoryPermanent Category = iota

	// CategoryStructural indicates a flow definition is unsound.
	CategoryStructural

	// CategoryInput indicates a user answer failed validation.
	CategoryInput

	// CategoryExternal indicates a collaborator call failed or timed out.
	CategoryExternal

	// CategoryConflict indicates a concurrent writer won a race.
	CategoryConflict
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryPermanent:
		return "permanent"
	case CategoryStructural:
		return "structural"
	case CategoryInput:
		return "input"
	case CategoryExternal:
		return "external"
	case CategoryConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Categorizer is implemented by errors that know their own category.
// Packages that cannot import this package's concrete types (the flow
// validator, for one) satisfy it to take part in Categorize.
type Categorizer interface {
	Category() Category
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Attempts is the number of attempts that have been made.
	Attempts int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Attempts)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Attempts)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// NewCategorized creates a new categorized error.
func NewCategorized(err error, category Category, context string) *CategorizedError {
	return &CategorizedError{
		Err:      err,
		Category: category,
		Context:  context,
	}
}

// Structural creates a structural error.
func Structural(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryStructural, context)
}

// External creates an external-service error.
func External(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryExternal, context)
}

// Conflict creates a conflict error.
func Conflict(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryConflict, context)
}

// Permanent creates a permanent error.
func Permanent(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryPermanent, context)
}

// Categorize determines how an error should be handled.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	var conflictErr *ConflictError
	if errors.As(err, &conflictErr) {
		return CategoryConflict
	}

	var extErr *ExternalServiceError
	if errors.As(err, &extErr) {
		return CategoryExternal
	}

	var inputErr *InputError
	if errors.As(err, &inputErr) {
		return CategoryInput
	}

	var c Categorizer
	if errors.As(err, &c) {
		return c.Category()
	}

	// A deadline on a collaborator call is an external failure; a caller
	// cancelling its own context is not something a retry can fix.
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryExternal
	}

	return CategoryPermanent
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	switch Categorize(err) {
	case CategoryConflict, CategoryExternal:
		return true
	default:
		return false
	}
}

// IsConflict reports whether the error is a lost race.
func IsConflict(err error) bool {
	return Categorize(err) == CategoryConflict
}
