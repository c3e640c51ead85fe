package errors

import (
	"fmt"
	"time"
)

// InputError indicates an answer failed the checks of the node that asked for it.
// The interpreter recovers from it by re-prompting; it never reaches end users.
type InputError struct {
	NodeID    string
	InputType string
	Message   string
}

// Error implements the error interface.
func (e *InputError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("invalid %s answer for %s: %s", e.InputType, e.NodeID, e.Message)
	}
	return fmt.Sprintf("invalid %s answer: %s", e.InputType, e.Message)
}

// ExternalServiceError indicates a collaborator (completion service, SMS
// provider, ticket sink) failed or timed out.
type ExternalServiceError struct {
	Service string
	Op      string
	Timeout time.Duration
	Err     error
}

// Error implements the error interface.
func (e *ExternalServiceError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("%s %s (timeout %s): %v", e.Service, e.Op, e.Timeout, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// ConflictError indicates a write lost a race against another writer.
// Callers may retry the whole operation.
type ConflictError struct {
	// Resource names what was contended ("slot", "session").
	Resource string
	// ID identifies the contended instance.
	ID  string
	Err error
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Resource, e.ID, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConflictError) Unwrap() error {
	return e.Err
}
