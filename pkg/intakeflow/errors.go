package intakeflow

import (
	"errors"
	"fmt"
	"strings"

	ierrors "github.com/randalmurphal/intakeflow/pkg/intakeflow/errors"
)

// Sentinel errors for flow-level validation.
var (
	ErrMissingFlowID       = errors.New("flow id is required")
	ErrMissingFlowName     = errors.New("flow name is required")
	ErrMissingFlowVersion  = errors.New("flow version is required")
	ErrMissingStartNode    = errors.New("startNodeId is required")
	ErrInvalidMaxQuestions = errors.New("maxQuestions must be at least 1")
	ErrStartNodeNotFound   = errors.New("start node not found")
	ErrNoNodes             = errors.New("flow has no nodes")
)

// Sentinel errors for node validation.
var (
	ErrMissingNodeID       = errors.New("node id is required")
	ErrDuplicateNodeID     = errors.New("duplicate node id")
	ErrMissingNodeType     = errors.New("node type is required")
	ErrUnknownNodeType     = errors.New("unknown node type")
	ErrMissingQuestionText = errors.New("question node requires question text")
	ErrMissingInputType    = errors.New("question node requires inputType")
	ErrUnknownInputType    = errors.New("unknown input type")
	ErrMissingOptions      = errors.New("select input requires options")
	ErrDuplicateOption     = errors.New("duplicate option key")
	ErrMissingMessageText  = errors.New("message node requires text")
	ErrInvalidMaxAttempts  = errors.New("maxAttempts must not be negative")
	ErrInvalidSchedule     = errors.New("invalid schedule")

	// ErrDanglingReference indicates next, defaultNext or an edge target
	// names a node that doesn't exist.
	ErrDanglingReference = errors.New("reference to unknown node")

	// ErrUnusedEdge indicates an edge on a node kind that never follows it:
	// transitions or followUps on a message node, any edge on an activation
	// node.
	ErrUnusedEdge = errors.New("edge is never followed by this node type")

	// ErrUnreachableNode is reported when reachability is ReachabilityError.
	ErrUnreachableNode = errors.New("node is unreachable from start node")
)

// Sentinel errors for expressions, enums and projections.
var (
	ErrInvalidPattern    = errors.New("invalid validation pattern")
	ErrInvalidPredicate  = errors.New("invalid predicate")
	ErrUnknownEnum       = errors.New("unknown enum")
	ErrInvalidMapping    = errors.New("invalid config mapping")
	ErrInvalidDerivation = errors.New("invalid derivation")
)

// Warning kinds.
var (
	WarnTooManyQuestions   = errors.New("question count exceeds maxQuestions")
	WarnUnreachableNode    = errors.New("node is unreachable from start node")
	WarnUnknownPlaceholder = errors.New("placeholder names no collected key or derived fact")
)

// Sentinel errors for interpreter misuse. Bad answers never produce errors;
// these indicate a caller bug or corrupted session.
var (
	ErrNilGraph      = errors.New("graph cannot be nil")
	ErrNilSession    = errors.New("session cannot be nil")
	ErrSessionClosed = errors.New("session is not active")
	ErrFlowMismatch  = errors.New("session belongs to a different flow version")
	ErrUnknownNode   = errors.New("session is positioned on an unknown node")
)

// ValidationError is one structural defect in a flow definition.
type ValidationError struct {
	// Kind is the sentinel identifying the check that failed.
	Kind error
	// NodeID is empty for flow-level defects.
	NodeID string
	// Field names the offending attribute ("next", "transitions[1].targetNodeId").
	Field string
	// Detail adds the offending value.
	Detail string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	var b strings.Builder
	if e.NodeID != "" {
		fmt.Fprintf(&b, "node %s", e.NodeID)
	} else {
		b.WriteString("flow")
	}
	if e.Field != "" {
		b.WriteString(" " + e.Field)
	}
	b.WriteString(": " + e.Kind.Error())
	if e.Detail != "" {
		b.WriteString(": " + e.Detail)
	}
	return b.String()
}

// Unwrap returns Kind for errors.Is support.
func (e *ValidationError) Unwrap() error {
	return e.Kind
}

// Category marks validation failures as structural.
func (e *ValidationError) Category() ierrors.Category {
	return ierrors.CategoryStructural
}

// ValidationErrors is the full list of defects found in one pass.
type ValidationErrors []*ValidationError

// Error renders one defect per line.
func (errs ValidationErrors) Error() string {
	lines := make([]string, len(errs))
	for i, e := range errs {
		lines[i] = e.Error()
	}
	return strings.Join(lines, "\n")
}

// Unwrap exposes every defect to errors.Is and errors.As.
func (errs ValidationErrors) Unwrap() []error {
	out := make([]error, len(errs))
	for i, e := range errs {
		out[i] = e
	}
	return out
}

// Category marks validation failures as structural.
func (errs ValidationErrors) Category() ierrors.Category {
	return ierrors.CategoryStructural
}

// Warning is a non-fatal finding.
type Warning struct {
	Kind   error
	NodeID string
	Detail string
}

// String renders the warning the same way ValidationError renders errors.
func (w Warning) String() string {
	s := "flow"
	if w.NodeID != "" {
		s = "node " + w.NodeID
	}
	s += ": " + w.Kind.Error()
	if w.Detail != "" {
		s += ": " + w.Detail
	}
	return s
}
