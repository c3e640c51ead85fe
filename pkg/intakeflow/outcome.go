package intakeflow

import "github.com/randalmurphal/intakeflow/pkg/intakeflow/handoff"

// Answer is one inbound customer reply.
type Answer struct {
	Text string `json:"text"`
	// Fields are values pulled from Text by an extraction collaborator.
	// Only keys the question lists in Extract are merged, and never over
	// an answer already collected.
	Fields map[string]any `json:"fields,omitempty"`
}

// Outcome is the result of one Advance call. The concrete type is one of
// *Prompt, *Advanced, *Completed or *Escalated.
type Outcome interface {
	// Kind names the outcome for logs and metrics.
	Kind() string
	isOutcome()
}

// Outcome kinds.
const (
	OutcomePrompt    = "prompt"
	OutcomeAdvanced  = "advanced"
	OutcomeCompleted = "completed"
	OutcomeEscalated = "escalated"
)

// Prompt asks the customer for input at NodeID.
type Prompt struct {
	NodeID string    `json:"nodeId"`
	Text   string    `json:"text"`
	Input  InputSpec `json:"input"`
	// Error explains why the previous answer was rejected.
	Error string `json:"error,omitempty"`
	// Attempt is the number of rejected answers so far at this node.
	Attempt int `json:"attempt,omitempty"`
	// Recap lists collected answers for review nodes.
	Recap    []RecapItem `json:"recap,omitempty"`
	Messages []string    `json:"messages,omitempty"`
}

// RecapItem is one line of a review recap.
type RecapItem struct {
	Key   string `json:"key"`
	Label string `json:"label,omitempty"`
	Value any    `json:"value"`
}

// Advanced reports that the session moved without needing input. The
// caller should immediately call Advance again with no answer.
type Advanced struct {
	// NodeID is the node the session now sits on.
	NodeID string `json:"nodeId"`
	From   string `json:"from"`
	// Messages holds text emitted by message nodes on the way.
	Messages []string `json:"messages,omitempty"`
}

// Completed reports the flow finished. Record is the projected external
// record.
type Completed struct {
	NodeID      string              `json:"nodeId"`
	Text        string              `json:"text,omitempty"`
	Record      map[string]any      `json:"record"`
	Reservation *ReservationRequest `json:"reservation,omitempty"`
	Messages    []string            `json:"messages,omitempty"`
}

// ReservationRequest asks the scheduler to offer slots after completion.
type ReservationRequest struct {
	SessionID  string `json:"sessionId"`
	WindowDays int    `json:"windowDays"`
	MaxSlots   int    `json:"maxSlots"`
}

// Escalated reports that the session was handed to a human.
type Escalated struct {
	NodeID   string         `json:"nodeId"`
	Ticket   handoff.Ticket `json:"ticket"`
	Messages []string       `json:"messages,omitempty"`
}

func (*Prompt) Kind() string    { return OutcomePrompt }
func (*Advanced) Kind() string  { return OutcomeAdvanced }
func (*Completed) Kind() string { return OutcomeCompleted }
func (*Escalated) Kind() string { return OutcomeEscalated }

func (*Prompt) isOutcome()    {}
func (*Advanced) isOutcome()  {}
func (*Completed) isOutcome() {}
func (*Escalated) isOutcome() {}
