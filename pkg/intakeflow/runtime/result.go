package runtime

import (
	"time"

	"github.com/randalmurphal/intakeflow/pkg/intakeflow"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/handoff"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/scheduling"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/session"
)

// Result is what one engine event produced.
type Result struct {
	SessionID   string
	FlowVersion string
	NodeID      string
	Status      session.Status

	// Outcome is the settled outcome: *Prompt, *Completed or *Escalated.
	Outcome intakeflow.Outcome
	// Messages holds message-node text emitted on the way, in order.
	Messages []string

	// Ticket is set when the session escalated.
	Ticket    *handoff.Ticket
	CallToken *handoff.CallToken
	CallURL   string

	// Slots are offered when the flow completed on a scheduling activation.
	Slots []scheduling.Slot

	// State is a copy of the saved session.
	State    *session.State
	Duration time.Duration
}

// Prompt returns the outcome as a prompt, or nil.
func (r *Result) Prompt() *intakeflow.Prompt {
	p, _ := r.Outcome.(*intakeflow.Prompt)
	return p
}

// Completed returns the outcome as a completion, or nil.
func (r *Result) Completed() *intakeflow.Completed {
	c, _ := r.Outcome.(*intakeflow.Completed)
	return c
}

// Escalated returns the outcome as an escalation, or nil.
func (r *Result) Escalated() *intakeflow.Escalated {
	e, _ := r.Outcome.(*intakeflow.Escalated)
	return e
}
