package intakeflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	ierrors "github.com/randalmurphal/intakeflow/pkg/intakeflow/errors"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/expr"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/handoff"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/observability"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/session"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/template"
)

// Variable roots visible to predicates.
const (
	VarCollected = "collected"
	VarDerived   = "derived"
	VarAnswer    = "answer"
)

// Interpreter advances sessions through one FlowGraph.
//
// An Interpreter holds no per-session state and is safe for concurrent use.
// A single session must not be advanced concurrently.
type Interpreter struct {
	graph *FlowGraph
	eval  *expr.Evaluator
	text  *template.Expander
	cfg   interpreterConfig
}

// NewInterpreter creates an interpreter for graph.
func NewInterpreter(graph *FlowGraph, opts ...InterpreterOption) (*Interpreter, error) {
	if graph == nil {
		return nil, ErrNilGraph
	}
	cfg := defaultInterpreterConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Interpreter{
		graph: graph,
		eval:  expr.New(),
		text:  template.NewExpander(template.WithMissingAction(template.MissingEmpty)),
		cfg:   cfg,
	}, nil
}

// Graph returns the graph this interpreter runs.
func (in *Interpreter) Graph() *FlowGraph {
	return in.graph
}

// NewSession creates an active session pinned to this graph's version and
// positioned at the start node.
func (in *Interpreter) NewSession(sessionID string) *session.State {
	st := session.New(sessionID, in.graph.Key(), in.graph.StartNodeID())
	now := in.cfg.now().UTC()
	st.CreatedAt, st.UpdatedAt = now, now
	return st
}

// Advance processes one event for st and mutates it in place. A nil answer
// asks for the current prompt; a non-nil answer is the customer's reply to
// it.
//
// Advance moves at most one node per call. Advanced means the caller should
// call again with a nil answer.
//
// Errors are returned only for misuse: nil or closed sessions, a session
// pinned to another flow version, or a session positioned outside the
// graph. Bad answers come back as a Prompt carrying the reason.
func (in *Interpreter) Advance(ctx context.Context, st *session.State, ans *Answer) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if st == nil {
		return nil, ErrNilSession
	}
	if !st.Active() {
		return nil, fmt.Errorf("%w: %s is %s", ErrSessionClosed, st.SessionID, st.Status)
	}
	if st.FlowVersion != in.graph.Key() {
		return nil, fmt.Errorf("%w: session %s has %s, interpreter runs %s",
			ErrFlowMismatch, st.SessionID, st.FlowVersion, in.graph.Key())
	}
	node, ok := in.graph.Node(st.CurrentNodeID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNode, st.CurrentNodeID)
	}
	if st.Collected == nil {
		st.Collected = make(map[string]any)
	}
	if st.Derived == nil {
		st.Derived = make(map[string]any)
	}
	if st.AttemptCounters == nil {
		st.AttemptCounters = make(map[string]int)
	}

	if st.Escalating() {
		return in.escalate(st, nil), nil
	}

	switch n := node.(type) {
	case *MessageNode:
		return in.message(st, n)
	case *QuestionNode:
		return in.question(st, n, ans)
	case *ReviewNode:
		return in.review(st, n, ans)
	case *ActivationNode:
		return in.activate(st, n), nil
	default:
		return nil, fmt.Errorf("%w: %q has kind %s", ErrUnknownNode, node.ID(), node.Kind())
	}
}

func (in *Interpreter) logger(st *session.State) *slog.Logger {
	return observability.EnrichLogger(in.cfg.logger, st.SessionID, st.FlowVersion)
}

func (in *Interpreter) touch(st *session.State) {
	st.UpdatedAt = in.cfg.now().UTC()
}

// render fills ${key} and ${derived.fact} placeholders from st.
func (in *Interpreter) render(st *session.State, text string) string {
	out, _ := in.text.Expand(text, func(name string) (string, bool) {
		if fact, ok := strings.CutPrefix(name, template.DerivedPrefix); ok {
			v, ok := st.Derived[fact]
			if !ok || v == nil {
				return "", false
			}
			return fmt.Sprint(v), true
		}
		v := st.Value(name)
		return v, v != ""
	})
	return out
}

func (in *Interpreter) message(st *session.State, n *MessageNode) (Outcome, error) {
	msgs := []string{in.render(st, n.Text)}
	if n.Next == "" {
		st.Status = session.StatusCompleted
		in.touch(st)
		return &Completed{NodeID: n.ID(), Record: map[string]any{}, Messages: msgs}, nil
	}
	return in.moveTo(st, n.ID(), n.Next, msgs)
}

func (in *Interpreter) question(st *session.State, n *QuestionNode, ans *Answer) (Outcome, error) {
	if ans == nil {
		return &Prompt{NodeID: n.ID(), Text: in.render(st, n.Text), Input: n.Input}, nil
	}

	value, stored, err := ParseAnswer(n, ans.Text)
	if err != nil {
		var inputErr *ierrors.InputError
		if !errors.As(err, &inputErr) {
			return nil, err
		}
		st.AttemptCounters[n.ID()]++
		attempt := st.AttemptCounters[n.ID()]
		limit := in.maxAttempts(n)
		observability.LogInvalidAnswer(in.cfg.logger, st.SessionID, n.ID(), attempt, limit)
		in.touch(st)
		if attempt > limit {
			st.SetFact(session.FactMaxAttemptsExceeded, true)
			st.SetFact(session.FactExceededState, n.ID())
			return in.escalate(st, nil), nil
		}
		return &Prompt{
			NodeID:  n.ID(),
			Text:    in.render(st, n.Text),
			Input:   n.Input,
			Error:   inputErr.Message,
			Attempt: attempt,
		}, nil
	}

	if stored {
		st.Collected[n.Key] = value
	}
	delete(st.AttemptCounters, n.ID())
	for _, key := range n.Extract {
		v, ok := ans.Fields[key]
		if !ok || v == nil {
			continue
		}
		if _, exists := st.Collected[key]; !exists {
			st.Collected[key] = v
		}
	}
	in.derive(st, ans.Text)
	in.touch(st)

	if st.Escalating() {
		return in.escalate(st, nil), nil
	}
	return in.resolve(st, n.ID(), n.Routes, ans.Text)
}

func (in *Interpreter) review(st *session.State, n *ReviewNode, ans *Answer) (Outcome, error) {
	if ans == nil {
		return &Prompt{
			NodeID: n.ID(),
			Text:   in.render(st, n.Text),
			Input:  InputSpec{Type: InputFreeText},
			Recap:  in.recap(st),
		}, nil
	}
	return in.resolve(st, n.ID(), n.Routes, ans.Text)
}

func (in *Interpreter) activate(st *session.State, n *ActivationNode) Outcome {
	st.Status = session.StatusCompleted
	in.touch(st)
	out := &Completed{
		NodeID: n.ID(),
		Text:   in.render(st, n.Text),
		Record: in.graph.Project(st),
	}
	if out.Text != "" {
		out.Messages = []string{out.Text}
	}
	if s := n.Schedule; s != nil {
		out.Reservation = &ReservationRequest{
			SessionID:  st.SessionID,
			WindowDays: s.WindowDays,
			MaxSlots:   s.MaxSlots,
		}
	}
	return out
}

func (in *Interpreter) escalate(st *session.State, msgs []string) Outcome {
	st.Status = session.StatusEscalated
	in.touch(st)
	ticket := handoff.CreateTicket(st, in.cfg.ticketOpts...)
	observability.LogEscalation(in.cfg.logger, st.SessionID, ticket.TicketID, string(ticket.Priority), ticket.ReasonCodes)
	return &Escalated{NodeID: st.CurrentNodeID, Ticket: ticket, Messages: msgs}
}

// resolve picks the next node after an accepted answer:
//  1. the first matching follow-up, saving the main-path target
//  2. the first matching transition
//  3. defaultNext, then next
//  4. the most recent return-stack entry
//
// Nothing left completes the flow. Nodes already visited in this step are
// never selected, and follow-ups to questions already answered are skipped.
func (in *Interpreter) resolve(st *session.State, from string, r Routes, answer string) (Outcome, error) {
	vars := in.vars(st, answer)
	visited := map[string]bool{from: true}

	for _, e := range r.FollowUps {
		if visited[e.Target] || in.answered(st, e.Target) {
			continue
		}
		if !in.matches(st, e.Predicate, vars) {
			continue
		}
		if main := in.mainTarget(st, r, vars, visited); main != "" && main != e.Target {
			in.pushReturn(st, main)
		}
		return in.moveTo(st, from, e.Target, nil)
	}

	if target := in.mainTarget(st, r, vars, visited); target != "" {
		return in.moveTo(st, from, target, nil)
	}

	for len(st.ReturnStack) > 0 {
		last := len(st.ReturnStack) - 1
		target := st.ReturnStack[last]
		st.ReturnStack = st.ReturnStack[:last]
		if visited[target] || in.answered(st, target) || !in.graph.HasNode(target) {
			continue
		}
		return in.moveTo(st, from, target, nil)
	}

	st.Status = session.StatusCompleted
	in.touch(st)
	return &Completed{NodeID: from, Record: in.graph.Project(st)}, nil
}

func (in *Interpreter) mainTarget(st *session.State, r Routes, vars map[string]any, visited map[string]bool) string {
	for _, e := range r.Transitions {
		if !visited[e.Target] && in.matches(st, e.Predicate, vars) {
			return e.Target
		}
	}
	if r.DefaultNext != "" && !visited[r.DefaultNext] {
		return r.DefaultNext
	}
	if r.Next != "" && !visited[r.Next] {
		return r.Next
	}
	return ""
}

func (in *Interpreter) moveTo(st *session.State, from, to string, msgs []string) (Outcome, error) {
	if !in.graph.HasNode(to) {
		return nil, fmt.Errorf("%w: %q from %q", ErrUnknownNode, to, from)
	}
	st.CurrentNodeID = to
	in.touch(st)
	return &Advanced{NodeID: to, From: from, Messages: msgs}, nil
}

// pushReturn saves a main-path node. The stack never grows beyond the
// node count; the oldest entry is dropped.
func (in *Interpreter) pushReturn(st *session.State, id string) {
	st.ReturnStack = append(st.ReturnStack, id)
	if limit := in.graph.Len(); len(st.ReturnStack) > limit {
		st.ReturnStack = st.ReturnStack[len(st.ReturnStack)-limit:]
	}
}

// answered reports whether id is a question whose key is already collected.
func (in *Interpreter) answered(st *session.State, id string) bool {
	q, ok := in.graph.nodes[id].(*QuestionNode)
	if !ok {
		return false
	}
	_, done := st.Collected[q.Key]
	return done
}

func (in *Interpreter) vars(st *session.State, answer string) map[string]any {
	return map[string]any{
		VarCollected: st.Collected,
		VarDerived:   st.Derived,
		VarAnswer:    answer,
	}
}

// matches evaluates a predicate. Empty predicates match; evaluation errors
// do not.
func (in *Interpreter) matches(st *session.State, predicate string, vars map[string]any) bool {
	if predicate == "" {
		return true
	}
	ok, err := in.eval.Evaluate(predicate, vars)
	if err != nil {
		if log := in.logger(st); log != nil {
			log.Debug("predicate failed", slog.String("predicate", predicate), slog.String("error", err.Error()))
		}
		return false
	}
	return ok
}

// derive applies the flow's derivations after an accepted answer.
func (in *Interpreter) derive(st *session.State, answer string) {
	if len(in.graph.def.Derivations) == 0 {
		return
	}
	vars := in.vars(st, answer)
	for _, d := range in.graph.def.Derivations {
		if in.matches(st, d.Predicate, vars) {
			st.SetFact(d.Fact, d.Value)
		}
	}
}

func (in *Interpreter) maxAttempts(n *QuestionNode) int {
	if n.MaxAttempts > 0 {
		return n.MaxAttempts
	}
	return in.cfg.maxAttempts
}

// recap lists collected answers: question keys in authored order, then any
// other keys sorted.
func (in *Interpreter) recap(st *session.State) []RecapItem {
	var items []RecapItem
	seen := make(map[string]bool)
	for _, q := range in.graph.questionsInOrder() {
		v, ok := st.Collected[q.Key]
		if !ok || seen[q.Key] {
			continue
		}
		seen[q.Key] = true
		items = append(items, RecapItem{Key: q.Key, Label: q.Text, Value: v})
	}
	var rest []string
	for k := range st.Collected {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		items = append(items, RecapItem{Key: k, Value: st.Collected[k]})
	}
	return items
}
