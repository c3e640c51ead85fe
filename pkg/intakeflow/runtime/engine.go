// Package runtime wires flow graphs to persistence, collaborators and
// channels. An Engine owns the per-session event loop: lock, load, enrich
// the answer, advance until the session settles, save, then hand off
// side effects (tickets, call links, slot offers).
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/intakeflow/pkg/intakeflow"
	ierrors "github.com/randalmurphal/intakeflow/pkg/intakeflow/errors"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/event"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/extract"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/handoff"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/observability"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/registry"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/scheduling"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/session"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/store"
)

// Sentinel errors for engine operations.
var (
	// ErrUnknownFlow indicates no graph is registered for a flow version.
	ErrUnknownFlow = errors.New("unknown flow version")

	// ErrFlowExists indicates a flow version was registered twice.
	ErrFlowExists = errors.New("flow version already registered")

	// ErrNoScheduler indicates a reservation call on an engine without one.
	ErrNoScheduler = errors.New("scheduling not configured")

	// ErrNoProgress indicates message nodes looping without input.
	ErrNoProgress = errors.New("session advanced without settling")
)

// Engine runs sessions for any number of registered flow versions.
// It is safe for concurrent use. Events for one session are serialized;
// events for different sessions run in parallel.
type Engine struct {
	flows *registry.Registry[string, *intakeflow.Interpreter]
	locks *registry.Locks
	store store.Store

	router      *extract.Router
	sentiment   bool
	scheduler   *scheduling.Scheduler
	sink        handoff.TicketSink
	tokens      *handoff.TokenIssuer
	callBaseURL string

	events  event.Publisher
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
	newID   func() string
	retry   ierrors.RetryConfig
}

// NewEngine creates an engine over an opened store.
func NewEngine(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		flows: registry.New[string, *intakeflow.Interpreter](),
		locks: registry.NewLocks(),
		store: st,
	}
	defaults(e)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register makes a graph available under its Key. Sessions already pinned
// to other versions are unaffected.
func (e *Engine) Register(g *intakeflow.FlowGraph, opts ...intakeflow.InterpreterOption) error {
	opts = append([]intakeflow.InterpreterOption{intakeflow.WithLogger(e.logger)}, opts...)
	in, err := intakeflow.NewInterpreter(g, opts...)
	if err != nil {
		return err
	}
	if !e.flows.RegisterNew(g.Key(), in) {
		return fmt.Errorf("%w: %s", ErrFlowExists, g.Key())
	}
	return nil
}

// Flows lists registered flow versions, sorted.
func (e *Engine) Flows() []string {
	return e.flows.Keys()
}

// Graph returns the graph registered for a flow version.
func (e *Engine) Graph(flowVersion string) (*intakeflow.FlowGraph, bool) {
	in, ok := e.flows.Get(flowVersion)
	if !ok {
		return nil, false
	}
	return in.Graph(), true
}

func (e *Engine) interpreter(flowVersion string) (*intakeflow.Interpreter, error) {
	in, ok := e.flows.Get(flowVersion)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFlow, flowVersion)
	}
	return in, nil
}

// Start creates a session on a flow version and returns its first prompt.
// An empty sessionID generates one. Contact is recorded for handoff
// summaries.
func (e *Engine) Start(ctx context.Context, flowVersion, sessionID, contact string) (*Result, error) {
	in, err := e.interpreter(flowVersion)
	if err != nil {
		return nil, err
	}
	if sessionID == "" {
		sessionID = e.newID()
	}

	unlock := e.locks.Lock(sessionID)
	defer unlock()

	st := in.NewSession(sessionID)
	st.Contact = contact
	if err := e.store.Create(ctx, st); err != nil {
		return nil, fmt.Errorf("start session %s: %w", sessionID, err)
	}
	return e.run(ctx, sessionID, flowVersion, input{started: true})
}

// Advance delivers one answer to a session. An empty flowVersion accepts
// whatever version the session is pinned to; a non-empty one must match.
// A nil answer re-renders the current prompt.
func (e *Engine) Advance(ctx context.Context, flowVersion, sessionID string, ans *intakeflow.Answer) (*Result, error) {
	unlock := e.locks.Lock(sessionID)
	defer unlock()
	return e.run(ctx, sessionID, flowVersion, input{answer: ans})
}

// Signal records derived facts from outside the conversation (an agent
// flag, an upstream classifier) and advances the session. Setting an
// escalation fact hands the session off immediately.
func (e *Engine) Signal(ctx context.Context, sessionID string, facts map[string]any) (*Result, error) {
	unlock := e.locks.Lock(sessionID)
	defer unlock()
	return e.run(ctx, sessionID, "", input{facts: facts})
}

// Session returns a stored session.
func (e *Engine) Session(ctx context.Context, sessionID string) (*session.State, error) {
	return e.store.Load(ctx, sessionID)
}

// Tickets lists a session's escalation tickets.
func (e *Engine) Tickets(ctx context.Context, sessionID string) ([]handoff.Ticket, error) {
	return e.store.ListTickets(ctx, sessionID)
}

type input struct {
	answer  *intakeflow.Answer
	facts   map[string]any
	started bool
}

// run handles one event under the session lock. A save that loses an
// optimistic race reloads and replays the event.
func (e *Engine) run(ctx context.Context, sessionID, flowVersion string, ev input) (*Result, error) {
	start := time.Now()
	res := ierrors.WithRetryContext(ctx, e.retry, func(ctx context.Context) (*Result, error) {
		return e.attempt(ctx, sessionID, flowVersion, ev)
	})
	if res.Err != nil {
		observability.LogStepError(e.logger, sessionID, "", res.Err)
		return nil, res.Err
	}
	r := res.Value
	r.Duration = time.Since(start)
	e.afterSave(ctx, r)
	e.publish(ctx, r, ev.started)
	return r, nil
}

func (e *Engine) attempt(ctx context.Context, sessionID, flowVersion string, ev input) (*Result, error) {
	st, err := e.store.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if flowVersion != "" && st.FlowVersion != flowVersion {
		return nil, fmt.Errorf("%w: session %s is on %s", intakeflow.ErrFlowMismatch, sessionID, st.FlowVersion)
	}
	in, err := e.interpreter(st.FlowVersion)
	if err != nil {
		return nil, err
	}

	ctx, span := e.spans.StartStepSpan(ctx, st.FlowVersion, sessionID, st.CurrentNodeID)
	from := st.CurrentNodeID
	observability.LogStepStart(e.logger, sessionID, from, ev.answer != nil)
	elapsed := observability.TimedOperation()

	for k, v := range ev.facts {
		st.SetFact(k, v)
	}
	ans := ev.answer
	if ans != nil && st.Active() {
		ans = e.enrich(ctx, in.Graph(), st, ans)
	}

	out, msgs, err := e.settle(ctx, in, st, ans)
	if err != nil {
		e.spans.EndSpanWithError(span, err)
		return nil, err
	}
	if err := e.store.Save(ctx, st); err != nil {
		e.spans.EndSpanWithError(span, err)
		return nil, err
	}

	ms := elapsed()
	e.metrics.RecordStep(ctx, st.FlowVersion, out.Kind(), time.Duration(ms*float64(time.Millisecond)))
	observability.LogStepComplete(e.logger, sessionID, from, st.CurrentNodeID, out.Kind(), ms)
	e.spans.AddSpanEvent(ctx, "step."+out.Kind(), attribute.String("node.id", st.CurrentNodeID))
	e.spans.EndSpanWithError(span, nil)

	return &Result{
		SessionID:   sessionID,
		FlowVersion: st.FlowVersion,
		NodeID:      st.CurrentNodeID,
		Status:      st.Status,
		Outcome:     out,
		Messages:    msgs,
		State:       st.Clone(),
	}, nil
}

// settle advances until the session needs input or ends.
func (e *Engine) settle(ctx context.Context, in *intakeflow.Interpreter, st *session.State, ans *intakeflow.Answer) (intakeflow.Outcome, []string, error) {
	var msgs []string
	limit := in.Graph().Len() + 1
	for range limit {
		out, err := in.Advance(ctx, st, ans)
		if err != nil {
			return nil, nil, err
		}
		ans = nil
		switch o := out.(type) {
		case *intakeflow.Advanced:
			msgs = append(msgs, o.Messages...)
			continue
		case *intakeflow.Prompt:
			msgs = append(msgs, o.Messages...)
		case *intakeflow.Completed:
			msgs = append(msgs, o.Messages...)
		case *intakeflow.Escalated:
			msgs = append(msgs, o.Messages...)
		}
		return out, msgs, nil
	}
	return nil, nil, fmt.Errorf("%w: %s after %d moves", ErrNoProgress, st.SessionID, limit)
}

// enrich runs the completion collaborators for an answer. Failures fall
// back silently: no extra fields, no sentiment.
func (e *Engine) enrich(ctx context.Context, g *intakeflow.FlowGraph, st *session.State, ans *intakeflow.Answer) *intakeflow.Answer {
	if e.router == nil {
		return ans
	}
	node, ok := g.Node(st.CurrentNodeID)
	if !ok {
		return ans
	}
	q, isQuestion := node.(*intakeflow.QuestionNode)
	if !isQuestion {
		return ans
	}

	out := &intakeflow.Answer{Text: ans.Text, Fields: make(map[string]any, len(ans.Fields))}
	for k, v := range ans.Fields {
		out.Fields[k] = v
	}

	if len(q.Extract) > 0 {
		resp := e.router.Dispatch(ctx, extract.Request{
			Kind:      extract.KindExtractFields,
			SessionID: st.SessionID,
			NodeID:    q.ID(),
			Question:  q.Text,
			Text:      ans.Text,
			Fields:    q.Extract,
		})
		for k, v := range resp.Fields {
			if _, given := out.Fields[k]; !given {
				out.Fields[k] = v
			}
		}
	}

	if e.sentiment {
		resp := e.router.Dispatch(ctx, extract.Request{
			Kind:      extract.KindClassifySentiment,
			SessionID: st.SessionID,
			NodeID:    q.ID(),
			Question:  q.Text,
			Text:      ans.Text,
		})
		if !resp.Fallback {
			st.SetFact(session.FactSentiment, resp.Sentiment)
			if resp.Sentiment == extract.SentimentNegative {
				st.SetFact(session.FactNegativeSentiment, true)
			}
		}
	}
	return out
}

// afterSave delivers side effects for a saved outcome. Delivery failures
// are logged; the session is already durable.
func (e *Engine) afterSave(ctx context.Context, r *Result) {
	switch o := r.Outcome.(type) {
	case *intakeflow.Escalated:
		t := o.Ticket
		r.Ticket = &t
		e.metrics.RecordEscalation(ctx, r.FlowVersion, string(t.Priority), t.PrimaryReason())
		if e.sink != nil {
			if err := e.sink.Submit(ctx, t); err != nil {
				observability.LogStepError(e.logger, r.SessionID, r.NodeID,
					&ierrors.ExternalServiceError{Service: "ticket_sink", Op: "submit", Err: err})
			}
		}
		if e.tokens != nil {
			tok := e.tokens.Issue(r.SessionID)
			r.CallToken = &tok
			r.CallURL = tok.URL(e.callBaseURL)
		}
	case *intakeflow.Completed:
		if o.Reservation != nil && e.scheduler != nil {
			r.Slots = e.scheduler.GenerateSlots(o.Reservation.WindowDays, o.Reservation.MaxSlots)
		}
	}
}

// publish emits lifecycle events for a saved step. Publish failures are
// logged.
func (e *Engine) publish(ctx context.Context, r *Result, started bool) {
	if e.events == nil {
		return
	}
	opts := []event.Option{event.WithNode(r.FlowVersion, r.NodeID)}
	var evts []event.Event
	if started {
		evts = append(evts, event.New(event.TypeSessionStarted, r.SessionID, opts...))
	}
	evts = append(evts, event.New(event.TypeSessionStep, r.SessionID, append(opts,
		event.WithData(map[string]any{"outcome": r.Outcome.Kind()}))...))
	switch {
	case r.Ticket != nil:
		evts = append(evts, event.New(event.TypeSessionEscalated, r.SessionID, append(opts,
			event.WithData(map[string]any{
				"ticketId": r.Ticket.TicketID,
				"priority": string(r.Ticket.Priority),
				"reason":   r.Ticket.PrimaryReason(),
			}))...))
	case r.Completed() != nil:
		evts = append(evts, event.New(event.TypeSessionCompleted, r.SessionID, append(opts,
			event.WithData(map[string]any{"slots": len(r.Slots)}))...))
	}
	for _, evt := range evts {
		if err := e.events.Publish(ctx, evt); err != nil {
			observability.LogStepError(e.logger, r.SessionID, r.NodeID,
				&ierrors.ExternalServiceError{Service: "events", Op: evt.Type, Err: err})
		}
	}
}

// ResolveCallToken looks up a click-to-call token and its session.
func (e *Engine) ResolveCallToken(ctx context.Context, token string) (handoff.CallToken, *session.State, error) {
	if e.tokens == nil {
		return handoff.CallToken{}, nil, handoff.ErrTokenNotFound
	}
	tok, err := e.tokens.Resolve(token)
	if err != nil {
		return tok, nil, err
	}
	st, err := e.store.Load(ctx, tok.SessionID)
	if err != nil {
		return tok, nil, err
	}
	return tok, st, nil
}

// Slots offers appointment slots.
func (e *Engine) Slots(windowDays, maxSlots int) ([]scheduling.Slot, error) {
	if e.scheduler == nil {
		return nil, ErrNoScheduler
	}
	return e.scheduler.GenerateSlots(windowDays, maxSlots), nil
}

// Reserve holds a slot for an existing session.
func (e *Engine) Reserve(ctx context.Context, sessionID, slotID string) (scheduling.Reservation, error) {
	if e.scheduler == nil {
		return scheduling.Reservation{}, ErrNoScheduler
	}
	if _, err := e.store.Load(ctx, sessionID); err != nil {
		return scheduling.Reservation{}, err
	}
	return e.scheduler.ReserveSlot(ctx, sessionID, slotID)
}

// Confirm converts a session's hold into a booking.
func (e *Engine) Confirm(ctx context.Context, sessionID, reservationID string) (scheduling.Reservation, error) {
	if e.scheduler == nil {
		return scheduling.Reservation{}, ErrNoScheduler
	}
	res, err := e.scheduler.ConfirmBooking(ctx, sessionID, reservationID)
	if err != nil || e.events == nil {
		return res, err
	}
	evt := event.New(event.TypeSlotBooked, sessionID, event.WithData(map[string]any{
		"reservationId": res.ReservationID,
		"slotId":        res.Slot.SlotID,
	}))
	if perr := e.events.Publish(ctx, evt); perr != nil {
		observability.LogStepError(e.logger, sessionID, "",
			&ierrors.ExternalServiceError{Service: "events", Op: evt.Type, Err: perr})
	}
	return res, nil
}

// Release gives up a session's hold.
func (e *Engine) Release(ctx context.Context, sessionID, reservationID string) error {
	if e.scheduler == nil {
		return ErrNoScheduler
	}
	return e.scheduler.ReleaseSlot(ctx, sessionID, reservationID)
}
