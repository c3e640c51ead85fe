/*
Package intakeflow runs declarative customer-intake conversations.

# Overview

A flow is authored as data (YAML or JSON): a set of message, question,
review and activation nodes connected by predicate-guarded edges. The
package validates a definition into an immutable FlowGraph and advances
sessions through it one event at a time. Orchestration (persistence,
locking, completion calls, channels) lives in the runtime package; this
package does no I/O.

# Basic Usage

Load and validate a definition, then drive a session:

	def, err := intakeflow.LoadDefinition("flows/cleaning.yaml")
	if err != nil {
	    log.Fatal(err)
	}

	graph, err := intakeflow.Validate(def)
	if err != nil {
	    // err is a ValidationErrors listing every defect
	    log.Fatal(err)
	}

	interp, _ := intakeflow.NewInterpreter(graph)
	st := interp.NewSession("sess-1")

	out, err := interp.Advance(ctx, st, nil)
	// out is *intakeflow.Prompt for the first question

	out, err = interp.Advance(ctx, st, &intakeflow.Answer{Text: "weekly"})
	// out is *intakeflow.Advanced; call again with a nil answer

# Outcomes

Advance returns exactly one of:

  - *Prompt: the session waits for input at a question or review node
  - *Advanced: the session moved; call Advance again with no answer
  - *Completed: the flow ended, Record holds the projected output
  - *Escalated: the session was handed to a human, Ticket says why

Bad answers never produce errors. They produce a Prompt with Error set and
count toward the node's attempt limit; exceeding it escalates.

# Predicates

Edges and derivations use the expr package. Three roots are bound:
collected (answers by key), derived (facts) and answer (the raw reply,
during the step only):

	followUps:
	  - predicate: "collected.pets == true"
	    targetNodeId: pet_details
	transitions:
	  - predicate: "collected.service in ['deep', 'move_out']"
	    targetNodeId: deep_clean_details

# Escalation

Before any node logic and after each accepted answer the interpreter checks
the escalation facts (max_attempts_exceeded, human_requested,
negative_sentiment_detected, escalate_to_handoff). Any one set ends the
session with a handoff.Ticket.

# Thread Safety

  - FlowGraph IS safe for concurrent use (immutable)
  - Interpreter IS safe for concurrent use
  - session.State is NOT; serialize events per session

# Subpackages

  - config: settings files and typed accessors
  - errors: error categories and retry
  - expr: predicate evaluation
  - extract: completion-backed field extraction and sentiment
  - handoff: tickets, priorities and click-to-call tokens
  - observability: logging, metrics and tracing helpers
  - registry: keyed registries and per-key locks
  - scheduling: appointment slots and reservations
  - session: per-conversation state
  - sqldb: SQLite and PostgreSQL connection helpers
  - store: session and ticket persistence
*/
package intakeflow
