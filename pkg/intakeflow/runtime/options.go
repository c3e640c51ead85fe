package runtime

import (
	"log/slog"

	"github.com/google/uuid"

	ierrors "github.com/randalmurphal/intakeflow/pkg/intakeflow/errors"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/event"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/extract"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/handoff"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/observability"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/scheduling"
)

// Option configures an Engine.
type Option func(*Engine)

func defaults(e *Engine) {
	e.newID = uuid.NewString
	e.retry = ierrors.ConflictRetry
	e.metrics = observability.NoopMetrics{}
	e.spans = observability.NoopSpanManager{}
}

// WithRouter enables completion-backed field extraction. When sentiment is
// true every answer is also classified, and a negative result escalates.
func WithRouter(r *extract.Router, sentiment bool) Option {
	return func(e *Engine) {
		e.router = r
		e.sentiment = sentiment
	}
}

// WithScheduler enables slot offers on completion and the reservation
// calls.
func WithScheduler(s *scheduling.Scheduler) Option {
	return func(e *Engine) {
		e.scheduler = s
	}
}

// WithTicketSink sets where escalation tickets go. Default: none; tickets
// are still returned in the Result.
func WithTicketSink(sink handoff.TicketSink) Option {
	return func(e *Engine) {
		e.sink = sink
	}
}

// WithCallTokens issues a click-to-call link with every escalation.
func WithCallTokens(issuer *handoff.TokenIssuer, baseURL string) Option {
	return func(e *Engine) {
		e.tokens = issuer
		e.callBaseURL = baseURL
	}
}

// WithEvents publishes session lifecycle events. Default: none.
func WithEvents(p event.Publisher) Option {
	return func(e *Engine) {
		e.events = p
	}
}

// WithLogger sets the engine logger. Default: none.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics sets the metrics recorder. Default: no-op.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithSpans sets the span manager. Default: no-op.
func WithSpans(s observability.SpanManager) Option {
	return func(e *Engine) {
		if s != nil {
			e.spans = s
		}
	}
}

// WithIDFunc sets the session id generator. Default: uuid.NewString.
func WithIDFunc(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// WithRetry sets how lost optimistic saves are retried.
// Default: errors.ConflictRetry.
func WithRetry(cfg ierrors.RetryConfig) Option {
	return func(e *Engine) {
		e.retry = cfg
	}
}
