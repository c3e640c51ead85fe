package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	ierrors "github.com/randalmurphal/intakeflow/pkg/intakeflow/errors"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/observability"
)

// Kind selects what a request asks of the completion service.
type Kind string

// Request kinds.
const (
	KindExtractFields     Kind = "extract_fields"
	KindClassifySentiment Kind = "classify_sentiment"
)

// Sentiment labels.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// Default per-kind timeouts.
const (
	DefaultFieldsTimeout    = 8 * time.Second
	DefaultSentimentTimeout = 4 * time.Second
)

// ErrUnknownKind is returned for a request kind the router cannot serve.
var ErrUnknownKind = errors.New("unknown request kind")

// ErrUnparsable is returned when the completion does not have the expected shape.
var ErrUnparsable = errors.New("unparsable completion")

// Request is one typed call.
type Request struct {
	Kind      Kind
	SessionID string
	NodeID    string
	// Question is the prompt the customer answered, for context.
	Question string
	// Text is the customer's raw reply.
	Text string
	// Fields lists the keys to extract (KindExtractFields only).
	Fields []string
}

// Response is the result of Dispatch. On failure Fallback is set, Err
// carries an ExternalServiceError, and the other fields hold the canned
// result: no fields and neutral sentiment.
type Response struct {
	Kind      Kind
	Fields    map[string]any
	Sentiment string
	Fallback  bool
	Err       error
}

// Router dispatches requests to a Completer under per-kind timeouts.
type Router struct {
	completer Completer
	timeouts  map[Kind]time.Duration
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithTimeout sets the deadline for one request kind.
func WithTimeout(kind Kind, d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.timeouts[kind] = d
		}
	}
}

// WithLogger sets the logger for fallback reports.
func WithLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithMetrics records a metric per call.
func WithMetrics(m observability.MetricsRecorder) RouterOption {
	return func(r *Router) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithSpans opens a child span per call.
func WithSpans(s observability.SpanManager) RouterOption {
	return func(r *Router) {
		if s != nil {
			r.spans = s
		}
	}
}

// NewRouter creates a router over completer.
func NewRouter(completer Completer, opts ...RouterOption) *Router {
	r := &Router{
		completer: completer,
		timeouts: map[Kind]time.Duration{
			KindExtractFields:     DefaultFieldsTimeout,
			KindClassifySentiment: DefaultSentimentTimeout,
		},
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Timeout returns the deadline applied to kind.
func (r *Router) Timeout(kind Kind) time.Duration {
	return r.timeouts[kind]
}

// Dispatch runs req and never returns an error: failures become the
// canned fallback response.
func (r *Router) Dispatch(ctx context.Context, req Request) Response {
	timeout, ok := r.timeouts[req.Kind]
	if !ok {
		return r.fallback(ctx, req, 0, 0, ErrUnknownKind)
	}

	ctx, span := r.spans.StartCallSpan(ctx, string(req.Kind))
	elapsed := observability.TimedOperation()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := r.call(callCtx, req)
	ms := elapsed()
	r.spans.EndSpanWithError(span, err)
	if err != nil {
		return r.fallback(ctx, req, timeout, ms, err)
	}
	r.metrics.RecordCollaboratorCall(ctx, string(req.Kind), false, msDuration(ms))
	return resp
}

func (r *Router) call(ctx context.Context, req Request) (Response, error) {
	if r.completer == nil {
		return Response{}, errors.New("no completer configured")
	}
	switch req.Kind {
	case KindExtractFields:
		return r.extractFields(ctx, req)
	case KindClassifySentiment:
		return r.classifySentiment(ctx, req)
	default:
		return Response{}, ErrUnknownKind
	}
}

func (r *Router) extractFields(ctx context.Context, req Request) (Response, error) {
	if len(req.Fields) == 0 {
		return Response{Kind: req.Kind, Fields: map[string]any{}}, nil
	}
	out, err := r.completer.Complete(ctx, CompletionRequest{
		SystemPrompt: fieldsPrompt(req.Fields),
		Messages:     contextMessages(req),
		MaxTokens:    400,
	})
	if err != nil {
		return Response{}, err
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(stripFence(out.Content)), &raw); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}
	fields := make(map[string]any, len(req.Fields))
	for k, v := range raw {
		if v == nil || !slices.Contains(req.Fields, k) {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		fields[k] = v
	}
	return Response{Kind: req.Kind, Fields: fields}, nil
}

func (r *Router) classifySentiment(ctx context.Context, req Request) (Response, error) {
	out, err := r.completer.Complete(ctx, CompletionRequest{
		SystemPrompt: sentimentPrompt,
		Messages:     contextMessages(req),
		MaxTokens:    5,
	})
	if err != nil {
		return Response{}, err
	}
	label := strings.ToLower(strings.Trim(strings.TrimSpace(out.Content), ".!\"'"))
	switch label {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return Response{Kind: req.Kind, Sentiment: label}, nil
	default:
		return Response{}, fmt.Errorf("%w: sentiment %q", ErrUnparsable, out.Content)
	}
}

func (r *Router) fallback(ctx context.Context, req Request, timeout time.Duration, ms float64, err error) Response {
	observability.LogFallback(r.logger, string(req.Kind), err, ms)
	r.metrics.RecordCollaboratorCall(ctx, string(req.Kind), true, msDuration(ms))
	return Response{
		Kind:      req.Kind,
		Fields:    map[string]any{},
		Sentiment: SentimentNeutral,
		Fallback:  true,
		Err: &ierrors.ExternalServiceError{
			Service: "completion",
			Op:      string(req.Kind),
			Timeout: timeout,
			Err:     err,
		},
	}
}

const sentimentPrompt = "You classify the sentiment of a customer's message to a service business. " +
	"Answer with exactly one word: positive, neutral, or negative."

func fieldsPrompt(fields []string) string {
	return "You extract structured data from a customer's message to a service business. " +
		"Respond with only a JSON object with the keys " + strings.Join(fields, ", ") +
		". Use null for any value the message does not state. Do not guess."
}

func contextMessages(req Request) []Message {
	var msgs []Message
	if req.Question != "" {
		msgs = append(msgs, Message{Role: RoleAssistant, Content: req.Question})
	}
	return append(msgs, Message{Role: RoleUser, Content: req.Text})
}

// stripFence removes a surrounding Markdown code fence, which models emit
// even when asked for bare JSON.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func msDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
