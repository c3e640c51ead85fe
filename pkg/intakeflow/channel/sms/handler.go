package sms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/twilio/twilio-go/client"

	"github.com/randalmurphal/intakeflow/pkg/intakeflow"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/registry"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/runtime"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/scheduling"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/session"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/store"
)

// SignatureHeader carries Twilio's request signature.
const SignatureHeader = "X-Twilio-Signature"

// DefaultHumanKeywords are replies that hand the conversation to a person.
var DefaultHumanKeywords = []string{"agent", "human", "representative", "operator"}

// Texts for slot selection replies.
const (
	TextBooked      = "Booked for %s. See you then!"
	TextSlotTaken   = "Sorry, that time was just taken. Reply with another number."
	TextPickNumber  = "Reply with a number from the list to pick a time."
	emptyTwimlReply = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`
)

// offer is the slot list last sent to a phone number.
type offer struct {
	sessionID string
	slots     []scheduling.Slot
}

// Handler serves the Twilio inbound-message webhook. Each phone number
// maps to one live session; a text from an unknown number, or one whose
// session has ended, starts a new session on the configured flow.
//
// Handler is safe for concurrent use. Texts from one number are handled in
// order.
type Handler struct {
	engine      *runtime.Engine
	flowVersion string
	sender      Sender

	validator *client.RequestValidator
	publicURL string

	humanWords []string
	logger     *slog.Logger

	locks         *registry.Locks
	conversations *registry.Registry[string, string]
	offers        *registry.Registry[string, offer]
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithSignatureValidation rejects requests whose X-Twilio-Signature does not
// match. publicURL is the webhook URL Twilio was configured with, without
// the path.
func WithSignatureValidation(authToken, publicURL string) HandlerOption {
	return func(h *Handler) {
		v := client.NewRequestValidator(authToken)
		h.validator = &v
		h.publicURL = strings.TrimRight(publicURL, "/")
	}
}

// WithHumanKeywords replaces DefaultHumanKeywords. Matching ignores case
// and surrounding space.
func WithHumanKeywords(words ...string) HandlerOption {
	return func(h *Handler) {
		h.humanWords = words
	}
}

// WithHandlerLogger sets the handler logger.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler creates a webhook handler running flowVersion.
func NewHandler(engine *runtime.Engine, flowVersion string, sender Sender, opts ...HandlerOption) *Handler {
	h := &Handler{
		engine:        engine,
		flowVersion:   flowVersion,
		sender:        sender,
		humanWords:    DefaultHumanKeywords,
		locks:         registry.NewLocks(),
		conversations: registry.New[string, string](),
		offers:        registry.New[string, offer](),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if h.validator != nil && !h.validSignature(r) {
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	from, ok := intakeflow.NormalizePhone(r.PostForm.Get("From"))
	if !ok {
		http.Error(w, "missing or invalid From", http.StatusBadRequest)
		return
	}
	body := strings.TrimSpace(r.PostForm.Get("Body"))

	replies, err := h.Handle(r.Context(), from, body)
	if err != nil {
		h.log().Error("sms step failed", slog.String("from", from), slog.String("error", err.Error()))
		replies = []string{TextFailure}
	}
	for _, text := range replies {
		if err := h.sender.Send(r.Context(), from, text); err != nil {
			h.log().Error("sms reply failed", slog.String("to", from), slog.String("error", err.Error()))
			break
		}
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(emptyTwimlReply))
}

func (h *Handler) validSignature(r *http.Request) bool {
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	url := h.publicURL + r.URL.RequestURI()
	return h.validator.Validate(url, params, r.Header.Get(SignatureHeader))
}

func (h *Handler) log() *slog.Logger {
	if h.logger == nil {
		return slog.Default()
	}
	return h.logger
}

// Handle processes one inbound text and returns the replies to send.
func (h *Handler) Handle(ctx context.Context, from, body string) ([]string, error) {
	unlock := h.locks.Lock(from)
	defer unlock()

	if o, ok := h.offers.Get(from); ok {
		if replies, handled := h.pickSlot(ctx, from, o, body); handled {
			return replies, nil
		}
	}

	sessionID, live, err := h.liveSession(ctx, from)
	if err != nil {
		return nil, err
	}

	var res *runtime.Result
	switch {
	case !live:
		res, err = h.engine.Start(ctx, h.flowVersion, "", from)
		if err == nil {
			h.conversations.Register(from, res.SessionID)
		}
	case h.wantsHuman(body):
		res, err = h.engine.Signal(ctx, sessionID, map[string]any{session.FactHumanRequested: true})
	default:
		res, err = h.engine.Advance(ctx, "", sessionID, &intakeflow.Answer{Text: body})
	}
	if err != nil {
		return nil, err
	}

	if len(res.Slots) > 0 {
		h.offers.Register(from, offer{sessionID: res.SessionID, slots: res.Slots})
	}
	if res.Status != session.StatusActive {
		h.conversations.Delete(from)
	}
	return Render(res), nil
}

// liveSession returns the active session for a number, if any.
func (h *Handler) liveSession(ctx context.Context, from string) (string, bool, error) {
	id, ok := h.conversations.Get(from)
	if !ok {
		return "", false, nil
	}
	st, err := h.engine.Session(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		h.conversations.Delete(from)
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if !st.Active() {
		h.conversations.Delete(from)
		return "", false, nil
	}
	return id, true, nil
}

// pickSlot books the slot a numeric reply selects. Non-numeric replies are
// not handled here and drop the offer.
func (h *Handler) pickSlot(ctx context.Context, from string, o offer, body string) ([]string, bool) {
	n, err := strconv.Atoi(strings.TrimRight(body, ".)"))
	if err != nil {
		h.offers.Delete(from)
		return nil, false
	}
	if n < 1 || n > len(o.slots) {
		return []string{TextPickNumber}, true
	}
	slot := o.slots[n-1]

	held, err := h.engine.Reserve(ctx, o.sessionID, slot.SlotID)
	if err != nil {
		if errors.Is(err, scheduling.ErrSlotUnavailable) {
			return []string{TextSlotTaken}, true
		}
		h.log().Warn("slot reservation failed", slog.String("session_id", o.sessionID), slog.String("error", err.Error()))
		return []string{TextFailure}, true
	}
	if _, err := h.engine.Confirm(ctx, o.sessionID, held.ReservationID); err != nil {
		h.log().Warn("slot confirmation failed", slog.String("session_id", o.sessionID), slog.String("error", err.Error()))
		return []string{TextFailure}, true
	}
	h.offers.Delete(from)
	return []string{fmt.Sprintf(TextBooked, slot.Label)}, true
}

func (h *Handler) wantsHuman(body string) bool {
	return slices.ContainsFunc(h.humanWords, func(w string) bool {
		return strings.EqualFold(strings.TrimSpace(body), w)
	})
}
