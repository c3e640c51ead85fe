package sms_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/intakeflow/pkg/intakeflow"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/channel/sms"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/runtime"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/scheduling"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/store"
)

const lawnFlow = `
id: lawn
name: Lawn care
version: "1"
maxQuestions: 3
startNodeId: size
nodes:
  - id: size
    type: question
    question: How big is the yard?
    inputType: single_select
    options:
      - {key: small, label: Small}
      - {key: large, label: Large}
    next: gate
  - id: gate
    type: question
    question: Is the gate unlocked?
    inputType: yes_no
    maxAttempts: 1
    next: book
  - id: book
    type: activation
    text: Great, let's get you on the calendar.
    schedule: {windowDays: 3, maxSlots: 2}
`

var monday = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

const phone = "+15551234567"

func newHandler(t *testing.T, opts ...sms.HandlerOption) (*sms.Handler, *sms.MockSender) {
	t.Helper()
	def, err := intakeflow.DecodeYAML([]byte(lawnFlow))
	require.NoError(t, err)
	g, err := intakeflow.Validate(def, intakeflow.WithValidationLogger(nil))
	require.NoError(t, err)

	st := store.NewMemoryStore()
	require.NoError(t, st.Open(context.Background()))
	slots := scheduling.NewMemorySlotStore()
	require.NoError(t, slots.Open(context.Background()))
	sched := scheduling.NewScheduler(slots,
		scheduling.WithClock(func() time.Time { return monday }), scheduling.WithLocation(time.UTC))

	e := runtime.NewEngine(st, runtime.WithScheduler(sched))
	require.NoError(t, e.Register(g))

	sender := sms.NewMockSender()
	return sms.NewHandler(e, "lawn@1", sender, opts...), sender
}

func inbound(from, body string) *http.Request {
	form := url.Values{"From": {from}, "Body": {body}}
	req := httptest.NewRequest(http.MethodPost, "/twilio/sms", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestHandle_Conversation(t *testing.T) {
	ctx := context.Background()
	h, _ := newHandler(t)

	replies, err := h.Handle(ctx, phone, "hi")
	require.NoError(t, err)
	assert.Equal(t, []string{"How big is the yard? (Small, Large)"}, replies)

	replies, err = h.Handle(ctx, phone, "huge")
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.True(t, strings.HasPrefix(replies[0], "Please choose one of: Small, Large."), replies[0])

	replies, err = h.Handle(ctx, phone, "small")
	require.NoError(t, err)
	assert.Equal(t, []string{"Is the gate unlocked? (yes/no)"}, replies)

	replies, err = h.Handle(ctx, phone, "yes")
	require.NoError(t, err)
	require.Len(t, replies, 2)
	assert.Equal(t, "Great, let's get you on the calendar.", replies[0])
	assert.Equal(t, sms.TextSlotsHead+"\n1) Tue Mar 3, 9 AM\n2) Wed Mar 4, 2 PM", replies[1])

	replies, err = h.Handle(ctx, phone, "7")
	require.NoError(t, err)
	assert.Equal(t, []string{sms.TextPickNumber}, replies)

	replies, err = h.Handle(ctx, phone, "2")
	require.NoError(t, err)
	assert.Equal(t, []string{"Booked for Wed Mar 4, 2 PM. See you then!"}, replies)

	// The session ended, so the next text starts over.
	replies, err = h.Handle(ctx, phone, "hello again")
	require.NoError(t, err)
	assert.Equal(t, []string{"How big is the yard? (Small, Large)"}, replies)
}

func TestHandle_HumanKeyword(t *testing.T) {
	ctx := context.Background()
	h, _ := newHandler(t)

	_, err := h.Handle(ctx, phone, "hi")
	require.NoError(t, err)
	replies, err := h.Handle(ctx, phone, " Agent ")
	require.NoError(t, err)
	assert.Equal(t, []string{sms.TextEscalated}, replies)
}

func TestHandle_AttemptLimitEscalates(t *testing.T) {
	ctx := context.Background()
	h, _ := newHandler(t)

	for _, text := range []string{"hi", "large", "maybe"} {
		_, err := h.Handle(ctx, phone, text)
		require.NoError(t, err)
	}
	replies, err := h.Handle(ctx, phone, "perhaps")
	require.NoError(t, err)
	assert.Equal(t, []string{sms.TextEscalated}, replies)
}

func TestServeHTTP(t *testing.T) {
	h, sender := newHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, inbound("(555) 123-4567", "hi"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<Response>")

	require.Len(t, sender.Sent(), 1)
	assert.Equal(t, sms.SentMessage{To: phone, Body: "How big is the yard? (Small, Large)"}, sender.Sent()[0])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, inbound("not a phone", "hi"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/twilio/sms", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServeHTTP_SenderFailureStillAcks(t *testing.T) {
	h, sender := newHandler(t)
	sender.Err = errors.New("carrier down")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, inbound(phone, "hi"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, sender.Sent())
}

// sign computes a Twilio request signature.
func sign(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestServeHTTP_Signature(t *testing.T) {
	h, sender := newHandler(t, sms.WithSignatureValidation("secret", "https://intake.example.com/"))

	rec := httptest.NewRecorder()
	req := inbound(phone, "hi")
	req.Header.Set(sms.SignatureHeader, "bogus")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, sender.Sent())

	form := url.Values{"From": {phone}, "Body": {"hi"}}
	rec = httptest.NewRecorder()
	req = inbound(phone, "hi")
	req.Header.Set(sms.SignatureHeader, sign("secret", "https://intake.example.com/twilio/sms", form))
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, sender.Sent(), 1)
}
