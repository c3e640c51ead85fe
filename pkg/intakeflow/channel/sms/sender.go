// Package sms runs intake conversations over text messages. Inbound texts
// arrive on a Twilio webhook; replies go out through a Sender.
package sms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	ierrors "github.com/randalmurphal/intakeflow/pkg/intakeflow/errors"
)

// Sender delivers one outbound text.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// ErrMissingCredentials is returned by NewTwilioSender without an account
// SID, auth token or from number.
var ErrMissingCredentials = errors.New("twilio credentials are incomplete")

// TwilioSender sends texts through the Twilio Messages API.
type TwilioSender struct {
	client *twilio.RestClient
	from   string
	logger *slog.Logger
}

// NewTwilioSender creates a sender for one Twilio number.
func NewTwilioSender(accountSID, authToken, from string, logger *slog.Logger) (*TwilioSender, error) {
	if accountSID == "" || authToken == "" || from == "" {
		return nil, ErrMissingCredentials
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioSender{client: client, from: from, logger: logger}, nil
}

// Send implements Sender.
func (s *TwilioSender) Send(ctx context.Context, to, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)

	if _, err := s.client.Api.CreateMessage(params); err != nil {
		return &ierrors.ExternalServiceError{Service: "twilio", Op: "create_message", Err: fmt.Errorf("to %s: %w", to, err)}
	}
	if s.logger != nil {
		s.logger.Debug("sms sent", slog.String("to", to))
	}
	return nil
}

// SentMessage is one text recorded by MockSender.
type SentMessage struct {
	To   string
	Body string
}

// MockSender records texts instead of sending them. Err, when set, is
// returned from every Send.
type MockSender struct {
	mu   sync.Mutex
	sent []SentMessage
	Err  error
}

// NewMockSender creates an empty MockSender.
func NewMockSender() *MockSender {
	return &MockSender{}
}

// Send implements Sender.
func (m *MockSender) Send(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, SentMessage{To: to, Body: body})
	return nil
}

// Sent returns the texts recorded so far.
func (m *MockSender) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}

// Reset forgets recorded texts.
func (m *MockSender) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}
