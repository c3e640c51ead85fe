package handoff

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/intakeflow/pkg/intakeflow/registry"
)

// Token errors.
var (
	ErrTokenNotFound = errors.New("call token not found")
	ErrTokenExpired  = errors.New("call token expired")
)

// DefaultTokenTTL is how long a click-to-call link stays valid.
const DefaultTokenTTL = 30 * time.Minute

// CallToken lets a customer open a call with an agent for one session.
type CallToken struct {
	TokenID   string    `json:"tokenId"`
	SessionID string    `json:"sessionId"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether now is after the expiry instant.
func (t CallToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// URL returns the callable link, with the token as the last path segment.
func (t CallToken) URL(base string) string {
	return strings.TrimRight(base, "/") + "/call/" + url.PathEscape(t.Token)
}

// TokenIssuer issues and resolves call tokens held in memory.
type TokenIssuer struct {
	ttl    time.Duration
	now    func() time.Time
	tokens *registry.Registry[string, CallToken]
}

// NewTokenIssuer creates an issuer. A non-positive ttl uses DefaultTokenTTL;
// a nil clock uses time.Now.
func NewTokenIssuer(ttl time.Duration, now func() time.Time) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{
		ttl:    ttl,
		now:    now,
		tokens: registry.New[string, CallToken](),
	}
}

// Issue creates a token for the session.
func (i *TokenIssuer) Issue(sessionID string) CallToken {
	tok := CallToken{
		TokenID:   uuid.NewString(),
		SessionID: sessionID,
		Token:     strings.ReplaceAll(uuid.NewString(), "-", ""),
		ExpiresAt: i.now().Add(i.ttl).UTC(),
	}
	i.tokens.Register(tok.Token, tok)
	return tok
}

// Resolve looks up a token. Expired tokens return ErrTokenExpired along
// with the token so callers can still show which session it belonged to.
func (i *TokenIssuer) Resolve(token string) (CallToken, error) {
	tok, ok := i.tokens.Get(token)
	if !ok {
		return CallToken{}, ErrTokenNotFound
	}
	if tok.Expired(i.now()) {
		return tok, ErrTokenExpired
	}
	return tok, nil
}

// Prune drops expired tokens and reports how many were removed.
func (i *TokenIssuer) Prune() int {
	now := i.now()
	return i.tokens.DeleteFunc(func(_ string, tok CallToken) bool {
		return tok.Expired(now)
	})
}
