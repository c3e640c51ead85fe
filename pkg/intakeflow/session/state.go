// Package session holds the per-conversation record the interpreter reads
// and writes on every inbound event.
package session

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// Status is the session-level phase.
type Status string

// Session phases. Completed and escalated are terminal.
const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusEscalated Status = "escalated"
)

// Derived fact names with meaning to the engine itself. Flows may derive
// any other facts they like.
const (
	FactHumanRequested      = "human_requested"
	FactNegativeSentiment   = "negative_sentiment_detected"
	FactMaxAttemptsExceeded = "max_attempts_exceeded"
	FactExceededState       = "exceeded_state"
	FactEscalateToHandoff   = "escalate_to_handoff"
	FactUrgency             = "urgency"
	FactTimeline            = "timeline"
	FactSentiment           = "sentiment"
)

// EscalationFacts are the derived flags that end graph traversal and hand
// the session to a human, in no particular order.
var EscalationFacts = []string{
	FactMaxAttemptsExceeded,
	FactHumanRequested,
	FactNegativeSentiment,
	FactEscalateToHandoff,
}

// State is one conversation bound to a flow version.
//
// State is not safe for concurrent use; callers serialize events per session.
type State struct {
	SessionID   string `json:"sessionId"`
	FlowVersion string `json:"flowVersion"`
	// Contact identifies the customer (phone number, email) for handoff summaries.
	Contact       string `json:"contact,omitempty"`
	CurrentNodeID string `json:"currentNodeId"`

	Collected       map[string]any `json:"collected"`
	Derived         map[string]any `json:"derived"`
	AttemptCounters map[string]int `json:"attemptCounters"`

	// ReturnStack holds main-path nodes to resume after an interleaved follow-up.
	ReturnStack []string `json:"returnStack,omitempty"`

	Status Status `json:"status"`

	// Revision increments on every durable save and guards against lost updates.
	Revision int64 `json:"revision"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// New creates an active session positioned at startNodeID.
func New(sessionID, flowVersion, startNodeID string) *State {
	now := time.Now().UTC()
	return &State{
		SessionID:       sessionID,
		FlowVersion:     flowVersion,
		CurrentNodeID:   startNodeID,
		Collected:       make(map[string]any),
		Derived:         make(map[string]any),
		AttemptCounters: make(map[string]int),
		Status:          StatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Active reports whether the session can still accept events.
func (s *State) Active() bool {
	return s.Status == StatusActive
}

// Flag reports whether a derived fact is set to true. The strings "true"
// and "yes" count, since signals often arrive as form values.
func (s *State) Flag(name string) bool {
	switch v := s.Derived[name].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "yes"
	default:
		return false
	}
}

// Fact returns a derived fact rendered as a string, or "" when absent.
func (s *State) Fact(name string) string {
	v, ok := s.Derived[name]
	if !ok || v == nil {
		return ""
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprint(v)
}

// SetFact records a derived fact.
func (s *State) SetFact(name string, value any) {
	if s.Derived == nil {
		s.Derived = make(map[string]any)
	}
	s.Derived[name] = value
}

// Value returns a collected answer rendered as a string, or "" when absent.
func (s *State) Value(key string) string {
	v, ok := s.Collected[key]
	if !ok || v == nil {
		return ""
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprint(v)
}

// Escalating reports whether any escalation fact is set.
func (s *State) Escalating() bool {
	for _, f := range EscalationFacts {
		if s.Flag(f) {
			return true
		}
	}
	return false
}

// Attempts returns the retry count for a node.
func (s *State) Attempts(nodeID string) int {
	return s.AttemptCounters[nodeID]
}

// Clone returns a deep copy of the maps and stack. Answer values are
// copied shallowly; they are scalars or string slices in practice.
func (s *State) Clone() *State {
	c := *s
	c.Collected = maps.Clone(s.Collected)
	c.Derived = maps.Clone(s.Derived)
	c.AttemptCounters = maps.Clone(s.AttemptCounters)
	c.ReturnStack = append([]string(nil), s.ReturnStack...)
	if c.Collected == nil {
		c.Collected = make(map[string]any)
	}
	if c.Derived == nil {
		c.Derived = make(map[string]any)
	}
	if c.AttemptCounters == nil {
		c.AttemptCounters = make(map[string]int)
	}
	return &c
}

// Marshal encodes the session for storage.
func (s *State) Marshal() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal session %s: %w", s.SessionID, err)
	}
	return data, nil
}

// Unmarshal decodes a stored session. Nil maps are replaced with empty ones.
func Unmarshal(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	if s.Collected == nil {
		s.Collected = make(map[string]any)
	}
	if s.Derived == nil {
		s.Derived = make(map[string]any)
	}
	if s.AttemptCounters == nil {
		s.AttemptCounters = make(map[string]int)
	}
	return &s, nil
}
