package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/randalmurphal/intakeflow/pkg/intakeflow/handoff"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/session"
)

// MemoryStore keeps sessions and tickets in memory. Data is lost when the
// process exits.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]byte // session id -> encoded state
	tickets  map[string][]handoff.Ticket
	opened   bool
	closed   bool
}

// NewMemoryStore creates an unopened in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]byte),
		tickets:  make(map[string][]handoff.Ticket),
	}
}

var _ Store = (*MemoryStore)(nil)

// Open implements Store.
func (m *MemoryStore) Open(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.opened = true
	return nil
}

func (m *MemoryStore) usable() error {
	if m.closed {
		return ErrStoreClosed
	}
	if !m.opened {
		return ErrNotOpen
	}
	return nil
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, st *session.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.usable(); err != nil {
		return err
	}
	if _, ok := m.sessions[st.SessionID]; ok {
		return ErrExists
	}
	data, err := st.Marshal()
	if err != nil {
		return err
	}
	m.sessions[st.SessionID] = data
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, sessionID string) (*session.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.usable(); err != nil {
		return nil, err
	}
	data, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return session.Unmarshal(data)
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, st *session.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.usable(); err != nil {
		return err
	}
	data, ok := m.sessions[st.SessionID]
	if !ok {
		return ErrNotFound
	}
	stored, err := session.Unmarshal(data)
	if err != nil {
		return err
	}
	if stored.Revision != st.Revision {
		return conflict(st.SessionID)
	}

	next := st.Clone()
	next.Revision++
	next.UpdatedAt = time.Now().UTC()
	encoded, err := next.Marshal()
	if err != nil {
		return err
	}
	m.sessions[st.SessionID] = encoded
	st.Revision = next.Revision
	st.UpdatedAt = next.UpdatedAt
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.usable(); err != nil {
		return err
	}
	delete(m.sessions, sessionID)
	return nil
}

// SaveTicket implements Store.
func (m *MemoryStore) SaveTicket(_ context.Context, t handoff.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.usable(); err != nil {
		return err
	}
	t.ReasonCodes = slices.Clone(t.ReasonCodes)
	list := m.tickets[t.SessionID]
	for i := range list {
		if list[i].TicketID == t.TicketID {
			list[i] = t
			return nil
		}
	}
	m.tickets[t.SessionID] = append(list, t)
	return nil
}

// ListTickets implements Store.
func (m *MemoryStore) ListTickets(_ context.Context, sessionID string) ([]handoff.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.usable(); err != nil {
		return nil, err
	}
	out := make([]handoff.Ticket, 0, len(m.tickets[sessionID]))
	for _, t := range m.tickets[sessionID] {
		t.ReasonCodes = slices.Clone(t.ReasonCodes)
		out = append(out, t)
	}
	slices.SortStableFunc(out, func(a, b handoff.Ticket) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.sessions = nil
	m.tickets = nil
	return nil
}
