package scheduling

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemorySlotStore keeps reservations in memory.
type MemorySlotStore struct {
	mu     sync.Mutex
	byID   map[string]Reservation
	bySlot map[string]string // slot id -> latest reservation id
	order  []string
	opened bool
	closed bool
}

var _ SlotStore = (*MemorySlotStore)(nil)

// NewMemorySlotStore creates an unopened in-memory store.
func NewMemorySlotStore() *MemorySlotStore {
	return &MemorySlotStore{
		byID:   make(map[string]Reservation),
		bySlot: make(map[string]string),
	}
}

// Open implements SlotStore.
func (m *MemorySlotStore) Open(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.opened = true
	return nil
}

func (m *MemorySlotStore) usable() error {
	if m.closed {
		return ErrStoreClosed
	}
	if !m.opened {
		return ErrNotOpen
	}
	return nil
}

// Hold implements SlotStore.
func (m *MemorySlotStore) Hold(_ context.Context, r Reservation, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.usable(); err != nil {
		return err
	}
	if id, ok := m.bySlot[r.Slot.SlotID]; ok && m.byID[id].Live(now) {
		return ErrSlotUnavailable
	}
	m.byID[r.ReservationID] = r
	m.bySlot[r.Slot.SlotID] = r.ReservationID
	m.order = append(m.order, r.ReservationID)
	return nil
}

// Get implements SlotStore.
func (m *MemorySlotStore) Get(_ context.Context, reservationID string) (Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.usable(); err != nil {
		return Reservation{}, err
	}
	r, ok := m.byID[reservationID]
	if !ok {
		return Reservation{}, ErrReservationNotFound
	}
	return r, nil
}

// Update implements SlotStore.
func (m *MemorySlotStore) Update(_ context.Context, r Reservation, from ReservationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.usable(); err != nil {
		return err
	}
	cur, ok := m.byID[r.ReservationID]
	if !ok {
		return ErrReservationNotFound
	}
	if cur.Status != from {
		return ErrStaleReservation
	}
	m.byID[r.ReservationID] = r
	return nil
}

// ListBySession implements SlotStore.
func (m *MemorySlotStore) ListBySession(_ context.Context, sessionID string) ([]Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.usable(); err != nil {
		return nil, err
	}
	out := []Reservation{}
	for _, id := range m.order {
		if r := m.byID[id]; r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return slices.Clip(out), nil
}

// Close implements SlotStore.
func (m *MemorySlotStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.byID = nil
	m.bySlot = nil
	m.order = nil
	return nil
}
