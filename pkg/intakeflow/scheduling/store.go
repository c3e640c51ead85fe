package scheduling

import (
	"context"
	"errors"
	"time"
)

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

// Reservation states. A held reservation past ExpiresAt behaves as released.
const (
	StatusHeld      ReservationStatus = "held"
	StatusConfirmed ReservationStatus = "confirmed"
	StatusReleased  ReservationStatus = "released"
)

// Reservation is a session's claim on a slot.
type Reservation struct {
	ReservationID string            `json:"reservationId"`
	SessionID     string            `json:"sessionId"`
	Slot          Slot              `json:"slot"`
	Status        ReservationStatus `json:"status"`
	// JobID is set once the booking is confirmed.
	JobID       string    `json:"jobId,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt"`
	CreatedAt   time.Time `json:"createdAt"`
	ConfirmedAt time.Time `json:"confirmedAt,omitzero"`
}

// Live reports whether the reservation still blocks its slot at now.
func (r Reservation) Live(now time.Time) bool {
	switch r.Status {
	case StatusConfirmed:
		return true
	case StatusHeld:
		return now.Before(r.ExpiresAt)
	default:
		return false
	}
}

// Sentinel errors for reservations.
var (
	// ErrSlotUnavailable indicates another session holds or booked the slot.
	// It is returned inside an errors.ConflictError.
	ErrSlotUnavailable = errors.New("slot unavailable")

	// ErrSlotInPast indicates a slot that has already started.
	ErrSlotInPast = errors.New("slot is in the past")

	// ErrReservationNotFound indicates an unknown reservation id.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrReservationMismatch indicates a session acting on another
	// session's reservation.
	ErrReservationMismatch = errors.New("reservation belongs to another session")

	// ErrReservationExpired indicates the hold lapsed or was released.
	ErrReservationExpired = errors.New("reservation expired")

	// ErrReservationConfirmed indicates a release of a confirmed booking.
	ErrReservationConfirmed = errors.New("reservation already confirmed")

	// ErrStaleReservation indicates an update lost a race on the
	// reservation's status.
	ErrStaleReservation = errors.New("reservation changed concurrently")

	// ErrNotOpen indicates the store was used before Open.
	ErrNotOpen = errors.New("slot store not open")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("slot store closed")
)

// SlotStore persists reservations. Hold is the only cross-session
// contention point and must be atomic.
type SlotStore interface {
	// Open prepares the store. Opening twice is a no-op.
	Open(ctx context.Context) error

	// Hold stores r if no live reservation blocks r.Slot.SlotID at now.
	// Returns ErrSlotUnavailable otherwise.
	Hold(ctx context.Context, r Reservation, now time.Time) error

	// Get returns a reservation. Returns ErrReservationNotFound if unknown.
	Get(ctx context.Context, reservationID string) (Reservation, error)

	// Update writes r if the stored status still equals from.
	// Returns ErrStaleReservation otherwise.
	Update(ctx context.Context, r Reservation, from ReservationStatus) error

	// ListBySession returns a session's reservations oldest first.
	ListBySession(ctx context.Context, sessionID string) ([]Reservation, error)

	// Close releases resources.
	Close() error
}
