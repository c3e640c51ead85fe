package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	ierrors "github.com/randalmurphal/intakeflow/pkg/intakeflow/errors"
	"github.com/randalmurphal/intakeflow/pkg/intakeflow/observability"
)

// DefaultHoldTTL is how long an unconfirmed hold blocks its slot.
const DefaultHoldTTL = 10 * time.Minute

// Reservation results reported to metrics.
const (
	ResultHeld      = "held"
	ResultConflict  = "conflict"
	ResultConfirmed = "confirmed"
	ResultReleased  = "released"
)

// Scheduler offers slots and manages holds and bookings.
// It is safe for concurrent use; contention is resolved by the store.
type Scheduler struct {
	store   SlotStore
	now     func() time.Time
	loc     *time.Location
	holdTTL time.Duration
	newID   func() string
	logger  *slog.Logger
	metrics observability.MetricsRecorder
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock. Slot generation and hold expiry both use it.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the timezone slots are laid out in. Default: time.Local.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithHoldTTL sets how long holds last. Default: 10 minutes.
func WithHoldTTL(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.holdTTL = d
		}
	}
}

// WithIDFunc sets the generator for reservation and job ids.
func WithIDFunc(fn func() string) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithLogger sets the logger. Default: none.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics recorder. Default: no-op.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewScheduler creates a scheduler over an opened store.
func NewScheduler(store SlotStore, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:   store,
		now:     time.Now,
		loc:     time.Local,
		holdTTL: DefaultHoldTTL,
		newID:   uuid.NewString,
		metrics: observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateSlots offers up to maxSlots slots in the next windowDays days.
// Already-held slots are still offered; ReserveSlot arbitrates.
func (s *Scheduler) GenerateSlots(windowDays, maxSlots int) []Slot {
	return GenerateSlots(s.now(), s.loc, windowDays, maxSlots)
}

// ReserveSlot holds a slot for a session. A slot with a live hold or
// booking returns a *errors.ConflictError wrapping ErrSlotUnavailable.
func (s *Scheduler) ReserveSlot(ctx context.Context, sessionID, slotID string) (Reservation, error) {
	slot, err := ParseSlotID(slotID, s.loc)
	if err != nil {
		return Reservation{}, err
	}
	now := s.now()
	if !slot.Start.After(now) {
		return Reservation{}, fmt.Errorf("%w: %s", ErrSlotInPast, slotID)
	}

	r := Reservation{
		ReservationID: s.newID(),
		SessionID:     sessionID,
		Slot:          slot,
		Status:        StatusHeld,
		ExpiresAt:     now.Add(s.holdTTL).UTC(),
		CreatedAt:     now.UTC(),
	}
	if err := s.store.Hold(ctx, r, now); err != nil {
		if errors.Is(err, ErrSlotUnavailable) {
			s.record(ctx, sessionID, slotID, ResultConflict)
			return Reservation{}, &ierrors.ConflictError{Resource: "slot", ID: slotID, Err: err}
		}
		return Reservation{}, fmt.Errorf("hold %s: %w", slotID, err)
	}
	s.record(ctx, sessionID, slotID, ResultHeld)
	return r, nil
}

// ConfirmBooking converts a hold into a booking and returns it with its
// job id. Confirming an already confirmed reservation returns the same
// booking.
func (s *Scheduler) ConfirmBooking(ctx context.Context, sessionID, reservationID string) (Reservation, error) {
	// One retry covers a concurrent confirm or release racing this one.
	for range 2 {
		r, err := s.owned(ctx, sessionID, reservationID)
		if err != nil {
			return Reservation{}, err
		}
		switch {
		case r.Status == StatusConfirmed:
			return r, nil
		case r.Status == StatusReleased, !r.Live(s.now()):
			return Reservation{}, fmt.Errorf("%w: %s", ErrReservationExpired, reservationID)
		}

		next := r
		next.Status = StatusConfirmed
		next.JobID = s.newID()
		next.ConfirmedAt = s.now().UTC()
		err = s.store.Update(ctx, next, StatusHeld)
		if errors.Is(err, ErrStaleReservation) {
			continue
		}
		if err != nil {
			return Reservation{}, fmt.Errorf("confirm %s: %w", reservationID, err)
		}
		s.record(ctx, sessionID, r.Slot.SlotID, ResultConfirmed)
		return next, nil
	}
	return Reservation{}, &ierrors.ConflictError{Resource: "reservation", ID: reservationID, Err: ErrStaleReservation}
}

// ReleaseSlot gives up a hold. Releasing twice is a no-op; releasing a
// confirmed booking fails with ErrReservationConfirmed.
func (s *Scheduler) ReleaseSlot(ctx context.Context, sessionID, reservationID string) error {
	r, err := s.owned(ctx, sessionID, reservationID)
	if err != nil {
		return err
	}
	switch r.Status {
	case StatusReleased:
		return nil
	case StatusConfirmed:
		return fmt.Errorf("%w: %s", ErrReservationConfirmed, reservationID)
	}

	next := r
	next.Status = StatusReleased
	if err := s.store.Update(ctx, next, StatusHeld); err != nil {
		if errors.Is(err, ErrStaleReservation) {
			return &ierrors.ConflictError{Resource: "reservation", ID: reservationID, Err: err}
		}
		return fmt.Errorf("release %s: %w", reservationID, err)
	}
	s.record(ctx, sessionID, r.Slot.SlotID, ResultReleased)
	return nil
}

// Reservations lists a session's reservations oldest first.
func (s *Scheduler) Reservations(ctx context.Context, sessionID string) ([]Reservation, error) {
	return s.store.ListBySession(ctx, sessionID)
}

func (s *Scheduler) owned(ctx context.Context, sessionID, reservationID string) (Reservation, error) {
	r, err := s.store.Get(ctx, reservationID)
	if err != nil {
		return Reservation{}, err
	}
	if r.SessionID != sessionID {
		return Reservation{}, fmt.Errorf("%w: %s", ErrReservationMismatch, reservationID)
	}
	return r, nil
}

func (s *Scheduler) record(ctx context.Context, sessionID, slotID, result string) {
	s.metrics.RecordReservation(ctx, result)
	observability.LogReservation(s.logger, sessionID, slotID, result)
}
