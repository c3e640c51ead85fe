package scheduling_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/intakeflow/pkg/intakeflow/scheduling"
)

// monday is 2026-03-02 10:00 UTC.
var monday = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func slotIDs(slots []scheduling.Slot) []string {
	ids := make([]string, len(slots))
	for i, s := range slots {
		ids[i] = s.SlotID
	}
	return ids
}

func TestGenerateSlots_Deterministic(t *testing.T) {
	slots := scheduling.GenerateSlots(monday, time.UTC, 7, 3)

	assert.Equal(t, []string{"slot-20260303-0900", "slot-20260304-1400", "slot-20260305-1000"}, slotIDs(slots))
	assert.Equal(t, []string{"Tue Mar 3, 9 AM", "Wed Mar 4, 2 PM", "Thu Mar 5, 10 AM"},
		[]string{slots[0].Label, slots[1].Label, slots[2].Label})
	assert.Equal(t, 2*time.Hour, slots[0].End.Sub(slots[0].Start))

	assert.Equal(t, slots, scheduling.GenerateSlots(monday, time.UTC, 7, 3), "same clock, same offer")
}

func TestGenerateSlots_Window(t *testing.T) {
	tests := []struct {
		name       string
		windowDays int
		maxSlots   int
		want       int
	}{
		{"window limits", 2, 5, 2},
		{"max limits", 7, 2, 2},
		{"window clamped low", 0, 5, 1},
		{"window clamped high", 30, 10, 7},
		{"no slots", 7, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slots := scheduling.GenerateSlots(monday, time.UTC, tt.windowDays, tt.maxSlots)
			require.Len(t, slots, tt.want)
			for i, s := range slots {
				assert.True(t, s.Start.After(monday))
				if i > 0 {
					assert.True(t, s.Start.After(slots[i-1].Start), "ascending")
					assert.NotEqual(t, s.Start.YearDay(), slots[i-1].Start.YearDay(), "distinct days")
				}
			}
		})
	}
}

func TestGenerateSlots_LateEvening(t *testing.T) {
	late := time.Date(2026, 3, 2, 23, 59, 0, 0, time.UTC)
	slots := scheduling.GenerateSlots(late, time.UTC, 1, 3)
	require.Len(t, slots, 1)
	assert.Equal(t, "slot-20260303-0900", slots[0].SlotID)
}

func TestGenerateSlots_Location(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	// 03:00 UTC Tuesday is still Monday evening in New York.
	now := time.Date(2026, 3, 3, 3, 0, 0, 0, time.UTC)
	slots := scheduling.GenerateSlots(now, ny, 1, 1)
	require.Len(t, slots, 1)
	assert.Equal(t, "slot-20260303-0900", slots[0].SlotID)
	assert.Equal(t, ny, slots[0].Start.Location())
}

func TestParseSlotID(t *testing.T) {
	slot, err := scheduling.ParseSlotID("slot-20260304-1400", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 4, 14, 0, 0, 0, time.UTC), slot.Start)
	assert.Equal(t, "Wed Mar 4, 2 PM", slot.Label)

	for _, bad := range []string{"", "20260304-1400", "slot-2026-03-04", "slot-20261304-1400"} {
		_, err := scheduling.ParseSlotID(bad, time.UTC)
		assert.ErrorIs(t, err, scheduling.ErrInvalidSlot, bad)
	}
}
