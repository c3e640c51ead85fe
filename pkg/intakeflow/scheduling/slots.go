// Package scheduling offers appointment slots and holds them for sessions
// until the customer confirms.
//
// Slots come from a fixed weekly pattern relative to the scheduler's clock,
// so the same clock always yields the same offer. Holds expire; a slot with
// a live hold or a confirmed booking cannot be held by anyone else.
package scheduling

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SlotDuration is the length of every appointment window.
const SlotDuration = 2 * time.Hour

// MaxWindowDays is the furthest ahead slots are offered.
const MaxWindowDays = 7

// slotIDLayout formats the start time inside a slot id.
const slotIDLayout = "20060102-1504"

// ErrInvalidSlot indicates a slot id that doesn't parse.
var ErrInvalidSlot = errors.New("invalid slot id")

// pattern is one offered appointment: days from today, start hour, AM/PM.
type pattern struct {
	dayOffset int
	hour      int
	period    string
}

// patterns have distinct day offsets in ascending order.
var patterns = []pattern{
	{1, 9, "AM"},
	{2, 14, "PM"},
	{3, 10, "AM"},
	{4, 13, "PM"},
	{5, 9, "AM"},
	{6, 15, "PM"},
	{7, 11, "AM"},
}

// Slot is an offered appointment window.
type Slot struct {
	SlotID string    `json:"slotId"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Label  string    `json:"label"`
}

// GenerateSlots returns up to maxSlots slots within windowDays of now,
// earliest first, every one starting after now. windowDays is clamped to
// 1..7.
func GenerateSlots(now time.Time, loc *time.Location, windowDays, maxSlots int) []Slot {
	if loc == nil {
		loc = time.Local
	}
	windowDays = min(max(windowDays, 1), MaxWindowDays)
	if maxSlots < 1 {
		return []Slot{}
	}

	now = now.In(loc)
	out := make([]Slot, 0, maxSlots)
	for _, p := range patterns {
		if p.dayOffset > windowDays || len(out) == maxSlots {
			break
		}
		start := time.Date(now.Year(), now.Month(), now.Day()+p.dayOffset, p.hour, 0, 0, 0, loc)
		if !start.After(now) {
			continue
		}
		out = append(out, newSlot(start, p.period))
	}
	return out
}

func newSlot(start time.Time, period string) Slot {
	hour := start.Hour() % 12
	if hour == 0 {
		hour = 12
	}
	return Slot{
		SlotID: SlotID(start),
		Start:  start,
		End:    start.Add(SlotDuration),
		Label:  fmt.Sprintf("%s, %d %s", start.Format("Mon Jan 2"), hour, period),
	}
}

// SlotID formats a slot start as "slot-YYYYMMDD-HHMM".
func SlotID(start time.Time) string {
	return "slot-" + start.Format(slotIDLayout)
}

// ParseSlotID rebuilds a slot from its id, interpreting the time in loc.
func ParseSlotID(id string, loc *time.Location) (Slot, error) {
	if loc == nil {
		loc = time.Local
	}
	raw, ok := strings.CutPrefix(id, "slot-")
	if !ok {
		return Slot{}, fmt.Errorf("%w: %q", ErrInvalidSlot, id)
	}
	start, err := time.ParseInLocation(slotIDLayout, raw, loc)
	if err != nil {
		return Slot{}, fmt.Errorf("%w: %q", ErrInvalidSlot, id)
	}
	period := "AM"
	if start.Hour() >= 12 {
		period = "PM"
	}
	return newSlot(start, period), nil
}
