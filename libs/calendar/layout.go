package calendar

import "sort"

// Event is one appointment as the day view sees it.
type Event struct {
	ID    string
	Slot  Interval
	Extra any
}

// Placed is an Event with its assigned display column. Events in the same
// overlap cluster get distinct columns; ColCount tells the renderer how many
// columns to divide the available width into for this event.
type Placed struct {
	Event
	Col      int
	ColCount int
}

// AssignColumns lays out temporally overlapping events into non-overlapping
// visual columns. Events are processed in start order; each event takes the
// lowest column not already used by an assigned event it overlaps, and
// ColCount is the size of its overlap group (itself included) at assignment
// time. The layout never rejects an event: pathological overlap just produces
// more columns.
func AssignColumns(events []Event) []Placed {
	placed := make([]Placed, len(events))
	for i, ev := range events {
		placed[i] = Placed{Event: ev, Col: -1, ColCount: 1}
	}

	sort.SliceStable(placed, func(i, j int) bool {
		a, b := placed[i], placed[j]
		if !a.Slot.Start.Equal(b.Slot.Start) {
			return a.Slot.Start.Before(b.Slot.Start)
		}
		if !a.Slot.End.Equal(b.Slot.End) {
			return a.Slot.End.Before(b.Slot.End)
		}
		return a.ID < b.ID
	})

	for i := range placed {
		group := 1
		used := map[int]bool{}
		for j := range placed {
			if j == i || !placed[i].Slot.Overlaps(placed[j].Slot) {
				continue
			}
			group++
			if placed[j].Col >= 0 {
				used[placed[j].Col] = true
			}
		}

		col := 0
		for used[col] {
			col++
		}
		placed[i].Col = col
		placed[i].ColCount = group
	}

	return placed
}
