package calendar

import "time"

// DefaultQuantum is the grid resolution of the day view.
const DefaultQuantum = 30 * time.Minute

// SnapDrag translates a pointer-drag offset, expressed in whole grid cells
// (deltaDays columns, deltaRows rows of one quantum each), into a candidate
// interval. The result keeps the original duration and its start is snapped
// to the nearest quantum boundary of its day, so a drag can never produce an
// off-grid time even if the original interval was off-grid.
func SnapDrag(orig Interval, deltaDays, deltaRows int, quantum time.Duration) Interval {
	if quantum <= 0 {
		quantum = DefaultQuantum
	}
	duration := orig.Duration()
	start := orig.Start.AddDate(0, 0, deltaDays).Add(time.Duration(deltaRows) * quantum)
	start = snapToGrid(start, quantum)
	return Interval{Start: start, End: start.Add(duration)}
}

func snapToGrid(t time.Time, quantum time.Duration) time.Time {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return midnight.Add(t.Sub(midnight).Round(quantum))
}
