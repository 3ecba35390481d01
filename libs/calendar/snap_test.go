package calendar

import (
	"testing"
	"time"
)

func TestSnapDrag_PreservesDuration(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	orig := Interval{Start: at(day, 9, 0), End: at(day, 9, 45)}

	got := SnapDrag(orig, 0, 2, 30*time.Minute)
	if !got.Start.Equal(at(day, 10, 0)) {
		t.Fatalf("expected start 10:00, got %s", got.Start.Format(time.RFC3339))
	}
	if got.Duration() != 45*time.Minute {
		t.Fatalf("expected duration preserved at 45m, got %s", got.Duration())
	}
}

func TestSnapDrag_DayShift(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	orig := Interval{Start: at(day, 14, 0), End: at(day, 14, 30)}

	got := SnapDrag(orig, 1, -4, 30*time.Minute)
	want := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
	if !got.Start.Equal(want) {
		t.Fatalf("expected start %s, got %s", want.Format(time.RFC3339), got.Start.Format(time.RFC3339))
	}
}

func TestSnapDrag_SnapsOffGridStart(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	// 09:10 is off the 30-minute grid; nearest boundary is 09:00.
	orig := Interval{Start: at(day, 9, 10), End: at(day, 9, 40)}

	got := SnapDrag(orig, 0, 1, 30*time.Minute)
	if !got.Start.Equal(at(day, 9, 30)) {
		t.Fatalf("expected snapped start 09:30, got %s", got.Start.Format(time.RFC3339))
	}
	if !got.End.Equal(at(day, 10, 0)) {
		t.Fatalf("expected end 10:00, got %s", got.End.Format(time.RFC3339))
	}
}

func TestSnapDrag_ZeroDeltaKeepsSlot(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	orig := Interval{Start: at(day, 9, 0), End: at(day, 9, 30)}

	got := SnapDrag(orig, 0, 0, DefaultQuantum)
	if !got.Start.Equal(orig.Start) || !got.End.Equal(orig.End) {
		t.Fatalf("expected unchanged interval, got [%s, %s)", got.Start, got.End)
	}
}
