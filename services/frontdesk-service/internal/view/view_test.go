package view

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zaferemre/clinic-app/services/frontdesk-service/internal/bookingapi"
)

type stubBooking struct {
	appt          bookingapi.Appointment
	rescheduleErr error
	rescheduled   *bookingapi.Appointment
}

func (s *stubBooking) ListDay(_ context.Context, _, _ string, _, _ time.Time, _ string) ([]bookingapi.Appointment, error) {
	return []bookingapi.Appointment{s.appt}, nil
}

func (s *stubBooking) Get(_ context.Context, _, _, _ string) (bookingapi.Appointment, error) {
	return s.appt, nil
}

func (s *stubBooking) Reschedule(_ context.Context, _, _, _ string, start, end time.Time) (bookingapi.Appointment, error) {
	if s.rescheduleErr != nil {
		return bookingapi.Appointment{}, s.rescheduleErr
	}
	moved := s.appt
	moved.Start, moved.End = start, end
	s.rescheduled = &moved
	return moved, nil
}

func TestResolveDrag_TransportErrorReverts(t *testing.T) {
	orig := bookingapi.Appointment{
		ID:    "appt-1",
		Start: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
	}
	b := &stubBooking{appt: orig, rescheduleErr: errors.New("connection refused")}

	res, err := ResolveDrag(context.Background(), b, "co-1", "cl-1", DragRequest{AppointmentID: "appt-1", DeltaRows: 1})
	if err != nil {
		t.Fatalf("a failed round trip is a revert, not an error: %v", err)
	}
	if !res.Reverted {
		t.Fatal("expected revert")
	}
	if res.Reason != "transport_failure" {
		t.Fatalf("expected transport_failure, got %q", res.Reason)
	}
	if !res.Appointment.Start.Equal(orig.Start) {
		t.Fatalf("revert must carry the original interval, got %s", res.Appointment.Start)
	}
}

func TestResolveDrag_PreservesDurationAcrossDays(t *testing.T) {
	orig := bookingapi.Appointment{
		ID:    "appt-1",
		Start: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
	b := &stubBooking{appt: orig}

	res, err := ResolveDrag(context.Background(), b, "co-1", "cl-1", DragRequest{AppointmentID: "appt-1", DeltaDays: 1, DeltaRows: -2})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res.Reverted {
		t.Fatal("unexpected revert")
	}
	want := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	if !res.Appointment.Start.Equal(want) {
		t.Fatalf("expected start %s, got %s", want, res.Appointment.Start)
	}
	if got := res.Appointment.End.Sub(res.Appointment.Start); got != time.Hour {
		t.Fatalf("drag must preserve duration, got %s", got)
	}
}
