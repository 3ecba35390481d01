package view

import (
	"context"
	"errors"
	"time"

	"github.com/zaferemre/clinic-app/libs/calendar"
	"github.com/zaferemre/clinic-app/services/frontdesk-service/internal/bookingapi"
)

// Booking is the slice of the booking-service client the views need.
type Booking interface {
	ListDay(ctx context.Context, companyID, clinicID string, from, to time.Time, employeeID string) ([]bookingapi.Appointment, error)
	Get(ctx context.Context, companyID, clinicID, id string) (bookingapi.Appointment, error)
	Reschedule(ctx context.Context, companyID, clinicID, id string, start, end time.Time) (bookingapi.Appointment, error)
}

// Event is one appointment with its assigned display column. Appointments of
// different employees can share a time slot, so the layout spreads them into
// side-by-side columns; ColCount is the width divisor for this event.
type Event struct {
	bookingapi.Appointment
	Col      int
	ColCount int
}

type Day struct {
	Date   time.Time
	Events []Event
}

// BuildDay fetches the accepted appointments of one day and lays them out.
// The day runs [midnight, midnight+24h) in UTC.
func BuildDay(ctx context.Context, b Booking, companyID, clinicID string, date time.Time, employeeID string) (Day, error) {
	from := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	appts, err := b.ListDay(ctx, companyID, clinicID, from, to, employeeID)
	if err != nil {
		return Day{}, err
	}

	events := make([]calendar.Event, 0, len(appts))
	for _, appt := range appts {
		events = append(events, calendar.Event{
			ID:    appt.ID,
			Slot:  calendar.Interval{Start: appt.Start, End: appt.End},
			Extra: appt,
		})
	}

	placed := calendar.AssignColumns(events)
	out := make([]Event, 0, len(placed))
	for _, p := range placed {
		out = append(out, Event{
			Appointment: p.Extra.(bookingapi.Appointment),
			Col:         p.Col,
			ColCount:    p.ColCount,
		})
	}
	return Day{Date: from, Events: out}, nil
}

type DragRequest struct {
	AppointmentID string
	DeltaDays     int
	DeltaRows     int
}

// DragResult is the outcome of a drag gesture. On Reverted the Appointment
// still holds the original interval: the view must snap the event back.
type DragResult struct {
	Reverted    bool
	Reason      string
	Appointment bookingapi.Appointment
}

// ResolveDrag turns a drag offset in grid cells into a reschedule. The move
// is only real once booking-service confirmed it: any rejection or transport
// failure reverts to the original interval, which is returned so the caller
// can restore the view.
func ResolveDrag(ctx context.Context, b Booking, companyID, clinicID string, req DragRequest) (DragResult, error) {
	orig, err := b.Get(ctx, companyID, clinicID, req.AppointmentID)
	if err != nil {
		return DragResult{}, err
	}

	cand := calendar.SnapDrag(
		calendar.Interval{Start: orig.Start, End: orig.End},
		req.DeltaDays, req.DeltaRows, calendar.DefaultQuantum,
	)
	if cand.Start.Equal(orig.Start) && cand.End.Equal(orig.End) {
		return DragResult{Appointment: orig}, nil
	}

	updated, err := b.Reschedule(ctx, companyID, clinicID, req.AppointmentID, cand.Start, cand.End)
	if err != nil {
		reason := "transport_failure"
		var apiErr *bookingapi.APIError
		if errors.As(err, &apiErr) {
			reason = apiErr.Code
			if reason == "" {
				reason = "rejected"
			}
		}
		return DragResult{Reverted: true, Reason: reason, Appointment: orig}, nil
	}
	return DragResult{Appointment: updated}, nil
}
