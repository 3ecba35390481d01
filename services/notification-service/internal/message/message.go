package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Booking event types this service renders. The Kafka topic name equals the
// event type.
const (
	EventBooked      = "booking.appointment.booked.v1"
	EventRescheduled = "booking.appointment.rescheduled.v1"
	EventCancelled   = "booking.appointment.cancelled.v1"
)

// Topics lists every subscription of the notification consumer.
func Topics() []string {
	return []string{EventBooked, EventRescheduled, EventCancelled}
}

// AppointmentEvent is the shared payload shape of the booking topics. The
// reschedule payload adds the previous interval, the cancel payload adds
// cancelled_at and reason; absent fields stay empty.
type AppointmentEvent struct {
	AppointmentID string `json:"appointment_id"`
	CompanyID     string `json:"company_id"`
	ClinicID      string `json:"clinic_id"`
	EmployeeID    string `json:"employee_id"`
	ServiceID     string `json:"service_id"`
	PatientID     string `json:"patient_id"`
	PatientName   string `json:"patient_name"`
	PatientEmail  string `json:"patient_email"`
	PatientPhone  string `json:"patient_phone"`
	Start         string `json:"start"`
	End           string `json:"end"`
	PreviousStart string `json:"previous_start"`
	PreviousEnd   string `json:"previous_end"`
	CancelledAt   string `json:"cancelled_at"`
	Reason        string `json:"reason"`
}

func Parse(raw []byte) (AppointmentEvent, error) {
	var evt AppointmentEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return AppointmentEvent{}, err
	}
	if evt.AppointmentID == "" || evt.CompanyID == "" || evt.PatientID == "" || evt.Start == "" {
		return AppointmentEvent{}, errors.New("missing appointment event fields")
	}
	return evt, nil
}

// Content is one rendered notification, ready for any channel.
type Content struct {
	Subject   string
	EmailBody string
	SMSBody   string
}

func Compose(eventType string, evt AppointmentEvent) (Content, error) {
	when := formatTime(evt.Start)
	switch eventType {
	case EventBooked:
		line := fmt.Sprintf("Your appointment on %s is confirmed.", when)
		return Content{
			Subject:   "Appointment confirmed",
			EmailBody: emailBody(evt.PatientName, line),
			SMSBody:   line,
		}, nil
	case EventRescheduled:
		line := fmt.Sprintf("Your appointment has been moved from %s to %s.", formatTime(evt.PreviousStart), when)
		return Content{
			Subject:   "Appointment rescheduled",
			EmailBody: emailBody(evt.PatientName, line),
			SMSBody:   line,
		}, nil
	case EventCancelled:
		line := fmt.Sprintf("Your appointment on %s has been cancelled.", when)
		if r := strings.TrimSpace(evt.Reason); r != "" {
			line = fmt.Sprintf("%s Reason: %s.", line, r)
		}
		line += " The booking credit has been returned to your balance."
		return Content{
			Subject:   "Appointment cancelled",
			EmailBody: emailBody(evt.PatientName, line),
			SMSBody:   line,
		}, nil
	default:
		return Content{}, fmt.Errorf("no template for event type %q", eventType)
	}
}

func emailBody(name, line string) string {
	greeting := "Hello,"
	if n := strings.TrimSpace(name); n != "" {
		greeting = fmt.Sprintf("Hello %s,", n)
	}
	return fmt.Sprintf("%s\n\n%s\n", greeting, line)
}

func formatTime(raw string) string {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return raw
	}
	return t.Format("Mon 2 Jan 2006 at 15:04")
}
