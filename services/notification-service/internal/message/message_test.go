package message

import (
	"strings"
	"testing"
)

func sampleEvent() AppointmentEvent {
	return AppointmentEvent{
		AppointmentID: "appt-1",
		CompanyID:     "co-1",
		ClinicID:      "cl-1",
		PatientID:     "pat-1",
		PatientName:   "Ayse Yilmaz",
		PatientEmail:  "ayse@example.test",
		PatientPhone:  "+90-555-0101",
		Start:         "2026-03-02T10:00:00Z",
		End:           "2026-03-02T10:30:00Z",
	}
}

func TestParse_RejectsMissingFields(t *testing.T) {
	if _, err := Parse([]byte(`{"appointment_id":"a"}`)); err == nil {
		t.Fatal("expected error for payload without company/patient/start")
	}
	if _, err := Parse([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed json")
	}
}

func TestCompose_Booked(t *testing.T) {
	c, err := Compose(EventBooked, sampleEvent())
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}
	if c.Subject != "Appointment confirmed" {
		t.Fatalf("unexpected subject %q", c.Subject)
	}
	if !strings.Contains(c.EmailBody, "Hello Ayse Yilmaz,") {
		t.Fatalf("email body misses greeting: %q", c.EmailBody)
	}
	if !strings.Contains(c.SMSBody, "Mon 2 Mar 2026 at 10:00") {
		t.Fatalf("sms body misses formatted time: %q", c.SMSBody)
	}
}

func TestCompose_RescheduledMentionsBothTimes(t *testing.T) {
	evt := sampleEvent()
	evt.PreviousStart = "2026-03-02T09:00:00Z"
	evt.PreviousEnd = "2026-03-02T09:30:00Z"

	c, err := Compose(EventRescheduled, evt)
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}
	if !strings.Contains(c.SMSBody, "at 09:00") || !strings.Contains(c.SMSBody, "at 10:00") {
		t.Fatalf("reschedule body must carry old and new time: %q", c.SMSBody)
	}
}

func TestCompose_CancelledCarriesReasonAndRefund(t *testing.T) {
	evt := sampleEvent()
	evt.CancelledAt = "2026-03-01T12:00:00Z"
	evt.Reason = "patient request"

	c, err := Compose(EventCancelled, evt)
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}
	if !strings.Contains(c.SMSBody, "Reason: patient request.") {
		t.Fatalf("cancel body misses reason: %q", c.SMSBody)
	}
	if !strings.Contains(c.SMSBody, "credit has been returned") {
		t.Fatalf("cancel body misses refund note: %q", c.SMSBody)
	}
}

func TestCompose_UnknownEventType(t *testing.T) {
	if _, err := Compose("billing.credits.purchased.v1", sampleEvent()); err == nil {
		t.Fatal("expected error for event type without a template")
	}
}

func TestCompose_UnparseableTimeFallsBackToRaw(t *testing.T) {
	evt := sampleEvent()
	evt.Start = "soonish"
	c, err := Compose(EventBooked, evt)
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}
	if !strings.Contains(c.SMSBody, "soonish") {
		t.Fatalf("raw time must pass through: %q", c.SMSBody)
	}
}
