package engine

import (
	"encoding/json"
	"time"

	"github.com/zaferemre/clinic-app/services/booking-service/internal/model"
)

// Event types written to the outbox. The Kafka topic name equals the event
// type.
const (
	EventBooked      = "booking.appointment.booked.v1"
	EventRescheduled = "booking.appointment.rescheduled.v1"
	EventCancelled   = "booking.appointment.cancelled.v1"
)

func bookedPayload(appt model.Appointment, patient model.Patient) ([]byte, error) {
	return json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"company_id":     appt.CompanyID,
		"clinic_id":      appt.ClinicID,
		"employee_id":    appt.EmployeeID,
		"service_id":     appt.ServiceID,
		"patient_id":     patient.ID,
		"patient_name":   patient.Name,
		"patient_email":  patient.Email,
		"patient_phone":  patient.Phone,
		"start":          appt.Start.UTC().Format(time.RFC3339),
		"end":            appt.End.UTC().Format(time.RFC3339),
	})
}

func rescheduledPayload(appt model.Appointment, patient model.Patient, prevStart, prevEnd time.Time) ([]byte, error) {
	return json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"company_id":     appt.CompanyID,
		"clinic_id":      appt.ClinicID,
		"employee_id":    appt.EmployeeID,
		"service_id":     appt.ServiceID,
		"patient_id":     patient.ID,
		"patient_name":   patient.Name,
		"patient_email":  patient.Email,
		"patient_phone":  patient.Phone,
		"previous_start": prevStart.UTC().Format(time.RFC3339),
		"previous_end":   prevEnd.UTC().Format(time.RFC3339),
		"start":          appt.Start.UTC().Format(time.RFC3339),
		"end":            appt.End.UTC().Format(time.RFC3339),
	})
}

func cancelledPayload(appt model.Appointment, patient model.Patient, cancelledAt time.Time, reason string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"company_id":     appt.CompanyID,
		"clinic_id":      appt.ClinicID,
		"employee_id":    appt.EmployeeID,
		"patient_id":     patient.ID,
		"patient_name":   patient.Name,
		"patient_email":  patient.Email,
		"patient_phone":  patient.Phone,
		"start":          appt.Start.UTC().Format(time.RFC3339),
		"end":            appt.End.UTC().Format(time.RFC3339),
		"cancelled_at":   cancelledAt.UTC().Format(time.RFC3339),
		"reason":         reason,
	})
}
