package model

import "time"

// Tenant scopes every record to a company and one of its clinics.
// Cross-tenant references are invalid by construction: every query carries it.
type Tenant struct {
	CompanyID string
	ClinicID  string
}

// Stored appointment statuses. StatusDone is never stored: it is derived at
// read time from the end timestamp against the engine clock.
const (
	StatusScheduled = "scheduled"
	StatusDone      = "done"
	StatusCancelled = "cancelled"
)

type Appointment struct {
	ID           string
	CompanyID    string
	ClinicID     string
	PatientID    string
	EmployeeID   string
	ServiceID    string
	Start        time.Time
	End          time.Time
	Status       string
	CancelledAt  *time.Time
	CancelReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time

	// Joined display fields, populated on read paths only.
	PatientName string
	Color       string
}

type Patient struct {
	ID        string
	CompanyID string
	ClinicID  string
	Name      string
	Email     string
	Phone     string
	Credit    int
}

type Employee struct {
	ID        string
	CompanyID string
	ClinicID  string
	Name      string
	Email     string
	Color     string
}

type Service struct {
	ID              string
	CompanyID       string
	Name            string
	DurationMinutes int
	Color           string
}

// Credit ledger reasons. Every credit mutation writes a ledger row in the
// same transaction as the mutation itself.
const (
	LedgerReasonBooking      = "booking"
	LedgerReasonCancellation = "cancellation"
	LedgerReasonTopUp        = "topup"
)

type LedgerEntry struct {
	ID            string
	CompanyID     string
	PatientID     string
	Delta         int
	Reason        string
	AppointmentID string
	Reference     string
	CreatedAt     time.Time
}
