package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/zaferemre/clinic-app/libs/calendar"
	"github.com/zaferemre/clinic-app/services/booking-service/internal/directory"
	"github.com/zaferemre/clinic-app/services/booking-service/internal/model"
)

// Store is the persistence surface the engine runs on. Reads take no locks;
// mutations go through a Tx so that the credit movement, the appointment
// write, the ledger row, and the outbox event commit or roll back together.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	GetAppointment(ctx context.Context, tenant model.Tenant, id string) (model.Appointment, error)
	ListAppointments(ctx context.Context, tenant model.Tenant, q ListQuery) ([]model.Appointment, error)
	ListBookedIntervals(ctx context.Context, tenant model.Tenant, employeeID string, from, to time.Time) ([]calendar.Interval, error)
}

type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	GetPatientForUpdate(ctx context.Context, tenant model.Tenant, patientID string) (model.Patient, error)
	AdjustCredit(ctx context.Context, tenant model.Tenant, patientID string, delta int) error
	AddLedgerEntry(ctx context.Context, entry model.LedgerEntry) error

	CountOverlapping(ctx context.Context, tenant model.Tenant, employeeID string, start, end time.Time, excludeID string) (int, error)
	InsertAppointment(ctx context.Context, appt model.Appointment) error
	GetAppointmentForUpdate(ctx context.Context, tenant model.Tenant, id string) (model.Appointment, error)
	UpdateAppointment(ctx context.Context, appt model.Appointment) error
	MarkCancelled(ctx context.Context, tenant model.Tenant, id string, at time.Time, reason string) error

	AppendEvent(ctx context.Context, eventType, aggregateID string, payload []byte) error

	// ClaimInboxEvent claims a consumed event id inside this transaction.
	// False means the id was already committed by an earlier delivery.
	ClaimInboxEvent(ctx context.Context, eventID, eventType string) (bool, error)
}

// IsStoreConflict reports whether err is the store's defense-in-depth
// signal for two writers racing on the same employee interval (in Postgres,
// an exclusion constraint violation). The engine maps it to ErrSlotConflict.
type IsStoreConflict func(error) bool

type CreateRequest struct {
	PatientID   string
	EmployeeRef string
	ServiceID   string
	Start       time.Time
	End         time.Time
}

type UpdateRequest struct {
	Start       *time.Time
	End         *time.Time
	ServiceID   *string
	EmployeeRef *string
}

type ListQuery struct {
	EmployeeID       string
	ServiceID        string
	From             time.Time
	To               time.Time
	IncludeCancelled bool
	Limit            int
}

// Engine is the sole authority for accepting, mutating, or retracting
// appointments. It owns the two invariants: no two scheduled appointments
// for the same (company, employee) overlap, and a patient's credit never
// goes negative and moves only together with an appointment write.
type Engine struct {
	store      Store
	dir        directory.Provider
	logger     *slog.Logger
	isConflict IsStoreConflict

	now   func() time.Time
	newID func() string
}

func New(store Store, dir directory.Provider, logger *slog.Logger, isConflict IsStoreConflict) *Engine {
	if isConflict == nil {
		isConflict = func(error) bool { return false }
	}
	return &Engine{
		store:      store,
		dir:        dir,
		logger:     logger,
		isConflict: isConflict,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

func (e *Engine) Create(ctx context.Context, tenant model.Tenant, req CreateRequest) (model.Appointment, error) {
	if req.PatientID == "" {
		return model.Appointment{}, validationErrorf("patient_id is required")
	}
	if req.EmployeeRef == "" {
		return model.Appointment{}, validationErrorf("employee is required")
	}
	if !req.End.After(req.Start) {
		return model.Appointment{}, validationErrorf("end must be after start")
	}

	emp, err := e.dir.ResolveEmployee(ctx, tenant, req.EmployeeRef)
	if errors.Is(err, directory.ErrNotFound) {
		return model.Appointment{}, ErrEmployeeNotInTenant
	}
	if err != nil {
		return model.Appointment{}, err
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	patient, err := tx.GetPatientForUpdate(ctx, tenant, req.PatientID)
	if err != nil {
		return model.Appointment{}, err
	}
	if patient.Credit < 1 {
		return model.Appointment{}, ErrInsufficientCredit
	}
	if err := tx.AdjustCredit(ctx, tenant, patient.ID, -1); err != nil {
		return model.Appointment{}, err
	}

	overlapping, err := tx.CountOverlapping(ctx, tenant, emp.ID, req.Start, req.End, "")
	if err != nil {
		return model.Appointment{}, err
	}
	if overlapping > 0 {
		return model.Appointment{}, ErrSlotConflict
	}

	now := e.now().UTC()
	appt := model.Appointment{
		ID:         e.newID(),
		CompanyID:  tenant.CompanyID,
		ClinicID:   tenant.ClinicID,
		PatientID:  patient.ID,
		EmployeeID: emp.ID,
		ServiceID:  req.ServiceID,
		Start:      req.Start.UTC(),
		End:        req.End.UTC(),
		Status:     model.StatusScheduled,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := tx.InsertAppointment(ctx, appt); err != nil {
		if e.isConflict(err) {
			return model.Appointment{}, ErrSlotConflict
		}
		return model.Appointment{}, err
	}

	if err := tx.AddLedgerEntry(ctx, model.LedgerEntry{
		ID:            e.newID(),
		CompanyID:     tenant.CompanyID,
		PatientID:     patient.ID,
		Delta:         -1,
		Reason:        model.LedgerReasonBooking,
		AppointmentID: appt.ID,
		CreatedAt:     now,
	}); err != nil {
		return model.Appointment{}, err
	}

	payload, err := bookedPayload(appt, patient)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := tx.AppendEvent(ctx, EventBooked, appt.ID, payload); err != nil {
		return model.Appointment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		// A concurrent create for the same slot loses here: the exclusion
		// constraint fires at commit and the whole transaction, credit
		// decrement included, is rolled back.
		if e.isConflict(err) {
			return model.Appointment{}, ErrSlotConflict
		}
		return model.Appointment{}, err
	}

	e.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"company_id", tenant.CompanyID,
		"employee_id", emp.ID,
		"start", appt.Start.Format(time.RFC3339),
	)
	return appt, nil
}

func (e *Engine) Update(ctx context.Context, tenant model.Tenant, id string, req UpdateRequest) (model.Appointment, error) {
	if req.Start == nil && req.End == nil && req.ServiceID == nil && req.EmployeeRef == nil {
		return model.Appointment{}, validationErrorf("no fields to update")
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := tx.GetAppointmentForUpdate(ctx, tenant, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Status == model.StatusCancelled {
		return model.Appointment{}, validationErrorf("appointment is cancelled")
	}
	prevStart, prevEnd := appt.Start, appt.End

	slotChanged := false
	if req.Start != nil {
		appt.Start = req.Start.UTC()
		slotChanged = true
	}
	if req.End != nil {
		appt.End = req.End.UTC()
		slotChanged = true
	}
	if !appt.End.After(appt.Start) {
		return model.Appointment{}, validationErrorf("end must be after start")
	}
	if req.ServiceID != nil {
		appt.ServiceID = *req.ServiceID
	}
	if req.EmployeeRef != nil {
		emp, err := e.dir.ResolveEmployee(ctx, tenant, *req.EmployeeRef)
		if errors.Is(err, directory.ErrNotFound) {
			return model.Appointment{}, ErrEmployeeNotInTenant
		}
		if err != nil {
			return model.Appointment{}, err
		}
		if emp.ID != appt.EmployeeID {
			appt.EmployeeID = emp.ID
			slotChanged = true
		}
	}

	if slotChanged {
		overlapping, err := tx.CountOverlapping(ctx, tenant, appt.EmployeeID, appt.Start, appt.End, appt.ID)
		if err != nil {
			return model.Appointment{}, err
		}
		if overlapping > 0 {
			return model.Appointment{}, ErrSlotConflict
		}
	}

	appt.UpdatedAt = e.now().UTC()
	if err := tx.UpdateAppointment(ctx, appt); err != nil {
		if e.isConflict(err) {
			return model.Appointment{}, ErrSlotConflict
		}
		return model.Appointment{}, err
	}

	if slotChanged {
		patient, err := tx.GetPatientForUpdate(ctx, tenant, appt.PatientID)
		if err != nil {
			return model.Appointment{}, err
		}
		payload, err := rescheduledPayload(appt, patient, prevStart, prevEnd)
		if err != nil {
			return model.Appointment{}, err
		}
		if err := tx.AppendEvent(ctx, EventRescheduled, appt.ID, payload); err != nil {
			return model.Appointment{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if e.isConflict(err) {
			return model.Appointment{}, ErrSlotConflict
		}
		return model.Appointment{}, err
	}
	return appt, nil
}

// Cancel retracts an appointment and restores the credit it consumed. The
// record is kept with status cancelled; cancelled rows never block a slot
// and are hidden from default listings. Cancelling twice is a no-op, which
// also guarantees the refund happens exactly once.
func (e *Engine) Cancel(ctx context.Context, tenant model.Tenant, id string, reason string) error {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := tx.GetAppointmentForUpdate(ctx, tenant, id)
	if err != nil {
		return err
	}
	if appt.Status == model.StatusCancelled {
		return nil
	}

	now := e.now().UTC()
	if err := tx.MarkCancelled(ctx, tenant, appt.ID, now, reason); err != nil {
		return err
	}

	patient, err := tx.GetPatientForUpdate(ctx, tenant, appt.PatientID)
	if err != nil {
		return err
	}
	if err := tx.AdjustCredit(ctx, tenant, patient.ID, 1); err != nil {
		return err
	}
	if err := tx.AddLedgerEntry(ctx, model.LedgerEntry{
		ID:            e.newID(),
		CompanyID:     tenant.CompanyID,
		PatientID:     patient.ID,
		Delta:         1,
		Reason:        model.LedgerReasonCancellation,
		AppointmentID: appt.ID,
		CreatedAt:     now,
	}); err != nil {
		return err
	}

	payload, err := cancelledPayload(appt, patient, now, reason)
	if err != nil {
		return err
	}
	if err := tx.AppendEvent(ctx, EventCancelled, appt.ID, payload); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	e.logger.Info("appointment cancelled",
		"appointment_id", appt.ID,
		"company_id", tenant.CompanyID,
		"refunded_patient_id", patient.ID,
	)
	return nil
}

func (e *Engine) Get(ctx context.Context, tenant model.Tenant, id string) (model.Appointment, error) {
	appt, err := e.store.GetAppointment(ctx, tenant, id)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Status = deriveStatus(appt, e.now())
	return appt, nil
}

func (e *Engine) List(ctx context.Context, tenant model.Tenant, q ListQuery) ([]model.Appointment, error) {
	appts, err := e.store.ListAppointments(ctx, tenant, q)
	if err != nil {
		return nil, err
	}
	now := e.now()
	for i := range appts {
		appts[i].Status = deriveStatus(appts[i], now)
	}
	return appts, nil
}

// FreeSlots lists bookable start times for an employee within a window,
// stepped on the booking grid.
func (e *Engine) FreeSlots(ctx context.Context, tenant model.Tenant, employeeRef string, windowStart, windowEnd time.Time, duration time.Duration) ([]time.Time, error) {
	if duration <= 0 {
		return nil, validationErrorf("duration must be positive")
	}
	emp, err := e.dir.ResolveEmployee(ctx, tenant, employeeRef)
	if errors.Is(err, directory.ErrNotFound) {
		return nil, ErrEmployeeNotInTenant
	}
	if err != nil {
		return nil, err
	}

	busy, err := e.store.ListBookedIntervals(ctx, tenant, emp.ID, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	return calendar.FreeSlots(windowStart, windowEnd, duration, calendar.DefaultQuantum, busy, e.now().UTC()), nil
}

// TopUpCredits adds purchased credits to a patient's balance, with a ledger
// row keyed by the payment reference. The event id is claimed in the same
// transaction as the balance change: a duplicate delivery returns
// (false, nil) without touching the balance, and any failure rolls the
// claim back with everything else, so a retried delivery can still apply
// the purchase.
func (e *Engine) TopUpCredits(ctx context.Context, tenant model.Tenant, patientID string, credits int, reference, eventID, eventType string) (bool, error) {
	if credits <= 0 {
		return false, validationErrorf("credits must be positive")
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if eventID != "" {
		claimed, err := tx.ClaimInboxEvent(ctx, eventID, eventType)
		if err != nil {
			return false, err
		}
		if !claimed {
			return false, nil
		}
	}

	patient, err := tx.GetPatientForUpdate(ctx, tenant, patientID)
	if err != nil {
		return false, err
	}
	if err := tx.AdjustCredit(ctx, tenant, patient.ID, credits); err != nil {
		return false, err
	}
	if err := tx.AddLedgerEntry(ctx, model.LedgerEntry{
		ID:        e.newID(),
		CompanyID: tenant.CompanyID,
		PatientID: patient.ID,
		Delta:     credits,
		Reason:    model.LedgerReasonTopUp,
		Reference: reference,
		CreatedAt: e.now().UTC(),
	}); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// deriveStatus computes the read-time status: cancelled is sticky, done is
// never stored and only ever derived from the end timestamp versus the clock.
func deriveStatus(appt model.Appointment, now time.Time) string {
	if appt.Status == model.StatusCancelled {
		return model.StatusCancelled
	}
	if !appt.End.After(now) {
		return model.StatusDone
	}
	return model.StatusScheduled
}
