package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/zaferemre/clinic-app/libs/calendar"
	"github.com/zaferemre/clinic-app/libs/db"
	otelx "github.com/zaferemre/clinic-app/libs/otel"
	"github.com/zaferemre/clinic-app/services/booking-service/internal/engine"
	"github.com/zaferemre/clinic-app/services/booking-service/internal/model"
)

const apptColumns = `
	a.id::text, a.company_id::text, a.clinic_id::text, a.patient_id::text,
	a.employee_id::text, COALESCE(a.service_id::text, ''),
	a.start_time, a.end_time, a.status,
	a.cancelled_at, COALESCE(a.cancellation_reason, ''),
	a.created_at, a.updated_at,
	COALESCE(p.name, ''), COALESCE(e.color, '')`

// Store persists appointments, patients, credit ledger rows, and outbox
// events in Postgres. It implements engine.Store; the transactions it hands
// out implement engine.Tx, so every booking mutation is one Postgres
// transaction end to end.
type Store struct {
	pool *db.Pool
}

func New(pool *db.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Begin(ctx context.Context) (engine.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &storeTx{tx: tx}, nil
}

func (s *Store) GetAppointment(ctx context.Context, tenant model.Tenant, id string) (model.Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+apptColumns+`
		FROM appointments a
		LEFT JOIN patients p ON p.id = a.patient_id
		LEFT JOIN employees e ON e.id = a.employee_id
		WHERE a.id = $1 AND a.company_id = $2 AND a.clinic_id = $3
	`, id, tenant.CompanyID, tenant.ClinicID)

	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, engine.ErrNotFound
	}
	return appt, err
}

func (s *Store) ListAppointments(ctx context.Context, tenant model.Tenant, q engine.ListQuery) ([]model.Appointment, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}

	sql := `
		SELECT ` + apptColumns + `
		FROM appointments a
		LEFT JOIN patients p ON p.id = a.patient_id
		LEFT JOIN employees e ON e.id = a.employee_id
		WHERE a.company_id = $1 AND a.clinic_id = $2`
	args := []any{tenant.CompanyID, tenant.ClinicID}

	if !q.IncludeCancelled {
		sql += ` AND a.status <> 'cancelled'`
	}
	if q.EmployeeID != "" {
		args = append(args, q.EmployeeID)
		sql += ` AND a.employee_id = $` + strconv.Itoa(len(args))
	}
	if q.ServiceID != "" {
		args = append(args, q.ServiceID)
		sql += ` AND a.service_id = $` + strconv.Itoa(len(args))
	}
	if !q.From.IsZero() {
		args = append(args, q.From)
		sql += ` AND a.end_time > $` + strconv.Itoa(len(args))
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		sql += ` AND a.start_time < $` + strconv.Itoa(len(args))
	}
	args = append(args, limit)
	sql += ` ORDER BY a.start_time ASC LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	return appts, rows.Err()
}

func (s *Store) ListBookedIntervals(ctx context.Context, tenant model.Tenant, employeeID string, from, to time.Time) ([]calendar.Interval, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT start_time, end_time
		FROM appointments
		WHERE company_id = $1
			AND employee_id = $2
			AND status = 'scheduled'
			AND start_time < $4
			AND end_time > $3
		ORDER BY start_time ASC
	`, tenant.CompanyID, employeeID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var busy []calendar.Interval
	for rows.Next() {
		var iv calendar.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		busy = append(busy, iv)
	}
	return busy, rows.Err()
}

type storeTx struct {
	tx pgx.Tx
}

func (t *storeTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *storeTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

func (t *storeTx) GetPatientForUpdate(ctx context.Context, tenant model.Tenant, patientID string) (model.Patient, error) {
	var p model.Patient
	err := t.tx.QueryRow(ctx, `
		SELECT id::text, company_id::text, clinic_id::text, name,
			COALESCE(email, ''), COALESCE(phone, ''), credit
		FROM patients
		WHERE id = $1 AND company_id = $2 AND clinic_id = $3
		FOR UPDATE
	`, patientID, tenant.CompanyID, tenant.ClinicID).Scan(
		&p.ID, &p.CompanyID, &p.ClinicID, &p.Name, &p.Email, &p.Phone, &p.Credit,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Patient{}, engine.ErrPatientNotFound
	}
	if err != nil {
		return model.Patient{}, err
	}
	return p, nil
}

func (t *storeTx) AdjustCredit(ctx context.Context, tenant model.Tenant, patientID string, delta int) error {
	// credit >= 0 is also a CHECK constraint; the tag check here keeps the
	// error an engine sentinel instead of a raw constraint violation.
	tag, err := t.tx.Exec(ctx, `
		UPDATE patients
		SET credit = credit + $4, updated_at = now()
		WHERE id = $1 AND company_id = $2 AND clinic_id = $3 AND credit + $4 >= 0
	`, patientID, tenant.CompanyID, tenant.ClinicID, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrInsufficientCredit
	}
	return nil
}

func (t *storeTx) AddLedgerEntry(ctx context.Context, entry model.LedgerEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO credit_ledger (id, company_id, patient_id, delta, reason, appointment_id, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8)
	`, entry.ID, entry.CompanyID, entry.PatientID, entry.Delta, entry.Reason,
		entry.AppointmentID, entry.Reference, entry.CreatedAt)
	return err
}

func (t *storeTx) CountOverlapping(ctx context.Context, tenant model.Tenant, employeeID string, start, end time.Time, excludeID string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM appointments
		WHERE company_id = $1
			AND employee_id = $2
			AND status = 'scheduled'
			AND start_time < $4
			AND end_time > $3
			AND ($5 = '' OR id::text <> $5)
	`, tenant.CompanyID, employeeID, start, end, excludeID).Scan(&n)
	return n, err
}

func (t *storeTx) InsertAppointment(ctx context.Context, appt model.Appointment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments
			(id, company_id, clinic_id, patient_id, employee_id, service_id,
			 start_time, end_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11)
	`, appt.ID, appt.CompanyID, appt.ClinicID, appt.PatientID, appt.EmployeeID,
		appt.ServiceID, appt.Start, appt.End, appt.Status, appt.CreatedAt, appt.UpdatedAt)
	return err
}

func (t *storeTx) GetAppointmentForUpdate(ctx context.Context, tenant model.Tenant, id string) (model.Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+apptColumns+`
		FROM appointments a
		LEFT JOIN patients p ON p.id = a.patient_id
		LEFT JOIN employees e ON e.id = a.employee_id
		WHERE a.id = $1 AND a.company_id = $2 AND a.clinic_id = $3
		FOR UPDATE OF a
	`, id, tenant.CompanyID, tenant.ClinicID)

	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, engine.ErrNotFound
	}
	return appt, err
}

func (t *storeTx) UpdateAppointment(ctx context.Context, appt model.Appointment) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET employee_id = $4,
			service_id = NULLIF($5, ''),
			start_time = $6,
			end_time = $7,
			updated_at = $8
		WHERE id = $1 AND company_id = $2 AND clinic_id = $3
	`, appt.ID, appt.CompanyID, appt.ClinicID, appt.EmployeeID, appt.ServiceID,
		appt.Start, appt.End, appt.UpdatedAt)
	return err
}

func (t *storeTx) MarkCancelled(ctx context.Context, tenant model.Tenant, id string, at time.Time, reason string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
			cancelled_at = $4,
			cancellation_reason = NULLIF($5, ''),
			updated_at = $4
		WHERE id = $1 AND company_id = $2 AND clinic_id = $3
	`, id, tenant.CompanyID, tenant.ClinicID, at, reason)
	return err
}

func (t *storeTx) AppendEvent(ctx context.Context, eventType, aggregateID string, payload []byte) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := t.tx.Exec(ctx, `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES ('appointment', $1, $2, $3, $4, $5)
	`, aggregateID, eventType, payload, traceparent, tracestate)
	return err
}

// ClaimInboxEvent inserts the event id under the transaction. A unique
// violation means an earlier delivery already committed; it aborts the
// surrounding Postgres transaction, which is fine — the engine rolls the
// whole transaction back on a duplicate anyway.
func (t *storeTx) ClaimInboxEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
	`, eventID, eventType)
	if err == nil {
		return true, nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return false, nil
	}
	return false, err
}

// IsConflict reports an exclusion constraint violation: two scheduled
// appointments for the same employee raced onto overlapping intervals and
// this writer lost.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var cancelledAt *time.Time
	err := row.Scan(
		&appt.ID,
		&appt.CompanyID,
		&appt.ClinicID,
		&appt.PatientID,
		&appt.EmployeeID,
		&appt.ServiceID,
		&appt.Start,
		&appt.End,
		&appt.Status,
		&cancelledAt,
		&appt.CancelReason,
		&appt.CreatedAt,
		&appt.UpdatedAt,
		&appt.PatientName,
		&appt.Color,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.CancelledAt = cancelledAt
	return appt, nil
}
