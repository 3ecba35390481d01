package directory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/zaferemre/clinic-app/libs/db"
	"github.com/zaferemre/clinic-app/services/booking-service/internal/model"
)

// PGProvider serves directory lookups from the clinic database.
type PGProvider struct {
	pool *db.Pool
}

func NewPGProvider(pool *db.Pool) *PGProvider {
	return &PGProvider{pool: pool}
}

func (p *PGProvider) ResolveEmployee(ctx context.Context, tenant model.Tenant, ref string) (model.Employee, error) {
	var emp model.Employee
	err := p.pool.QueryRow(ctx, `
		SELECT id, company_id, clinic_id, name, email, color
		FROM employees
		WHERE company_id = $1 AND clinic_id = $2
			AND (id::text = $3 OR lower(email) = lower($3))
	`, tenant.CompanyID, tenant.ClinicID, ref).Scan(
		&emp.ID,
		&emp.CompanyID,
		&emp.ClinicID,
		&emp.Name,
		&emp.Email,
		&emp.Color,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Employee{}, ErrNotFound
	}
	if err != nil {
		return model.Employee{}, err
	}
	return emp, nil
}

func (p *PGProvider) GetService(ctx context.Context, tenant model.Tenant, serviceID string) (model.Service, error) {
	var svc model.Service
	err := p.pool.QueryRow(ctx, `
		SELECT id, company_id, name, duration_minutes, color
		FROM services
		WHERE company_id = $1 AND id = $2
	`, tenant.CompanyID, serviceID).Scan(
		&svc.ID,
		&svc.CompanyID,
		&svc.Name,
		&svc.DurationMinutes,
		&svc.Color,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Service{}, ErrNotFound
	}
	if err != nil {
		return model.Service{}, err
	}
	return svc, nil
}
