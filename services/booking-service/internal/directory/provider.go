package directory

import (
	"context"
	"errors"

	"github.com/zaferemre/clinic-app/services/booking-service/internal/model"
)

var ErrNotFound = errors.New("directory: not found")

// Provider resolves employees and services within a tenant. An employee may
// be referenced by its id or by its email; resolution happens here, once, at
// the system boundary, so the engine only ever sees canonical ids.
type Provider interface {
	ResolveEmployee(ctx context.Context, tenant model.Tenant, ref string) (model.Employee, error)
	GetService(ctx context.Context, tenant model.Tenant, serviceID string) (model.Service, error)
}
