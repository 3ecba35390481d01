//go:build protogen

package directory

import (
	"context"
	"time"

	"github.com/zaferemre/clinic-app/libs/grpcx"
	directoryv1 "github.com/zaferemre/clinic-app/protos/gen/directory/v1"
	"github.com/zaferemre/clinic-app/services/booking-service/internal/model"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// remoteProvider resolves directory lookups against a standalone directory
// service over gRPC. Used when the directory is deployed separately from the
// booking database.
type remoteProvider struct {
	client directoryv1.DirectoryServiceClient
}

func NewRemoteProvider(addr string) (Provider, error) {
	if addr == "" {
		return nil, nil
	}
	conn, err := grpcx.Dial(context.Background(), addr, grpcx.DialOptions{Timeout: 3 * time.Second})
	if err != nil {
		return nil, err
	}
	return &remoteProvider{client: directoryv1.NewDirectoryServiceClient(conn)}, nil
}

func (p *remoteProvider) ResolveEmployee(ctx context.Context, tenant model.Tenant, ref string) (model.Employee, error) {
	resp, err := p.client.ResolveEmployee(ctx, &directoryv1.ResolveEmployeeRequest{
		CompanyId: tenant.CompanyID,
		ClinicId:  tenant.ClinicID,
		Ref:       ref,
	})
	if status.Code(err) == codes.NotFound {
		return model.Employee{}, ErrNotFound
	}
	if err != nil {
		return model.Employee{}, err
	}
	return model.Employee{
		ID:        resp.GetId(),
		CompanyID: resp.GetCompanyId(),
		ClinicID:  resp.GetClinicId(),
		Name:      resp.GetName(),
		Email:     resp.GetEmail(),
		Color:     resp.GetColor(),
	}, nil
}

func (p *remoteProvider) GetService(ctx context.Context, tenant model.Tenant, serviceID string) (model.Service, error) {
	resp, err := p.client.GetService(ctx, &directoryv1.GetServiceRequest{
		CompanyId: tenant.CompanyID,
		ServiceId: serviceID,
	})
	if status.Code(err) == codes.NotFound {
		return model.Service{}, ErrNotFound
	}
	if err != nil {
		return model.Service{}, err
	}
	return model.Service{
		ID:              resp.GetId(),
		CompanyID:       resp.GetCompanyId(),
		Name:            resp.GetName(),
		DurationMinutes: int(resp.GetDurationMinutes()),
		Color:           resp.GetColor(),
	}, nil
}
