package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zaferemre/clinic-app/libs/calendar"
	"github.com/zaferemre/clinic-app/services/booking-service/internal/directory"
	"github.com/zaferemre/clinic-app/services/booking-service/internal/engine"
	"github.com/zaferemre/clinic-app/services/booking-service/internal/model"
)

const basePath = "/api/v1/companies/co-1/clinics/cl-1/appointments"

type memStore struct {
	patients map[string]model.Patient
	appts    map[string]model.Appointment
}

func newMemStore() *memStore {
	return &memStore{
		patients: map[string]model.Patient{},
		appts:    map[string]model.Appointment{},
	}
}

func (s *memStore) Begin(_ context.Context) (engine.Tx, error) { return &memTx{store: s}, nil }

func (s *memStore) GetAppointment(_ context.Context, tenant model.Tenant, id string) (model.Appointment, error) {
	appt, ok := s.appts[id]
	if !ok || appt.CompanyID != tenant.CompanyID {
		return model.Appointment{}, engine.ErrNotFound
	}
	return appt, nil
}

func (s *memStore) ListAppointments(_ context.Context, tenant model.Tenant, q engine.ListQuery) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, appt := range s.appts {
		if appt.CompanyID != tenant.CompanyID {
			continue
		}
		if !q.IncludeCancelled && appt.Status == model.StatusCancelled {
			continue
		}
		if q.EmployeeID != "" && appt.EmployeeID != q.EmployeeID {
			continue
		}
		out = append(out, appt)
	}
	return out, nil
}

func (s *memStore) ListBookedIntervals(_ context.Context, tenant model.Tenant, employeeID string, from, to time.Time) ([]calendar.Interval, error) {
	var out []calendar.Interval
	for _, appt := range s.appts {
		if appt.CompanyID != tenant.CompanyID || appt.EmployeeID != employeeID || appt.Status != model.StatusScheduled {
			continue
		}
		if appt.Start.Before(to) && from.Before(appt.End) {
			out = append(out, calendar.Interval{Start: appt.Start, End: appt.End})
		}
	}
	return out, nil
}

// memTx writes straight through to the store; handler tests exercise status
// mapping, not transactional rollback.
type memTx struct {
	store *memStore
}

func (t *memTx) Commit(_ context.Context) error   { return nil }
func (t *memTx) Rollback(_ context.Context) error { return nil }

func (t *memTx) GetPatientForUpdate(_ context.Context, tenant model.Tenant, patientID string) (model.Patient, error) {
	p, ok := t.store.patients[patientID]
	if !ok || p.CompanyID != tenant.CompanyID {
		return model.Patient{}, engine.ErrPatientNotFound
	}
	return p, nil
}

func (t *memTx) AdjustCredit(_ context.Context, _ model.Tenant, patientID string, delta int) error {
	p := t.store.patients[patientID]
	p.Credit += delta
	t.store.patients[patientID] = p
	return nil
}

func (t *memTx) AddLedgerEntry(_ context.Context, _ model.LedgerEntry) error { return nil }

func (t *memTx) CountOverlapping(_ context.Context, tenant model.Tenant, employeeID string, start, end time.Time, excludeID string) (int, error) {
	n := 0
	for _, appt := range t.store.appts {
		if appt.CompanyID != tenant.CompanyID || appt.EmployeeID != employeeID || appt.ID == excludeID {
			continue
		}
		if appt.Status == model.StatusScheduled && start.Before(appt.End) && appt.Start.Before(end) {
			n++
		}
	}
	return n, nil
}

func (t *memTx) InsertAppointment(_ context.Context, appt model.Appointment) error {
	t.store.appts[appt.ID] = appt
	return nil
}

func (t *memTx) GetAppointmentForUpdate(_ context.Context, tenant model.Tenant, id string) (model.Appointment, error) {
	appt, ok := t.store.appts[id]
	if !ok || appt.CompanyID != tenant.CompanyID {
		return model.Appointment{}, engine.ErrNotFound
	}
	return appt, nil
}

func (t *memTx) UpdateAppointment(_ context.Context, appt model.Appointment) error {
	t.store.appts[appt.ID] = appt
	return nil
}

func (t *memTx) MarkCancelled(_ context.Context, _ model.Tenant, id string, at time.Time, reason string) error {
	appt := t.store.appts[id]
	appt.Status = model.StatusCancelled
	appt.CancelledAt = &at
	appt.CancelReason = reason
	t.store.appts[id] = appt
	return nil
}

func (t *memTx) AppendEvent(_ context.Context, _, _ string, _ []byte) error { return nil }

func (t *memTx) ClaimInboxEvent(_ context.Context, _, _ string) (bool, error) { return true, nil }

type memDirectory struct{}

func (memDirectory) ResolveEmployee(_ context.Context, tenant model.Tenant, ref string) (model.Employee, error) {
	if tenant.CompanyID == "co-1" && (ref == "emp-1" || ref == "aydin@clinic.test") {
		return model.Employee{ID: "emp-1", CompanyID: "co-1", ClinicID: "cl-1", Name: "Dr. Aydin"}, nil
	}
	return model.Employee{}, directory.ErrNotFound
}

func (memDirectory) GetService(_ context.Context, _ model.Tenant, _ string) (model.Service, error) {
	return model.Service{}, directory.ErrNotFound
}

func newTestServer(t *testing.T) (*httptest.Server, *memStore) {
	t.Helper()
	store := newMemStore()
	store.patients["pat-1"] = model.Patient{ID: "pat-1", CompanyID: "co-1", ClinicID: "cl-1", Name: "Ayse", Credit: 3}
	store.patients["pat-broke"] = model.Patient{ID: "pat-broke", CompanyID: "co-1", ClinicID: "cl-1", Name: "Mehmet", Credit: 0}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(store, memDirectory{}, logger, nil)

	mux := http.NewServeMux()
	NewAppointmentHandler(eng, logger).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, store
}

func postJSON(t *testing.T, url string, body map[string]any) *http.Response {
	t.Helper()
	raw, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body failed: %v", err)
	}
	return out
}

func TestCreateAppointmentEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+basePath, map[string]any{
		"patient_id": "pat-1",
		"employee":   "emp-1",
		"start":      "2099-03-02T10:00:00Z",
		"end":        "2099-03-02T10:30:00Z",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["status"] != "scheduled" {
		t.Fatalf("expected scheduled status, got %v", body["status"])
	}
	if body["employee_id"] != "emp-1" {
		t.Fatalf("expected employee_id emp-1, got %v", body["employee_id"])
	}
}

func TestCreateConflictStatusCode(t *testing.T) {
	srv, _ := newTestServer(t)

	first := postJSON(t, srv.URL+basePath, map[string]any{
		"patient_id": "pat-1", "employee": "emp-1",
		"start": "2099-03-02T10:00:00Z", "end": "2099-03-02T10:30:00Z",
	})
	first.Body.Close()
	if first.StatusCode != http.StatusCreated {
		t.Fatalf("setup create failed: %d", first.StatusCode)
	}

	resp := postJSON(t, srv.URL+basePath, map[string]any{
		"patient_id": "pat-1", "employee": "emp-1",
		"start": "2099-03-02T10:15:00Z", "end": "2099-03-02T10:45:00Z",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["error"] != "slot_conflict" {
		t.Fatalf("expected slot_conflict body, got %v", body["error"])
	}
}

func TestInsufficientCreditStatusCode(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+basePath, map[string]any{
		"patient_id": "pat-broke", "employee": "emp-1",
		"start": "2099-03-02T10:00:00Z", "end": "2099-03-02T10:30:00Z",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	// Same status as a slot conflict but a distinct machine-readable code.
	if body := decodeBody(t, resp); body["error"] != "insufficient_credit" {
		t.Fatalf("expected insufficient_credit body, got %v", body["error"])
	}
}

func TestUnknownEmployeeStatusCode(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+basePath, map[string]any{
		"patient_id": "pat-1", "employee": "stranger@other.test",
		"start": "2099-03-02T10:00:00Z", "end": "2099-03-02T10:30:00Z",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestGetMissingAppointment(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + basePath + "/nope")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCancelEndpointHidesAppointment(t *testing.T) {
	srv, _ := newTestServer(t)

	created := postJSON(t, srv.URL+basePath, map[string]any{
		"patient_id": "pat-1", "employee": "emp-1",
		"start": "2099-03-02T10:00:00Z", "end": "2099-03-02T10:30:00Z",
	})
	id := decodeBody(t, created)["id"].(string)

	req, _ := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s%s/%s?reason=no-show", srv.URL, basePath, id), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE failed: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	listResp, err := http.Get(srv.URL + basePath)
	if err != nil {
		t.Fatalf("GET list failed: %v", err)
	}
	listed := decodeBody(t, listResp)
	if items := listed["appointments"].([]any); len(items) != 0 {
		t.Fatalf("cancelled appointment must be hidden, got %d items", len(items))
	}
}

func TestListFiltersByEmployee(t *testing.T) {
	srv, store := newTestServer(t)

	created := postJSON(t, srv.URL+basePath, map[string]any{
		"patient_id": "pat-1", "employee": "emp-1",
		"start": "2099-03-02T10:00:00Z", "end": "2099-03-02T10:30:00Z",
	})
	created.Body.Close()
	store.appts["apt-other"] = model.Appointment{
		ID: "apt-other", CompanyID: "co-1", ClinicID: "cl-1",
		PatientID: "pat-1", EmployeeID: "emp-2", Status: model.StatusScheduled,
		Start: time.Date(2099, 3, 2, 11, 0, 0, 0, time.UTC),
		End:   time.Date(2099, 3, 2, 11, 30, 0, 0, time.UTC),
	}

	resp, err := http.Get(srv.URL + basePath + "?employee=emp-1")
	if err != nil {
		t.Fatalf("GET list failed: %v", err)
	}
	body := decodeBody(t, resp)
	items := body["appointments"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected 1 appointment for emp-1, got %d", len(items))
	}
	if got := items[0].(map[string]any)["employee_id"]; got != "emp-1" {
		t.Fatalf("expected emp-1 appointment, got %v", got)
	}
}

func TestUpdateEndpointReschedules(t *testing.T) {
	srv, _ := newTestServer(t)

	created := postJSON(t, srv.URL+basePath, map[string]any{
		"patient_id": "pat-1", "employee": "emp-1",
		"start": "2099-03-02T10:00:00Z", "end": "2099-03-02T10:30:00Z",
	})
	id := decodeBody(t, created)["id"].(string)

	patch, _ := json.Marshal(map[string]any{
		"start": "2099-03-02T11:00:00Z",
		"end":   "2099-03-02T11:30:00Z",
	})
	req, _ := http.NewRequest(http.MethodPatch, srv.URL+basePath+"/"+id, bytes.NewReader(patch))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PATCH failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["start"] != "2099-03-02T11:00:00Z" {
		t.Fatalf("expected moved start, got %v", body["start"])
	}
}

func TestFreeSlotsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	created := postJSON(t, srv.URL+basePath, map[string]any{
		"patient_id": "pat-1", "employee": "emp-1",
		"start": "2099-03-02T09:00:00Z", "end": "2099-03-02T09:30:00Z",
	})
	created.Body.Close()

	url := srv.URL + "/api/v1/companies/co-1/clinics/cl-1/free-slots" +
		"?employee=emp-1&from=2099-03-02T09:00:00Z&to=2099-03-02T10:30:00Z&duration=30m"
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET free-slots failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	slots := body["slots"].([]any)
	if len(slots) != 2 {
		t.Fatalf("expected 2 free slots, got %d", len(slots))
	}
	if slots[0] != "2099-03-02T09:30:00Z" {
		t.Fatalf("expected first free slot 09:30, got %v", slots[0])
	}
}
