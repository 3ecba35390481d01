package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/zaferemre/clinic-app/services/frontdesk-service/internal/bookingapi"
)

const dragPath = "/api/v1/companies/co-1/clinics/cl-1/calendar/drag"

// fakeBooking is a minimal in-memory booking-service. The PATCH handler does
// the same half-open overlap check as the real engine so conflict responses
// carry the same shape.
type fakeBooking struct {
	mu    sync.Mutex
	appts map[string]bookingapi.Appointment
	fail  bool
}

func (f *fakeBooking) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/companies/{companyID}/clinics/{clinicID}/appointments", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		items := []map[string]string{}
		for _, a := range f.appts {
			if emp := r.URL.Query().Get("employee"); emp != "" && a.EmployeeID != emp {
				continue
			}
			items = append(items, wire(a))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"appointments": items})
	})
	mux.HandleFunc("GET /api/v1/companies/{companyID}/clinics/{clinicID}/appointments/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		a, ok := f.appts[r.PathValue("id")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "not_found"})
			return
		}
		_ = json.NewEncoder(w).Encode(wire(a))
	})
	mux.HandleFunc("PATCH /api/v1/companies/{companyID}/clinics/{clinicID}/appointments/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.fail {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal"})
			return
		}
		a, ok := f.appts[r.PathValue("id")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "not_found"})
			return
		}
		var req struct {
			Start string `json:"start"`
			End   string `json:"end"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		start, _ := time.Parse(time.RFC3339, req.Start)
		end, _ := time.Parse(time.RFC3339, req.End)

		for id, other := range f.appts {
			if id == a.ID || other.EmployeeID != a.EmployeeID {
				continue
			}
			if start.Before(other.End) && other.Start.Before(end) {
				w.WriteHeader(http.StatusConflict)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "slot_conflict"})
				return
			}
		}
		a.Start, a.End = start, end
		f.appts[a.ID] = a
		_ = json.NewEncoder(w).Encode(wire(a))
	})
	return mux
}

func wire(a bookingapi.Appointment) map[string]string {
	return map[string]string{
		"id":           a.ID,
		"patient_id":   a.PatientID,
		"patient_name": a.PatientName,
		"employee_id":  a.EmployeeID,
		"start":        a.Start.UTC().Format(time.RFC3339),
		"end":          a.End.UTC().Format(time.RFC3339),
		"status":       a.Status,
		"color":        a.Color,
	}
}

func at(h, m int) time.Time {
	return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC)
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeBooking) {
	t.Helper()
	fb := &fakeBooking{appts: map[string]bookingapi.Appointment{
		"appt-a": {ID: "appt-a", PatientID: "pat-1", PatientName: "Ayse", EmployeeID: "emp-1", Start: at(9, 0), End: at(9, 30), Status: "scheduled", Color: "#4f46e5"},
		"appt-b": {ID: "appt-b", PatientID: "pat-2", PatientName: "Mehmet", EmployeeID: "emp-1", Start: at(10, 0), End: at(10, 30), Status: "scheduled"},
		"appt-c": {ID: "appt-c", PatientID: "pat-3", PatientName: "Zeynep", EmployeeID: "emp-2", Start: at(9, 15), End: at(9, 45), Status: "scheduled"},
	}}
	upstream := httptest.NewServer(fb.handler())
	t.Cleanup(upstream.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mux := http.NewServeMux()
	NewCalendarHandler(bookingapi.New(upstream.URL), logger).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, fb
}

func getJSON(t *testing.T, url string) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return out
}

func postDrag(t *testing.T, url string, body map[string]any) (*http.Response, map[string]any) {
	t.Helper()
	raw, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestDayViewAssignsColumns(t *testing.T) {
	srv, _ := newTestServer(t)

	out := getJSON(t, srv.URL+"/api/v1/companies/co-1/clinics/cl-1/calendar/day?date=2026-03-02")
	events := out["events"].([]any)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}

	byID := map[string]map[string]any{}
	for _, e := range events {
		ev := e.(map[string]any)
		byID[ev["id"].(string)] = ev
	}

	// appt-a and appt-c overlap: distinct columns, both split in two.
	if byID["appt-a"]["col"] == byID["appt-c"]["col"] {
		t.Fatalf("overlapping events share a column: %v vs %v", byID["appt-a"]["col"], byID["appt-c"]["col"])
	}
	if byID["appt-a"]["col_count"].(float64) != 2 || byID["appt-c"]["col_count"].(float64) != 2 {
		t.Fatal("overlapping pair must have col_count 2")
	}
	// appt-b stands alone.
	if byID["appt-b"]["col"].(float64) != 0 || byID["appt-b"]["col_count"].(float64) != 1 {
		t.Fatalf("loner must be col 0 of 1, got %v/%v", byID["appt-b"]["col"], byID["appt-b"]["col_count"])
	}
}

func TestDayViewFiltersByEmployee(t *testing.T) {
	srv, _ := newTestServer(t)

	out := getJSON(t, srv.URL+"/api/v1/companies/co-1/clinics/cl-1/calendar/day?date=2026-03-02&employee=emp-2")
	if events := out["events"].([]any); len(events) != 1 {
		t.Fatalf("expected only emp-2's event, got %d", len(events))
	}
}

func TestDayViewRequiresDate(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/companies/co-1/clinics/cl-1/calendar/day")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestDragMovesAppointment(t *testing.T) {
	srv, fb := newTestServer(t)

	// Two rows down: 9:00 -> 10:00 would hit appt-b, so move appt-c instead.
	resp, out := postDrag(t, srv.URL+dragPath, map[string]any{
		"appointment_id": "appt-c", "delta_days": 0, "delta_rows": 4,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if out["reverted"].(bool) {
		t.Fatalf("drag into free space must not revert: %v", out)
	}
	appt := out["appointment"].(map[string]any)
	// 9:15 + 4 rows = 11:15, then snapped onto the 30-minute grid.
	if appt["start"] != "2026-03-02T11:30:00Z" {
		t.Fatalf("unexpected start after drag: %v", appt["start"])
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	if !fb.appts["appt-c"].Start.Equal(at(11, 30)) {
		t.Fatal("upstream appointment not moved")
	}
}

func TestDragConflictReverts(t *testing.T) {
	srv, fb := newTestServer(t)

	// appt-a two rows down lands exactly on appt-b (same employee).
	resp, out := postDrag(t, srv.URL+dragPath, map[string]any{
		"appointment_id": "appt-a", "delta_days": 0, "delta_rows": 2,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !out["reverted"].(bool) {
		t.Fatal("conflicting drag must revert")
	}
	if out["reason"] != "slot_conflict" {
		t.Fatalf("expected slot_conflict reason, got %v", out["reason"])
	}
	appt := out["appointment"].(map[string]any)
	if appt["start"] != "2026-03-02T09:00:00Z" {
		t.Fatalf("revert must return the original interval, got %v", appt["start"])
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	if !fb.appts["appt-a"].Start.Equal(at(9, 0)) {
		t.Fatal("rejected drag must leave the upstream row untouched")
	}
}

func TestDragUpstreamFailureReverts(t *testing.T) {
	srv, fb := newTestServer(t)
	fb.mu.Lock()
	fb.fail = true
	fb.mu.Unlock()

	_, out := postDrag(t, srv.URL+dragPath, map[string]any{
		"appointment_id": "appt-a", "delta_days": 1, "delta_rows": 0,
	})
	if !out["reverted"].(bool) {
		t.Fatal("upstream failure must revert the drag")
	}
	if out["appointment"].(map[string]any)["start"] != "2026-03-02T09:00:00Z" {
		t.Fatalf("revert must return the original interval: %v", out["appointment"])
	}
}

func TestDragUnknownAppointment(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := postDrag(t, srv.URL+dragPath, map[string]any{
		"appointment_id": "ghost", "delta_days": 0, "delta_rows": 1,
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestDragZeroDeltaIsNoOp(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, out := postDrag(t, srv.URL+dragPath, map[string]any{
		"appointment_id": "appt-b", "delta_days": 0, "delta_rows": 0,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if out["reverted"].(bool) {
		t.Fatal("zero-delta drag must not revert")
	}
	if out["appointment"].(map[string]any)["start"] != "2026-03-02T10:00:00Z" {
		t.Fatalf("no-op drag must keep the slot: %v", out["appointment"])
	}
}
