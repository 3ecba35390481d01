package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zaferemre/clinic-app/services/booking-service/internal/engine"
	"github.com/zaferemre/clinic-app/services/booking-service/internal/model"
)

type AppointmentHandler struct {
	eng    *engine.Engine
	logger *slog.Logger
}

func NewAppointmentHandler(eng *engine.Engine, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{eng: eng, logger: logger}
}

// Register wires the appointment routes onto mux. All routes are scoped by
// company and clinic path segments; the gateway has already checked that the
// caller's token is allowed to act on that company.
func (h *AppointmentHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/companies/{companyID}/clinics/{clinicID}/appointments", h.Create)
	mux.HandleFunc("GET /api/v1/companies/{companyID}/clinics/{clinicID}/appointments", h.List)
	mux.HandleFunc("GET /api/v1/companies/{companyID}/clinics/{clinicID}/appointments/{id}", h.Get)
	mux.HandleFunc("PATCH /api/v1/companies/{companyID}/clinics/{clinicID}/appointments/{id}", h.Update)
	mux.HandleFunc("DELETE /api/v1/companies/{companyID}/clinics/{clinicID}/appointments/{id}", h.Cancel)
	mux.HandleFunc("GET /api/v1/companies/{companyID}/clinics/{clinicID}/free-slots", h.FreeSlots)
}

type createAppointmentRequest struct {
	PatientID string `json:"patient_id"`
	Employee  string `json:"employee"`
	ServiceID string `json:"service_id"`
	Start     string `json:"start"`
	End       string `json:"end"`
}

type updateAppointmentRequest struct {
	Start     *string `json:"start"`
	End       *string `json:"end"`
	ServiceID *string `json:"service_id"`
	Employee  *string `json:"employee"`
}

type appointmentResponse struct {
	ID          string `json:"id"`
	PatientID   string `json:"patient_id"`
	PatientName string `json:"patient_name,omitempty"`
	EmployeeID  string `json:"employee_id"`
	ServiceID   string `json:"service_id,omitempty"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Status      string `json:"status"`
	Color       string `json:"color,omitempty"`
	CancelledAt string `json:"cancelled_at,omitempty"`
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFromPath(r)

	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
		return
	}

	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid start timestamp")
		return
	}
	end, err := time.Parse(time.RFC3339, req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid end timestamp")
		return
	}

	appt, err := h.eng.Create(r.Context(), tenant, engine.CreateRequest{
		PatientID:   strings.TrimSpace(req.PatientID),
		EmployeeRef: strings.TrimSpace(req.Employee),
		ServiceID:   strings.TrimSpace(req.ServiceID),
		Start:       start,
		End:         end,
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(appt))
}

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	appt, err := h.eng.Get(r.Context(), tenantFromPath(r), r.PathValue("id"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	q := engine.ListQuery{
		EmployeeID:       strings.TrimSpace(r.URL.Query().Get("employee")),
		ServiceID:        strings.TrimSpace(r.URL.Query().Get("service")),
		IncludeCancelled: r.URL.Query().Get("include_cancelled") == "true",
	}
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation", "invalid from timestamp")
			return
		}
		q.From = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation", "invalid to timestamp")
			return
		}
		q.To = t
	}

	appts, err := h.eng.List(r.Context(), tenantFromPath(r), q)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	items := make([]appointmentResponse, 0, len(appts))
	for _, appt := range appts {
		items = append(items, toResponse(appt))
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": items})
}

func (h *AppointmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
		return
	}

	var upd engine.UpdateRequest
	if req.Start != nil {
		t, err := time.Parse(time.RFC3339, *req.Start)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation", "invalid start timestamp")
			return
		}
		upd.Start = &t
	}
	if req.End != nil {
		t, err := time.Parse(time.RFC3339, *req.End)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation", "invalid end timestamp")
			return
		}
		upd.End = &t
	}
	upd.ServiceID = req.ServiceID
	upd.EmployeeRef = req.Employee

	appt, err := h.eng.Update(r.Context(), tenantFromPath(r), r.PathValue("id"), upd)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	reason := strings.TrimSpace(r.URL.Query().Get("reason"))
	if err := h.eng.Cancel(r.Context(), tenantFromPath(r), r.PathValue("id"), reason); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AppointmentHandler) FreeSlots(w http.ResponseWriter, r *http.Request) {
	employee := strings.TrimSpace(r.URL.Query().Get("employee"))
	if employee == "" {
		writeError(w, http.StatusBadRequest, "validation", "employee is required")
		return
	}
	from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid from timestamp")
		return
	}
	to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid to timestamp")
		return
	}
	duration := 30 * time.Minute
	if v := r.URL.Query().Get("duration"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "validation", "invalid duration")
			return
		}
		duration = d
	}

	slots, err := h.eng.FreeSlots(r.Context(), tenantFromPath(r), employee, from, to, duration)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.UTC().Format(time.RFC3339))
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": out})
}

func (h *AppointmentHandler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case engine.IsValidation(err):
		writeError(w, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, engine.ErrEmployeeNotInTenant):
		writeError(w, http.StatusForbidden, "employee_not_in_tenant", "employee does not belong to this clinic")
	case errors.Is(err, engine.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", "patient does not exist in this clinic")
	case errors.Is(err, engine.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "appointment not found")
	case errors.Is(err, engine.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_conflict", "the requested time overlaps an existing appointment")
	case errors.Is(err, engine.ErrInsufficientCredit):
		writeError(w, http.StatusConflict, "insufficient_credit", "patient has no booking credit left")
	default:
		h.logger.Error("appointment request failed", "err", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func tenantFromPath(r *http.Request) model.Tenant {
	return model.Tenant{
		CompanyID: r.PathValue("companyID"),
		ClinicID:  r.PathValue("clinicID"),
	}
}

func toResponse(appt model.Appointment) appointmentResponse {
	resp := appointmentResponse{
		ID:          appt.ID,
		PatientID:   appt.PatientID,
		PatientName: appt.PatientName,
		EmployeeID:  appt.EmployeeID,
		ServiceID:   appt.ServiceID,
		Start:       appt.Start.UTC().Format(time.RFC3339),
		End:         appt.End.UTC().Format(time.RFC3339),
		Status:      appt.Status,
		Color:       appt.Color,
	}
	if appt.CancelledAt != nil {
		resp.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errCode, details string) {
	writeJSON(w, code, map[string]string{"error": errCode, "details": details})
}
