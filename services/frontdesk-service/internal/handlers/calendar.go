package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zaferemre/clinic-app/services/frontdesk-service/internal/bookingapi"
	"github.com/zaferemre/clinic-app/services/frontdesk-service/internal/view"
)

type CalendarHandler struct {
	booking view.Booking
	logger  *slog.Logger
}

func NewCalendarHandler(booking view.Booking, logger *slog.Logger) *CalendarHandler {
	return &CalendarHandler{booking: booking, logger: logger}
}

func (h *CalendarHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/companies/{companyID}/clinics/{clinicID}/calendar/day", h.Day)
	mux.HandleFunc("POST /api/v1/companies/{companyID}/clinics/{clinicID}/calendar/drag", h.Drag)
}

type eventResponse struct {
	ID          string `json:"id"`
	PatientID   string `json:"patient_id"`
	PatientName string `json:"patient_name,omitempty"`
	EmployeeID  string `json:"employee_id"`
	ServiceID   string `json:"service_id,omitempty"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Status      string `json:"status"`
	Color       string `json:"color,omitempty"`
	Col         int    `json:"col"`
	ColCount    int    `json:"col_count"`
}

func (h *CalendarHandler) Day(w http.ResponseWriter, r *http.Request) {
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if dateStr == "" {
		writeError(w, http.StatusBadRequest, "validation", "date is required (YYYY-MM-DD)")
		return
	}
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid date, want YYYY-MM-DD")
		return
	}
	employee := strings.TrimSpace(r.URL.Query().Get("employee"))

	day, err := view.BuildDay(r.Context(),
		h.booking, r.PathValue("companyID"), r.PathValue("clinicID"), date, employee)
	if err != nil {
		h.writeBookingError(w, r, err)
		return
	}

	events := make([]eventResponse, 0, len(day.Events))
	for _, ev := range day.Events {
		events = append(events, toEventResponse(ev))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":   day.Date.Format("2006-01-02"),
		"events": events,
	})
}

type dragRequest struct {
	AppointmentID string `json:"appointment_id"`
	DeltaDays     int    `json:"delta_days"`
	DeltaRows     int    `json:"delta_rows"`
}

func (h *CalendarHandler) Drag(w http.ResponseWriter, r *http.Request) {
	var req dragRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		writeError(w, http.StatusBadRequest, "validation", "appointment_id is required")
		return
	}

	result, err := view.ResolveDrag(r.Context(),
		h.booking, r.PathValue("companyID"), r.PathValue("clinicID"), view.DragRequest{
			AppointmentID: req.AppointmentID,
			DeltaDays:     req.DeltaDays,
			DeltaRows:     req.DeltaRows,
		})
	if err != nil {
		h.writeBookingError(w, r, err)
		return
	}

	resp := map[string]any{
		"reverted": result.Reverted,
		"appointment": map[string]string{
			"id":    result.Appointment.ID,
			"start": result.Appointment.Start.UTC().Format(time.RFC3339),
			"end":   result.Appointment.End.UTC().Format(time.RFC3339),
		},
	}
	if result.Reverted {
		resp["reason"] = result.Reason
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeBookingError maps a failed call to booking-service. A 404 for the
// dragged appointment passes through; everything else is an upstream fault.
func (h *CalendarHandler) writeBookingError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *bookingapi.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		writeError(w, http.StatusNotFound, "not_found", "appointment not found")
		return
	}
	h.logger.Error("booking api call failed", "err", err, "path", r.URL.Path)
	writeError(w, http.StatusBadGateway, "booking_unavailable", "booking service did not answer")
}

func toEventResponse(ev view.Event) eventResponse {
	return eventResponse{
		ID:          ev.ID,
		PatientID:   ev.PatientID,
		PatientName: ev.PatientName,
		EmployeeID:  ev.EmployeeID,
		ServiceID:   ev.ServiceID,
		Start:       ev.Start.UTC().Format(time.RFC3339),
		End:         ev.End.UTC().Format(time.RFC3339),
		Status:      ev.Status,
		Color:       ev.Color,
		Col:         ev.Col,
		ColCount:    ev.ColCount,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errCode, details string) {
	writeJSON(w, code, map[string]string{"error": errCode, "details": details})
}
