package bookingapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zaferemre/clinic-app/libs/httpx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Appointment is the booking-service view of one appointment, with timestamps
// already parsed.
type Appointment struct {
	ID          string
	PatientID   string
	PatientName string
	EmployeeID  string
	ServiceID   string
	Start       time.Time
	End         time.Time
	Status      string
	Color       string
}

// APIError is a non-2xx answer from booking-service with its decoded error
// body. Code carries the machine-readable error ("slot_conflict",
// "not_found", ...).
type APIError struct {
	StatusCode int
	Code       string
	Details    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("booking api: %d %s: %s", e.StatusCode, e.Code, e.Details)
}

// Client talks to booking-service. Requests carry the caller's request id and
// the active trace, so a drag shows up as one trace across both services.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *Client) ListDay(ctx context.Context, companyID, clinicID string, from, to time.Time, employeeID string) ([]Appointment, error) {
	q := url.Values{}
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))
	if employeeID != "" {
		q.Set("employee", employeeID)
	}
	path := fmt.Sprintf("/api/v1/companies/%s/clinics/%s/appointments?%s",
		url.PathEscape(companyID), url.PathEscape(clinicID), q.Encode())

	var body struct {
		Appointments []wireAppointment `json:"appointments"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		return nil, err
	}

	out := make([]Appointment, 0, len(body.Appointments))
	for _, wa := range body.Appointments {
		appt, err := wa.parse()
		if err != nil {
			return nil, err
		}
		out = append(out, appt)
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, companyID, clinicID, id string) (Appointment, error) {
	path := fmt.Sprintf("/api/v1/companies/%s/clinics/%s/appointments/%s",
		url.PathEscape(companyID), url.PathEscape(clinicID), url.PathEscape(id))

	var wa wireAppointment
	if err := c.do(ctx, http.MethodGet, path, nil, &wa); err != nil {
		return Appointment{}, err
	}
	return wa.parse()
}

// Reschedule moves an appointment to a new interval via PATCH. A 409 comes
// back as an *APIError with the slot_conflict code; the caller decides what
// to do with the rejection.
func (c *Client) Reschedule(ctx context.Context, companyID, clinicID, id string, start, end time.Time) (Appointment, error) {
	path := fmt.Sprintf("/api/v1/companies/%s/clinics/%s/appointments/%s",
		url.PathEscape(companyID), url.PathEscape(clinicID), url.PathEscape(id))
	payload := map[string]string{
		"start": start.UTC().Format(time.RFC3339),
		"end":   end.UTC().Format(time.RFC3339),
	}

	var wa wireAppointment
	if err := c.do(ctx, http.MethodPatch, path, payload, &wa); err != nil {
		return Appointment{}, err
	}
	return wa.parse()
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := httpx.RequestIDFromContext(ctx); id != "" {
		req.Header.Set(httpx.RequestIDHeader, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errBody struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errBody); err == nil {
			apiErr.Code = errBody.Error
			apiErr.Details = errBody.Details
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type wireAppointment struct {
	ID          string `json:"id"`
	PatientID   string `json:"patient_id"`
	PatientName string `json:"patient_name"`
	EmployeeID  string `json:"employee_id"`
	ServiceID   string `json:"service_id"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Status      string `json:"status"`
	Color       string `json:"color"`
}

func (wa wireAppointment) parse() (Appointment, error) {
	start, err := time.Parse(time.RFC3339, wa.Start)
	if err != nil {
		return Appointment{}, fmt.Errorf("appointment %s: bad start: %w", wa.ID, err)
	}
	end, err := time.Parse(time.RFC3339, wa.End)
	if err != nil {
		return Appointment{}, fmt.Errorf("appointment %s: bad end: %w", wa.ID, err)
	}
	return Appointment{
		ID:          wa.ID,
		PatientID:   wa.PatientID,
		PatientName: wa.PatientName,
		EmployeeID:  wa.EmployeeID,
		ServiceID:   wa.ServiceID,
		Start:       start,
		End:         end,
		Status:      wa.Status,
		Color:       wa.Color,
	}, nil
}
