package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zaferemre/clinic-app/libs/auth"
)

func TestRequireRole(t *testing.T) {
	h := requireRole(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), "owner", "admin")

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	req.Header.Set("X-Role", "member")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rw.Code)
	}

	reqOK := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	reqOK.Header.Set("X-Role", "owner")
	rwOK := httptest.NewRecorder()
	h.ServeHTTP(rwOK, reqOK)
	if rwOK.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rwOK.Code)
	}
}

func TestRequireAuthHS256(t *testing.T) {
	secret := "test-secret"
	claims := auth.Claims{
		Sub:       "user-1",
		CompanyID: "co-1",
		ClinicID:  "cl-1",
		Role:      "owner",
		Iat:       time.Now().Unix(),
		Exp:       time.Now().Add(1 * time.Hour).Unix(),
	}
	token, err := auth.SignHS256(claims, secret)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}

	h := requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-User-Id") != claims.Sub {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Header.Get("X-Company-Id") != claims.CompanyID {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Header.Get("X-Clinic-Id") != claims.ClinicID {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Header.Get("X-Role") != claims.Role {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}), secret, nil)

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}

	reqBad := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	reqBad.Header.Set("Authorization", "Bearer badtoken")
	rwBad := httptest.NewRecorder()
	h.ServeHTTP(rwBad, reqBad)
	if rwBad.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rwBad.Code)
	}
}

func TestRequireAuthStripsSpoofedHeaders(t *testing.T) {
	secret := "test-secret"
	token, err := auth.SignHS256(auth.Claims{
		Sub:       "user-1",
		CompanyID: "co-1",
		ClinicID:  "cl-1",
		Role:      "member",
		Iat:       time.Now().Unix(),
		Exp:       time.Now().Add(1 * time.Hour).Unix(),
	}, secret)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}

	h := requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Company-Id") != "co-1" || r.Header.Get("X-Role") != "member" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}), secret, nil)

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	// A caller cannot smuggle tenant or role past the token.
	req.Header.Set("X-Company-Id", "co-other")
	req.Header.Set("X-Role", "owner")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected headers overwritten from claims, got %d", rw.Code)
	}
}

func TestRequireTenant(t *testing.T) {
	h := requireTenant(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "http://example.com/api/v1/companies/co-1/clinics/cl-1/appointments", nil)
	req.Header.Set("X-Company-Id", "co-1")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200 for matching company, got %d", rw.Code)
	}

	reqMismatch := httptest.NewRequest(http.MethodGet, "http://example.com/api/v1/companies/co-2/clinics/cl-1/appointments", nil)
	reqMismatch.Header.Set("X-Company-Id", "co-1")
	rwMismatch := httptest.NewRecorder()
	h.ServeHTTP(rwMismatch, reqMismatch)
	if rwMismatch.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign company, got %d", rwMismatch.Code)
	}
}

func TestCompanyFromPath(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/api/v1/companies/co-1/clinics/cl-1/appointments", "co-1"},
		{"/api/v1/companies/co-1", "co-1"},
		{"/api/v1/billing/packs", ""},
		{"/api/v1/companies/", ""},
	}
	for _, tc := range cases {
		if got := companyFromPath(tc.path); got != tc.want {
			t.Fatalf("companyFromPath(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestWebhookRoutesOnlyStripeIsPublic(t *testing.T) {
	type upstreamHit struct {
		path    string
		company string
	}
	var mu sync.Mutex
	var hits []upstreamHit
	billing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits = append(hits, upstreamHit{path: r.URL.Path, company: r.Header.Get("X-Company-Id")})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer billing.Close()
	t.Setenv("BILLING_URL", billing.URL)

	secret := "test-secret"
	mux := http.NewServeMux()
	registerRoutes(mux, secret, "", time.Minute)

	// Stripe's webhook carries its own signature and needs no JWT.
	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, httptest.NewRequest(http.MethodPost,
		"http://example.com/api/v1/billing/webhooks/stripe", strings.NewReader("{}")))
	if rw.Code != http.StatusOK {
		t.Fatalf("stripe webhook must be reachable without a token, got %d", rw.Code)
	}

	// The local webhook trusts identity headers, so an anonymous caller
	// must be rejected before the proxy — spoofed headers and all.
	req := httptest.NewRequest(http.MethodPost,
		"http://example.com/api/v1/billing/webhooks/local", strings.NewReader("{}"))
	req.Header.Set("X-Company-Id", "co-victim")
	rw = httptest.NewRecorder()
	mux.ServeHTTP(rw, req)
	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated local webhook must get 401, got %d", rw.Code)
	}

	token, err := auth.SignHS256(auth.Claims{
		Sub:       "user-1",
		CompanyID: "co-1",
		ClinicID:  "cl-1",
		Role:      "owner",
		Iat:       time.Now().Unix(),
		Exp:       time.Now().Add(1 * time.Hour).Unix(),
	}, secret)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	req = httptest.NewRequest(http.MethodPost,
		"http://example.com/api/v1/billing/webhooks/local", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Company-Id", "co-victim")
	rw = httptest.NewRecorder()
	mux.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("owner token must reach the local webhook, got %d", rw.Code)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(hits) != 2 {
		t.Fatalf("expected exactly 2 proxied requests, got %d", len(hits))
	}
	if hits[0].path != "/api/v1/billing/webhooks/stripe" {
		t.Fatalf("first upstream hit = %q", hits[0].path)
	}
	if hits[1].path != "/api/v1/billing/webhooks/local" || hits[1].company != "co-1" {
		t.Fatalf("local webhook must carry the claim tenant, got path=%q company=%q",
			hits[1].path, hits[1].company)
	}
}

func TestRouteByPath(t *testing.T) {
	booking := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(201) })
	frontdesk := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(202) })
	h := routeByPath(booking, frontdesk)

	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "http://example.com/api/v1/companies/co-1/clinics/cl-1/calendar/day", nil))
	if rw.Code != 202 {
		t.Fatalf("calendar path must hit frontdesk, got %d", rw.Code)
	}

	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "http://example.com/api/v1/companies/co-1/clinics/cl-1/appointments", nil))
	if rw.Code != 201 {
		t.Fatalf("appointments path must hit booking, got %d", rw.Code)
	}
}
