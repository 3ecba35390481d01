package handlers

import (
	"strings"
	"testing"
)

func TestWithQueryParam(t *testing.T) {
	got := withQueryParam("https://clinic.test/return", "state", "a b")
	if got != "https://clinic.test/return?state=a+b" {
		t.Fatalf("unexpected url: %s", got)
	}
	got = withQueryParam("https://clinic.test/return?x=1", "state", "tok")
	if got != "https://clinic.test/return?x=1&state=tok" {
		t.Fatalf("unexpected url: %s", got)
	}
}

func TestReturnTokenIsURLSafe(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		tok := newReturnToken()
		if tok == "" {
			t.Fatal("expected non-empty token")
		}
		if strings.ContainsAny(tok, "+/=") {
			t.Fatalf("token is not url-safe: %s", tok)
		}
		if seen[tok] {
			t.Fatalf("token collision: %s", tok)
		}
		seen[tok] = true
	}
}

func TestPackLookup(t *testing.T) {
	h := New(nil, nil, nil, Config{
		Packs: []CreditPack{
			{Name: "small", Credits: 10, PriceID: "price_small"},
			{Name: "large", Credits: 50, PriceID: "price_large"},
		},
	})
	if h.packs["small"].Credits != 10 {
		t.Fatalf("expected 10 credits for small, got %d", h.packs["small"].Credits)
	}
	if _, ok := h.packs["enterprise"]; ok {
		t.Fatal("unexpected pack")
	}
}
