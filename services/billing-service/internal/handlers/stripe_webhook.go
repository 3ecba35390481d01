package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
	"github.com/zaferemre/clinic-app/services/billing-service/internal/storage"
)

// StripeWebhook handles Stripe webhooks (no JWT auth; signature verification is the auth).
// Gateway should expose this path publicly.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.stripeWebhookSecret == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MiB hard cap
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.stripeWebhookSecret, h.stripeWebhookTolerance)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	occurredAt := time.Unix(evt.Created, 0).UTC()
	evtType := string(evt.Type)
	h.logger.Info("billing provider event received",
		"provider", "stripe",
		"provider_event_id", evt.ID,
		"event_type", evtType,
		"occurred_at", occurredAt.Format(time.RFC3339),
	)

	tx, err := h.repo.Begin(r.Context())
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	// Idempotency: ignore replayed Stripe events.
	if err := h.repo.InsertProviderEvent(r.Context(), tx, storage.ProviderEvent{
		Provider:        "stripe",
		ProviderEventID: evt.ID,
		EventType:       evtType,
		Payload:         body,
	}); err != nil {
		if errors.Is(err, storage.ErrDuplicateProviderEvent) {
			h.logger.Info("billing provider event duplicate ignored", "provider", "stripe", "provider_event_id", evt.ID, "event_type", evtType)
			writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
			_ = tx.Commit(r.Context())
			return
		}
		http.Error(w, "failed to record provider event", http.StatusInternalServerError)
		return
	}

	switch evtType {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			h.logger.Error("stripe: invalid checkout session payload", "err", err)
			break
		}

		companyID := strings.TrimSpace(session.Metadata["company_id"])
		clinicID := strings.TrimSpace(session.Metadata["clinic_id"])
		patientID := strings.TrimSpace(session.Metadata["patient_id"])
		pack := strings.TrimSpace(session.Metadata["pack"])
		if companyID == "" || clinicID == "" || patientID == "" || pack == "" {
			h.logger.Warn("stripe: missing metadata on checkout session", "stripe_session_id", session.ID)
			break
		}

		credits := h.creditsForSession(r.Context(), session.ID, pack)
		if credits <= 0 {
			h.logger.Warn("stripe: could not resolve credits for session", "stripe_session_id", session.ID, "pack", pack)
			break
		}

		customerID := ""
		if session.Customer != nil {
			customerID = session.Customer.ID
		}
		paymentID := ""
		if session.PaymentIntent != nil {
			paymentID = session.PaymentIntent.ID
		}
		if paymentID == "" {
			paymentID = session.ID
		}

		_ = h.repo.MarkCheckoutSessionCompleted(r.Context(), tx, session.ID, occurredAt, customerID, paymentID)
		if err := h.emitCreditsPurchased(r.Context(), tx, companyID, clinicID, patientID, credits, paymentID); err != nil {
			http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
			return
		}
		if err := h.recordAudit(r.Context(), tx, r, "billing.credits.purchased", "provider", companyID, map[string]any{
			"provider":          "stripe",
			"stripe_session_id": session.ID,
			"patient_id":        patientID,
			"pack":              pack,
			"credits":           credits,
		}); err != nil {
			http.Error(w, "failed to record audit event", http.StatusInternalServerError)
			return
		}

	case "checkout.session.expired":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			h.logger.Error("stripe: invalid checkout session payload", "err", err)
			break
		}
		_ = h.repo.MarkCheckoutSessionExpired(r.Context(), tx, session.ID, occurredAt)
	}

	if err := tx.Commit(r.Context()); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// creditsForSession resolves the credit amount for a completed session. The
// stored session row is authoritative; the configured pack covers sessions
// whose row was lost (for example a session created by another environment).
func (h *Handler) creditsForSession(ctx context.Context, sessionID, pack string) int {
	if sess, err := h.repo.GetCheckoutSession(ctx, sessionID); err == nil && sess.Credits > 0 {
		return sess.Credits
	}
	if p, ok := h.packs[pack]; ok {
		return p.Credits
	}
	return 0
}
