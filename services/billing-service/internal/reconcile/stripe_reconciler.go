package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/zaferemre/clinic-app/libs/db"
	"github.com/zaferemre/clinic-app/services/billing-service/internal/outbox"
	"github.com/zaferemre/clinic-app/services/billing-service/internal/storage"
)

// StripeReconciler settles checkout sessions whose webhook was missed: it
// polls sessions stuck in 'created', asks Stripe what actually happened, and
// either emits the purchase event or marks the session expired.
type StripeReconciler struct {
	pool        *db.Pool
	repo        *storage.Repository
	outboxRepo  *outbox.Repository
	logger      *slog.Logger
	stripeKey   string
	batchSize   int
	minAge      time.Duration
	advisoryKey int64
}

type StripeReconcilerConfig struct {
	StripeSecretKey string
	BatchSize       int
	MinSessionAge   time.Duration
	AdvisoryLockKey int64
}

func NewStripeReconciler(pool *db.Pool, repo *storage.Repository, outboxRepo *outbox.Repository, logger *slog.Logger, cfg StripeReconcilerConfig) *StripeReconciler {
	bs := cfg.BatchSize
	if bs <= 0 {
		bs = 50
	}
	minAge := cfg.MinSessionAge
	if minAge <= 0 {
		minAge = 15 * time.Minute
	}
	lockKey := cfg.AdvisoryLockKey
	if lockKey == 0 {
		// Stable-ish default; override via env if you run multiple billing instances.
		lockKey = 4242001
	}
	return &StripeReconciler{
		pool:        pool,
		repo:        repo,
		outboxRepo:  outboxRepo,
		logger:      logger,
		stripeKey:   strings.TrimSpace(cfg.StripeSecretKey),
		batchSize:   bs,
		minAge:      minAge,
		advisoryKey: lockKey,
	}
}

func (r *StripeReconciler) Run(ctx context.Context, interval time.Duration) {
	if r.stripeKey == "" {
		r.logger.Warn("stripe reconcile disabled: STRIPE_SECRET_KEY missing")
		return
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	// Best-effort leader election for multi-instance deployments.
	// Only the instance holding the advisory lock will reconcile.
	for {
		if ctx.Err() != nil {
			return
		}
		var locked bool
		if err := r.pool.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, r.advisoryKey).Scan(&locked); err != nil {
			r.logger.Error("stripe reconcile: failed to acquire advisory lock", "err", err)
			time.Sleep(5 * time.Second)
			continue
		}
		if !locked {
			r.logger.Info("stripe reconcile: advisory lock held by another instance", "lock_key", r.advisoryKey)
			time.Sleep(30 * time.Second)
			continue
		}
		r.logger.Info("stripe reconcile: advisory lock acquired", "lock_key", r.advisoryKey)
		defer func() {
			_, _ = r.pool.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, r.advisoryKey)
		}()
		break
	}

	stripe.Key = r.stripeKey
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run immediately on startup to self-heal faster after downtime.
	r.reconcileOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcileOnce(ctx)
		}
	}
}

func (r *StripeReconciler) reconcileOnce(ctx context.Context) {
	pending, err := r.repo.ListPendingSessions(ctx, r.minAge, r.batchSize)
	if err != nil {
		r.logger.Error("stripe reconcile: failed to list pending sessions", "err", err)
		return
	}

	for _, sess := range pending {
		if ctx.Err() != nil {
			return
		}

		remote, err := checkoutsession.Get(sess.StripeSessionID, nil)
		if err != nil {
			r.logger.Warn("stripe reconcile: failed to fetch session", "err", err, "stripe_session_id", sess.StripeSessionID)
			continue
		}

		switch {
		case remote.Status == stripe.CheckoutSessionStatusComplete:
			r.settleCompleted(ctx, sess, remote)
		case remote.Status == stripe.CheckoutSessionStatusExpired:
			r.settleExpired(ctx, sess)
		}
	}
}

func (r *StripeReconciler) settleCompleted(ctx context.Context, sess storage.CheckoutSession, remote *stripe.CheckoutSession) {
	tx, err := r.repo.Begin(ctx)
	if err != nil {
		r.logger.Error("stripe reconcile: db begin failed", "err", err)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Session-scoped provider event: the webhook (evt_…) and the reconciler
	// dedupe against each other through the session id.
	if err := r.repo.InsertProviderEvent(ctx, tx, storage.ProviderEvent{
		Provider:        "stripe-reconcile",
		ProviderEventID: sess.StripeSessionID,
		EventType:       "checkout.session.completed",
		Payload:         []byte(`{"source":"reconcile"}`),
	}); err != nil {
		if !errors.Is(err, storage.ErrDuplicateProviderEvent) {
			r.logger.Warn("stripe reconcile: provider event insert failed", "err", err)
		}
		return
	}

	customerID := ""
	if remote.Customer != nil {
		customerID = remote.Customer.ID
	}
	paymentID := sess.StripeSessionID
	if remote.PaymentIntent != nil {
		paymentID = remote.PaymentIntent.ID
	}

	if err := r.repo.MarkCheckoutSessionCompleted(ctx, tx, sess.StripeSessionID, time.Now().UTC(), customerID, paymentID); err != nil {
		r.logger.Warn("stripe reconcile: mark completed failed", "err", err)
		return
	}

	payload, err := json.Marshal(map[string]any{
		"company_id":   sess.CompanyID,
		"clinic_id":    sess.ClinicID,
		"patient_id":   sess.PatientID,
		"credits":      sess.Credits,
		"payment_id":   paymentID,
		"purchased_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		r.logger.Warn("stripe reconcile: payload marshal failed", "err", err)
		return
	}
	if err := r.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "patient",
		AggregateID:   sess.PatientID,
		EventType:     "billing.credits.purchased.v1",
		Payload:       payload,
	}); err != nil {
		r.logger.Warn("stripe reconcile: outbox insert failed", "err", err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		r.logger.Warn("stripe reconcile: commit failed", "err", err)
		return
	}
	r.logger.Info("stripe reconcile: settled completed session",
		"stripe_session_id", sess.StripeSessionID,
		"patient_id", sess.PatientID,
		"credits", sess.Credits,
	)
}

func (r *StripeReconciler) settleExpired(ctx context.Context, sess storage.CheckoutSession) {
	tx, err := r.repo.Begin(ctx)
	if err != nil {
		r.logger.Error("stripe reconcile: db begin failed", "err", err)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := r.repo.MarkCheckoutSessionExpired(ctx, tx, sess.StripeSessionID, time.Now().UTC()); err != nil {
		r.logger.Warn("stripe reconcile: mark expired failed", "err", err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		r.logger.Warn("stripe reconcile: commit failed", "err", err)
	}
}
