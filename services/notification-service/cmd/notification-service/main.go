package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/zaferemre/clinic-app/libs/config"
	"github.com/zaferemre/clinic-app/libs/db"
	"github.com/zaferemre/clinic-app/libs/httpx"
	"github.com/zaferemre/clinic-app/libs/kafkax"
	otelx "github.com/zaferemre/clinic-app/libs/otel"
	"github.com/zaferemre/clinic-app/libs/runtime"
	"github.com/zaferemre/clinic-app/services/notification-service/internal/consumer"
	"github.com/zaferemre/clinic-app/services/notification-service/internal/email"
	"github.com/zaferemre/clinic-app/services/notification-service/internal/inbox"
	"github.com/zaferemre/clinic-app/services/notification-service/internal/message"
	"github.com/zaferemre/clinic-app/services/notification-service/internal/outbox"
	"github.com/zaferemre/clinic-app/services/notification-service/internal/sms"
	"github.com/zaferemre/clinic-app/services/notification-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func writeOutboxSent(ctx context.Context, pool *db.Pool, outboxRepo *outbox.Repository, evt message.AppointmentEvent, eventType, channel, providerID string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if strings.TrimSpace(providerID) == "" {
		providerID = "unknown"
	}
	eventPayload, err := json.Marshal(map[string]any{
		"appointment_id": evt.AppointmentID,
		"company_id":     evt.CompanyID,
		"clinic_id":      evt.ClinicID,
		"patient_id":     evt.PatientID,
		"trigger":        eventType,
		"channel":        channel,
		"provider_id":    providerID,
		"sent_at":        time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	if err := outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "notification",
		AggregateID:   evt.AppointmentID,
		EventType:     "notification.sent.v1",
		Payload:       eventPayload,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func writeOutboxFailed(ctx context.Context, pool *db.Pool, outboxRepo *outbox.Repository, evt message.AppointmentEvent, eventType, channel, reason string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	eventPayload, err := json.Marshal(map[string]any{
		"appointment_id": evt.AppointmentID,
		"company_id":     evt.CompanyID,
		"clinic_id":      evt.ClinicID,
		"patient_id":     evt.PatientID,
		"trigger":        eventType,
		"channel":        channel,
		"error_reason":   reason,
		"failed_at":      time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	if err := outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "notification",
		AggregateID:   evt.AppointmentID,
		EventType:     "notification.failed.v1",
		Payload:       eventPayload,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8085")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	inboxRepo := inbox.NewRepository(pool)
	notificationsRepo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	smtpHost := config.String("SMTP_HOST", "mailpit")
	smtpPort := config.String("SMTP_PORT", "1025")
	smtpFrom := config.String("SMTP_FROM", "no-reply@clinic-app.local")
	emailSender := email.NewSMTPSender(smtpHost, smtpPort, smtpFrom)
	emailProviderID := "smtp"

	smsProvider := strings.ToLower(config.String("SMS_PROVIDER", "noop"))
	smsWebhookURL := config.String("SMS_WEBHOOK_URL", "")
	smsWebhookToken := config.String("SMS_WEBHOOK_TOKEN", "")
	var smsSender sms.Sender
	switch smsProvider {
	case "webhook":
		smsSender = sms.NewWebhookSender(smsWebhookURL, smsWebhookToken)
	case "noop":
		smsSender = sms.NewNoopSender()
	default:
		smsSender = sms.NewWebhookSender(smsWebhookURL, smsWebhookToken)
	}

	// Recipients ending in this suffix fail without touching a provider.
	// Used in compose setups to exercise the notification.failed path.
	failSuffix := config.String("NOTIFICATION_FAIL_SUFFIX", "")

	consumerCfg := consumer.Config{
		Brokers: config.String("KAFKA_BROKERS", ""),
		GroupID: config.String("KAFKA_GROUP_ID", "notification-service"),
		Topics:  message.Topics(),
	}
	eventConsumer := consumer.New(logger, inboxRepo, consumerCfg, func(ctx context.Context, msg kafka.Message) error {
		evt, err := message.Parse(msg.Value)
		if err != nil {
			logger.Error("invalid appointment event", "err", err, "topic", msg.Topic)
			return nil
		}
		content, err := message.Compose(msg.Topic, evt)
		if err != nil {
			logger.Error("no template for event", "err", err, "topic", msg.Topic)
			return nil
		}

		deliver := func(channel, recipient string, send func() error, providerID string) error {
			status := "sent"
			failureReason := ""
			if failSuffix != "" && strings.HasSuffix(recipient, failSuffix) {
				status = "failed"
				failureReason = "simulated failure"
			}
			if status == "sent" {
				if err := send(); err != nil {
					status = "failed"
					failureReason = err.Error()
					logger.Error("send failed", "channel", channel, "err", err, "recipient", recipient)
				}
			}

			if err := notificationsRepo.Insert(ctx, storage.Notification{
				AppointmentID: evt.AppointmentID,
				CompanyID:     evt.CompanyID,
				ClinicID:      evt.ClinicID,
				EventType:     msg.Topic,
				Channel:       channel,
				Recipient:     recipient,
				Subject:       content.Subject,
				Body:          content.EmailBody,
				Status:        status,
				FailureReason: failureReason,
			}); err != nil {
				logger.Error("failed to persist notification", "err", err)
				return err
			}

			if status == "failed" {
				return writeOutboxFailed(ctx, pool, outboxRepo, evt, msg.Topic, channel, failureReason)
			}
			return writeOutboxSent(ctx, pool, outboxRepo, evt, msg.Topic, channel, providerID)
		}

		if evt.PatientEmail != "" {
			if err := deliver("email", evt.PatientEmail, func() error {
				return emailSender.Send(evt.PatientEmail, content.Subject, content.EmailBody)
			}, emailProviderID); err != nil {
				return err
			}
		}
		if evt.PatientPhone != "" {
			if err := deliver("sms", evt.PatientPhone, func() error {
				return smsSender.Send(ctx, evt.PatientPhone, content.SMSBody)
			}, smsSender.ProviderID()); err != nil {
				return err
			}
		}

		logger.Info("appointment event processed", "appointment_id", evt.AppointmentID, "event_type", msg.Topic)
		return nil
	})
	go eventConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "notification")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
