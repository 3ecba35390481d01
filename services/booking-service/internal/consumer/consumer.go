package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/zaferemre/clinic-app/libs/kafkax"
	"github.com/zaferemre/clinic-app/services/booking-service/internal/engine"
	"github.com/zaferemre/clinic-app/services/booking-service/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TopicCreditsPurchased carries confirmed credit purchases from billing.
const TopicCreditsPurchased = "billing.credits.purchased.v1"

type creditsPurchased struct {
	CompanyID string `json:"company_id"`
	ClinicID  string `json:"clinic_id"`
	PatientID string `json:"patient_id"`
	Credits   int    `json:"credits"`
	PaymentID string `json:"payment_id"`
}

type Config struct {
	Brokers string
	GroupID string
}

// Consumer applies purchased credits to patient balances. The engine claims
// each event id and adjusts the balance in one database transaction, so Kafka
// redeliveries never double-credit a patient and a failed top-up never burns
// the event id. Offsets are committed explicitly: a message that fails for a
// transient reason is left uncommitted so the group redelivers it.
type Consumer struct {
	reader *kafka.Reader
	logger *slog.Logger
	eng    *engine.Engine
}

func New(logger *slog.Logger, eng *engine.Engine, cfg Config) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kafkax.SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    TopicCreditsPurchased,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{
		reader: reader,
		logger: logger,
		eng:    eng,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka fetch error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}

		ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
		ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.destination", msg.Topic),
			),
		)

		meta := kafkax.ExtractEventMeta(msg)

		err = c.applyCredits(ctxSpan, msg, meta)
		switch {
		case err == nil:
			c.commit(ctxSpan, span, msg)
		case transient(err):
			// Leave the offset uncommitted: the database transaction rolled
			// back, including the inbox claim, so redelivery retries cleanly.
			c.logger.Error("credit topup failed, will retry", "err", err, "event_id", meta.EventID)
			span.RecordError(err)
		default:
			// Malformed or permanently unapplyable event. Retrying cannot
			// help, so skip it rather than wedge the partition.
			c.logger.Error("credit topup dropped", "err", err, "event_id", meta.EventID)
			span.RecordError(err)
			c.commit(ctxSpan, span, msg)
		}
		span.End()
	}
}

func (c *Consumer) commit(ctx context.Context, span trace.Span, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.Error("kafka commit error", "err", err)
		span.RecordError(err)
	}
}

// transient reports whether a top-up failure is worth redelivering. Decode
// errors, validation errors, and unknown patients are permanent; everything
// else (database down, timeouts) is assumed to clear on retry.
func transient(err error) bool {
	var jsonErr *json.SyntaxError
	if errors.As(err, &jsonErr) {
		return false
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return false
	}
	if engine.IsValidation(err) || errors.Is(err, engine.ErrPatientNotFound) {
		return false
	}
	return true
}

func (c *Consumer) applyCredits(ctx context.Context, msg kafka.Message, meta kafkax.EventMeta) error {
	var evt creditsPurchased
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		return err
	}
	tenant := model.Tenant{CompanyID: evt.CompanyID, ClinicID: evt.ClinicID}
	applied, err := c.eng.TopUpCredits(ctx, tenant, evt.PatientID, evt.Credits, evt.PaymentID, meta.EventID, meta.EventType)
	if err != nil {
		return err
	}
	if !applied {
		c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
		return nil
	}
	c.logger.Info("credits applied",
		"company_id", evt.CompanyID,
		"patient_id", evt.PatientID,
		"credits", evt.Credits,
	)
	return nil
}
