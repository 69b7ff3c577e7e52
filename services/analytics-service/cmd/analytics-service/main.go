package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/telecare-platform/telecare/libs/config"
	"github.com/telecare-platform/telecare/libs/db"
	"github.com/telecare-platform/telecare/libs/httpx"
	"github.com/telecare-platform/telecare/libs/kafkax"
	otelx "github.com/telecare-platform/telecare/libs/otel"
	"github.com/telecare-platform/telecare/libs/runtime"
	"github.com/telecare-platform/telecare/services/analytics-service/internal/consumer"
	"github.com/telecare-platform/telecare/services/analytics-service/internal/inbox"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "analytics-service")
	port, err := config.Port("PORT", "8087")
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
	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", "analytics-service")
	startConsumer := func(topic string, handler consumer.Handler) {
		if brokers == "" || topic == "" {
			return
		}
		c := consumer.New(logger, inboxRepo, consumer.Config{Brokers: brokers, GroupID: groupID, Topic: topic}, handler)
		go c.Run(ctx)
	}

	handleAppointmentEvent := func(ctx context.Context, msg kafka.Message, kind string) error {
		var payload struct {
			AppointmentID string `json:"appointment_id"`
			DoctorID      string `json:"doctor_id"`
			ScheduledAt   string `json:"scheduled_at"`
			Status        string `json:"status"`
		}

		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid appointment payload", "err", err)
			return nil
		}
		if payload.AppointmentID == "" || payload.DoctorID == "" || payload.ScheduledAt == "" {
			logger.Error("missing appointment fields", "topic", msg.Topic)
			return nil
		}
		scheduledAt, err := time.Parse(time.RFC3339, payload.ScheduledAt)
		if err != nil {
			logger.Error("invalid scheduled_at", "err", err)
			return nil
		}
		// Updates only count when the appointment was cancelled; reschedules
		// and confirmations leave the daily totals alone.
		if kind == "cancelled" && payload.Status != "cancelled" {
			return nil
		}

		meta := kafkax.ExtractEventMeta(msg)

		tx, err := pool.Begin(ctx)
		if err != nil {
			logger.Error("db begin failed", "err", err)
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		tag, err := tx.Exec(ctx, `
			INSERT INTO appointment_events (event_id, event_type, doctor_id, appointment_id, occurred_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (event_id) DO NOTHING
		`, meta.EventID, meta.EventType, payload.DoctorID, payload.AppointmentID, scheduledAt.UTC())
		if err != nil {
			logger.Error("failed to insert appointment event", "err", err)
			return err
		}
		if tag.RowsAffected() == 0 {
			_ = tx.Commit(ctx)
			return nil
		}

		bookedInc := 0
		cancelledInc := 0
		switch kind {
		case "booked":
			bookedInc = 1
		case "cancelled", "deleted":
			cancelledInc = 1
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO daily_appointment_metrics (doctor_id, day, booked_count, cancelled_count)
			VALUES ($1, $2::date, $3, $4)
			ON CONFLICT (doctor_id, day)
			DO UPDATE SET booked_count = daily_appointment_metrics.booked_count + EXCLUDED.booked_count,
			              cancelled_count = daily_appointment_metrics.cancelled_count + EXCLUDED.cancelled_count,
			              updated_at = now()
		`, payload.DoctorID, scheduledAt.UTC(), bookedInc, cancelledInc); err != nil {
			logger.Error("failed to update daily metrics", "err", err)
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			logger.Error("failed to commit appointment metric", "err", err)
			return err
		}

		logger.Info("appointment metric recorded", "appointment_id", payload.AppointmentID, "doctor_id", payload.DoctorID, "event_type", meta.EventType)
		return nil
	}

	startConsumer(config.String("KAFKA_CREATED_TOPIC", "telecare.appointment.created.v1"), func(ctx context.Context, msg kafka.Message) error {
		return handleAppointmentEvent(ctx, msg, "booked")
	})
	startConsumer(config.String("KAFKA_UPDATED_TOPIC", "telecare.appointment.updated.v1"), func(ctx context.Context, msg kafka.Message) error {
		return handleAppointmentEvent(ctx, msg, "cancelled")
	})
	startConsumer(config.String("KAFKA_DELETED_TOPIC", "telecare.appointment.deleted.v1"), func(ctx context.Context, msg kafka.Message) error {
		return handleAppointmentEvent(ctx, msg, "deleted")
	})

	startConsumer(config.String("KAFKA_PAYMENT_TOPIC", "telecare.payment.completed.v1"), func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			AppointmentID string `json:"appointment_id"`
			AmountCents   int64  `json:"amount_cents"`
			Currency      string `json:"currency"`
			PaidAt        string `json:"paid_at"`
		}

		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid payment payload", "err", err)
			return nil
		}
		if payload.AppointmentID == "" || payload.Currency == "" || payload.PaidAt == "" {
			logger.Error("missing payment fields")
			return nil
		}
		paidAt, err := time.Parse(time.RFC3339, payload.PaidAt)
		if err != nil {
			logger.Error("invalid paid_at", "err", err)
			return nil
		}

		_, err = pool.Exec(ctx, `
			INSERT INTO daily_revenue_metrics (day, currency, amount_cents, payments_count)
			VALUES ($1::date, $2, $3, 1)
			ON CONFLICT (day, currency)
			DO UPDATE SET amount_cents = daily_revenue_metrics.amount_cents + EXCLUDED.amount_cents,
			              payments_count = daily_revenue_metrics.payments_count + 1,
			              updated_at = now()
		`, paidAt.UTC(), payload.Currency, payload.AmountCents)
		if err != nil {
			logger.Error("failed to update revenue metrics", "err", err)
			return err
		}

		logger.Info("revenue metric recorded", "appointment_id", payload.AppointmentID, "amount_cents", payload.AmountCents)
		return nil
	})

	startConsumer(config.String("KAFKA_DLQ_TOPIC", "telecare.reminder.dlq.v1"), func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			AppointmentID string `json:"appointment_id"`
			PatientID     string `json:"patient_id"`
			Channel       string `json:"channel"`
			Recipient     string `json:"recipient"`
			RemindAt      string `json:"remind_at"`
			ErrorReason   string `json:"error_reason"`
			FailedAt      string `json:"failed_at"`
		}

		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid dlq payload", "err", err)
			return nil
		}
		if payload.AppointmentID == "" || payload.Channel == "" || payload.FailedAt == "" {
			logger.Error("missing dlq fields")
			return nil
		}
		if _, err := time.Parse(time.RFC3339, payload.FailedAt); err != nil {
			logger.Error("invalid failed_at", "err", err)
			return nil
		}

		_, err := pool.Exec(ctx, `
			INSERT INTO reminder_dlq_events (appointment_id, patient_id, channel, recipient, remind_at, error_reason, failed_at)
			VALUES ($1, NULLIF($2, ''), $3, $4, NULLIF($5, '')::timestamptz, $6, $7)
		`, payload.AppointmentID, payload.PatientID, payload.Channel, payload.Recipient, payload.RemindAt, payload.ErrorReason, payload.FailedAt)
		if err != nil {
			logger.Error("failed to write dlq event", "err", err)
			return err
		}

		logger.Warn("reminder dlq recorded", "appointment_id", payload.AppointmentID, "channel", payload.Channel)
		return nil
	})

	startConsumer(config.String("KAFKA_AUDIT_TOPIC", "telecare.auth.audit.v1"), func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			EventType string          `json:"event_type"`
			ActorID   string          `json:"actor_id"`
			Metadata  json.RawMessage `json:"metadata"`
			CreatedAt string          `json:"created_at"`
		}

		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid auth audit payload", "err", err)
			return nil
		}
		if payload.EventType == "" || payload.CreatedAt == "" {
			logger.Error("missing auth audit fields")
			return nil
		}
		if _, err := time.Parse(time.RFC3339, payload.CreatedAt); err != nil {
			logger.Error("invalid auth audit created_at", "err", err)
			return nil
		}

		_, err := pool.Exec(ctx, `
			INSERT INTO security_audit_events (event_type, actor_id, metadata, created_at)
			VALUES ($1, NULLIF($2, ''), $3, $4)
		`, payload.EventType, payload.ActorID, payload.Metadata, payload.CreatedAt)
		if err != nil {
			logger.Error("failed to write security audit event", "err", err)
			return err
		}

		logger.Info("security audit recorded", "event_type", payload.EventType)
		return nil
	})

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "analytics")
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
