package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/telecare-platform/telecare/libs/config"
	"github.com/telecare-platform/telecare/libs/db"
	"github.com/telecare-platform/telecare/libs/httpx"
	"github.com/telecare-platform/telecare/libs/kafkax"
	otelx "github.com/telecare-platform/telecare/libs/otel"
	"github.com/telecare-platform/telecare/libs/runtime"
	"github.com/telecare-platform/telecare/services/reminder-service/internal/consumer"
	"github.com/telecare-platform/telecare/services/reminder-service/internal/email"
	"github.com/telecare-platform/telecare/services/reminder-service/internal/inbox"
	"github.com/telecare-platform/telecare/services/reminder-service/internal/jobs"
	"github.com/telecare-platform/telecare/services/reminder-service/internal/outbox"
	"github.com/telecare-platform/telecare/services/reminder-service/internal/sms"
	"github.com/telecare-platform/telecare/services/reminder-service/internal/storage"
	"github.com/telecare-platform/telecare/services/reminder-service/internal/treatments"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func parseReminderOffsets(raw string, logger *slog.Logger) []time.Duration {
	var offsets []time.Duration
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		mins, err := strconv.Atoi(part)
		if err != nil || mins <= 0 {
			logger.Warn("invalid reminder offset", "value", part)
			continue
		}
		offsets = append(offsets, time.Duration(mins)*time.Minute)
	}
	if len(offsets) == 0 {
		offsets = []time.Duration{24 * time.Hour}
	}
	return offsets
}

type appointmentEvent struct {
	AppointmentID string `json:"appointment_id"`
	PatientID     string `json:"patient_id"`
	PatientName   string `json:"patient_name"`
	PatientEmail  string `json:"patient_email"`
	PatientPhone  string `json:"patient_phone"`
	DoctorName    string `json:"doctor_name"`
	ScheduledAt   string `json:"scheduled_at"`
	Status        string `json:"status"`
}

func main() {
	service := config.String("SERVICE_NAME", "reminder-service")
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

	jobsRepo := jobs.NewRepository()
	outboxRepo := outbox.NewRepository(pool)
	notificationsRepo := storage.NewNotificationsRepository(pool)
	inboxRepo := inbox.NewRepository(pool)

	emailSender := email.NewSMTPSender(
		config.String("SMTP_HOST", "localhost"),
		config.String("SMTP_PORT", "1025"),
		config.String("SMTP_FROM", "no-reply@telecare.local"),
	)
	var smsSender sms.Sender = sms.NewNoopSender()
	if url := config.String("SMS_WEBHOOK_URL", ""); url != "" {
		smsSender = sms.NewWebhookSender(url, config.String("SMS_WEBHOOK_TOKEN", ""))
	}

	worker := jobs.NewWorker(pool, jobsRepo, outboxRepo, notificationsRepo, emailSender, smsSender, logger, jobs.WorkerConfig{
		Interval:  config.DurationSeconds("WORKER_INTERVAL_SECONDS", 2*time.Second),
		BatchSize: config.Int("WORKER_BATCH_SIZE", 50),
		Backoff:   config.DurationSeconds("WORKER_BACKOFF_SECONDS", 60*time.Second),
	})
	go worker.Run(ctx)

	scanner := treatments.NewScanner(pool, jobsRepo, logger, treatments.Config{
		Interval: config.DurationSeconds("TREATMENT_SCAN_INTERVAL_SECONDS", time.Hour),
		Window:   config.DurationSeconds("TREATMENT_EXPIRY_WINDOW_SECONDS", 7*24*time.Hour),
	})
	go scanner.Run(ctx)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	offsets := parseReminderOffsets(config.String("REMINDER_OFFSETS_MINUTES", "1440,60"), logger)

	enqueueReminders := func(ctx context.Context, evt appointmentEvent) error {
		scheduledAt, err := time.Parse(time.RFC3339, evt.ScheduledAt)
		if err != nil {
			logger.Error("appointment event has bad scheduled_at", "value", evt.ScheduledAt)
			return nil
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		now := time.Now().UTC()
		data := map[string]any{
			"patient_name": evt.PatientName,
			"doctor_name":  evt.DoctorName,
			"scheduled_at": scheduledAt.UTC().Format(time.RFC3339),
		}
		for _, offset := range offsets {
			remindAt := scheduledAt.Add(-offset)
			if remindAt.Before(now) {
				continue
			}
			if evt.PatientEmail != "" {
				if err := jobsRepo.Insert(ctx, tx, jobs.Job{
					IdempotencyKey: fmt.Sprintf("%s-%s-%d-email", evt.AppointmentID, scheduledAt.UTC().Format("200601021504"), int(offset.Minutes())),
					AppointmentID:  evt.AppointmentID,
					PatientID:      evt.PatientID,
					Channel:        "email",
					Recipient:      evt.PatientEmail,
					RemindAt:       remindAt,
					TemplateData:   data,
				}); err != nil {
					return err
				}
			}
			if evt.PatientPhone != "" {
				if err := jobsRepo.Insert(ctx, tx, jobs.Job{
					IdempotencyKey: fmt.Sprintf("%s-%s-%d-sms", evt.AppointmentID, scheduledAt.UTC().Format("200601021504"), int(offset.Minutes())),
					AppointmentID:  evt.AppointmentID,
					PatientID:      evt.PatientID,
					Channel:        "sms",
					Recipient:      evt.PatientPhone,
					RemindAt:       remindAt,
					TemplateData:   data,
				}); err != nil {
					return err
				}
			}
		}
		return tx.Commit(ctx)
	}

	cancelReminders := func(ctx context.Context, appointmentID string) error {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()
		n, err := jobsRepo.CancelByAppointment(ctx, tx, appointmentID)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("pending reminders cancelled", "appointment_id", appointmentID, "count", n)
		}
		return tx.Commit(ctx)
	}

	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", "reminder-service")
	startConsumer := func(topic string, handler consumer.Handler) {
		if brokers == "" || strings.TrimSpace(topic) == "" {
			return
		}
		c := consumer.New(logger, inboxRepo, consumer.Config{Brokers: brokers, GroupID: groupID, Topic: topic}, handler)
		go c.Run(ctx)
	}

	startConsumer(config.String("KAFKA_CREATED_TOPIC", "telecare.appointment.created.v1"), func(ctx context.Context, msg kafka.Message) error {
		var evt appointmentEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.AppointmentID == "" {
			logger.Error("invalid created event", "err", err, "topic", msg.Topic)
			return nil
		}
		return enqueueReminders(ctx, evt)
	})
	startConsumer(config.String("KAFKA_UPDATED_TOPIC", "telecare.appointment.updated.v1"), func(ctx context.Context, msg kafka.Message) error {
		var evt appointmentEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.AppointmentID == "" {
			logger.Error("invalid updated event", "err", err, "topic", msg.Topic)
			return nil
		}
		if evt.Status == "cancelled" {
			return cancelReminders(ctx, evt.AppointmentID)
		}
		// A reschedule re-enqueues under new offset keys; stale jobs for the
		// old time are cancelled first.
		if err := cancelReminders(ctx, evt.AppointmentID); err != nil {
			return err
		}
		return enqueueReminders(ctx, evt)
	})
	startConsumer(config.String("KAFKA_DELETED_TOPIC", "telecare.appointment.deleted.v1"), func(ctx context.Context, msg kafka.Message) error {
		var evt appointmentEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.AppointmentID == "" {
			logger.Error("invalid deleted event", "err", err, "topic", msg.Topic)
			return nil
		}
		return cancelReminders(ctx, evt.AppointmentID)
	})

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "reminder")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
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
