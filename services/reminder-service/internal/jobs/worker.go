package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/telecare-platform/telecare/libs/db"
	otelx "github.com/telecare-platform/telecare/libs/otel"
	"github.com/telecare-platform/telecare/services/reminder-service/internal/email"
	"github.com/telecare-platform/telecare/services/reminder-service/internal/outbox"
	"github.com/telecare-platform/telecare/services/reminder-service/internal/sms"
	"github.com/telecare-platform/telecare/services/reminder-service/internal/storage"
)

// Worker drains due reminder jobs and delivers them. Failures retry with a
// fixed backoff until the attempt budget runs out, then the job lands on
// the dead-letter topic for operator triage.
type Worker struct {
	pool          *db.Pool
	repo          *Repository
	outbox        *outbox.Repository
	notifications *storage.NotificationsRepository
	email         email.Sender
	sms           sms.Sender
	logger        *slog.Logger
	interval      time.Duration
	batchSize     int
	backoff       time.Duration
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	Backoff   time.Duration
}

func NewWorker(pool *db.Pool, repo *Repository, outboxRepo *outbox.Repository, notifications *storage.NotificationsRepository, emailSender email.Sender, smsSender sms.Sender, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 1 * time.Minute
	}
	return &Worker{
		pool:          pool,
		repo:          repo,
		outbox:        outboxRepo,
		notifications: notifications,
		email:         emailSender,
		sms:           smsSender,
		logger:        logger,
		interval:      cfg.Interval,
		batchSize:     cfg.BatchSize,
		backoff:       cfg.Backoff,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				w.logger.Error("reminder batch failed", "err", err)
			}
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	jobs, err := w.repo.FetchDue(ctx, tx, w.batchSize)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return tx.Commit(ctx)
	}

	var delivered []int64
	for _, job := range jobs {
		jobCtx := otelx.ContextWithTraceContext(ctx, job.Traceparent, job.Tracestate)
		if err := w.deliver(jobCtx, job); err != nil {
			w.logger.Warn("reminder delivery failed", "job_id", job.ID, "channel", job.Channel, "err", err)
			attempts := job.Attempts + 1
			nextRunAt := time.Now().UTC().Add(w.backoff)
			if err := w.repo.MarkFailed(ctx, tx, job.ID, attempts, job.MaxAttempts, nextRunAt, err.Error()); err != nil {
				return err
			}
			if attempts >= job.MaxAttempts {
				if err := w.enqueueDLQ(jobCtx, tx, job, err.Error()); err != nil {
					return err
				}
			}
			continue
		}

		delivered = append(delivered, job.ID)
		if err := w.notifications.Insert(ctx, storage.Notification{
			AppointmentID: job.AppointmentID,
			PatientID:     job.PatientID,
			Channel:       job.Channel,
			Recipient:     job.Recipient,
			Payload:       job.TemplateData,
			Status:        "sent",
		}); err != nil {
			w.logger.Error("notification log insert failed", "job_id", job.ID, "err", err)
		}
	}

	if err := w.repo.MarkProcessed(ctx, tx, delivered); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (w *Worker) deliver(ctx context.Context, job Job) error {
	subject, body := renderReminder(job)
	switch job.Channel {
	case "email":
		return w.email.Send(job.Recipient, subject, body)
	case "sms":
		return w.sms.Send(ctx, job.Recipient, body)
	default:
		return fmt.Errorf("unknown channel %q", job.Channel)
	}
}

func renderReminder(job Job) (subject string, body string) {
	patientName, _ := job.TemplateData["patient_name"].(string)
	doctorName, _ := job.TemplateData["doctor_name"].(string)
	kind, _ := job.TemplateData["kind"].(string)

	if kind == "treatment_expiry" {
		medication, _ := job.TemplateData["medication"].(string)
		subject = "Your treatment is about to run out"
		body = fmt.Sprintf("Hello %s, your prescription for %s expires on %s. Book a renewal consultation if you need a refill.",
			patientName, medication, job.RemindAt.UTC().Format("Monday, 2 January 2006"))
		return subject, body
	}

	when := job.RemindAt
	if raw, ok := job.TemplateData["scheduled_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			when = t
		}
	}
	subject = "Upcoming consultation reminder"
	body = fmt.Sprintf("Hello %s, this is a reminder of your consultation with %s on %s.",
		patientName, doctorName, when.UTC().Format("Monday, 2 January 2006 at 15:04 MST"))
	return subject, body
}

func (w *Worker) enqueueDLQ(ctx context.Context, tx pgx.Tx, job Job, reason string) error {
	payload, err := json.Marshal(map[string]any{
		"appointment_id": job.AppointmentID,
		"patient_id":     job.PatientID,
		"channel":        job.Channel,
		"recipient":      job.Recipient,
		"remind_at":      job.RemindAt.UTC().Format(time.RFC3339),
		"template_data":  job.TemplateData,
		"error_reason":   reason,
		"failed_at":      time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return w.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "reminder_job",
		AggregateID:   job.AppointmentID,
		EventType:     "telecare.reminder.dlq.v1",
		Payload:       payload,
	})
}
