package treatments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/telecare-platform/telecare/libs/db"
	"github.com/telecare-platform/telecare/services/reminder-service/internal/jobs"
)

// Scanner walks active treatments and enqueues an expiry reminder for each
// one that runs out within the warning window. The per-treatment
// idempotency key makes repeated scans harmless.
type Scanner struct {
	pool     *db.Pool
	jobsRepo *jobs.Repository
	logger   *slog.Logger
	interval time.Duration
	window   time.Duration
}

type Config struct {
	Interval time.Duration
	Window   time.Duration
}

func NewScanner(pool *db.Pool, jobsRepo *jobs.Repository, logger *slog.Logger, cfg Config) *Scanner {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Window <= 0 {
		cfg.Window = 7 * 24 * time.Hour
	}
	return &Scanner{
		pool:     pool,
		jobsRepo: jobsRepo,
		logger:   logger,
		interval: cfg.Interval,
		window:   cfg.Window,
	}
}

func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if err := s.scan(ctx); err != nil {
		s.logger.Error("treatment expiry scan failed", "err", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.scan(ctx); err != nil {
				s.logger.Error("treatment expiry scan failed", "err", err)
			}
		}
	}
}

func (s *Scanner) scan(ctx context.Context) error {
	now := time.Now().UTC()
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.patient_id, t.medication, t.expires_at, u.name, u.email, u.phone
		FROM treatments t
		JOIN users u ON u.id = t.patient_id
		WHERE t.status = 'active'
		  AND t.expires_at >= $1
		  AND t.expires_at < $2
	`, now, now.Add(s.window))
	if err != nil {
		return err
	}
	defer rows.Close()

	type expiring struct {
		id, patientID, medication string
		expiresAt                 time.Time
		name, email, phone        string
	}
	var found []expiring
	for rows.Next() {
		var e expiring
		if err := rows.Scan(&e.id, &e.patientID, &e.medication, &e.expiresAt, &e.name, &e.email, &e.phone); err != nil {
			return err
		}
		found = append(found, e)
	}
	if rows.Err() != nil {
		return rows.Err()
	}
	if len(found) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	enqueued := 0
	for _, e := range found {
		data := map[string]any{
			"kind":         "treatment_expiry",
			"patient_name": e.name,
			"medication":   e.medication,
			"expires_at":   e.expiresAt.UTC().Format(time.RFC3339),
		}
		if e.email != "" {
			if err := s.jobsRepo.Insert(ctx, tx, jobs.Job{
				IdempotencyKey: fmt.Sprintf("treatment-%s-expiry-email", e.id),
				AppointmentID:  "",
				PatientID:      e.patientID,
				Channel:        "email",
				Recipient:      e.email,
				RemindAt:       now,
				TemplateData:   data,
			}); err != nil {
				return err
			}
			enqueued++
		}
		if e.phone != "" {
			if err := s.jobsRepo.Insert(ctx, tx, jobs.Job{
				IdempotencyKey: fmt.Sprintf("treatment-%s-expiry-sms", e.id),
				PatientID:      e.patientID,
				Channel:        "sms",
				Recipient:      e.phone,
				RemindAt:       now,
				TemplateData:   data,
			}); err != nil {
				return err
			}
			enqueued++
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.logger.Info("treatment expiry scan complete", "expiring", len(found), "jobs", enqueued)
	return nil
}
