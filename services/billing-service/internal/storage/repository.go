package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/telecare-platform/telecare/libs/db"
)

var ErrDuplicateProviderEvent = errors.New("provider event already recorded")

// Payment tracks the consultation fee for one appointment from booking to
// settlement.
type Payment struct {
	AppointmentID   string
	PatientID       string
	AmountCents     int64
	Currency        string
	Status          string // pending | completed | expired | void
	StripeSessionID string
	CheckoutURL     string
	CompletedAt     *time.Time
	UpdatedAt       time.Time
}

type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// UpsertPending records the amount owed for a freshly booked appointment.
// Redelivered booking events leave an existing payment untouched.
func (r *Repository) UpsertPending(ctx context.Context, tx pgx.Tx, appointmentID, patientID string, amountCents int64, currency string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO payments (appointment_id, patient_id, amount_cents, currency, status)
		VALUES ($1, $2, $3, $4, 'pending')
		ON CONFLICT (appointment_id) DO NOTHING
	`, appointmentID, patientID, amountCents, currency)
	return err
}

func (r *Repository) Get(ctx context.Context, appointmentID string) (Payment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT appointment_id, patient_id, amount_cents, currency, status,
		       COALESCE(stripe_session_id, ''), COALESCE(checkout_url, ''), completed_at, updated_at
		FROM payments
		WHERE appointment_id = $1
	`, appointmentID)
	var p Payment
	err := row.Scan(&p.AppointmentID, &p.PatientID, &p.AmountCents, &p.Currency, &p.Status,
		&p.StripeSessionID, &p.CheckoutURL, &p.CompletedAt, &p.UpdatedAt)
	return p, err
}

func (r *Repository) GetBySession(ctx context.Context, tx pgx.Tx, sessionID string) (Payment, error) {
	row := tx.QueryRow(ctx, `
		SELECT appointment_id, patient_id, amount_cents, currency, status,
		       COALESCE(stripe_session_id, ''), COALESCE(checkout_url, ''), completed_at, updated_at
		FROM payments
		WHERE stripe_session_id = $1
		FOR UPDATE
	`, sessionID)
	var p Payment
	err := row.Scan(&p.AppointmentID, &p.PatientID, &p.AmountCents, &p.Currency, &p.Status,
		&p.StripeSessionID, &p.CheckoutURL, &p.CompletedAt, &p.UpdatedAt)
	return p, err
}

func (r *Repository) AttachSession(ctx context.Context, tx pgx.Tx, appointmentID, sessionID, url string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE payments
		SET stripe_session_id = $2, checkout_url = $3, updated_at = now()
		WHERE appointment_id = $1 AND status = 'pending'
	`, appointmentID, sessionID, url)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *Repository) MarkCompleted(ctx context.Context, tx pgx.Tx, sessionID string, at time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = 'completed', completed_at = $2, updated_at = now()
		WHERE stripe_session_id = $1 AND status <> 'completed'
	`, sessionID, at)
	return err
}

func (r *Repository) MarkExpired(ctx context.Context, tx pgx.Tx, sessionID string, at time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = 'pending', stripe_session_id = NULL, checkout_url = NULL, updated_at = $2
		WHERE stripe_session_id = $1 AND status = 'pending'
	`, sessionID, at)
	return err
}

// MarkVoid settles nothing: the appointment went away before payment.
func (r *Repository) MarkVoid(ctx context.Context, tx pgx.Tx, appointmentID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = 'void', updated_at = now()
		WHERE appointment_id = $1 AND status = 'pending'
	`, appointmentID)
	return err
}

// InsertProviderEvent dedups webhook deliveries on (provider, event id).
func (r *Repository) InsertProviderEvent(ctx context.Context, tx pgx.Tx, evt ProviderEvent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO billing_provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
	`, evt.Provider, evt.ProviderEventID, evt.EventType, evt.Payload)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateProviderEvent
		}
		return err
	}
	return nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
