package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/telecare-platform/telecare/libs/db"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/model"
)

type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

func (r *AppointmentRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const appointmentColumns = `id, patient_id, patient_name, patient_email, patient_phone,
	doctor_id, doctor_name, scheduled_at, duration_minutes, type, reason, fee_cents,
	status, created_by, created_by_role, cancelled_at, COALESCE(cancel_reason, ''), created_at, updated_at`

func (r *AppointmentRepository) Create(ctx context.Context, tx pgx.Tx, appt *model.Appointment) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO appointments
			(patient_id, patient_name, patient_email, patient_phone, doctor_id, doctor_name,
			scheduled_at, duration_minutes, type, reason, fee_cents, status, created_by, created_by_role)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`, appt.PatientID, appt.PatientName, appt.PatientEmail, appt.PatientPhone,
		appt.DoctorID, appt.DoctorName, appt.ScheduledAt, appt.DurationMinutes,
		string(appt.Type), appt.Reason, appt.FeeCents, string(appt.Status),
		appt.CreatedBy, string(appt.CreatedByRole)).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// UpdateParams carries the partial update: nil fields are left untouched.
// No concurrency token is used; concurrent writers are last-write-wins.
type UpdateParams struct {
	ScheduledAt     *time.Time
	DurationMinutes *int
	Type            *model.ConsultationType
	Reason          *string
	FeeCents        *int64
	Status          *model.Status
}

func (p UpdateParams) Empty() bool {
	return p.ScheduledAt == nil && p.DurationMinutes == nil && p.Type == nil &&
		p.Reason == nil && p.FeeCents == nil && p.Status == nil
}

func (r *AppointmentRepository) Update(ctx context.Context, tx pgx.Tx, id string, p UpdateParams) error {
	sets := []string{"updated_at = now()"}
	args := []any{id}
	add := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if p.ScheduledAt != nil {
		add("scheduled_at", *p.ScheduledAt)
	}
	if p.DurationMinutes != nil {
		add("duration_minutes", *p.DurationMinutes)
	}
	if p.Type != nil {
		add("type", string(*p.Type))
	}
	if p.Reason != nil {
		add("reason", *p.Reason)
	}
	if p.FeeCents != nil {
		add("fee_cents", *p.FeeCents)
	}
	if p.Status != nil {
		add("status", string(*p.Status))
	}

	tag, err := tx.Exec(ctx,
		"UPDATE appointments SET "+strings.Join(sets, ", ")+" WHERE id = $1", args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *AppointmentRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.Appointment, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

func (r *AppointmentRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *AppointmentRepository) Delete(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListQuery narrows List; zero values and nil bounds mean "no constraint".
type ListQuery struct {
	DoctorID  string
	PatientID string
	Statuses  []model.Status
	From      *time.Time
	To        *time.Time
	Limit     int
}

func (r *AppointmentRepository) List(ctx context.Context, q ListQuery) ([]model.Appointment, error) {
	where := []string{"true"}
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if q.DoctorID != "" {
		add("doctor_id = $%d", q.DoctorID)
	}
	if q.PatientID != "" {
		add("patient_id = $%d", q.PatientID)
	}
	if len(q.Statuses) > 0 {
		statuses := make([]string, 0, len(q.Statuses))
		for _, s := range q.Statuses {
			statuses = append(statuses, string(s))
		}
		add("status = ANY($%d)", statuses)
	}
	if q.From != nil {
		add("scheduled_at >= $%d", *q.From)
	}
	if q.To != nil {
		add("scheduled_at < $%d", *q.To)
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE %s
		ORDER BY scheduled_at ASC
		LIMIT $%d
	`, strings.Join(where, " AND "), len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

// ListBookedIntervals returns non-cancelled appointments for one doctor that
// overlap [start, end), ordered by start time. Feeds slot computation.
func (r *AppointmentRepository) ListBookedIntervals(ctx context.Context, doctorID string, start, end time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
			AND status IN ('scheduled', 'confirmed')
			AND scheduled_at < $3
			AND scheduled_at + make_interval(mins => duration_minutes) > $2
		ORDER BY scheduled_at ASC
	`, doctorID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (model.Appointment, error) {
	var appt model.Appointment
	var cancelledAt *time.Time
	var typ, status, role string
	err := row.Scan(
		&appt.ID,
		&appt.PatientID,
		&appt.PatientName,
		&appt.PatientEmail,
		&appt.PatientPhone,
		&appt.DoctorID,
		&appt.DoctorName,
		&appt.ScheduledAt,
		&appt.DurationMinutes,
		&typ,
		&appt.Reason,
		&appt.FeeCents,
		&status,
		&appt.CreatedBy,
		&role,
		&cancelledAt,
		&appt.CancelReason,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Type = model.ConsultationType(typ)
	appt.Status = model.Status(status)
	appt.CreatedByRole = roleFromString(role)
	appt.CancelledAt = cancelledAt
	return appt, nil
}

func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "23P01" || pgErr.Code == "23505")
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
