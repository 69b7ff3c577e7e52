package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/telecare-platform/telecare/libs/db"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/model"
)

type TreatmentRepository struct {
	pool *db.Pool
}

func NewTreatmentRepository(pool *db.Pool) *TreatmentRepository {
	return &TreatmentRepository{pool: pool}
}

const treatmentColumns = `id, patient_id, appointment_id, medication, dosage, status,
	started_at, expires_at, created_at`

func (r *TreatmentRepository) Create(ctx context.Context, tx pgx.Tx, t *model.Treatment) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO treatments
			(patient_id, appointment_id, medication, dosage, status, started_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, t.PatientID, t.AppointmentID, t.Medication, t.Dosage, string(t.Status),
		t.StartedAt, t.ExpiresAt).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *TreatmentRepository) ListByPatient(ctx context.Context, patientID string) ([]model.Treatment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+treatmentColumns+`
		FROM treatments
		WHERE patient_id = $1
		ORDER BY expires_at ASC
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTreatments(rows)
}

func (r *TreatmentRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status model.TreatmentStatus) error {
	tag, err := tx.Exec(ctx, `
		UPDATE treatments SET status = $2 WHERE id = $1
	`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func collectTreatments(rows pgx.Rows) ([]model.Treatment, error) {
	var out []model.Treatment
	for rows.Next() {
		var t model.Treatment
		var status string
		if err := rows.Scan(
			&t.ID,
			&t.PatientID,
			&t.AppointmentID,
			&t.Medication,
			&t.Dosage,
			&status,
			&t.StartedAt,
			&t.ExpiresAt,
			&t.CreatedAt,
		); err != nil {
			return nil, err
		}
		t.Status = model.TreatmentStatus(status)
		out = append(out, t)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
