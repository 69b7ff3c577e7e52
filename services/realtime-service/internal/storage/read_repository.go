package storage

import (
	"context"
	"time"

	"github.com/telecare-platform/telecare/libs/db"
	"github.com/telecare-platform/telecare/services/realtime-service/internal/model"
)

// ReadRepository seeds the hub from the appointment store. It only ever
// reads; all writes go through the appointment service.
type ReadRepository struct {
	pool *db.Pool
	// Horizon bounds the seeded snapshot: appointments older than this are
	// history the portal never renders live.
	Horizon time.Duration
}

func NewReadRepository(pool *db.Pool) *ReadRepository {
	return &ReadRepository{pool: pool, Horizon: 30 * 24 * time.Hour}
}

func (r *ReadRepository) Load(ctx context.Context) ([]model.Appointment, []model.Doctor, error) {
	since := time.Now().UTC().Add(-r.Horizon)

	rows, err := r.pool.Query(ctx, `
		SELECT id, patient_id, patient_name, doctor_id, doctor_name,
		       scheduled_at, duration_minutes, type, reason, fee_cents, status
		FROM appointments
		WHERE scheduled_at >= $1
		ORDER BY scheduled_at
	`, since)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		var a model.Appointment
		if err := rows.Scan(
			&a.ID,
			&a.PatientID,
			&a.PatientName,
			&a.DoctorID,
			&a.DoctorName,
			&a.ScheduledAt,
			&a.DurationMinutes,
			&a.Type,
			&a.Reason,
			&a.FeeCents,
			&a.Status,
		); err != nil {
			return nil, nil, err
		}
		appts = append(appts, a)
	}
	if rows.Err() != nil {
		return nil, nil, rows.Err()
	}

	docRows, err := r.pool.Query(ctx, `
		SELECT id, first_name || ' ' || last_name, specialty, consultation_fee_cents, verified
		FROM doctors
		ORDER BY last_name, first_name
	`)
	if err != nil {
		return nil, nil, err
	}
	defer docRows.Close()

	var doctors []model.Doctor
	for docRows.Next() {
		var d model.Doctor
		if err := docRows.Scan(&d.ID, &d.Name, &d.Specialty, &d.FeeCents, &d.Verified); err != nil {
			return nil, nil, err
		}
		doctors = append(doctors, d)
	}
	if docRows.Err() != nil {
		return nil, nil, docRows.Err()
	}
	return appts, doctors, nil
}

func (r *ReadRepository) ListTreatments(ctx context.Context, patientID string) ([]model.Treatment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, patient_id, doctor_id, medication, dosage, status, expires_at
		FROM treatments
		WHERE patient_id = $1
		ORDER BY expires_at
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var treatments []model.Treatment
	for rows.Next() {
		var t model.Treatment
		if err := rows.Scan(&t.ID, &t.PatientID, &t.DoctorID, &t.Medication, &t.Dosage, &t.Status, &t.ExpiresAt); err != nil {
			return nil, err
		}
		treatments = append(treatments, t)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return treatments, nil
}
