package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/telecare-platform/telecare/libs/auth"
	"github.com/telecare-platform/telecare/libs/db"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/model"
)

type DoctorRepository struct {
	pool *db.Pool
}

func NewDoctorRepository(pool *db.Pool) *DoctorRepository {
	return &DoctorRepository{pool: pool}
}

const doctorColumns = `id, first_name, last_name, specialty, email, phone,
	consultation_fee_cents, verified, working_hours, created_at`

func (r *DoctorRepository) Get(ctx context.Context, id string) (model.Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *DoctorRepository) List(ctx context.Context) ([]model.Doctor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		ORDER BY last_name, first_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var doctors []model.Doctor
	for rows.Next() {
		doc, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		doctors = append(doctors, doc)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return doctors, nil
}

func scanDoctor(row rowScanner) (model.Doctor, error) {
	var doc model.Doctor
	var hoursRaw []byte
	err := row.Scan(
		&doc.ID,
		&doc.FirstName,
		&doc.LastName,
		&doc.Specialty,
		&doc.Email,
		&doc.Phone,
		&doc.ConsultationFeeCents,
		&doc.Verified,
		&hoursRaw,
		&doc.CreatedAt,
	)
	if err != nil {
		return model.Doctor{}, err
	}
	if len(hoursRaw) > 0 {
		// Stored as {"1": {"start":"08:00","end":"18:00"}, ...} keyed by weekday number.
		var byDay map[string]model.DayWindow
		if err := json.Unmarshal(hoursRaw, &byDay); err != nil {
			return model.Doctor{}, err
		}
		doc.WorkingHours = map[time.Weekday]model.DayWindow{}
		for k, w := range byDay {
			if len(k) == 1 && k[0] >= '0' && k[0] <= '6' {
				doc.WorkingHours[time.Weekday(k[0]-'0')] = w
			}
		}
	}
	return doc, nil
}

func roleFromString(s string) auth.Role {
	r := auth.Role(s)
	if !r.Valid() {
		return ""
	}
	return r
}
