package model

import "time"

// Status mirrors the appointment lifecycle the portal renders. The realtime
// layer never mutates appointments; it only projects them.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Appointment is the read-model row pushed to portal sessions.
type Appointment struct {
	ID              string    `json:"appointment_id"`
	PatientID       string    `json:"patient_id"`
	PatientName     string    `json:"patient_name"`
	DoctorID        string    `json:"doctor_id"`
	DoctorName      string    `json:"doctor_name"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Type            string    `json:"type"`
	Reason          string    `json:"reason,omitempty"`
	FeeCents        int64     `json:"fee_cents"`
	Status          Status    `json:"status"`
}

func (a Appointment) End() time.Time {
	return a.ScheduledAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

type Doctor struct {
	ID        string `json:"doctor_id"`
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
	FeeCents  int64  `json:"fee_cents"`
	Verified  bool   `json:"verified"`
}

type TreatmentStatus string

const (
	TreatmentActive       TreatmentStatus = "active"
	TreatmentCompleted    TreatmentStatus = "completed"
	TreatmentDiscontinued TreatmentStatus = "discontinued"
)

type Treatment struct {
	ID         string          `json:"treatment_id"`
	PatientID  string          `json:"patient_id"`
	DoctorID   string          `json:"doctor_id"`
	Medication string          `json:"medication"`
	Dosage     string          `json:"dosage,omitempty"`
	Status     TreatmentStatus `json:"status"`
	ExpiresAt  time.Time       `json:"expires_at"`
}

// ExpiringWithin reports whether an active treatment runs out inside the
// given window starting at now.
func (t Treatment) ExpiringWithin(now time.Time, window time.Duration) bool {
	if t.Status != TreatmentActive {
		return false
	}
	return !t.ExpiresAt.Before(now) && t.ExpiresAt.Before(now.Add(window))
}
