package model

import "time"

type TreatmentStatus string

const (
	TreatmentActive       TreatmentStatus = "active"
	TreatmentCompleted    TreatmentStatus = "completed"
	TreatmentDiscontinued TreatmentStatus = "discontinued"
)

// Treatment is a prescribed medication course tied to a consultation.
type Treatment struct {
	ID            string
	PatientID     string
	AppointmentID string
	Medication    string
	Dosage        string
	Status        TreatmentStatus
	StartedAt     time.Time
	ExpiresAt     time.Time
	CreatedAt     time.Time
}
