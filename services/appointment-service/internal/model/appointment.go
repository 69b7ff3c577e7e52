package model

import (
	"time"

	"github.com/telecare-platform/telecare/libs/auth"
)

// Status is the appointment lifecycle state.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo encodes the allowed lifecycle moves:
// scheduled -> confirmed|cancelled, confirmed -> completed|cancelled.
// Completed and cancelled are terminal.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusScheduled:
		return next == StatusConfirmed || next == StatusCancelled
	case StatusConfirmed:
		return next == StatusCompleted || next == StatusCancelled
	}
	return false
}

// ConsultationType is how the encounter is held.
type ConsultationType string

const (
	TypeVideo ConsultationType = "video"
	TypePhone ConsultationType = "phone"
	TypeChat  ConsultationType = "chat"
)

func (t ConsultationType) Valid() bool {
	switch t {
	case TypeVideo, TypePhone, TypeChat:
		return true
	}
	return false
}

// Appointment is a scheduled encounter between one patient and one doctor.
type Appointment struct {
	ID              string
	PatientID       string
	PatientName     string
	PatientEmail    string
	PatientPhone    string
	DoctorID        string
	DoctorName      string
	ScheduledAt     time.Time
	DurationMinutes int
	Type            ConsultationType
	Reason          string
	FeeCents        int64
	Status          Status
	CreatedBy       string
	CreatedByRole   auth.Role
	CancelledAt     *time.Time
	CancelReason    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a Appointment) End() time.Time {
	return a.ScheduledAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}
