package model

import "time"

// DayWindow is a working window on one weekday, minutes-of-day resolution
// ("08:00"–"18:00" style wall-clock labels).
type DayWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Doctor is a practitioner available for scheduling. Read-mostly from the
// appointment layer's perspective; the directory owns mutations.
type Doctor struct {
	ID                   string
	FirstName            string
	LastName             string
	Specialty            string
	Email                string
	Phone                string
	ConsultationFeeCents int64
	Verified             bool
	// WorkingHours keys are weekdays; absent weekday means off duty.
	WorkingHours map[time.Weekday]DayWindow
	CreatedAt    time.Time
}

func (d Doctor) FullName() string {
	return d.FirstName + " " + d.LastName
}
