package subscriptions

import (
	"time"

	"github.com/telecare-platform/telecare/services/realtime-service/internal/model"
)

// Filter narrows an appointment subscription. Zero-value fields do not
// constrain; a zero Filter matches everything.
type Filter struct {
	DoctorID  string
	PatientID string
	Statuses  []model.Status
	From      *time.Time
	To        *time.Time
}

func (f Filter) Matches(a model.Appointment) bool {
	if f.DoctorID != "" && a.DoctorID != f.DoctorID {
		return false
	}
	if f.PatientID != "" && a.PatientID != f.PatientID {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if a.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.From != nil && a.ScheduledAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !a.ScheduledAt.Before(*f.To) {
		return false
	}
	return true
}
