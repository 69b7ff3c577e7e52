package feeds

import (
	"context"
	"sync"
	"time"

	"github.com/telecare-platform/telecare/services/realtime-service/internal/model"
	"github.com/telecare-platform/telecare/services/realtime-service/internal/subscriptions"
)

// TreatmentSource serves the patient feed's treatment panel. Treatments
// change rarely, so they are read on demand instead of streamed.
type TreatmentSource interface {
	ListTreatments(ctx context.Context, patientID string) ([]model.Treatment, error)
}

// ExpiryWindow is how far ahead the patient feed warns about treatments
// running out.
const ExpiryWindow = 7 * 24 * time.Hour

// Feed is one portal session's live view: a snapshot scoped to the session's
// role, refreshed by the hub on every relevant change.
type Feed struct {
	mu    sync.RWMutex
	snap  subscriptions.Snapshot
	unsub func()
	nowFn func() time.Time
}

func (f *Feed) accept(s subscriptions.Snapshot) {
	f.mu.Lock()
	f.snap = s
	f.mu.Unlock()
}

// Close cancels the underlying subscription.
func (f *Feed) Close() {
	if f.unsub != nil {
		f.unsub()
	}
}

// Appointments returns the current scoped snapshot.
func (f *Feed) Appointments() subscriptions.Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snap
}

// Today returns appointments whose start falls on the current calendar day,
// cancelled ones excluded.
func (f *Feed) Today() []model.Appointment {
	now := f.nowFn()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []model.Appointment
	for _, a := range f.snap {
		if a.Status == model.StatusCancelled {
			continue
		}
		if !a.ScheduledAt.Before(dayStart) && a.ScheduledAt.Before(dayEnd) {
			out = append(out, a)
		}
	}
	return out
}

// Upcoming returns future non-cancelled appointments in chronological order.
func (f *Feed) Upcoming() []model.Appointment {
	now := f.nowFn()
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []model.Appointment
	for _, a := range f.snap {
		if a.Status == model.StatusCancelled || a.Status == model.StatusCompleted {
			continue
		}
		if a.ScheduledAt.After(now) {
			out = append(out, a)
		}
	}
	return out
}

// PendingCount is the number of appointments still awaiting confirmation.
func (f *Feed) PendingCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := 0
	for _, a := range f.snap {
		if a.Status == model.StatusScheduled {
			n++
		}
	}
	return n
}

// DoctorFeed scopes the live view to one doctor's schedule.
type DoctorFeed struct {
	Feed
	DoctorID string
}

func NewDoctorFeed(hub *subscriptions.Hub, doctorID string) *DoctorFeed {
	f := &DoctorFeed{DoctorID: doctorID}
	f.nowFn = time.Now
	f.unsub = hub.SubscribeAppointments(subscriptions.Filter{DoctorID: doctorID}, f.accept)
	return f
}

// PatientFeed scopes the live view to one patient's appointments and adds
// the treatment panel.
type PatientFeed struct {
	Feed
	PatientID  string
	treatments TreatmentSource
}

func NewPatientFeed(hub *subscriptions.Hub, treatments TreatmentSource, patientID string) *PatientFeed {
	f := &PatientFeed{PatientID: patientID, treatments: treatments}
	f.nowFn = time.Now
	f.unsub = hub.SubscribeAppointments(subscriptions.Filter{PatientID: patientID}, f.accept)
	return f
}

func (f *PatientFeed) Treatments(ctx context.Context) ([]model.Treatment, error) {
	if f.treatments == nil {
		return nil, nil
	}
	return f.treatments.ListTreatments(ctx, f.PatientID)
}

// ExpiringTreatments returns active treatments that run out within
// ExpiryWindow, for the renewal banner.
func (f *PatientFeed) ExpiringTreatments(ctx context.Context) ([]model.Treatment, error) {
	all, err := f.Treatments(ctx)
	if err != nil {
		return nil, err
	}
	now := f.nowFn()
	var out []model.Treatment
	for _, t := range all {
		if t.ExpiringWithin(now, ExpiryWindow) {
			out = append(out, t)
		}
	}
	return out, nil
}

// SecretaryFeed sees the whole practice: every appointment, unscoped.
type SecretaryFeed struct {
	Feed
}

func NewSecretaryFeed(hub *subscriptions.Hub) *SecretaryFeed {
	f := &SecretaryFeed{}
	f.nowFn = time.Now
	f.unsub = hub.SubscribeAppointments(subscriptions.Filter{}, f.accept)
	return f
}
