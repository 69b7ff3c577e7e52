package feeds

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/telecare-platform/telecare/services/realtime-service/internal/model"
	"github.com/telecare-platform/telecare/services/realtime-service/internal/subscriptions"
)

type noopSource struct{}

func (noopSource) Load(context.Context) ([]model.Appointment, []model.Doctor, error) {
	return nil, nil, nil
}

type staticTreatments struct {
	treatments []model.Treatment
}

func (s staticTreatments) ListTreatments(context.Context, string) ([]model.Treatment, error) {
	return s.treatments, nil
}

func testHub() *subscriptions.Hub {
	return subscriptions.NewHub(noopSource{}, slog.New(slog.DiscardHandler), subscriptions.Config{})
}

func apply(hub *subscriptions.Hub, a model.Appointment) {
	hub.Apply(subscriptions.Delta{Kind: subscriptions.DeltaCreated, AppointmentID: a.ID, Appointment: &a})
}

func TestDoctorFeed_TracksOnlyOwnSchedule(t *testing.T) {
	hub := testHub()
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	feed := NewDoctorFeed(hub, "doc-1")
	defer feed.Close()
	feed.nowFn = func() time.Time { return now }

	apply(hub, model.Appointment{ID: "a1", DoctorID: "doc-1", ScheduledAt: now.Add(time.Hour), Status: model.StatusScheduled})
	apply(hub, model.Appointment{ID: "a2", DoctorID: "doc-2", ScheduledAt: now.Add(time.Hour), Status: model.StatusScheduled})
	apply(hub, model.Appointment{ID: "a3", DoctorID: "doc-1", ScheduledAt: now.Add(26 * time.Hour), Status: model.StatusConfirmed})

	if got := feed.Appointments(); len(got) != 2 {
		t.Fatalf("expected 2 appointments for doc-1, got %d", len(got))
	}
	today := feed.Today()
	if len(today) != 1 || today[0].ID != "a1" {
		t.Fatalf("expected only a1 today, got %+v", today)
	}
	if got := feed.Upcoming(); len(got) != 2 {
		t.Fatalf("expected 2 upcoming, got %d", len(got))
	}
	if feed.PendingCount() != 1 {
		t.Fatalf("expected 1 pending, got %d", feed.PendingCount())
	}
}

func TestDoctorFeed_UpdatesOnHubChanges(t *testing.T) {
	hub := testHub()
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	feed := NewDoctorFeed(hub, "doc-1")
	defer feed.Close()
	feed.nowFn = func() time.Time { return now }

	apply(hub, model.Appointment{ID: "a1", DoctorID: "doc-1", ScheduledAt: now.Add(time.Hour), Status: model.StatusScheduled})
	if feed.PendingCount() != 1 {
		t.Fatal("expected pending appointment")
	}

	confirmed := model.Appointment{ID: "a1", DoctorID: "doc-1", ScheduledAt: now.Add(time.Hour), Status: model.StatusConfirmed}
	hub.Apply(subscriptions.Delta{Kind: subscriptions.DeltaUpdated, AppointmentID: "a1", Appointment: &confirmed})
	if feed.PendingCount() != 0 {
		t.Fatalf("expected 0 pending after confirmation, got %d", feed.PendingCount())
	}

	hub.Apply(subscriptions.Delta{Kind: subscriptions.DeltaDeleted, AppointmentID: "a1"})
	if len(feed.Appointments()) != 0 {
		t.Fatal("expected empty feed after delete")
	}
}

func TestPatientFeed_ExpiringTreatments(t *testing.T) {
	hub := testHub()
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	feed := NewPatientFeed(hub, staticTreatments{treatments: []model.Treatment{
		{ID: "t1", Status: model.TreatmentActive, ExpiresAt: now.Add(3 * 24 * time.Hour)},
		{ID: "t2", Status: model.TreatmentActive, ExpiresAt: now.Add(30 * 24 * time.Hour)},
		{ID: "t3", Status: model.TreatmentCompleted, ExpiresAt: now.Add(2 * 24 * time.Hour)},
		{ID: "t4", Status: model.TreatmentActive, ExpiresAt: now.Add(-time.Hour)},
	}}, "pat-1")
	defer feed.Close()
	feed.nowFn = func() time.Time { return now }

	expiring, err := feed.ExpiringTreatments(context.Background())
	if err != nil {
		t.Fatalf("expiring treatments: %v", err)
	}
	if len(expiring) != 1 || expiring[0].ID != "t1" {
		t.Fatalf("expected only t1 expiring within a week, got %+v", expiring)
	}
}

func TestSecretaryFeed_SeesEverything(t *testing.T) {
	hub := testHub()
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	feed := NewSecretaryFeed(hub)
	defer feed.Close()
	feed.nowFn = func() time.Time { return now }

	apply(hub, model.Appointment{ID: "a1", DoctorID: "doc-1", PatientID: "pat-1", ScheduledAt: now.Add(time.Hour), Status: model.StatusScheduled})
	apply(hub, model.Appointment{ID: "a2", DoctorID: "doc-2", PatientID: "pat-2", ScheduledAt: now.Add(2 * time.Hour), Status: model.StatusScheduled})

	if got := feed.Appointments(); len(got) != 2 {
		t.Fatalf("expected practice-wide view, got %d", len(got))
	}
	if feed.PendingCount() != 2 {
		t.Fatalf("expected 2 pending, got %d", feed.PendingCount())
	}
}
