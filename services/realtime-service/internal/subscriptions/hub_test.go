package subscriptions

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/telecare-platform/telecare/services/realtime-service/internal/model"
)

type fakeSource struct {
	mu       sync.Mutex
	failures int
	loads    int
	appts    []model.Appointment
	doctors  []model.Doctor
}

func (f *fakeSource) Load(context.Context) ([]model.Appointment, []model.Doctor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.failures > 0 {
		f.failures--
		return nil, nil, errors.New("store unreachable")
	}
	return f.appts, f.doctors, nil
}

func newTestHub(src *fakeSource) *Hub {
	return NewHub(src, slog.New(slog.DiscardHandler), Config{ReconnectDelay: time.Second, MaxAttempts: 5})
}

func appt(id, doctorID, patientID string, at time.Time, status model.Status) model.Appointment {
	return model.Appointment{
		ID:          id,
		DoctorID:    doctorID,
		PatientID:   patientID,
		ScheduledAt: at,
		Status:      status,
	}
}

func TestSubscribe_DeliversInitialSnapshotFiltered(t *testing.T) {
	hub := newTestHub(&fakeSource{})
	base := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	hub.Apply(Delta{Kind: DeltaCreated, AppointmentID: "a1", Appointment: ptr(appt("a1", "doc-1", "pat-1", base, model.StatusScheduled))})
	hub.Apply(Delta{Kind: DeltaCreated, AppointmentID: "a2", Appointment: ptr(appt("a2", "doc-2", "pat-1", base.Add(time.Hour), model.StatusScheduled))})

	var got Snapshot
	unsub := hub.SubscribeAppointments(Filter{DoctorID: "doc-1"}, func(s Snapshot) { got = s })
	defer unsub()

	if len(got) != 1 || got[0].ID != "a1" {
		t.Fatalf("expected initial snapshot with a1 only, got %+v", got)
	}
}

func TestApply_NotifiesOnlyTouchedFilters(t *testing.T) {
	hub := newTestHub(&fakeSource{})
	base := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)

	var doc1Calls, doc2Calls int
	unsub1 := hub.SubscribeAppointments(Filter{DoctorID: "doc-1"}, func(Snapshot) { doc1Calls++ })
	defer unsub1()
	unsub2 := hub.SubscribeAppointments(Filter{DoctorID: "doc-2"}, func(Snapshot) { doc2Calls++ })
	defer unsub2()
	doc1Calls, doc2Calls = 0, 0 // drop the initial deliveries

	hub.Apply(Delta{Kind: DeltaCreated, AppointmentID: "a1", Appointment: ptr(appt("a1", "doc-1", "pat-1", base, model.StatusScheduled))})
	if doc1Calls != 1 || doc2Calls != 0 {
		t.Fatalf("expected only doc-1 subscriber notified, got doc1=%d doc2=%d", doc1Calls, doc2Calls)
	}
}

func TestApply_UpdateMovingOutOfFilterStillNotifies(t *testing.T) {
	hub := newTestHub(&fakeSource{})
	base := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	hub.Apply(Delta{Kind: DeltaCreated, AppointmentID: "a1", Appointment: ptr(appt("a1", "doc-1", "pat-1", base, model.StatusScheduled))})

	var got Snapshot
	unsub := hub.SubscribeAppointments(Filter{Statuses: []model.Status{model.StatusScheduled}}, func(s Snapshot) { got = s })
	defer unsub()
	if len(got) != 1 {
		t.Fatalf("expected one scheduled appointment, got %d", len(got))
	}

	// Confirming moves it out of the filter; the subscriber must still learn
	// that its view shrank.
	confirmed := appt("a1", "doc-1", "pat-1", base, model.StatusConfirmed)
	hub.Apply(Delta{Kind: DeltaUpdated, AppointmentID: "a1", Appointment: &confirmed})
	if len(got) != 0 {
		t.Fatalf("expected empty snapshot after status change, got %+v", got)
	}
}

func TestApply_IdempotentSnapshots(t *testing.T) {
	hub := newTestHub(&fakeSource{})
	base := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	a := appt("a1", "doc-1", "pat-1", base, model.StatusScheduled)

	var snaps []Snapshot
	unsub := hub.SubscribeAppointments(Filter{}, func(s Snapshot) { snaps = append(snaps, s) })
	defer unsub()

	hub.Apply(Delta{Kind: DeltaCreated, AppointmentID: "a1", Appointment: &a})
	hub.Apply(Delta{Kind: DeltaCreated, AppointmentID: "a1", Appointment: &a})

	last := snaps[len(snaps)-1]
	prev := snaps[len(snaps)-2]
	if len(last) != 1 || len(prev) != 1 || last[0] != prev[0] {
		t.Fatalf("redelivered delta must yield identical snapshot: %+v vs %+v", prev, last)
	}

	// Deleting twice: the second delete touches nothing and the projection
	// stays empty.
	hub.Apply(Delta{Kind: DeltaDeleted, AppointmentID: "a1"})
	hub.Apply(Delta{Kind: DeltaDeleted, AppointmentID: "a1"})
	if len(hub.Snapshot(Filter{})) != 0 {
		t.Fatal("expected empty projection after delete")
	}
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	hub := newTestHub(&fakeSource{})
	base := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)

	calls := 0
	unsub := hub.SubscribeAppointments(Filter{}, func(Snapshot) { calls++ })
	unsub()
	calls = 0

	hub.Apply(Delta{Kind: DeltaCreated, AppointmentID: "a1", Appointment: ptr(appt("a1", "doc-1", "pat-1", base, model.StatusScheduled))})
	if calls != 0 {
		t.Fatalf("unsubscribed callback invoked %d times", calls)
	}
}

func TestSnapshot_SortedByScheduledAt(t *testing.T) {
	hub := newTestHub(&fakeSource{})
	base := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	hub.Apply(Delta{Kind: DeltaCreated, AppointmentID: "late", Appointment: ptr(appt("late", "doc-1", "p", base.Add(2*time.Hour), model.StatusScheduled))})
	hub.Apply(Delta{Kind: DeltaCreated, AppointmentID: "early", Appointment: ptr(appt("early", "doc-1", "p", base, model.StatusScheduled))})

	snap := hub.Snapshot(Filter{})
	if len(snap) != 2 || snap[0].ID != "early" || snap[1].ID != "late" {
		t.Fatalf("expected chronological order, got %+v", snap)
	}
}

func TestRun_LinearBackoffThenParks(t *testing.T) {
	src := &fakeSource{failures: 100}
	hub := newTestHub(src)

	var delays []time.Duration
	hub.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	parked := make(chan struct{})
	hub.SubscribeState(func(s ConnState) {
		if s == StateError {
			select {
			case <-parked:
			default:
				close(parked)
			}
		}
	})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	select {
	case <-parked:
	case <-time.After(2 * time.Second):
		t.Fatal("hub never reached error state")
	}

	want := []time.Duration{1 * time.Second, 2 * time.Second, 3 * time.Second, 4 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("expected %d retry delays, got %v", len(want), delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("expected linear backoff %v, got %v", want, delays)
		}
	}
	if hub.State() != StateError {
		t.Fatalf("expected error state, got %s", hub.State())
	}

	// Manual reconnect resets the budget; with the source healthy again the
	// hub comes back up.
	src.mu.Lock()
	src.failures = 0
	src.appts = []model.Appointment{appt("a1", "doc-1", "pat-1", time.Now(), model.StatusScheduled)}
	src.mu.Unlock()

	connected := make(chan struct{})
	hub.SubscribeState(func(s ConnState) {
		if s == StateConnected {
			select {
			case <-connected:
			default:
				close(connected)
			}
		}
	})
	hub.Reconnect()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not reconnect after manual Reconnect")
	}
	if len(hub.Snapshot(Filter{})) != 1 {
		t.Fatal("expected reseeded snapshot after reconnect")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run loop did not stop on cancel")
	}
}

func TestSubscribeDoctors(t *testing.T) {
	hub := newTestHub(&fakeSource{})

	var got []model.Doctor
	unsub := hub.SubscribeDoctors(func(d []model.Doctor) { got = d })
	defer unsub()
	if len(got) != 0 {
		t.Fatalf("expected empty initial directory, got %+v", got)
	}

	hub.ApplyDoctor(model.Doctor{ID: "doc-2", Name: "Zane"})
	hub.ApplyDoctor(model.Doctor{ID: "doc-1", Name: "Ada"})
	if len(got) != 2 || got[0].Name != "Ada" {
		t.Fatalf("expected name-sorted directory, got %+v", got)
	}
}

func ptr(a model.Appointment) *model.Appointment { return &a }
