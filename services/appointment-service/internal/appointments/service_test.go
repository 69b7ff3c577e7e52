package appointments

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/telecare-platform/telecare/libs/auth"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/availability"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/model"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/outbox"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/storage"
)

// fakeTx satisfies pgx.Tx for the methods the service touches.
type fakeTx struct {
	pgx.Tx
	committed bool
}

func (t *fakeTx) Commit(context.Context) error   { t.committed = true; return nil }
func (t *fakeTx) Rollback(context.Context) error { return nil }

type fakeStore struct {
	beginErr  error
	createErr error
	appts     map[string]model.Appointment
	nextID    string
	booked    []model.Appointment
	bookedErr error
	lastTx    *fakeTx
}

func (f *fakeStore) Begin(context.Context) (pgx.Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	f.lastTx = &fakeTx{}
	return f.lastTx, nil
}

func (f *fakeStore) Create(_ context.Context, _ pgx.Tx, appt *model.Appointment) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	if f.appts == nil {
		f.appts = map[string]model.Appointment{}
	}
	appt.ID = f.nextID
	f.appts[f.nextID] = *appt
	return f.nextID, nil
}

func (f *fakeStore) Update(_ context.Context, _ pgx.Tx, id string, p storage.UpdateParams) error {
	appt, ok := f.appts[id]
	if !ok {
		return pgx.ErrNoRows
	}
	if p.Status != nil {
		appt.Status = *p.Status
	}
	if p.ScheduledAt != nil {
		appt.ScheduledAt = *p.ScheduledAt
	}
	if p.DurationMinutes != nil {
		appt.DurationMinutes = *p.DurationMinutes
	}
	f.appts[id] = appt
	return nil
}

func (f *fakeStore) GetForUpdate(_ context.Context, _ pgx.Tx, id string) (model.Appointment, error) {
	appt, ok := f.appts[id]
	if !ok {
		return model.Appointment{}, pgx.ErrNoRows
	}
	return appt, nil
}

func (f *fakeStore) Get(_ context.Context, id string) (model.Appointment, error) {
	appt, ok := f.appts[id]
	if !ok {
		return model.Appointment{}, pgx.ErrNoRows
	}
	return appt, nil
}

func (f *fakeStore) Delete(_ context.Context, _ pgx.Tx, id string) error {
	if _, ok := f.appts[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(f.appts, id)
	return nil
}

func (f *fakeStore) List(context.Context, storage.ListQuery) ([]model.Appointment, error) {
	out := make([]model.Appointment, 0, len(f.appts))
	for _, a := range f.appts {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeStore) ListBookedIntervals(context.Context, string, time.Time, time.Time) ([]model.Appointment, error) {
	if f.bookedErr != nil {
		return nil, f.bookedErr
	}
	return f.booked, nil
}

type fakeDoctors struct {
	doc model.Doctor
	err error
}

func (f *fakeDoctors) Get(context.Context, string) (model.Doctor, error) {
	if f.err != nil {
		return model.Doctor{}, f.err
	}
	return f.doc, nil
}

func (f *fakeDoctors) List(context.Context) ([]model.Doctor, error) {
	return []model.Doctor{f.doc}, f.err
}

type fakeSink struct {
	events []outbox.Event
	err    error
}

func (f *fakeSink) Insert(_ context.Context, _ pgx.Tx, evt outbox.Event) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, evt)
	return nil
}

type fakeRoster struct {
	hours map[time.Weekday]model.DayWindow
	err   error
}

func (f *fakeRoster) WorkingHours(context.Context, string) (map[time.Weekday]model.DayWindow, error) {
	return f.hours, f.err
}

func testDoctor() model.Doctor {
	return model.Doctor{
		ID:                   "doc-1",
		FirstName:            "Ada",
		LastName:             "Osei",
		ConsultationFeeCents: 5000,
	}
}

func newTestService(store *fakeStore, docs *fakeDoctors, sink *fakeSink, roster *fakeRoster) *Service {
	s := NewService(store, docs, storage.NewLocalStore(), sink, roster, slog.New(slog.DiscardHandler))
	s.nowFn = func() time.Time { return time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC) }
	return s
}

func validCreate() CreateRequest {
	return CreateRequest{
		PatientID:       "pat-1",
		PatientName:     "Kofi Mensah",
		PatientEmail:    "kofi@example.com",
		DoctorID:        "doc-1",
		ScheduledAt:     time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC),
		DurationMinutes: 30,
		Type:            model.TypeVideo,
	}
}

func TestCreate_RejectsInvalidInput(t *testing.T) {
	s := newTestService(&fakeStore{nextID: "a1"}, &fakeDoctors{doc: testDoctor()}, &fakeSink{}, &fakeRoster{})
	actor := Actor{UserID: "pat-1", Role: auth.RolePatient}

	cases := map[string]func(*CreateRequest){
		"past scheduled_at": func(r *CreateRequest) {
			r.ScheduledAt = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		},
		"zero duration":     func(r *CreateRequest) { r.DurationMinutes = 0 },
		"negative duration": func(r *CreateRequest) { r.DurationMinutes = -15 },
		"missing patient":   func(r *CreateRequest) { r.PatientID = "" },
		"missing doctor":    func(r *CreateRequest) { r.DoctorID = "  " },
		"bad type":          func(r *CreateRequest) { r.Type = "telepathy" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := validCreate()
			mutate(&req)
			if _, err := s.Create(context.Background(), req, actor); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestCreate_PersistsAndEmits(t *testing.T) {
	store := &fakeStore{nextID: "a1"}
	sink := &fakeSink{}
	s := newTestService(store, &fakeDoctors{doc: testDoctor()}, sink, &fakeRoster{})

	out, err := s.Create(context.Background(), validCreate(), Actor{UserID: "pat-1", Role: auth.RolePatient})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if out.Source != SourceLive || out.AppointmentID != "a1" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if !store.lastTx.committed {
		t.Fatal("transaction was not committed")
	}
	appt := store.appts["a1"]
	if appt.DoctorName != "Ada Osei" || appt.FeeCents != 5000 {
		t.Fatalf("doctor snapshot not applied: %+v", appt)
	}
	if appt.Status != model.StatusScheduled {
		t.Fatalf("new appointments must start scheduled, got %s", appt.Status)
	}
	if len(sink.events) != 1 || sink.events[0].EventType != "telecare.appointment.created.v1" {
		t.Fatalf("unexpected events %+v", sink.events)
	}
}

func TestCreate_FallsBackToLocalWhenUnreachable(t *testing.T) {
	store := &fakeStore{beginErr: context.DeadlineExceeded}
	s := newTestService(store, &fakeDoctors{doc: testDoctor()}, &fakeSink{}, &fakeRoster{})

	out, err := s.Create(context.Background(), validCreate(), Actor{UserID: "sec-1", Role: auth.RoleSecretary})
	if err != nil {
		t.Fatalf("degraded create must not fail: %v", err)
	}
	if out.Source != SourceLocal {
		t.Fatalf("expected local source, got %s", out.Source)
	}
	if !strings.HasPrefix(out.AppointmentID, "local-") {
		t.Fatalf("local ids must carry the local- prefix, got %q", out.AppointmentID)
	}
	if got, err := s.Get(context.Background(), out.AppointmentID); err != nil || got.PatientID != "pat-1" {
		t.Fatalf("local appointment not readable: %v %+v", err, got)
	}
}

func TestCreate_UnknownDoctor(t *testing.T) {
	s := newTestService(&fakeStore{}, &fakeDoctors{err: pgx.ErrNoRows}, &fakeSink{}, &fakeRoster{})
	if _, err := s.Create(context.Background(), validCreate(), Actor{Role: auth.RolePatient}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestUpdate_StatusTransitions(t *testing.T) {
	store := &fakeStore{appts: map[string]model.Appointment{
		"a1": {ID: "a1", PatientID: "pat-1", Status: model.StatusCompleted},
	}}
	s := newTestService(store, &fakeDoctors{doc: testDoctor()}, &fakeSink{}, &fakeRoster{})

	sched := model.StatusScheduled
	err := s.Update(context.Background(), "a1", Patch{Status: &sched}, Actor{UserID: "doc-1", Role: auth.RoleDoctor})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("completed appointments are terminal, got %v", err)
	}

	store.appts["a1"] = model.Appointment{ID: "a1", PatientID: "pat-1", Status: model.StatusScheduled}
	confirmed := model.StatusConfirmed
	if err := s.Update(context.Background(), "a1", Patch{Status: &confirmed}, Actor{UserID: "doc-1", Role: auth.RoleDoctor}); err != nil {
		t.Fatalf("scheduled -> confirmed should be allowed: %v", err)
	}
	if store.appts["a1"].Status != model.StatusConfirmed {
		t.Fatalf("status not applied: %+v", store.appts["a1"])
	}
}

func TestUpdate_PatientCannotCancelOthersAppointment(t *testing.T) {
	store := &fakeStore{appts: map[string]model.Appointment{
		"a1": {ID: "a1", PatientID: "pat-1", Status: model.StatusScheduled},
	}}
	s := newTestService(store, &fakeDoctors{doc: testDoctor()}, &fakeSink{}, &fakeRoster{})

	cancelled := model.StatusCancelled
	err := s.Update(context.Background(), "a1", Patch{Status: &cancelled}, Actor{UserID: "pat-2", Role: auth.RolePatient})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestUpdate_EmitsUpdatedEvent(t *testing.T) {
	store := &fakeStore{appts: map[string]model.Appointment{
		"a1": {ID: "a1", PatientID: "pat-1", Status: model.StatusScheduled},
	}}
	sink := &fakeSink{}
	s := newTestService(store, &fakeDoctors{doc: testDoctor()}, sink, &fakeRoster{})

	when := time.Date(2026, 3, 6, 11, 0, 0, 0, time.UTC)
	if err := s.Update(context.Background(), "a1", Patch{ScheduledAt: &when}, Actor{UserID: "sec-1", Role: auth.RoleSecretary}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(sink.events) != 1 || sink.events[0].EventType != "telecare.appointment.updated.v1" {
		t.Fatalf("unexpected events %+v", sink.events)
	}
}

func TestUpdate_NotFound(t *testing.T) {
	s := newTestService(&fakeStore{appts: map[string]model.Appointment{}}, &fakeDoctors{doc: testDoctor()}, &fakeSink{}, &fakeRoster{})
	confirmed := model.StatusConfirmed
	if err := s.Update(context.Background(), "missing", Patch{Status: &confirmed}, Actor{Role: auth.RoleSecretary}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete_RoleRestriction(t *testing.T) {
	store := &fakeStore{appts: map[string]model.Appointment{
		"a1": {ID: "a1", PatientID: "pat-1", Status: model.StatusScheduled},
	}}
	sink := &fakeSink{}
	s := newTestService(store, &fakeDoctors{doc: testDoctor()}, sink, &fakeRoster{})

	if err := s.Delete(context.Background(), "a1", Actor{UserID: "pat-1", Role: auth.RolePatient}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("patients must not delete, got %v", err)
	}
	if err := s.Delete(context.Background(), "a1", Actor{UserID: "sec-1", Role: auth.RoleSecretary}); err != nil {
		t.Fatalf("secretary delete: %v", err)
	}
	if len(store.appts) != 0 {
		t.Fatal("appointment not removed")
	}
	if len(sink.events) != 1 || sink.events[0].EventType != "telecare.appointment.deleted.v1" {
		t.Fatalf("unexpected events %+v", sink.events)
	}
}

func TestConfirmPaid_IdempotentOnConfirmed(t *testing.T) {
	store := &fakeStore{appts: map[string]model.Appointment{
		"a1": {ID: "a1", Status: model.StatusConfirmed},
	}}
	sink := &fakeSink{}
	s := newTestService(store, &fakeDoctors{doc: testDoctor()}, sink, &fakeRoster{})

	if err := s.ConfirmPaid(context.Background(), "a1"); err != nil {
		t.Fatalf("redelivered confirmation must be a no-op: %v", err)
	}
	if len(sink.events) != 0 {
		t.Fatalf("no event expected on no-op, got %+v", sink.events)
	}
}

func TestConfirmPaid_Transitions(t *testing.T) {
	store := &fakeStore{appts: map[string]model.Appointment{
		"a1": {ID: "a1", Status: model.StatusScheduled},
	}}
	s := newTestService(store, &fakeDoctors{doc: testDoctor()}, &fakeSink{}, &fakeRoster{})

	if err := s.ConfirmPaid(context.Background(), "a1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if store.appts["a1"].Status != model.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", store.appts["a1"].Status)
	}
	if err := s.ConfirmPaid(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAvailableSlots_Happy(t *testing.T) {
	day := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC) // Thursday
	store := &fakeStore{booked: []model.Appointment{
		{ScheduledAt: time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC), DurationMinutes: 30, Status: model.StatusScheduled},
	}}
	roster := &fakeRoster{hours: map[time.Weekday]model.DayWindow{
		time.Thursday: {Start: "09:00", End: "11:00"},
	}}
	s := newTestService(store, &fakeDoctors{doc: testDoctor()}, &fakeSink{}, roster)

	res := s.AvailableSlots(context.Background(), "doc-1", day)
	if res.Degraded {
		t.Fatal("unexpected degradation")
	}
	want := []string{"09:30", "10:00", "10:30"}
	if len(res.Labels) != len(want) {
		t.Fatalf("expected %v, got %v", want, res.Labels)
	}
	for i := range want {
		if res.Labels[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, res.Labels)
		}
	}
}

func TestAvailableSlots_DegradesNeverFails(t *testing.T) {
	day := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	fallback := availability.FallbackLabels()

	t.Run("roster error", func(t *testing.T) {
		s := newTestService(&fakeStore{}, &fakeDoctors{doc: testDoctor()}, &fakeSink{}, &fakeRoster{err: errors.New("roster down")})
		res := s.AvailableSlots(context.Background(), "doc-1", day)
		if !res.Degraded || len(res.Labels) != len(fallback) {
			t.Fatalf("expected fallback labels, got %+v", res)
		}
	})

	t.Run("booked lookup error", func(t *testing.T) {
		store := &fakeStore{bookedErr: errors.New("pg down")}
		roster := &fakeRoster{hours: map[time.Weekday]model.DayWindow{time.Thursday: {Start: "09:00", End: "17:00"}}}
		s := newTestService(store, &fakeDoctors{doc: testDoctor()}, &fakeSink{}, roster)
		res := s.AvailableSlots(context.Background(), "doc-1", day)
		if !res.Degraded || len(res.Labels) == 0 {
			t.Fatalf("expected non-empty fallback, got %+v", res)
		}
	})

	t.Run("off-duty day is empty not degraded", func(t *testing.T) {
		roster := &fakeRoster{hours: map[time.Weekday]model.DayWindow{time.Monday: {Start: "09:00", End: "17:00"}}}
		s := newTestService(&fakeStore{}, &fakeDoctors{doc: testDoctor()}, &fakeSink{}, roster)
		res := s.AvailableSlots(context.Background(), "doc-1", day)
		if res.Degraded || len(res.Labels) != 0 {
			t.Fatalf("expected empty non-degraded result, got %+v", res)
		}
	})
}
