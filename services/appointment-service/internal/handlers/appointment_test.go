package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/telecare-platform/telecare/libs/auth"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/appointments"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/model"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/outbox"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/storage"
)

func TestActorFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/appointments", nil)
	if _, ok := actorFromRequest(r); ok {
		t.Fatal("expected no actor without identity headers")
	}

	r.Header.Set("X-User-Id", "user-1")
	r.Header.Set("X-User-Role", "doctor")
	actor, ok := actorFromRequest(r)
	if !ok {
		t.Fatal("expected actor")
	}
	if actor.UserID != "user-1" || actor.Role != auth.RoleDoctor {
		t.Fatalf("unexpected actor %+v", actor)
	}

	r.Header.Set("X-User-Role", "superadmin")
	if _, ok := actorFromRequest(r); ok {
		t.Fatal("unknown roles must be rejected")
	}
}

// queryRecorderStore captures the ListQuery the handler builds; the other
// Store methods are unused by the read paths under test.
type queryRecorderStore struct {
	lastQuery *storage.ListQuery
	appts     []model.Appointment
}

func (s *queryRecorderStore) Begin(context.Context) (pgx.Tx, error) { return nil, pgx.ErrTxClosed }
func (s *queryRecorderStore) Create(context.Context, pgx.Tx, *model.Appointment) (string, error) {
	return "", pgx.ErrTxClosed
}
func (s *queryRecorderStore) Update(context.Context, pgx.Tx, string, storage.UpdateParams) error {
	return pgx.ErrNoRows
}
func (s *queryRecorderStore) GetForUpdate(context.Context, pgx.Tx, string) (model.Appointment, error) {
	return model.Appointment{}, pgx.ErrNoRows
}
func (s *queryRecorderStore) Get(context.Context, string) (model.Appointment, error) {
	return model.Appointment{}, pgx.ErrNoRows
}
func (s *queryRecorderStore) Delete(context.Context, pgx.Tx, string) error { return pgx.ErrNoRows }
func (s *queryRecorderStore) List(_ context.Context, q storage.ListQuery) ([]model.Appointment, error) {
	s.lastQuery = &q
	return s.appts, nil
}
func (s *queryRecorderStore) ListBookedIntervals(context.Context, string, time.Time, time.Time) ([]model.Appointment, error) {
	return nil, nil
}

type stubDoctors struct{}

func (stubDoctors) Get(context.Context, string) (model.Doctor, error) {
	return model.Doctor{ID: "doc-1"}, nil
}
func (stubDoctors) List(context.Context) ([]model.Doctor, error) { return nil, nil }

type stubSink struct{}

func (stubSink) Insert(context.Context, pgx.Tx, outbox.Event) error { return nil }

type stubRoster struct{}

func (stubRoster) WorkingHours(context.Context, string) (map[time.Weekday]model.DayWindow, error) {
	return nil, nil
}

func newTestHandler(store *queryRecorderStore) *AppointmentHandler {
	logger := slog.New(slog.DiscardHandler)
	svc := appointments.NewService(store, stubDoctors{}, storage.NewLocalStore(), stubSink{}, stubRoster{}, logger)
	return NewAppointmentHandler(svc, logger)
}

func TestList_DateRangeAndStatusFilters(t *testing.T) {
	store := &queryRecorderStore{appts: []model.Appointment{
		{ID: "a1", PatientID: "pat-1", DoctorID: "doc-1", Status: model.StatusScheduled,
			ScheduledAt: time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)},
	}}
	h := newTestHandler(store)

	r := httptest.NewRequest("GET",
		"/api/v1/appointments?status=scheduled,confirmed&from=2026-03-02T00:00:00Z&to=2026-03-09T00:00:00Z", nil)
	r.Header.Set("X-User-Id", "doc-1")
	r.Header.Set("X-User-Role", "doctor")
	w := httptest.NewRecorder()
	h.List(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	q := store.lastQuery
	if q == nil {
		t.Fatal("store was never queried")
	}
	if q.DoctorID != "doc-1" {
		t.Fatalf("doctors default to their own schedule, got doctor_id %q", q.DoctorID)
	}
	if len(q.Statuses) != 2 || q.Statuses[0] != model.StatusScheduled || q.Statuses[1] != model.StatusConfirmed {
		t.Fatalf("unexpected status filter %v", q.Statuses)
	}
	if q.From == nil || !q.From.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("from bound not applied: %v", q.From)
	}
	if q.To == nil || !q.To.Equal(time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("to bound not applied: %v", q.To)
	}

	var items []appointmentItem
	if err := json.Unmarshal(w.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(items) != 1 || items[0].AppointmentID != "a1" {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestList_InvalidBoundsRejected(t *testing.T) {
	h := newTestHandler(&queryRecorderStore{})
	for _, target := range []string{
		"/api/v1/appointments?from=yesterday",
		"/api/v1/appointments?to=2026-03-99T00:00:00Z",
		"/api/v1/appointments?status=imaginary",
	} {
		r := httptest.NewRequest("GET", target, nil)
		r.Header.Set("X-User-Id", "sec-1")
		r.Header.Set("X-User-Role", "secretary")
		w := httptest.NewRecorder()
		h.List(w, r)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, w.Code)
		}
	}
}

func TestList_PatientsOnlySeeOwn(t *testing.T) {
	store := &queryRecorderStore{}
	h := newTestHandler(store)

	r := httptest.NewRequest("GET", "/api/v1/appointments?patient_id=pat-2", nil)
	r.Header.Set("X-User-Id", "pat-1")
	r.Header.Set("X-User-Role", "patient")
	w := httptest.NewRecorder()
	h.List(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if store.lastQuery == nil || store.lastQuery.PatientID != "pat-1" {
		t.Fatalf("patient filter must be forced to the caller, got %+v", store.lastQuery)
	}
}

func TestCalendar_WeekGrid(t *testing.T) {
	booked := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC) // Thursday of the selected week
	store := &queryRecorderStore{appts: []model.Appointment{
		{ID: "a1", DoctorID: "doc-1", Status: model.StatusScheduled, ScheduledAt: booked},
	}}
	h := newTestHandler(store)

	r := httptest.NewRequest("GET", "/api/v1/appointments/calendar?doctor_id=doc-1&date=2026-03-04", nil)
	w := httptest.NewRecorder()
	h.Calendar(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	q := store.lastQuery
	if q == nil || q.DoctorID != "doc-1" {
		t.Fatalf("unexpected calendar query %+v", q)
	}
	weekStart := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) // Monday
	if q.From == nil || !q.From.Equal(weekStart) {
		t.Fatalf("calendar must load from the Monday of the week, got %v", q.From)
	}
	if q.To == nil || !q.To.Equal(weekStart.AddDate(0, 0, 7)) {
		t.Fatalf("calendar must load through the following Monday, got %v", q.To)
	}

	var resp calendarResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.WeekStart != "2026-03-02" {
		t.Fatalf("expected week_start 2026-03-02, got %s", resp.WeekStart)
	}
	if len(resp.Days) != 7 {
		t.Fatalf("expected 7 days, got %d", len(resp.Days))
	}
	if len(resp.Labels) != 20 || resp.Labels[0] != "08:00" || resp.Labels[19] != "17:30" {
		t.Fatalf("unexpected time raster %v", resp.Labels)
	}
	for _, day := range resp.Days {
		if len(day.Cells) != len(resp.Labels) {
			t.Fatalf("day %s has %d cells, want %d", day.Date, len(day.Cells), len(resp.Labels))
		}
	}

	thursday := resp.Days[3]
	if thursday.Date != "2026-03-05" {
		t.Fatalf("expected Thursday at index 3, got %s", thursday.Date)
	}
	var found bool
	for _, c := range thursday.Cells {
		if c.Label == "09:00" {
			found = true
			if c.State != "booked" || c.AppointmentID != "a1" || c.Clickable {
				t.Fatalf("expected booked non-clickable cell, got %+v", c)
			}
		}
	}
	if !found {
		t.Fatal("09:00 cell missing from Thursday")
	}
}

func TestCalendar_RequiresDoctor(t *testing.T) {
	h := newTestHandler(&queryRecorderStore{})
	w := httptest.NewRecorder()
	h.Calendar(w, httptest.NewRequest("GET", "/api/v1/appointments/calendar", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without doctor_id, got %d", w.Code)
	}
}
