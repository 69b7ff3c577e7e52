package appointments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/telecare-platform/telecare/libs/auth"
	"github.com/telecare-platform/telecare/libs/db"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/availability"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/directory"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/model"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/outbox"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/storage"
)

var (
	ErrInvalidInput = errors.New("invalid appointment input")
	ErrNotFound     = errors.New("appointment not found")
	ErrConflict     = errors.New("appointment conflict")
	ErrForbidden    = errors.New("operation not allowed for role")
)

// Actor is the explicit identity on whose behalf an operation runs. It is
// threaded through every call; the service keeps no ambient user state.
type Actor struct {
	UserID string
	Role   auth.Role
}

// Store is the slice of the appointment repository the façade needs.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Create(ctx context.Context, tx pgx.Tx, appt *model.Appointment) (string, error)
	Update(ctx context.Context, tx pgx.Tx, id string, p storage.UpdateParams) error
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.Appointment, error)
	Get(ctx context.Context, id string) (model.Appointment, error)
	Delete(ctx context.Context, tx pgx.Tx, id string) error
	List(ctx context.Context, q storage.ListQuery) ([]model.Appointment, error)
	ListBookedIntervals(ctx context.Context, doctorID string, start, end time.Time) ([]model.Appointment, error)
}

type DoctorStore interface {
	Get(ctx context.Context, id string) (model.Doctor, error)
	List(ctx context.Context) ([]model.Doctor, error)
}

type EventSink interface {
	Insert(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
}

// Service is the appointment data-access façade. Mutations write through
// Postgres and the transactional outbox; reads are served from Postgres.
// When Postgres itself is unreachable, creation degrades to the process-local
// store so the portal stays usable offline (explicitly tagged, never
// replicated).
type Service struct {
	store   Store
	doctors DoctorStore
	local   *storage.LocalStore
	events  EventSink
	roster  directory.Provider
	logger  *slog.Logger
	nowFn   func() time.Time
}

func NewService(store Store, doctors DoctorStore, local *storage.LocalStore, events EventSink, roster directory.Provider, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		doctors: doctors,
		local:   local,
		events:  events,
		roster:  roster,
		logger:  logger,
		nowFn:   time.Now,
	}
}

type CreateRequest struct {
	PatientID       string
	PatientName     string
	PatientEmail    string
	PatientPhone    string
	DoctorID        string
	ScheduledAt     time.Time
	DurationMinutes int
	Type            model.ConsultationType
	Reason          string
}

// Source tags where a created appointment actually lives, so callers can
// distinguish real persisted data from the degraded local path.
type Source string

const (
	SourceLive  Source = "live"
	SourceLocal Source = "local"
)

type CreateOutcome struct {
	AppointmentID string
	Source        Source
}

func (s *Service) validateCreate(req CreateRequest) error {
	if strings.TrimSpace(req.PatientID) == "" || strings.TrimSpace(req.PatientName) == "" {
		return fmt.Errorf("%w: patient id and name required", ErrInvalidInput)
	}
	if strings.TrimSpace(req.DoctorID) == "" {
		return fmt.Errorf("%w: doctor id required", ErrInvalidInput)
	}
	if req.DurationMinutes <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidInput)
	}
	if !req.Type.Valid() {
		return fmt.Errorf("%w: unknown consultation type %q", ErrInvalidInput, req.Type)
	}
	if req.ScheduledAt.Before(s.nowFn()) {
		return fmt.Errorf("%w: scheduled_at is in the past", ErrInvalidInput)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, req CreateRequest, actor Actor) (CreateOutcome, error) {
	if err := s.validateCreate(req); err != nil {
		return CreateOutcome{}, err
	}

	doc, err := s.doctors.Get(ctx, req.DoctorID)
	if err != nil {
		if db.IsUnreachable(err) {
			return s.createLocal(req, actor), nil
		}
		if storage.IsNotFound(err) {
			return CreateOutcome{}, fmt.Errorf("%w: unknown doctor %q", ErrInvalidInput, req.DoctorID)
		}
		return CreateOutcome{}, err
	}

	appt := &model.Appointment{
		PatientID:       req.PatientID,
		PatientName:     req.PatientName,
		PatientEmail:    strings.TrimSpace(req.PatientEmail),
		PatientPhone:    strings.TrimSpace(req.PatientPhone),
		DoctorID:        doc.ID,
		DoctorName:      doc.FullName(),
		ScheduledAt:     req.ScheduledAt.UTC(),
		DurationMinutes: req.DurationMinutes,
		Type:            req.Type,
		Reason:          strings.TrimSpace(req.Reason),
		FeeCents:        doc.ConsultationFeeCents,
		Status:          model.StatusScheduled,
		CreatedBy:       actor.UserID,
		CreatedByRole:   actor.Role,
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		if db.IsUnreachable(err) {
			return s.createLocal(req, actor), nil
		}
		return CreateOutcome{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id, err := s.store.Create(ctx, tx, appt)
	if err != nil {
		if storage.IsConflict(err) {
			return CreateOutcome{}, fmt.Errorf("%w: time slot already booked", ErrConflict)
		}
		if db.IsUnreachable(err) {
			return s.createLocal(req, actor), nil
		}
		return CreateOutcome{}, err
	}
	appt.ID = id

	if err := s.emit(ctx, tx, "telecare.appointment.created.v1", id, createdPayload(appt)); err != nil {
		return CreateOutcome{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return CreateOutcome{}, err
	}

	s.logger.Info("appointment created",
		"appointment_id", id,
		"doctor_id", appt.DoctorID,
		"patient_id", appt.PatientID,
		"created_by_role", string(actor.Role),
	)
	return CreateOutcome{AppointmentID: id, Source: SourceLive}, nil
}

func (s *Service) createLocal(req CreateRequest, actor Actor) CreateOutcome {
	id := s.local.Create(model.Appointment{
		PatientID:       req.PatientID,
		PatientName:     req.PatientName,
		PatientEmail:    strings.TrimSpace(req.PatientEmail),
		PatientPhone:    strings.TrimSpace(req.PatientPhone),
		DoctorID:        req.DoctorID,
		ScheduledAt:     req.ScheduledAt.UTC(),
		DurationMinutes: req.DurationMinutes,
		Type:            req.Type,
		Reason:          strings.TrimSpace(req.Reason),
		Status:          model.StatusScheduled,
		CreatedBy:       actor.UserID,
		CreatedByRole:   actor.Role,
	})
	s.logger.Warn("store unreachable; appointment created locally only",
		"appointment_id", id,
		"doctor_id", req.DoctorID,
	)
	return CreateOutcome{AppointmentID: id, Source: SourceLocal}
}

// Patch is the partial update: nil fields are untouched. Last write wins.
type Patch struct {
	ScheduledAt     *time.Time
	DurationMinutes *int
	Type            *model.ConsultationType
	Reason          *string
	FeeCents        *int64
	Status          *model.Status
	CancelReason    string
}

func (s *Service) Update(ctx context.Context, id string, patch Patch, actor Actor) error {
	params := storage.UpdateParams{
		ScheduledAt:     patch.ScheduledAt,
		DurationMinutes: patch.DurationMinutes,
		Type:            patch.Type,
		Reason:          patch.Reason,
		FeeCents:        patch.FeeCents,
		Status:          patch.Status,
	}
	if params.Empty() {
		return fmt.Errorf("%w: empty update", ErrInvalidInput)
	}
	if patch.DurationMinutes != nil && *patch.DurationMinutes <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidInput)
	}
	if patch.Type != nil && !patch.Type.Valid() {
		return fmt.Errorf("%w: unknown consultation type %q", ErrInvalidInput, *patch.Type)
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *patch.Status)
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := s.store.GetForUpdate(ctx, tx, id)
	if err != nil {
		if storage.IsNotFound(err) {
			return ErrNotFound
		}
		return err
	}

	if patch.Status != nil && *patch.Status != current.Status {
		if !current.Status.CanTransitionTo(*patch.Status) {
			return fmt.Errorf("%w: cannot move %s appointment to %s", ErrConflict, current.Status, *patch.Status)
		}
		if *patch.Status == model.StatusCancelled && actor.Role == auth.RolePatient && current.PatientID != actor.UserID {
			return ErrForbidden
		}
	}

	if err := s.store.Update(ctx, tx, id, params); err != nil {
		if storage.IsNotFound(err) {
			return ErrNotFound
		}
		return err
	}

	updated, err := s.store.GetForUpdate(ctx, tx, id)
	if err != nil {
		return err
	}
	payload := createdPayload(&updated)
	payload["updated_by"] = actor.UserID
	payload["updated_by_role"] = string(actor.Role)
	if patch.CancelReason != "" {
		payload["cancel_reason"] = patch.CancelReason
	}
	if err := s.emit(ctx, tx, "telecare.appointment.updated.v1", id, payload); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.logger.Info("appointment updated", "appointment_id", id, "updated_by_role", string(actor.Role))
	return nil
}

func (s *Service) Delete(ctx context.Context, id string, actor Actor) error {
	// Patients cancel; only staff remove records outright.
	if actor.Role != auth.RoleSecretary && actor.Role != auth.RoleDoctor {
		return ErrForbidden
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := s.store.GetForUpdate(ctx, tx, id)
	if err != nil {
		if storage.IsNotFound(err) {
			return ErrNotFound
		}
		return err
	}
	if err := s.store.Delete(ctx, tx, id); err != nil {
		if storage.IsNotFound(err) {
			return ErrNotFound
		}
		return err
	}

	payload := map[string]any{
		"appointment_id":  id,
		"doctor_id":       current.DoctorID,
		"patient_id":      current.PatientID,
		"deleted_by":      actor.UserID,
		"deleted_by_role": string(actor.Role),
		"deleted_at":      s.nowFn().UTC().Format(time.RFC3339),
	}
	if err := s.emit(ctx, tx, "telecare.appointment.deleted.v1", id, payload); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.logger.Info("appointment deleted", "appointment_id", id, "deleted_by_role", string(actor.Role))
	return nil
}

// ConfirmPaid moves a scheduled appointment to confirmed. Invoked by the
// billing event consumer; already-confirmed appointments are a no-op so
// webhook redeliveries stay harmless.
func (s *Service) ConfirmPaid(ctx context.Context, id string) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := s.store.GetForUpdate(ctx, tx, id)
	if err != nil {
		if storage.IsNotFound(err) {
			return ErrNotFound
		}
		return err
	}
	if current.Status == model.StatusConfirmed {
		return tx.Commit(ctx)
	}
	if !current.Status.CanTransitionTo(model.StatusConfirmed) {
		return fmt.Errorf("%w: cannot confirm %s appointment", ErrConflict, current.Status)
	}

	confirmed := model.StatusConfirmed
	if err := s.store.Update(ctx, tx, id, storage.UpdateParams{Status: &confirmed}); err != nil {
		return err
	}
	updated, err := s.store.GetForUpdate(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := s.emit(ctx, tx, "telecare.appointment.updated.v1", id, createdPayload(&updated)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (model.Appointment, error) {
	if storage.IsLocalID(id) {
		if appt, ok := s.local.Get(id); ok {
			return appt, nil
		}
		return model.Appointment{}, ErrNotFound
	}
	appt, err := s.store.Get(ctx, id)
	if err != nil {
		if storage.IsNotFound(err) {
			return model.Appointment{}, ErrNotFound
		}
		return model.Appointment{}, err
	}
	return appt, nil
}

func (s *Service) List(ctx context.Context, q storage.ListQuery) ([]model.Appointment, error) {
	return s.store.List(ctx, q)
}

func (s *Service) Doctors(ctx context.Context) ([]model.Doctor, error) {
	return s.doctors.List(ctx)
}

// SlotsResult distinguishes real availability from the static placeholder
// served on failure.
type SlotsResult struct {
	Labels   []string
	Degraded bool
}

// AvailableSlots never fails: any error on the working-hours or
// booked-interval lookups degrades to the static fallback list.
func (s *Service) AvailableSlots(ctx context.Context, doctorID string, day time.Time) SlotsResult {
	hours, err := s.roster.WorkingHours(ctx, doctorID)
	if err != nil {
		s.logger.Warn("slot lookup degraded (working hours)", "doctor_id", doctorID, "err", err)
		return SlotsResult{Labels: availability.FallbackLabels(), Degraded: true}
	}

	window, ok := hours[day.Weekday()]
	if !ok && len(hours) > 0 {
		// Off-duty day: a real, empty answer, not a degradation.
		return SlotsResult{Labels: []string{}}
	}

	start, end, err := availability.DayWindow(day, window.Start, window.End)
	if err != nil {
		s.logger.Warn("slot lookup degraded (window parse)", "doctor_id", doctorID, "err", err)
		return SlotsResult{Labels: availability.FallbackLabels(), Degraded: true}
	}

	booked, err := s.store.ListBookedIntervals(ctx, doctorID, start, end)
	if err != nil {
		s.logger.Warn("slot lookup degraded (booked intervals)", "doctor_id", doctorID, "err", err)
		return SlotsResult{Labels: availability.FallbackLabels(), Degraded: true}
	}

	busy := make([]availability.Interval, 0, len(booked))
	for _, appt := range booked {
		busy = append(busy, availability.Interval{Start: appt.ScheduledAt, End: appt.End()})
	}
	slots := availability.Slots(start, end, SlotStepDuration, busy, s.nowFn())
	return SlotsResult{Labels: availability.Labels(slots)}
}

// SlotStepDuration is the consultation length slots are sized for.
const SlotStepDuration = 30 * time.Minute

func (s *Service) emit(ctx context.Context, tx pgx.Tx, eventType, aggregateID string, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.events.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       raw,
	})
}

func createdPayload(appt *model.Appointment) map[string]any {
	return map[string]any{
		"appointment_id":   appt.ID,
		"patient_id":       appt.PatientID,
		"patient_name":     appt.PatientName,
		"patient_email":    appt.PatientEmail,
		"patient_phone":    appt.PatientPhone,
		"doctor_id":        appt.DoctorID,
		"doctor_name":      appt.DoctorName,
		"scheduled_at":     appt.ScheduledAt.UTC().Format(time.RFC3339),
		"duration_minutes": appt.DurationMinutes,
		"type":             string(appt.Type),
		"reason":           appt.Reason,
		"fee_cents":        appt.FeeCents,
		"status":           string(appt.Status),
		"created_by":       appt.CreatedBy,
		"created_by_role":  string(appt.CreatedByRole),
	}
}
