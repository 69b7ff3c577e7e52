package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/telecare-platform/telecare/libs/auth"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/appointments"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/calendar"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/model"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/storage"
)

// AppointmentHandler exposes the appointment façade over HTTP. The gateway
// verifies tokens and forwards identity in X-User-Id / X-User-Role.
type AppointmentHandler struct {
	svc    *appointments.Service
	logger *slog.Logger
}

func NewAppointmentHandler(svc *appointments.Service, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{svc: svc, logger: logger}
}

func actorFromRequest(r *http.Request) (appointments.Actor, bool) {
	role := auth.Role(strings.TrimSpace(r.Header.Get("X-User-Role")))
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" || !role.Valid() {
		return appointments.Actor{}, false
	}
	return appointments.Actor{UserID: userID, Role: role}, true
}

type createAppointmentRequest struct {
	PatientID       string `json:"patient_id"`
	PatientName     string `json:"patient_name"`
	PatientEmail    string `json:"patient_email"`
	PatientPhone    string `json:"patient_phone"`
	DoctorID        string `json:"doctor_id"`
	ScheduledAt     string `json:"scheduled_at"`
	DurationMinutes int    `json:"duration_minutes"`
	Type            string `json:"type"`
	Reason          string `json:"reason"`
}

type createAppointmentResponse struct {
	AppointmentID string `json:"appointment_id"`
	Source        string `json:"source"`
}

type appointmentItem struct {
	AppointmentID   string `json:"appointment_id"`
	PatientID       string `json:"patient_id"`
	PatientName     string `json:"patient_name"`
	DoctorID        string `json:"doctor_id"`
	DoctorName      string `json:"doctor_name"`
	ScheduledAt     string `json:"scheduled_at"`
	DurationMinutes int    `json:"duration_minutes"`
	Type            string `json:"type"`
	Reason          string `json:"reason,omitempty"`
	FeeCents        int64  `json:"fee_cents"`
	Status          string `json:"status"`
	CancelledAt     string `json:"cancelled_at,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func toItem(appt model.Appointment) appointmentItem {
	item := appointmentItem{
		AppointmentID:   appt.ID,
		PatientID:       appt.PatientID,
		PatientName:     appt.PatientName,
		DoctorID:        appt.DoctorID,
		DoctorName:      appt.DoctorName,
		ScheduledAt:     appt.ScheduledAt.UTC().Format(time.RFC3339),
		DurationMinutes: appt.DurationMinutes,
		Type:            string(appt.Type),
		Reason:          appt.Reason,
		FeeCents:        appt.FeeCents,
		Status:          string(appt.Status),
		CreatedAt:       appt.CreatedAt.UTC().Format(time.RFC3339),
	}
	if appt.CancelledAt != nil {
		item.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
	}
	return item
}

func (h *AppointmentHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (h *AppointmentHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointments.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, appointments.ErrNotFound):
		http.Error(w, "appointment not found", http.StatusNotFound)
	case errors.Is(err, appointments.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, appointments.ErrForbidden):
		http.Error(w, "operation not allowed", http.StatusForbidden)
	default:
		h.logger.Error("appointment operation failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := actorFromRequest(r)
	if !ok {
		http.Error(w, "missing identity headers", http.StatusUnauthorized)
		return
	}

	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	scheduledAt, err := time.Parse(time.RFC3339, req.ScheduledAt)
	if err != nil {
		http.Error(w, "invalid scheduled_at", http.StatusBadRequest)
		return
	}

	// Patients book for themselves; staff may book on a patient's behalf.
	patientID := strings.TrimSpace(req.PatientID)
	if actor.Role == auth.RolePatient {
		patientID = actor.UserID
	}

	out, err := h.svc.Create(r.Context(), appointments.CreateRequest{
		PatientID:       patientID,
		PatientName:     strings.TrimSpace(req.PatientName),
		PatientEmail:    req.PatientEmail,
		PatientPhone:    req.PatientPhone,
		DoctorID:        strings.TrimSpace(req.DoctorID),
		ScheduledAt:     scheduledAt,
		DurationMinutes: req.DurationMinutes,
		Type:            model.ConsultationType(req.Type),
		Reason:          req.Reason,
	}, actor)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if out.Source == appointments.SourceLocal {
		// Accepted but not durably persisted.
		status = http.StatusAccepted
	}
	h.writeJSON(w, status, createAppointmentResponse{
		AppointmentID: out.AppointmentID,
		Source:        string(out.Source),
	})
}

type updateAppointmentRequest struct {
	AppointmentID   string  `json:"appointment_id"`
	ScheduledAt     *string `json:"scheduled_at"`
	DurationMinutes *int    `json:"duration_minutes"`
	Type            *string `json:"type"`
	Reason          *string `json:"reason"`
	FeeCents        *int64  `json:"fee_cents"`
	Status          *string `json:"status"`
	CancelReason    string  `json:"cancel_reason"`
}

func (h *AppointmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := actorFromRequest(r)
	if !ok {
		http.Error(w, "missing identity headers", http.StatusUnauthorized)
		return
	}

	var req updateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	id := strings.TrimSpace(req.AppointmentID)
	if id == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}

	var patch appointments.Patch
	if req.ScheduledAt != nil {
		t, err := time.Parse(time.RFC3339, *req.ScheduledAt)
		if err != nil {
			http.Error(w, "invalid scheduled_at", http.StatusBadRequest)
			return
		}
		patch.ScheduledAt = &t
	}
	patch.DurationMinutes = req.DurationMinutes
	if req.Type != nil {
		ct := model.ConsultationType(*req.Type)
		patch.Type = &ct
	}
	patch.Reason = req.Reason
	patch.FeeCents = req.FeeCents
	if req.Status != nil {
		st := model.Status(*req.Status)
		patch.Status = &st
	}
	patch.CancelReason = strings.TrimSpace(req.CancelReason)

	if err := h.svc.Update(r.Context(), id, patch, actor); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"appointment_id": id, "result": "updated"})
}

type deleteAppointmentRequest struct {
	AppointmentID string `json:"appointment_id"`
}

func (h *AppointmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := actorFromRequest(r)
	if !ok {
		http.Error(w, "missing identity headers", http.StatusUnauthorized)
		return
	}

	var req deleteAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	id := strings.TrimSpace(req.AppointmentID)
	if id == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}

	if err := h.svc.Delete(r.Context(), id, actor); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"appointment_id": id, "result": "deleted"})
}

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("appointment_id"))
	if id == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}
	appt, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toItem(appt))
}

func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := actorFromRequest(r)
	if !ok {
		http.Error(w, "missing identity headers", http.StatusUnauthorized)
		return
	}

	q := storage.ListQuery{
		DoctorID:  strings.TrimSpace(r.URL.Query().Get("doctor_id")),
		PatientID: strings.TrimSpace(r.URL.Query().Get("patient_id")),
		Limit:     100,
	}
	// Patients only ever see their own appointments; doctors default to
	// their own schedule unless they filter explicitly.
	switch actor.Role {
	case auth.RolePatient:
		q.PatientID = actor.UserID
	case auth.RoleDoctor:
		if q.DoctorID == "" && q.PatientID == "" {
			q.DoctorID = actor.UserID
		}
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st := model.Status(strings.TrimSpace(s))
			if !st.Valid() {
				http.Error(w, "unknown status filter", http.StatusBadRequest)
				return
			}
			q.Statuses = append(q.Statuses, st)
		}
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid from", http.StatusBadRequest)
			return
		}
		q.From = &t
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid to", http.StatusBadRequest)
			return
		}
		q.To = &t
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			q.Limit = n
		}
	}

	appts, err := h.svc.List(r.Context(), q)
	if err != nil {
		h.logger.Error("list appointments failed", "err", err)
		http.Error(w, "failed to list appointments", http.StatusInternalServerError)
		return
	}
	items := make([]appointmentItem, 0, len(appts))
	for _, appt := range appts {
		items = append(items, toItem(appt))
	}
	h.writeJSON(w, http.StatusOK, items)
}

type slotsResponse struct {
	DoctorID string   `json:"doctor_id"`
	Date     string   `json:"date"`
	Slots    []string `json:"slots"`
	Degraded bool     `json:"degraded,omitempty"`
}

func (h *AppointmentHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	doctorID := strings.TrimSpace(r.URL.Query().Get("doctor_id"))
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if doctorID == "" || dateStr == "" {
		http.Error(w, "doctor_id and date are required", http.StatusBadRequest)
		return
	}
	day, err := time.ParseInLocation("2006-01-02", dateStr, time.UTC)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}

	res := h.svc.AvailableSlots(r.Context(), doctorID, day)
	h.writeJSON(w, http.StatusOK, slotsResponse{
		DoctorID: doctorID,
		Date:     dateStr,
		Slots:    res.Labels,
		Degraded: res.Degraded,
	})
}

type calendarCell struct {
	Start         string `json:"start"`
	Label         string `json:"label"`
	State         string `json:"state"`
	AppointmentID string `json:"appointment_id,omitempty"`
	Clickable     bool   `json:"clickable"`
}

type calendarDay struct {
	Date  string         `json:"date"`
	Cells []calendarCell `json:"cells"`
}

type calendarResponse struct {
	WeekStart string        `json:"week_start"`
	Labels    []string      `json:"labels"`
	Days      []calendarDay `json:"days"`
}

// Calendar returns the week grid for a doctor: one column per day, one row
// per half-hour between 08:00 and 18:00.
func (h *AppointmentHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	doctorID := strings.TrimSpace(r.URL.Query().Get("doctor_id"))
	if doctorID == "" {
		http.Error(w, "doctor_id required", http.StatusBadRequest)
		return
	}
	selected := time.Now().UTC()
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		d, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
		if err != nil {
			http.Error(w, "invalid date", http.StatusBadRequest)
			return
		}
		selected = d
	}

	weekStart := calendar.WeekStart(selected)
	weekEnd := weekStart.AddDate(0, 0, 7)
	appts, err := h.svc.List(r.Context(), storage.ListQuery{
		DoctorID: doctorID,
		From:     &weekStart,
		To:       &weekEnd,
		Limit:    500,
	})
	if err != nil {
		h.logger.Error("calendar load failed", "err", err)
		http.Error(w, "failed to load calendar", http.StatusInternalServerError)
		return
	}

	grid := calendar.BuildWeekGrid(selected, appts, time.Now().UTC())
	resp := calendarResponse{
		WeekStart: grid.WeekStart.Format("2006-01-02"),
		Labels:    grid.Labels,
		Days:      make([]calendarDay, 0, len(grid.Days)),
	}
	for _, day := range grid.Days {
		d := calendarDay{Date: day.Date.Format("2006-01-02"), Cells: make([]calendarCell, 0, len(day.Cells))}
		for _, c := range day.Cells {
			d.Cells = append(d.Cells, calendarCell{
				Start:         c.Start.UTC().Format(time.RFC3339),
				Label:         c.Label,
				State:         string(c.State),
				AppointmentID: c.AppointmentID,
				Clickable:     c.Clickable,
			})
		}
		resp.Days = append(resp.Days, d)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type doctorItem struct {
	DoctorID  string `json:"doctor_id"`
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
	FeeCents  int64  `json:"fee_cents"`
	Verified  bool   `json:"verified"`
}

func (h *AppointmentHandler) Doctors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	doctors, err := h.svc.Doctors(r.Context())
	if err != nil {
		h.logger.Error("list doctors failed", "err", err)
		http.Error(w, "failed to list doctors", http.StatusInternalServerError)
		return
	}
	items := make([]doctorItem, 0, len(doctors))
	for _, d := range doctors {
		items = append(items, doctorItem{
			DoctorID:  d.ID,
			Name:      d.FullName(),
			Specialty: d.Specialty,
			FeeCents:  d.ConsultationFeeCents,
			Verified:  d.Verified,
		})
	}
	h.writeJSON(w, http.StatusOK, items)
}
