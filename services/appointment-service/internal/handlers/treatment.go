package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/telecare-platform/telecare/libs/auth"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/model"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/storage"
)

// TreatmentHandler covers prescriptions: doctors create courses after a
// consultation, patients read their own.
type TreatmentHandler struct {
	repo   *storage.TreatmentRepository
	appts  *storage.AppointmentRepository
	logger *slog.Logger
}

func NewTreatmentHandler(repo *storage.TreatmentRepository, appts *storage.AppointmentRepository, logger *slog.Logger) *TreatmentHandler {
	return &TreatmentHandler{repo: repo, appts: appts, logger: logger}
}

type treatmentItem struct {
	ID            string `json:"id"`
	PatientID     string `json:"patient_id"`
	AppointmentID string `json:"appointment_id"`
	Medication    string `json:"medication"`
	Dosage        string `json:"dosage"`
	Status        string `json:"status"`
	StartedAt     string `json:"started_at"`
	ExpiresAt     string `json:"expires_at"`
}

func toTreatmentItem(t model.Treatment) treatmentItem {
	return treatmentItem{
		ID:            t.ID,
		PatientID:     t.PatientID,
		AppointmentID: t.AppointmentID,
		Medication:    t.Medication,
		Dosage:        t.Dosage,
		Status:        string(t.Status),
		StartedAt:     t.StartedAt.UTC().Format(time.RFC3339),
		ExpiresAt:     t.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

type createTreatmentRequest struct {
	AppointmentID string `json:"appointment_id"`
	Medication    string `json:"medication"`
	Dosage        string `json:"dosage"`
	StartedAt     string `json:"started_at"`
	ExpiresAt     string `json:"expires_at"`
}

func (h *TreatmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := actorFromRequest(r)
	if !ok {
		http.Error(w, "missing or invalid identity", http.StatusUnauthorized)
		return
	}
	if actor.Role != auth.RoleDoctor {
		http.Error(w, "only doctors may prescribe", http.StatusForbidden)
		return
	}

	var req createTreatmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	req.Medication = strings.TrimSpace(req.Medication)
	if req.AppointmentID == "" || req.Medication == "" {
		http.Error(w, "appointment_id and medication are required", http.StatusBadRequest)
		return
	}
	startedAt := time.Now().UTC()
	if req.StartedAt != "" {
		t, err := time.Parse(time.RFC3339, req.StartedAt)
		if err != nil {
			http.Error(w, "started_at must be RFC3339", http.StatusBadRequest)
			return
		}
		startedAt = t.UTC()
	}
	expiresAt, err := time.Parse(time.RFC3339, req.ExpiresAt)
	if err != nil {
		http.Error(w, "expires_at must be RFC3339", http.StatusBadRequest)
		return
	}
	if !expiresAt.After(startedAt) {
		http.Error(w, "expires_at must be after started_at", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	appt, err := h.appts.Get(ctx, req.AppointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load appointment", http.StatusInternalServerError)
		return
	}
	if appt.DoctorID != actor.UserID {
		http.Error(w, "appointment belongs to another doctor", http.StatusForbidden)
		return
	}

	treatment := model.Treatment{
		PatientID:     appt.PatientID,
		AppointmentID: appt.ID,
		Medication:    req.Medication,
		Dosage:        strings.TrimSpace(req.Dosage),
		Status:        model.TreatmentActive,
		StartedAt:     startedAt,
		ExpiresAt:     expiresAt.UTC(),
	}
	tx, err := h.appts.Begin(ctx)
	if err != nil {
		http.Error(w, "failed to start transaction", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()
	id, err := h.repo.Create(ctx, tx, &treatment)
	if err != nil {
		http.Error(w, "failed to create treatment", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	treatment.ID = id

	h.logger.Info("treatment prescribed", "treatment_id", id, "appointment_id", appt.ID, "doctor_id", actor.UserID)
	h.writeJSON(w, http.StatusCreated, toTreatmentItem(treatment))
}

func (h *TreatmentHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := actorFromRequest(r)
	if !ok {
		http.Error(w, "missing or invalid identity", http.StatusUnauthorized)
		return
	}

	// Patients see their own courses; staff look up a patient explicitly.
	patientID := actor.UserID
	if actor.Role != auth.RolePatient {
		patientID = strings.TrimSpace(r.URL.Query().Get("patient_id"))
		if patientID == "" {
			http.Error(w, "patient_id is required", http.StatusBadRequest)
			return
		}
	}

	treatments, err := h.repo.ListByPatient(r.Context(), patientID)
	if err != nil {
		http.Error(w, "failed to list treatments", http.StatusInternalServerError)
		return
	}
	items := make([]treatmentItem, 0, len(treatments))
	for _, t := range treatments {
		items = append(items, toTreatmentItem(t))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"treatments": items})
}

type updateTreatmentRequest struct {
	TreatmentID string `json:"treatment_id"`
	Status      string `json:"status"`
}

func (h *TreatmentHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := actorFromRequest(r)
	if !ok {
		http.Error(w, "missing or invalid identity", http.StatusUnauthorized)
		return
	}
	if actor.Role != auth.RoleDoctor {
		http.Error(w, "only doctors may update treatments", http.StatusForbidden)
		return
	}

	var req updateTreatmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.TreatmentID = strings.TrimSpace(req.TreatmentID)
	status := model.TreatmentStatus(strings.TrimSpace(req.Status))
	if req.TreatmentID == "" {
		http.Error(w, "treatment_id is required", http.StatusBadRequest)
		return
	}
	switch status {
	case model.TreatmentCompleted, model.TreatmentDiscontinued:
	default:
		http.Error(w, "status must be completed or discontinued", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.appts.Begin(ctx)
	if err != nil {
		http.Error(w, "failed to start transaction", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := h.repo.UpdateStatus(ctx, tx, req.TreatmentID, status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, "treatment not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to update treatment", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"treatment_id": req.TreatmentID, "status": string(status)})
}

func (h *TreatmentHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
