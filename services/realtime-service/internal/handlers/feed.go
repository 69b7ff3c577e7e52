package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/telecare-platform/telecare/libs/auth"
	"github.com/telecare-platform/telecare/services/realtime-service/internal/feeds"
	"github.com/telecare-platform/telecare/services/realtime-service/internal/model"
	"github.com/telecare-platform/telecare/services/realtime-service/internal/subscriptions"
)

// FeedHandler answers the dashboard's one-shot summary request. The SSE
// stream keeps the session live afterwards; this endpoint exists so the
// first paint does not wait for the stream.
type FeedHandler struct {
	hub        *subscriptions.Hub
	treatments feeds.TreatmentSource
	logger     *slog.Logger
}

func NewFeedHandler(hub *subscriptions.Hub, treatments feeds.TreatmentSource, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{hub: hub, treatments: treatments, logger: logger}
}

type summaryResponse struct {
	Today              []model.Appointment `json:"today"`
	Upcoming           []model.Appointment `json:"upcoming"`
	PendingCount       int                 `json:"pending_count"`
	ExpiringTreatments []model.Treatment   `json:"expiring_treatments,omitempty"`
	ConnectionState    string              `json:"connection_state"`
}

func (h *FeedHandler) Summary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	role := auth.Role(strings.TrimSpace(r.Header.Get("X-User-Role")))
	if userID == "" || !role.Valid() {
		http.Error(w, "missing identity headers", http.StatusUnauthorized)
		return
	}

	var resp summaryResponse
	switch role {
	case auth.RoleDoctor:
		feed := feeds.NewDoctorFeed(h.hub, userID)
		defer feed.Close()
		resp.Today = feed.Today()
		resp.Upcoming = feed.Upcoming()
		resp.PendingCount = feed.PendingCount()
	case auth.RolePatient:
		feed := feeds.NewPatientFeed(h.hub, h.treatments, userID)
		defer feed.Close()
		resp.Today = feed.Today()
		resp.Upcoming = feed.Upcoming()
		resp.PendingCount = feed.PendingCount()
		expiring, err := feed.ExpiringTreatments(r.Context())
		if err != nil {
			h.logger.Warn("treatment lookup failed", "patient_id", userID, "err", err)
		} else {
			resp.ExpiringTreatments = expiring
		}
	default:
		feed := feeds.NewSecretaryFeed(h.hub)
		defer feed.Close()
		resp.Today = feed.Today()
		resp.Upcoming = feed.Upcoming()
		resp.PendingCount = feed.PendingCount()
	}
	resp.ConnectionState = string(h.hub.State())

	if resp.Today == nil {
		resp.Today = []model.Appointment{}
	}
	if resp.Upcoming == nil {
		resp.Upcoming = []model.Appointment{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("summary encode failed", "err", err)
	}
}
