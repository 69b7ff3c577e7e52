package stream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/telecare-platform/telecare/libs/auth"
	"github.com/telecare-platform/telecare/services/realtime-service/internal/model"
	"github.com/telecare-platform/telecare/services/realtime-service/internal/subscriptions"
)

// Handler serves portal sessions over server-sent events. Each connection
// gets a role-scoped subscription: patients see their own appointments,
// doctors their schedule, secretaries the whole practice.
type Handler struct {
	hub    *subscriptions.Hub
	logger *slog.Logger
	// heartbeat keeps idle proxies from closing the stream.
	heartbeat time.Duration
}

func NewHandler(hub *subscriptions.Hub, logger *slog.Logger) *Handler {
	return &Handler{hub: hub, logger: logger, heartbeat: 25 * time.Second}
}

func filterForActor(userID string, role auth.Role, r *http.Request) subscriptions.Filter {
	switch role {
	case auth.RolePatient:
		return subscriptions.Filter{PatientID: userID}
	case auth.RoleDoctor:
		return subscriptions.Filter{DoctorID: userID}
	default:
		// Secretaries may narrow to one doctor's column.
		return subscriptions.Filter{DoctorID: strings.TrimSpace(r.URL.Query().Get("doctor_id"))}
	}
}

func (h *Handler) Appointments(w http.ResponseWriter, r *http.Request) {
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
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Latest-wins buffers: a slow client only ever misses intermediate
	// snapshots, never the newest one.
	snaps := make(chan subscriptions.Snapshot, 1)
	states := make(chan subscriptions.ConnState, 1)
	pushSnap := func(s subscriptions.Snapshot) {
		for {
			select {
			case snaps <- s:
				return
			default:
				select {
				case <-snaps:
				default:
				}
			}
		}
	}
	pushState := func(s subscriptions.ConnState) {
		for {
			select {
			case states <- s:
				return
			default:
				select {
				case <-states:
				default:
				}
			}
		}
	}

	unsubSnap := h.hub.SubscribeAppointments(filterForActor(userID, role, r), pushSnap)
	defer unsubSnap()
	unsubState := h.hub.SubscribeState(pushState)
	defer unsubState()

	h.writeEvent(w, "state", string(h.hub.State()))
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-snaps:
			if snap == nil {
				snap = subscriptions.Snapshot{}
			}
			body, err := json.Marshal(snap)
			if err != nil {
				h.logger.Error("snapshot marshal failed", "err", err)
				continue
			}
			h.writeEvent(w, "snapshot", string(body))
			flusher.Flush()
		case state := <-states:
			h.writeEvent(w, "state", string(state))
			flusher.Flush()
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		}
	}
}

// Doctors streams the doctor directory the same way.
func (h *Handler) Doctors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	updates := make(chan []model.Doctor, 1)
	unsub := h.hub.SubscribeDoctors(func(docs []model.Doctor) {
		for {
			select {
			case updates <- docs:
				return
			default:
				select {
				case <-updates:
				default:
				}
			}
		}
	})
	defer unsub()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case docs := <-updates:
			if docs == nil {
				docs = []model.Doctor{}
			}
			body, err := json.Marshal(docs)
			if err != nil {
				h.logger.Error("directory marshal failed", "err", err)
				continue
			}
			h.writeEvent(w, "doctors", string(body))
			flusher.Flush()
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		}
	}
}

// Reconnect resets the hub's retry budget on behalf of the portal's manual
// reconnect control.
func (h *Handler) Reconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.hub.Reconnect()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte(`{"result":"reconnecting"}`))
}

// Status reports the hub's connection state for the portal banner.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"state": string(h.hub.State())})
}

func (h *Handler) writeEvent(w http.ResponseWriter, event, data string) {
	_, _ = w.Write([]byte("event: " + event + "\ndata: " + data + "\n\n"))
}
