package consumer

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/telecare-platform/telecare/services/realtime-service/internal/model"
	"github.com/telecare-platform/telecare/services/realtime-service/internal/subscriptions"
)

type appointmentEvent struct {
	AppointmentID   string `json:"appointment_id"`
	PatientID       string `json:"patient_id"`
	PatientName     string `json:"patient_name"`
	DoctorID        string `json:"doctor_id"`
	DoctorName      string `json:"doctor_name"`
	ScheduledAt     string `json:"scheduled_at"`
	DurationMinutes int    `json:"duration_minutes"`
	Type            string `json:"type"`
	Reason          string `json:"reason"`
	FeeCents        int64  `json:"fee_cents"`
	Status          string `json:"status"`
}

// DecodeDelta turns one appointment event into a hub delta. The event kind
// rides on the topic name (one topic per event type).
func DecodeDelta(topic string, payload []byte) (subscriptions.Delta, error) {
	var kind subscriptions.DeltaKind
	switch {
	case strings.Contains(topic, ".created."):
		kind = subscriptions.DeltaCreated
	case strings.Contains(topic, ".updated."):
		kind = subscriptions.DeltaUpdated
	case strings.Contains(topic, ".deleted."):
		kind = subscriptions.DeltaDeleted
	default:
		return subscriptions.Delta{}, fmt.Errorf("unrecognized appointment topic %q", topic)
	}

	var evt appointmentEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return subscriptions.Delta{}, fmt.Errorf("decode %s: %w", topic, err)
	}
	if evt.AppointmentID == "" {
		return subscriptions.Delta{}, fmt.Errorf("event on %s missing appointment_id", topic)
	}

	delta := subscriptions.Delta{Kind: kind, AppointmentID: evt.AppointmentID}
	if kind == subscriptions.DeltaDeleted {
		return delta, nil
	}

	scheduledAt, err := time.Parse(time.RFC3339, evt.ScheduledAt)
	if err != nil {
		return subscriptions.Delta{}, fmt.Errorf("event on %s has bad scheduled_at %q: %w", topic, evt.ScheduledAt, err)
	}
	delta.Appointment = &model.Appointment{
		ID:              evt.AppointmentID,
		PatientID:       evt.PatientID,
		PatientName:     evt.PatientName,
		DoctorID:        evt.DoctorID,
		DoctorName:      evt.DoctorName,
		ScheduledAt:     scheduledAt,
		DurationMinutes: evt.DurationMinutes,
		Type:            evt.Type,
		Reason:          evt.Reason,
		FeeCents:        evt.FeeCents,
		Status:          model.Status(evt.Status),
	}
	return delta, nil
}
