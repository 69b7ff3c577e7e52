package consumer

import (
	"testing"

	"github.com/telecare-platform/telecare/services/realtime-service/internal/subscriptions"
)

func TestDecodeDelta_Created(t *testing.T) {
	payload := []byte(`{
		"appointment_id": "a1",
		"patient_id": "pat-1",
		"doctor_id": "doc-1",
		"scheduled_at": "2026-03-05T09:00:00Z",
		"duration_minutes": 30,
		"type": "video",
		"status": "scheduled"
	}`)
	delta, err := DecodeDelta("telecare.appointment.created.v1", payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if delta.Kind != subscriptions.DeltaCreated {
		t.Fatalf("expected created delta, got %s", delta.Kind)
	}
	if delta.Appointment == nil || delta.Appointment.DoctorID != "doc-1" {
		t.Fatalf("unexpected appointment %+v", delta.Appointment)
	}
}

func TestDecodeDelta_DeletedHasNoBody(t *testing.T) {
	delta, err := DecodeDelta("telecare.appointment.deleted.v1", []byte(`{"appointment_id":"a1"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if delta.Kind != subscriptions.DeltaDeleted || delta.Appointment != nil {
		t.Fatalf("unexpected delta %+v", delta)
	}
}

func TestDecodeDelta_Rejects(t *testing.T) {
	if _, err := DecodeDelta("telecare.payment.completed.v1", []byte(`{}`)); err == nil {
		t.Fatal("expected error for non-appointment topic")
	}
	if _, err := DecodeDelta("telecare.appointment.created.v1", []byte(`{"appointment_id":""}`)); err == nil {
		t.Fatal("expected error for missing appointment_id")
	}
	if _, err := DecodeDelta("telecare.appointment.created.v1", []byte(`{"appointment_id":"a1","scheduled_at":"yesterday"}`)); err == nil {
		t.Fatal("expected error for bad scheduled_at")
	}
}
