package jobs

import (
	"strings"
	"testing"
	"time"
)

func TestRenderReminder_Appointment(t *testing.T) {
	subject, body := renderReminder(Job{
		RemindAt: time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC),
		TemplateData: map[string]any{
			"patient_name": "Kofi Mensah",
			"doctor_name":  "Dr. Ada Osei",
			"scheduled_at": "2026-03-05T09:00:00Z",
		},
	})
	if subject != "Upcoming consultation reminder" {
		t.Fatalf("unexpected subject %q", subject)
	}
	if !strings.Contains(body, "Kofi Mensah") || !strings.Contains(body, "Dr. Ada Osei") {
		t.Fatalf("body missing names: %q", body)
	}
	if !strings.Contains(body, "5 March 2026") {
		t.Fatalf("body should carry the appointment time, not the reminder time: %q", body)
	}
}

func TestRenderReminder_TreatmentExpiry(t *testing.T) {
	subject, body := renderReminder(Job{
		RemindAt: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		TemplateData: map[string]any{
			"kind":         "treatment_expiry",
			"patient_name": "Kofi Mensah",
			"medication":   "Amoxicillin",
		},
	})
	if !strings.Contains(subject, "treatment") {
		t.Fatalf("unexpected subject %q", subject)
	}
	if !strings.Contains(body, "Amoxicillin") {
		t.Fatalf("body missing medication: %q", body)
	}
}
