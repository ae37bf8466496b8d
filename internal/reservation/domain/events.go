package domain

import (
	"time"

	"github.com/google/uuid"
)

const EventAppointmentReserved = "appointment_reserved"

// AppointmentReserved is the wire format persisted to the notification
// queue. It is immutable once created; EventID is the dedup key for
// at-least-once consumption. Email may be empty, in which case the
// consumer skips delivery.
type AppointmentReserved struct {
	EventID   string `json:"event_id"`
	Type      string `json:"type"`
	PatientID int64  `json:"patient_id"`
	SlotID    int64  `json:"slot_id"`
	Doctor    string `json:"doctor"`
	Specialty string `json:"specialty"`
	Datetime  string `json:"datetime"`
	Branch    string `json:"branch"`
	Email     string `json:"email"`
}

func NewAppointmentReserved(p Patient, s Slot) AppointmentReserved {
	return AppointmentReserved{
		EventID:   uuid.NewString(),
		Type:      EventAppointmentReserved,
		PatientID: p.ID,
		SlotID:    s.ID,
		Doctor:    s.Doctor,
		Specialty: s.Specialty,
		Datetime:  s.ScheduledAt.UTC().Format(time.RFC3339),
		Branch:    s.Branch,
		Email:     p.Email,
	}
}
