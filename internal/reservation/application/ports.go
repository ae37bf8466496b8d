package application

import (
	"context"
	"time"

	"github.com/medsuy/appointment-system/internal/reservation/domain"
)

// EventFunc builds the outbox event from the slot as read under the row
// lock, so denormalized display fields come from the locked row itself.
// Returning an error aborts the claim transaction.
type EventFunc func(s domain.Slot) (eventType string, payload []byte, err error)

type SlotRepository interface {
	Available(ctx context.Context, f domain.SlotFilter) ([]domain.Slot, error)
	Upcoming(ctx context.Context, patientID int64, from time.Time) ([]domain.Slot, error)
	ClaimWithOutbox(ctx context.Context, patientID, slotID int64, event EventFunc) (domain.Slot, error)
	Release(ctx context.Context, patientID, slotID int64) error
}

type PatientDirectory interface {
	ActivePatient(ctx context.Context, id int64) (domain.Patient, error)
}
