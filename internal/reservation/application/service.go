package application

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/medsuy/appointment-system/internal/reservation/domain"
)

var (
	ErrPatientNotFound = errors.New("patient not found")
	ErrSlotNotFound    = errors.New("slot not found")
	ErrSlotUnavailable = errors.New("slot unavailable")
	ErrForbidden       = errors.New("not the slot holder")
	// ErrLockTimeout means the row lock wait exceeded its bound; the
	// caller may resubmit the same request.
	ErrLockTimeout = errors.New("lock wait timeout")
)

// Service is the only path by which a slot's (status, holder) pair may
// change. Two concurrent claims on the same slot are serialized by the
// row lock the repository takes; at most one observes it available.
type Service struct {
	log      *slog.Logger
	slots    SlotRepository
	patients PatientDirectory
}

func NewService(log *slog.Logger, slots SlotRepository, patients PatientDirectory) *Service {
	return &Service{log: log, slots: slots, patients: patients}
}

// Claim reserves slotID for patientID. Exactly one outbox event is
// written per committed claim, inside the same transaction; nothing is
// emitted on any failure path.
func (s *Service) Claim(ctx context.Context, patientID, slotID int64) (int64, error) {
	patient, err := s.patients.ActivePatient(ctx, patientID)
	if err != nil {
		return 0, err
	}

	slot, err := s.slots.ClaimWithOutbox(ctx, patientID, slotID, func(locked domain.Slot) (string, []byte, error) {
		ev := domain.NewAppointmentReserved(patient, locked)
		payload, err := json.Marshal(ev)
		return domain.EventAppointmentReserved, payload, err
	})
	if err != nil {
		return 0, err
	}

	s.log.Info("slot reserved", "slot_id", slot.ID, "patient_id", patientID)
	return slot.ID, nil
}

// Release returns a reserved slot to available. Only the current holder
// may release; no notification is emitted on release.
func (s *Service) Release(ctx context.Context, patientID, slotID int64) error {
	if _, err := s.patients.ActivePatient(ctx, patientID); err != nil {
		return err
	}
	if err := s.slots.Release(ctx, patientID, slotID); err != nil {
		return err
	}
	s.log.Info("slot released", "slot_id", slotID, "patient_id", patientID)
	return nil
}

func (s *Service) Available(ctx context.Context, f domain.SlotFilter) ([]domain.Slot, error) {
	return s.slots.Available(ctx, f)
}

func (s *Service) Upcoming(ctx context.Context, patientID int64) ([]domain.Slot, error) {
	if _, err := s.patients.ActivePatient(ctx, patientID); err != nil {
		return nil, err
	}
	return s.slots.Upcoming(ctx, patientID, time.Now().UTC())
}
