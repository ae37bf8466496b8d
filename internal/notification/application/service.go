package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/medsuy/appointment-system/internal/reservation/domain"
	"github.com/medsuy/appointment-system/pkg/idempotency"
)

// ErrPermanent marks failures that redelivery cannot fix; the consumer
// acks and drops these instead of retrying.
var ErrPermanent = errors.New("permanent")

const confirmationSubject = "Appointment confirmation"

// Service processes one notification event per call: validate,
// deduplicate by event id, send the confirmation email. Errors not
// wrapping ErrPermanent are transient and eligible for redelivery.
type Service struct {
	log    *slog.Logger
	mailer Mailer
	dedup  DedupStore
	queue  string
}

func NewService(log *slog.Logger, mailer Mailer, dedup DedupStore, queue string) *Service {
	return &Service{log: log, mailer: mailer, dedup: dedup, queue: queue}
}

func (s *Service) Process(ctx context.Context, body []byte) error {
	var ev domain.AppointmentReserved
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("decode event: %v: %w", err, ErrPermanent)
	}
	if ev.Type != domain.EventAppointmentReserved {
		return fmt.Errorf("event type %q: %w", ev.Type, ErrPermanent)
	}
	if ev.Email == "" {
		s.log.Warn("no destination address, skipping", "slot_id", ev.SlotID, "patient_id", ev.PatientID)
		return nil
	}

	key := idempotency.Key(s.queue, s.dedupID(ev))
	seen, err := s.dedup.Seen(ctx, key)
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}
	if seen {
		s.log.Info("duplicate event skipped", "event_id", ev.EventID, "slot_id", ev.SlotID)
		return nil
	}

	if err := s.mailer.Send(ctx, ev.Email, confirmationSubject, confirmationBody(ev)); err != nil {
		if ferr := s.dedup.Forget(ctx, key); ferr != nil {
			s.log.Error("dedup forget failed", "key", key, "err", ferr)
		}
		return fmt.Errorf("send confirmation: %w", err)
	}

	s.log.Info("confirmation sent", "event_id", ev.EventID, "slot_id", ev.SlotID, "to", ev.Email)
	return nil
}

// dedupID falls back to a composite key for events produced before
// event ids were minted.
func (s *Service) dedupID(ev domain.AppointmentReserved) string {
	if ev.EventID != "" {
		return ev.EventID
	}
	return fmt.Sprintf("%s:%d:%d", ev.Type, ev.SlotID, ev.PatientID)
}

func confirmationBody(ev domain.AppointmentReserved) string {
	return fmt.Sprintf(`<h2>Your appointment is confirmed</h2>
<p><strong>Specialty:</strong> %s</p>
<p><strong>Doctor:</strong> %s</p>
<p><strong>Date and time:</strong> %s</p>
<p><strong>Branch:</strong> %s</p>
<br>
<p>Thank you for booking with us.</p>`,
		ev.Specialty, ev.Doctor, ev.Datetime, ev.Branch)
}
