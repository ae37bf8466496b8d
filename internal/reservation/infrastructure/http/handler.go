package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/medsuy/appointment-system/internal/reservation/application"
	"github.com/medsuy/appointment-system/internal/reservation/domain"
)

type ReservationService interface {
	Claim(ctx context.Context, patientID, slotID int64) (int64, error)
	Release(ctx context.Context, patientID, slotID int64) error
	Available(ctx context.Context, f domain.SlotFilter) ([]domain.Slot, error)
	Upcoming(ctx context.Context, patientID int64) ([]domain.Slot, error)
}

type Handler struct {
	log     *slog.Logger
	service ReservationService
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service ReservationService) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("reservation-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/api/appointments/available", h.available)
	r.Get("/api/patients/{patientID}/appointments/upcoming", h.upcoming)
	r.Post("/api/patients/{patientID}/appointments/reserve", h.reserve)
	r.Post("/api/patients/{patientID}/appointments/{slotID}/cancel", h.cancel)
	return r
}

type reserveReq struct {
	SlotID int64 `json:"slot_id"`
}

type slotResp struct {
	ID        int64  `json:"id"`
	Datetime  string `json:"datetime"`
	Branch    string `json:"branch"`
	Room      string `json:"room"`
	Doctor    string `json:"doctor"`
	Specialty string `json:"specialty"`
	Status    string `json:"status"`
}

func toSlotResp(s domain.Slot) slotResp {
	return slotResp{
		ID:        s.ID,
		Datetime:  s.ScheduledAt.UTC().Format(time.RFC3339),
		Branch:    s.Branch,
		Room:      s.Room,
		Doctor:    s.Doctor,
		Specialty: s.Specialty,
		Status:    string(s.Status),
	}
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ReserveSlot")
	defer span.End()

	patientID, err := pathID(r, "patientID")
	if err != nil {
		http.Error(w, "invalid patient id", http.StatusBadRequest)
		return
	}
	var req reserveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SlotID == 0 {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	slotID, err := h.service.Claim(ctx, patientID, req.SlotID)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"slot_id": slotID})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CancelSlot")
	defer span.End()

	patientID, err := pathID(r, "patientID")
	if err != nil {
		http.Error(w, "invalid patient id", http.StatusBadRequest)
		return
	}
	slotID, err := pathID(r, "slotID")
	if err != nil {
		http.Error(w, "invalid slot id", http.StatusBadRequest)
		return
	}

	if err := h.service.Release(ctx, patientID, slotID); err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *Handler) available(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	slots, err := h.service.Available(r.Context(), f)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeSlots(w, slots)
}

func (h *Handler) upcoming(w http.ResponseWriter, r *http.Request) {
	patientID, err := pathID(r, "patientID")
	if err != nil {
		http.Error(w, "invalid patient id", http.StatusBadRequest)
		return
	}
	slots, err := h.service.Upcoming(r.Context(), patientID)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeSlots(w, slots)
}

func parseFilter(r *http.Request) (domain.SlotFilter, error) {
	var f domain.SlotFilter
	q := r.URL.Query()

	f.Specialty = q.Get("specialty")
	if v := q.Get("doctor_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, errors.New("invalid doctor_id")
		}
		f.DoctorID = id
	}
	if v := q.Get("branch_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, errors.New("invalid branch_id")
		}
		f.BranchID = id
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("invalid from")
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("invalid to")
		}
		f.To = t
	}
	return f, nil
}

func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, application.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient not found")
	case errors.Is(err, application.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot not found")
	case errors.Is(err, application.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot is no longer available")
	case errors.Is(err, application.ErrForbidden):
		writeError(w, http.StatusForbidden, "not your reservation")
	case errors.Is(err, application.ErrLockTimeout):
		// Contention: the same request may be resubmitted.
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "slot busy, retry")
	default:
		h.log.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeSlots(w http.ResponseWriter, slots []domain.Slot) {
	out := make([]slotResp, 0, len(slots))
	for _, s := range slots {
		out = append(out, toSlotResp(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}
