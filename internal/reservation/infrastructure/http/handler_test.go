package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medsuy/appointment-system/internal/reservation/application"
	"github.com/medsuy/appointment-system/internal/reservation/domain"
)

type stubService struct {
	claimErr   error
	releaseErr error
	slots      []domain.Slot
	lastFilter domain.SlotFilter
}

func (s *stubService) Claim(_ context.Context, _, slotID int64) (int64, error) {
	if s.claimErr != nil {
		return 0, s.claimErr
	}
	return slotID, nil
}

func (s *stubService) Release(_ context.Context, _, _ int64) error {
	return s.releaseErr
}

func (s *stubService) Available(_ context.Context, f domain.SlotFilter) ([]domain.Slot, error) {
	s.lastFilter = f
	return s.slots, nil
}

func (s *stubService) Upcoming(_ context.Context, _ int64) ([]domain.Slot, error) {
	return s.slots, nil
}

func newTestHandler(svc ReservationService) http.Handler {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(log, svc).Routes()
}

func doRequest(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestReserveCreated(t *testing.T) {
	h := newTestHandler(&stubService{})
	w := doRequest(t, h, http.MethodPost, "/api/patients/1/appointments/reserve", `{"slot_id":7}`)

	require.Equal(t, http.StatusCreated, w.Code)
	var resp map[string]int64
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, int64(7), resp["slot_id"])
}

func TestReserveErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"patient not found", application.ErrPatientNotFound, http.StatusNotFound},
		{"slot not found", application.ErrSlotNotFound, http.StatusNotFound},
		{"conflict", application.ErrSlotUnavailable, http.StatusConflict},
		{"lock timeout", application.ErrLockTimeout, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(&stubService{claimErr: tc.err})
			w := doRequest(t, h, http.MethodPost, "/api/patients/1/appointments/reserve", `{"slot_id":7}`)
			assert.Equal(t, tc.code, w.Code)
		})
	}
}

func TestReserveLockTimeoutIsRetryable(t *testing.T) {
	h := newTestHandler(&stubService{claimErr: application.ErrLockTimeout})
	w := doRequest(t, h, http.MethodPost, "/api/patients/1/appointments/reserve", `{"slot_id":7}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestReserveBadBody(t *testing.T) {
	h := newTestHandler(&stubService{})
	assert.Equal(t, http.StatusBadRequest,
		doRequest(t, h, http.MethodPost, "/api/patients/1/appointments/reserve", `garbage`).Code)
	assert.Equal(t, http.StatusBadRequest,
		doRequest(t, h, http.MethodPost, "/api/patients/1/appointments/reserve", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest,
		doRequest(t, h, http.MethodPost, "/api/patients/abc/appointments/reserve", `{"slot_id":7}`).Code)
}

func TestCancel(t *testing.T) {
	h := newTestHandler(&stubService{})
	w := doRequest(t, h, http.MethodPost, "/api/patients/1/appointments/7/cancel", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCancelForbidden(t *testing.T) {
	h := newTestHandler(&stubService{releaseErr: application.ErrForbidden})
	w := doRequest(t, h, http.MethodPost, "/api/patients/2/appointments/7/cancel", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAvailableFilters(t *testing.T) {
	svc := &stubService{slots: []domain.Slot{{
		ID:          7,
		Room:        "3B",
		Specialty:   "cardiology",
		ScheduledAt: time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC),
		Status:      domain.StatusAvailable,
		Doctor:      "Jane Roe",
		Branch:      "Centro",
	}}}
	h := newTestHandler(svc)

	w := doRequest(t, h, http.MethodGet,
		"/api/appointments/available?specialty=cardio&doctor_id=10&branch_id=20&from=2026-03-01T00:00:00Z&to=2026-03-02T00:00:00Z", "")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "cardio", svc.lastFilter.Specialty)
	assert.Equal(t, int64(10), svc.lastFilter.DoctorID)
	assert.Equal(t, int64(20), svc.lastFilter.BranchID)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), svc.lastFilter.From)

	var resp []slotResp
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp, 1)
	assert.Equal(t, int64(7), resp[0].ID)
	assert.Equal(t, "2026-03-01T15:00:00Z", resp[0].Datetime)
	assert.Equal(t, "Jane Roe", resp[0].Doctor)
}

func TestAvailableBadFilter(t *testing.T) {
	h := newTestHandler(&stubService{})
	assert.Equal(t, http.StatusBadRequest,
		doRequest(t, h, http.MethodGet, "/api/appointments/available?doctor_id=abc", "").Code)
	assert.Equal(t, http.StatusBadRequest,
		doRequest(t, h, http.MethodGet, "/api/appointments/available?from=yesterday", "").Code)
}

func TestAvailableEmptyIsJSONArray(t *testing.T) {
	h := newTestHandler(&stubService{})
	w := doRequest(t, h, http.MethodGet, "/api/appointments/available", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String())
}

func TestUpcoming(t *testing.T) {
	svc := &stubService{slots: []domain.Slot{{ID: 9, Status: domain.StatusReserved}}}
	h := newTestHandler(svc)
	w := doRequest(t, h, http.MethodGet, "/api/patients/1/appointments/upcoming", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp []slotResp
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "reserved", resp[0].Status)
}
