package application_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medsuy/appointment-system/internal/reservation/application"
	"github.com/medsuy/appointment-system/internal/reservation/domain"
)

type fakeStore struct {
	mu     sync.Mutex
	slots  map[int64]*domain.Slot
	events []fakeEvent
}

type fakeEvent struct {
	eventType string
	payload   []byte
}

func newFakeStore(slots ...domain.Slot) *fakeStore {
	f := &fakeStore{slots: make(map[int64]*domain.Slot)}
	for _, s := range slots {
		cp := s
		f.slots[s.ID] = &cp
	}
	return f
}

func (f *fakeStore) ClaimWithOutbox(_ context.Context, patientID, slotID int64, event application.EventFunc) (domain.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.slots[slotID]
	if !ok {
		return domain.Slot{}, application.ErrSlotNotFound
	}
	if !s.Claimable() {
		return domain.Slot{}, application.ErrSlotUnavailable
	}

	eventType, payload, err := event(*s)
	if err != nil {
		return domain.Slot{}, err
	}

	pid := patientID
	s.Status = domain.StatusReserved
	s.PatientID = &pid
	f.events = append(f.events, fakeEvent{eventType: eventType, payload: payload})
	return *s, nil
}

func (f *fakeStore) Release(_ context.Context, patientID, slotID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.slots[slotID]
	if !ok {
		return application.ErrSlotNotFound
	}
	if !s.HeldBy(patientID) {
		return application.ErrForbidden
	}
	s.Status = domain.StatusAvailable
	s.PatientID = nil
	return nil
}

func (f *fakeStore) Available(_ context.Context, _ domain.SlotFilter) ([]domain.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Slot
	for _, s := range f.slots {
		if s.Claimable() {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeStore) Upcoming(_ context.Context, patientID int64, _ time.Time) ([]domain.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Slot
	for _, s := range f.slots {
		if s.HeldBy(patientID) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeStore) slot(id int64) domain.Slot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.slots[id]
}

func (f *fakeStore) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type fakeDirectory struct {
	patients map[int64]domain.Patient
}

func (f *fakeDirectory) ActivePatient(_ context.Context, id int64) (domain.Patient, error) {
	p, ok := f.patients[id]
	if !ok || !p.Active {
		return domain.Patient{}, application.ErrPatientNotFound
	}
	return p, nil
}

func testSlot() domain.Slot {
	return domain.Slot{
		ID:          1,
		DoctorID:    10,
		BranchID:    20,
		Room:        "3B",
		Specialty:   "cardiology",
		ScheduledAt: time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC),
		Status:      domain.StatusAvailable,
		Doctor:      "Jane Roe",
		Branch:      "Centro",
	}
}

func testDirectory() *fakeDirectory {
	return &fakeDirectory{patients: map[int64]domain.Patient{
		1: {ID: 1, FullName: "Ana Diaz", Email: "ana@example.com", Active: true},
		2: {ID: 2, FullName: "Bob Soto", Email: "bob@example.com", Active: true},
		3: {ID: 3, FullName: "Eva Gone", Email: "eva@example.com", Active: false},
	}}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClaimConcurrentSingleWinner(t *testing.T) {
	store := newFakeStore(testSlot())
	svc := application.NewService(discardLogger(), store, testDirectory())

	const workers = 16
	results := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		patientID := int64(1 + i%2)
		go func() {
			defer wg.Done()
			_, err := svc.Claim(context.Background(), patientID, 1)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case assert.ErrorIs(t, err, application.ErrSlotUnavailable):
			conflicts++
		}
	}

	assert.Equal(t, 1, wins, "exactly one claim must win")
	assert.Equal(t, workers-1, conflicts)
	assert.Equal(t, 1, store.eventCount(), "exactly one event per committed claim")

	slot := store.slot(1)
	assert.Equal(t, domain.StatusReserved, slot.Status)
	require.NotNil(t, slot.PatientID)
}

func TestClaimUnknownSlot(t *testing.T) {
	store := newFakeStore(testSlot())
	svc := application.NewService(discardLogger(), store, testDirectory())

	_, err := svc.Claim(context.Background(), 1, 999)
	assert.ErrorIs(t, err, application.ErrSlotNotFound)
	assert.Zero(t, store.eventCount(), "no event on failure")
}

func TestClaimUnknownOrInactivePatient(t *testing.T) {
	store := newFakeStore(testSlot())
	svc := application.NewService(discardLogger(), store, testDirectory())

	_, err := svc.Claim(context.Background(), 42, 1)
	assert.ErrorIs(t, err, application.ErrPatientNotFound)

	_, err = svc.Claim(context.Background(), 3, 1)
	assert.ErrorIs(t, err, application.ErrPatientNotFound, "inactive patient is not found")

	assert.Zero(t, store.eventCount())
	assert.Equal(t, domain.StatusAvailable, store.slot(1).Status, "no state change")
}

func TestClaimReservedSlotConflicts(t *testing.T) {
	store := newFakeStore(testSlot())
	svc := application.NewService(discardLogger(), store, testDirectory())

	_, err := svc.Claim(context.Background(), 1, 1)
	require.NoError(t, err)

	_, err = svc.Claim(context.Background(), 2, 1)
	assert.ErrorIs(t, err, application.ErrSlotUnavailable)
	assert.Equal(t, 1, store.eventCount())
}

func TestReleaseByNonHolderForbidden(t *testing.T) {
	store := newFakeStore(testSlot())
	svc := application.NewService(discardLogger(), store, testDirectory())

	_, err := svc.Claim(context.Background(), 1, 1)
	require.NoError(t, err)

	err = svc.Release(context.Background(), 2, 1)
	assert.ErrorIs(t, err, application.ErrForbidden)

	slot := store.slot(1)
	assert.Equal(t, domain.StatusReserved, slot.Status, "state unchanged")
	require.NotNil(t, slot.PatientID)
	assert.Equal(t, int64(1), *slot.PatientID)
}

func TestReleaseThenReclaim(t *testing.T) {
	store := newFakeStore(testSlot())
	svc := application.NewService(discardLogger(), store, testDirectory())
	ctx := context.Background()

	_, err := svc.Claim(ctx, 1, 1)
	require.NoError(t, err)

	_, err = svc.Claim(ctx, 2, 1)
	assert.ErrorIs(t, err, application.ErrSlotUnavailable)

	require.NoError(t, svc.Release(ctx, 1, 1))
	slot := store.slot(1)
	assert.Equal(t, domain.StatusAvailable, slot.Status)
	assert.Nil(t, slot.PatientID, "holder cleared")

	_, err = svc.Claim(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, store.eventCount(), "release emits nothing, each claim emits once")
}

func TestClaimEventPayload(t *testing.T) {
	store := newFakeStore(testSlot())
	svc := application.NewService(discardLogger(), store, testDirectory())

	_, err := svc.Claim(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Len(t, store.events, 1)
	assert.Equal(t, domain.EventAppointmentReserved, store.events[0].eventType)

	var ev domain.AppointmentReserved
	require.NoError(t, json.Unmarshal(store.events[0].payload, &ev))
	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, domain.EventAppointmentReserved, ev.Type)
	assert.Equal(t, int64(1), ev.PatientID)
	assert.Equal(t, int64(1), ev.SlotID)
	assert.Equal(t, "Jane Roe", ev.Doctor)
	assert.Equal(t, "cardiology", ev.Specialty)
	assert.Equal(t, "2026-03-01T15:00:00Z", ev.Datetime)
	assert.Equal(t, "Centro", ev.Branch)
	assert.Equal(t, "ana@example.com", ev.Email)
}

func TestUpcomingRequiresActivePatient(t *testing.T) {
	store := newFakeStore(testSlot())
	svc := application.NewService(discardLogger(), store, testDirectory())

	_, err := svc.Upcoming(context.Background(), 42)
	assert.ErrorIs(t, err, application.ErrPatientNotFound)
}
