package domain

import "time"

type SlotStatus string

const (
	StatusAvailable SlotStatus = "available"
	StatusReserved  SlotStatus = "reserved"
)

// Slot is a bookable time-branch-room-doctor combination. The
// (Status, PatientID) pair is the unit of atomic mutation: reserved
// implies a holder, available implies none.
type Slot struct {
	ID          int64
	DoctorID    int64
	BranchID    int64
	Room        string
	Specialty   string
	ScheduledAt time.Time
	Status      SlotStatus
	PatientID   *int64

	// Display fields joined from doctors/branches on read.
	Doctor string
	Branch string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s Slot) Claimable() bool {
	return s.Status == StatusAvailable && s.PatientID == nil
}

func (s Slot) HeldBy(patientID int64) bool {
	return s.PatientID != nil && *s.PatientID == patientID
}

type Patient struct {
	ID       int64
	FullName string
	Email    string
	Active   bool
}

// SlotFilter narrows the available-slots query. Zero values mean
// "no filter"; Specialty is a substring match.
type SlotFilter struct {
	Specialty string
	DoctorID  int64
	BranchID  int64
	From      time.Time
	To        time.Time
}
