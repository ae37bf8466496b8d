package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medsuy/appointment-system/internal/reservation/application"
	"github.com/medsuy/appointment-system/internal/reservation/domain"
)

// 55P03 lock_not_available, raised when lock_timeout expires.
const pgLockNotAvailable = "55P03"

const lockTimeout = "3s"

const slotColumns = `s.id, s.doctor_id, s.branch_id, s.room, s.specialty, s.scheduled_at,
	s.status, s.patient_id, d.full_name, b.name, s.created_at, s.updated_at`

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

// ClaimWithOutbox locks the slot row, verifies it is still claimable,
// marks it reserved for patientID and writes the notification event to
// the outbox, all in one transaction. The relay only ever sees the event
// after this commits.
func (r *Repository) ClaimWithOutbox(ctx context.Context, patientID, slotID int64, event application.EventFunc) (domain.Slot, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Slot{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	slot, err := lockSlot(ctx, tx, slotID)
	if err != nil {
		return domain.Slot{}, err
	}
	if !slot.Claimable() {
		return domain.Slot{}, application.ErrSlotUnavailable
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `UPDATE slots SET status=$1, patient_id=$2, updated_at=$3 WHERE id=$4`,
		domain.StatusReserved, patientID, now, slotID)
	if err != nil {
		return domain.Slot{}, err
	}

	eventType, payload, err := event(slot)
	if err != nil {
		return domain.Slot{}, fmt.Errorf("build event: %w", err)
	}
	_, err = tx.Exec(ctx, `INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, status)
		VALUES ($1,$2,$3,$4,'pending')`,
		"slot", fmt.Sprintf("%d", slotID), eventType, payload)
	if err != nil {
		return domain.Slot{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Slot{}, err
	}

	slot.Status = domain.StatusReserved
	slot.PatientID = &patientID
	slot.UpdatedAt = now
	return slot, nil
}

// Release clears the holder. Only the current holder may release; no
// outbox event is written.
func (r *Repository) Release(ctx context.Context, patientID, slotID int64) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	slot, err := lockSlot(ctx, tx, slotID)
	if err != nil {
		return err
	}
	if !slot.HeldBy(patientID) {
		return application.ErrForbidden
	}

	_, err = tx.Exec(ctx, `UPDATE slots SET status=$1, patient_id=NULL, updated_at=$2 WHERE id=$3`,
		domain.StatusAvailable, time.Now().UTC(), slotID)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func lockSlot(ctx context.Context, tx pgx.Tx, slotID int64) (domain.Slot, error) {
	if _, err := tx.Exec(ctx, fmt.Sprintf(`SET LOCAL lock_timeout = '%s'`, lockTimeout)); err != nil {
		return domain.Slot{}, err
	}

	row := tx.QueryRow(ctx, `SELECT `+slotColumns+`
		FROM slots s
		JOIN doctors d ON d.id = s.doctor_id
		JOIN branches b ON b.id = s.branch_id
		WHERE s.id = $1
		FOR UPDATE OF s`, slotID)

	slot, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Slot{}, application.ErrSlotNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
			return domain.Slot{}, application.ErrLockTimeout
		}
		return domain.Slot{}, err
	}
	return slot, nil
}

// Available returns claimable slots ordered by scheduled time. Read-only,
// no locking.
func (r *Repository) Available(ctx context.Context, f domain.SlotFilter) ([]domain.Slot, error) {
	q := `SELECT ` + slotColumns + `
		FROM slots s
		JOIN doctors d ON d.id = s.doctor_id
		JOIN branches b ON b.id = s.branch_id
		WHERE s.status = $1 AND s.patient_id IS NULL`
	args := []any{domain.StatusAvailable}

	if f.Specialty != "" {
		args = append(args, "%"+f.Specialty+"%")
		q += fmt.Sprintf(` AND s.specialty ILIKE $%d`, len(args))
	}
	if f.DoctorID != 0 {
		args = append(args, f.DoctorID)
		q += fmt.Sprintf(` AND s.doctor_id = $%d`, len(args))
	}
	if f.BranchID != 0 {
		args = append(args, f.BranchID)
		q += fmt.Sprintf(` AND s.branch_id = $%d`, len(args))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		q += fmt.Sprintf(` AND s.scheduled_at >= $%d`, len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		q += fmt.Sprintf(` AND s.scheduled_at <= $%d`, len(args))
	}
	q += ` ORDER BY s.scheduled_at ASC`

	return r.querySlots(ctx, q, args...)
}

// Upcoming returns the patient's reserved slots scheduled at or after
// the given time, ascending.
func (r *Repository) Upcoming(ctx context.Context, patientID int64, from time.Time) ([]domain.Slot, error) {
	q := `SELECT ` + slotColumns + `
		FROM slots s
		JOIN doctors d ON d.id = s.doctor_id
		JOIN branches b ON b.id = s.branch_id
		WHERE s.patient_id = $1 AND s.status = $2 AND s.scheduled_at >= $3
		ORDER BY s.scheduled_at ASC`
	return r.querySlots(ctx, q, patientID, domain.StatusReserved, from)
}

func (r *Repository) querySlots(ctx context.Context, q string, args ...any) ([]domain.Slot, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Slot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, slot)
	}
	return out, rows.Err()
}

func scanSlot(row pgx.Row) (domain.Slot, error) {
	var s domain.Slot
	err := row.Scan(&s.ID, &s.DoctorID, &s.BranchID, &s.Room, &s.Specialty, &s.ScheduledAt,
		&s.Status, &s.PatientID, &s.Doctor, &s.Branch, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return domain.Slot{}, err
	}
	return s, nil
}

// ActivePatient resolves a patient that exists and is active; anything
// else is a not-found.
func (r *Repository) ActivePatient(ctx context.Context, id int64) (domain.Patient, error) {
	var p domain.Patient
	err := r.pool.QueryRow(ctx,
		`SELECT id, full_name, email, is_active FROM patients WHERE id = $1 AND is_active`, id).
		Scan(&p.ID, &p.FullName, &p.Email, &p.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Patient{}, application.ErrPatientNotFound
		}
		return domain.Patient{}, err
	}
	return p, nil
}

// EnsureSchema creates the tables this service owns. Catalog rows
// (patients, doctors, branches, slots in available state) are seeded by
// external collaborators.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS patients (
			id BIGINT PRIMARY KEY,
			full_name TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS doctors (
			id BIGINT PRIMARY KEY,
			full_name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS branches (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS slots (
			id BIGSERIAL PRIMARY KEY,
			doctor_id BIGINT NOT NULL REFERENCES doctors(id),
			branch_id BIGINT NOT NULL REFERENCES branches(id),
			room TEXT NOT NULL DEFAULT '',
			specialty TEXT NOT NULL DEFAULT '',
			scheduled_at TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL DEFAULT 'available',
			patient_id BIGINT REFERENCES patients(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS slots_available_idx ON slots (scheduled_at) WHERE status = 'available'`,
		`CREATE TABLE IF NOT EXISTS outbox (
			id BIGSERIAL PRIMARY KEY,
			aggregate_type TEXT NOT NULL,
			aggregate_id TEXT NOT NULL,
			type TEXT NOT NULL,
			payload JSONB NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			relay_id TEXT,
			lease_until TIMESTAMPTZ,
			retry_count INT NOT NULL DEFAULT 0,
			last_error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS outbox_pending_idx ON outbox (id) WHERE status = 'pending'`,
	}
	for _, stmt := range stmts {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
