package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Salad109/medical-office-manager/internal/db"
)

const activeSlotConstraint = "appointments_active_slot_key"

const appointmentColumns = `id, patient_id, appointment_date, appointment_time, status, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func pgDate(d civil.Date) time.Time {
	return d.In(time.UTC)
}

func pgTime(t civil.Time) pgtype.Time {
	return pgtype.Time{Microseconds: int64(sinceMidnight(t) / time.Microsecond), Valid: true}
}

func fromPgTime(t pgtype.Time) civil.Time {
	return clockAt(time.Duration(t.Microseconds) * time.Microsecond)
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date time.Time
	var clock pgtype.Time

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&date,
		&clock,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Date = civil.DateOf(date)
	a.Time = fromPgTime(clock)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	result := []Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Interface methods

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id int64) (*Appointment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) LockAppointment(ctx context.Context, id int64) (*Appointment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) FindActiveForSlot(ctx context.Context, patientID int64, slot Slot) (*Appointment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		  AND appointment_date = $2
		  AND appointment_time = $3
		  AND status = 'SCHEDULED'
	`, patientID, pgDate(slot.Date), pgTime(slot.Time))
	return scanAppointment(row)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, patientID int64, slot Slot) (*Appointment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointments (patient_id, appointment_date, appointment_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, 'SCHEDULED', now(), now())
		RETURNING `+appointmentColumns,
		patientID, pgDate(slot.Date), pgTime(slot.Time))

	a, err := scanAppointment(row)
	if err != nil {
		if db.IsUniqueViolation(err, activeSlotConstraint) {
			return nil, ErrSlotTaken
		}
		return nil, err
	}
	return a, nil
}

// UpdateAppointmentStatus moves id from one status to another. It reports
// ErrAppointmentNotFound when the row is missing or no longer in from.
func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id int64, from, to AppointmentStatus) (*Appointment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, to, from)

	return scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsByDate(ctx context.Context, date civil.Date) ([]Appointment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE appointment_date = $1
		ORDER BY appointment_time, id
	`, pgDate(date))
	if err != nil {
		return nil, fmt.Errorf("list appointments by date: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID int64, limit, offset int) ([]Appointment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY appointment_date DESC, appointment_time DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListActiveTimes(ctx context.Context, patientID int64, date civil.Date) ([]civil.Time, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT appointment_time
		FROM appointments
		WHERE patient_id = $1
		  AND appointment_date = $2
		  AND status = 'SCHEDULED'
	`, patientID, pgDate(date))
	if err != nil {
		return nil, fmt.Errorf("list active times: %w", err)
	}
	defer rows.Close()

	var times []civil.Time
	for rows.Next() {
		var t pgtype.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		times = append(times, fromPgTime(t))
	}
	return times, rows.Err()
}
