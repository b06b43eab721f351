package visit

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Salad109/medical-office-manager/internal/db"
)

const appointmentUniqueConstraint = "visits_appointment_id_key"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanVisit(row pgx.Row) (*Visit, error) {
	var v Visit
	err := row.Scan(&v.ID, &v.AppointmentID, &v.DoctorID, &v.Notes, &v.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVisitNotFound
		}
		return nil, err
	}
	return &v, nil
}

func (r *PgRepository) ExistsForAppointment(ctx context.Context, appointmentID int64) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM visits WHERE appointment_id = $1)`, appointmentID,
	).Scan(&exists)
	return exists, err
}

func (r *PgRepository) CreateVisit(ctx context.Context, appointmentID, doctorID int64, notes string) (*Visit, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO visits (appointment_id, doctor_id, notes)
		VALUES ($1, $2, $3)
		RETURNING id, appointment_id, doctor_id, notes, completed_at
	`, appointmentID, doctorID, notes)

	v, err := scanVisit(row)
	if err != nil {
		if db.IsUniqueViolation(err, appointmentUniqueConstraint) {
			return nil, ErrVisitExists
		}
		return nil, err
	}
	return v, nil
}

func (r *PgRepository) GetVisitByID(ctx context.Context, id int64) (*Visit, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, appointment_id, doctor_id, notes, completed_at
		FROM visits
		WHERE id = $1
	`, id)
	return scanVisit(row)
}

func (r *PgRepository) GetVisitByAppointment(ctx context.Context, appointmentID int64) (*Visit, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, appointment_id, doctor_id, notes, completed_at
		FROM visits
		WHERE appointment_id = $1
	`, appointmentID)
	return scanVisit(row)
}

func (r *PgRepository) ListVisitsByPatient(ctx context.Context, patientID int64, limit, offset int) ([]Visit, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT v.id, v.appointment_id, v.doctor_id, v.notes, v.completed_at
		FROM visits v
		JOIN appointments a ON a.id = v.appointment_id
		WHERE a.patient_id = $1
		ORDER BY v.completed_at DESC, v.id DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list visits by patient: %w", err)
	}
	defer rows.Close()

	result := []Visit{}
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}
	return result, rows.Err()
}
