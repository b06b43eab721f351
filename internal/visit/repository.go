package visit

import (
	"context"

	"github.com/Salad109/medical-office-manager/internal/apperr"
)

var (
	ErrVisitNotFound   = apperr.NotFound("visit_not_found", "visit not found")
	ErrVisitExists     = apperr.Conflict("visit_exists", "appointment already has a visit")
	ErrDoctorNotFound  = apperr.NotFound("doctor_not_found", "doctor not found")
	ErrVisitsForbidden = apperr.Forbidden("visits_forbidden", "patients may only view their own visits")
)

type Repository interface {
	ExistsForAppointment(ctx context.Context, appointmentID int64) (bool, error)

	// CreateVisit returns ErrVisitExists when the appointment_id unique
	// constraint rejects the row.
	CreateVisit(ctx context.Context, appointmentID, doctorID int64, notes string) (*Visit, error)

	GetVisitByID(ctx context.Context, id int64) (*Visit, error)
	GetVisitByAppointment(ctx context.Context, appointmentID int64) (*Visit, error)
	ListVisitsByPatient(ctx context.Context, patientID int64, limit, offset int) ([]Visit, error)
}
