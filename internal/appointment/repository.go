package appointment

import (
	"context"

	"cloud.google.com/go/civil"

	"github.com/Salad109/medical-office-manager/internal/apperr"
)

var (
	ErrAppointmentNotFound = apperr.NotFound("appointment_not_found", "appointment not found")
	ErrPatientNotFound     = apperr.NotFound("patient_not_found", "patient not found")
	ErrSlotTaken           = apperr.Conflict("slot_taken", "patient already has an active appointment at this date and time")
	ErrInvalidTransition   = apperr.InvalidState("invalid_status_transition", "appointment is not scheduled")
	ErrSlotOffGrid         = apperr.Validation("slot_off_grid", "time is not a bookable slot within office hours")
	ErrSlotInPast          = apperr.Validation("slot_in_past", "cannot book an appointment in the past")
	ErrBookingForbidden    = apperr.Forbidden("booking_forbidden", "patients may only book their own appointments")
	ErrCancelForbidden     = apperr.Forbidden("cancel_forbidden", "not allowed to cancel this appointment")
	ErrListForbidden       = apperr.Forbidden("list_forbidden", "patients may only view their own appointments")
)

// Repository contains all DB interactions needed by the lifecycle. Calls made
// with a transactional ctx join that transaction.
type Repository interface {
	GetAppointmentByID(ctx context.Context, id int64) (*Appointment, error)

	// LockAppointment reads the row FOR UPDATE so concurrent transitions of the
	// same appointment serialize.
	LockAppointment(ctx context.Context, id int64) (*Appointment, error)

	// For conflict checks
	FindActiveForSlot(ctx context.Context, patientID int64, slot Slot) (*Appointment, error)

	// Creation and updates. CreateAppointment returns ErrSlotTaken when the
	// active-slot unique index rejects the row.
	CreateAppointment(ctx context.Context, patientID int64, slot Slot) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id int64, from, to AppointmentStatus) (*Appointment, error)

	// Read projections
	ListAppointmentsByDate(ctx context.Context, date civil.Date) ([]Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID int64, limit, offset int) ([]Appointment, error)
	ListActiveTimes(ctx context.Context, patientID int64, date civil.Date) ([]civil.Time, error)
}

// DayCache caches List(date) results. Implementations must tolerate being
// unavailable: a miss or error falls through to the repository.
//
// A miss reports the day's current version. Set stores the listing only if no
// Invalidate bumped that version since, so a listing read from the repository
// before a commit is never cached after the commit's invalidation.
type DayCache interface {
	Get(ctx context.Context, date civil.Date) (appts []Appointment, version int64, ok bool)
	Set(ctx context.Context, date civil.Date, version int64, appts []Appointment)
	Invalidate(ctx context.Context, date civil.Date)
}

type NopDayCache struct{}

func (NopDayCache) Get(context.Context, civil.Date) ([]Appointment, int64, bool) { return nil, 0, false }
func (NopDayCache) Set(context.Context, civil.Date, int64, []Appointment)        {}
func (NopDayCache) Invalidate(context.Context, civil.Date)                       {}
