package visit

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Salad109/medical-office-manager/internal/apperr"
	"github.com/Salad109/medical-office-manager/internal/appointment"
	"github.com/Salad109/medical-office-manager/internal/audit"
	"github.com/Salad109/medical-office-manager/internal/db"
	"github.com/Salad109/medical-office-manager/internal/identity"
	"github.com/Salad109/medical-office-manager/internal/metrics"
	"github.com/Salad109/medical-office-manager/internal/user"
)

var ErrCompleteForbidden = apperr.Forbidden("complete_forbidden", "only the attending doctor may complete a visit")

// AppointmentStore is the slice of the appointment repository completion needs.
type AppointmentStore interface {
	GetAppointmentByID(ctx context.Context, id int64) (*appointment.Appointment, error)
	LockAppointment(ctx context.Context, id int64) (*appointment.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id int64, from, to appointment.AppointmentStatus) (*appointment.Appointment, error)
}

type UserDirectory interface {
	RequireRole(ctx context.Context, id int64, role identity.Role, notFound error) (*user.User, error)
}

type Service struct {
	tx           db.Transactor
	repo         Repository
	appointments AppointmentStore
	users        UserDirectory
	recorder     *audit.Recorder
	cache        appointment.DayCache
	log          zerolog.Logger
}

func NewService(tx db.Transactor, repo Repository, appointments AppointmentStore, users UserDirectory, recorder *audit.Recorder, cache appointment.DayCache, log zerolog.Logger) *Service {
	if cache == nil {
		cache = appointment.NopDayCache{}
	}
	return &Service{
		tx:           tx,
		repo:         repo,
		appointments: appointments,
		users:        users,
		recorder:     recorder,
		cache:        cache,
		log:          log.With().Str("component", "visit").Logger(),
	}
}

// Complete records the visit for a SCHEDULED appointment and moves the
// appointment to COMPLETED in the same transaction. A repeated completion
// reports ErrVisitExists before the status check runs.
func (s *Service) Complete(ctx context.Context, appointmentID, doctorID int64, notes string) (*Visit, error) {
	if p, ok := audit.PrincipalFromContext(ctx); ok && (p.Role != identity.RoleDoctor || p.UserID != doctorID) {
		return nil, ErrCompleteForbidden
	}

	var (
		created *Visit
		appt    *appointment.Appointment
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		before, err := s.appointments.LockAppointment(ctx, appointmentID)
		if err != nil {
			if errors.Is(err, appointment.ErrAppointmentNotFound) {
				return err
			}
			return fmt.Errorf("load appointment: %w", err)
		}

		exists, err := s.repo.ExistsForAppointment(ctx, appointmentID)
		if err != nil {
			return fmt.Errorf("check existing visit: %w", err)
		}
		if exists {
			return ErrVisitExists
		}

		if !appointment.CanTransition(before.Status, appointment.StatusCompleted) {
			return appointment.ErrInvalidTransition
		}

		if _, err := s.users.RequireRole(ctx, doctorID, identity.RoleDoctor, ErrDoctorNotFound); err != nil {
			return err
		}

		v, err := s.repo.CreateVisit(ctx, appointmentID, doctorID, notes)
		if err != nil {
			if errors.Is(err, ErrVisitExists) {
				return err
			}
			return fmt.Errorf("create visit: %w", err)
		}

		after, err := s.appointments.UpdateAppointmentStatus(ctx, appointmentID, appointment.StatusScheduled, appointment.StatusCompleted)
		if err != nil {
			if errors.Is(err, appointment.ErrAppointmentNotFound) {
				return appointment.ErrInvalidTransition
			}
			return fmt.Errorf("complete appointment: %w", err)
		}

		if err := s.recorder.Created(ctx, v); err != nil {
			return err
		}
		if err := s.recorder.Updated(ctx, before, after); err != nil {
			return err
		}

		created, appt = v, after
		return nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) || errors.Is(err, apperr.ErrInvalidState) {
			metrics.Conflicts.WithLabelValues("complete").Inc()
		}
		return nil, err
	}

	s.cache.Invalidate(ctx, appt.Date)
	metrics.VisitsCompleted.Inc()
	s.log.Info().
		Int64("visit_id", created.ID).
		Int64("appointment_id", appointmentID).
		Int64("doctor_id", doctorID).
		Msg("visit completed")

	return created, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Visit, error) {
	v, err := s.repo.GetVisitByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkOwner(ctx, v.AppointmentID); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Service) GetByAppointment(ctx context.Context, appointmentID int64) (*Visit, error) {
	if err := s.checkOwner(ctx, appointmentID); err != nil {
		return nil, err
	}
	return s.repo.GetVisitByAppointment(ctx, appointmentID)
}

// ListForPatient returns the patient's visits, newest first.
func (s *Service) ListForPatient(ctx context.Context, patientID int64, limit, offset int) ([]Visit, error) {
	if p, ok := audit.PrincipalFromContext(ctx); ok && p.Role == identity.RolePatient && p.UserID != patientID {
		return nil, ErrVisitsForbidden
	}

	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	visits, err := s.repo.ListVisitsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}
	return visits, nil
}

func (s *Service) checkOwner(ctx context.Context, appointmentID int64) error {
	p, ok := audit.PrincipalFromContext(ctx)
	if !ok || p.Role != identity.RolePatient {
		return nil
	}
	appt, err := s.appointments.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return err
	}
	if appt.PatientID != p.UserID {
		return ErrVisitsForbidden
	}
	return nil
}
