package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/Salad109/medical-office-manager/internal/audit"
	"github.com/Salad109/medical-office-manager/internal/db"
	"github.com/Salad109/medical-office-manager/internal/identity"
	"github.com/Salad109/medical-office-manager/internal/metrics"
	"github.com/Salad109/medical-office-manager/internal/user"
)

// UserDirectory resolves the patient a booking refers to.
type UserDirectory interface {
	RequireRole(ctx context.Context, id int64, role identity.Role, notFound error) (*user.User, error)
}

type Options struct {
	Hours    OfficeHours
	Location *time.Location
	Now      func() time.Time
}

type Service struct {
	tx       db.Transactor
	repo     Repository
	users    UserDirectory
	recorder *audit.Recorder
	cache    DayCache
	hours    OfficeHours
	loc      *time.Location
	now      func() time.Time
	log      zerolog.Logger
}

func NewService(tx db.Transactor, repo Repository, users UserDirectory, recorder *audit.Recorder, cache DayCache, opts Options, log zerolog.Logger) *Service {
	if cache == nil {
		cache = NopDayCache{}
	}
	if opts.Hours.Step <= 0 {
		opts.Hours = DefaultOfficeHours()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		tx:       tx,
		repo:     repo,
		users:    users,
		recorder: recorder,
		cache:    cache,
		hours:    opts.Hours,
		loc:      opts.Location,
		now:      opts.Now,
		log:      log.With().Str("component", "appointment").Logger(),
	}
}

func (s *Service) Hours() OfficeHours {
	return s.hours
}

// Book creates a SCHEDULED appointment for the patient. The duplicate check
// and insert share one transaction; the active-slot unique index settles
// races between concurrent bookings.
func (s *Service) Book(ctx context.Context, patientID int64, date civil.Date, at civil.Time) (*Appointment, error) {
	slot := Slot{Date: date, Time: at}

	if !date.IsValid() || !s.hours.OnGrid(at) {
		return nil, ErrSlotOffGrid
	}
	if !slot.StartsAt(s.loc).After(s.now()) {
		return nil, ErrSlotInPast
	}
	if p, ok := audit.PrincipalFromContext(ctx); ok && p.Role == identity.RolePatient && p.UserID != patientID {
		return nil, ErrBookingForbidden
	}

	var created *Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.users.RequireRole(ctx, patientID, identity.RolePatient, ErrPatientNotFound); err != nil {
			return err
		}

		existing, err := s.repo.FindActiveForSlot(ctx, patientID, slot)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return fmt.Errorf("check active appointment: %w", err)
		}
		if existing != nil {
			return ErrSlotTaken
		}

		appt, err := s.repo.CreateAppointment(ctx, patientID, slot)
		if err != nil {
			if errors.Is(err, ErrSlotTaken) {
				return err
			}
			return fmt.Errorf("create appointment: %w", err)
		}

		if err := s.recorder.Created(ctx, appt); err != nil {
			return err
		}

		created = appt
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSlotTaken) {
			metrics.Conflicts.WithLabelValues("book").Inc()
		}
		return nil, err
	}

	s.cache.Invalidate(ctx, date)
	metrics.AppointmentsBooked.Inc()
	s.log.Info().
		Int64("appointment_id", created.ID).
		Int64("patient_id", patientID).
		Str("slot", date.String()+" "+at.String()).
		Msg("appointment booked")

	return created, nil
}

// Cancel moves a SCHEDULED appointment to CANCELLED on behalf of the
// principal in ctx. Doctors never cancel; patients cancel only their own.
func (s *Service) Cancel(ctx context.Context, id int64) (*Appointment, error) {
	var cancelled *Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		before, err := s.repo.LockAppointment(ctx, id)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return err
			}
			return fmt.Errorf("load appointment: %w", err)
		}

		if p, ok := audit.PrincipalFromContext(ctx); ok {
			if p.Role == identity.RoleDoctor || (p.Role == identity.RolePatient && p.UserID != before.PatientID) {
				return ErrCancelForbidden
			}
		}

		if !CanTransition(before.Status, StatusCancelled) {
			return ErrInvalidTransition
		}

		after, err := s.repo.UpdateAppointmentStatus(ctx, id, StatusScheduled, StatusCancelled)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				// row lock held, so this only happens if the status moved under us
				return ErrInvalidTransition
			}
			return fmt.Errorf("cancel appointment: %w", err)
		}

		if err := s.recorder.Updated(ctx, before, after); err != nil {
			return err
		}

		cancelled = after
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			metrics.Conflicts.WithLabelValues("cancel").Inc()
		}
		return nil, err
	}

	s.cache.Invalidate(ctx, cancelled.Date)
	metrics.AppointmentsCancelled.Inc()
	s.log.Info().Int64("appointment_id", id).Msg("appointment cancelled")

	return cancelled, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p, ok := audit.PrincipalFromContext(ctx); ok && p.Role == identity.RolePatient && p.UserID != appt.PatientID {
		return nil, ErrListForbidden
	}
	return appt, nil
}

// List returns every appointment on date, ordered by time. The cache version
// is taken before the query so a fill racing a commit is dropped.
func (s *Service) List(ctx context.Context, date civil.Date) ([]Appointment, error) {
	cached, version, ok := s.cache.Get(ctx, date)
	if ok {
		return cached, nil
	}

	appts, err := s.repo.ListAppointmentsByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	s.cache.Set(ctx, date, version, appts)
	return appts, nil
}

// ListForPatient retrieves appointments for a specific patient, newest first.
func (s *Service) ListForPatient(ctx context.Context, patientID int64, limit, offset int) ([]Appointment, error) {
	if p, ok := audit.PrincipalFromContext(ctx); ok && p.Role == identity.RolePatient && p.UserID != patientID {
		return nil, ErrListForbidden
	}

	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	appts, err := s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appts, nil
}

// AvailableSlots returns the grid times on date the patient could still book:
// no active appointment of theirs at that time and not already started.
func (s *Service) AvailableSlots(ctx context.Context, patientID int64, date civil.Date) ([]civil.Time, error) {
	if p, ok := audit.PrincipalFromContext(ctx); ok && p.Role == identity.RolePatient && p.UserID != patientID {
		return nil, ErrListForbidden
	}
	if !date.IsValid() {
		return nil, ErrSlotOffGrid
	}

	taken, err := s.repo.ListActiveTimes(ctx, patientID, date)
	if err != nil {
		return nil, err
	}
	busy := make(map[civil.Time]bool, len(taken))
	for _, t := range taken {
		busy[t] = true
	}

	now := s.now()
	free := []civil.Time{}
	for _, t := range s.hours.Grid() {
		if busy[t] {
			continue
		}
		if !(Slot{Date: date, Time: t}).StartsAt(s.loc).After(now) {
			continue
		}
		free = append(free, t)
	}
	return free, nil
}
