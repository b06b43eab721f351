package visit_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Salad109/medical-office-manager/internal/apperr"
	"github.com/Salad109/medical-office-manager/internal/appointment"
	"github.com/Salad109/medical-office-manager/internal/appointment/appointmenttest"
	"github.com/Salad109/medical-office-manager/internal/audit"
	"github.com/Salad109/medical-office-manager/internal/audit/audittest"
	"github.com/Salad109/medical-office-manager/internal/db/dbtest"
	"github.com/Salad109/medical-office-manager/internal/identity"
	"github.com/Salad109/medical-office-manager/internal/visit"
)

type memRepo struct {
	mu     sync.Mutex
	visits []visit.Visit
	saved  int
	appts  *appointmenttest.Repo
}

func (m *memRepo) Checkpoint() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = len(m.visits)
}

func (m *memRepo) Rollback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visits = m.visits[:m.saved]
}

func (m *memRepo) ExistsForAppointment(_ context.Context, appointmentID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.visits {
		if v.AppointmentID == appointmentID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) CreateVisit(_ context.Context, appointmentID, doctorID int64, notes string) (*visit.Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.visits {
		if v.AppointmentID == appointmentID {
			return nil, visit.ErrVisitExists
		}
	}
	v := visit.Visit{
		ID:            int64(len(m.visits) + 1),
		AppointmentID: appointmentID,
		DoctorID:      doctorID,
		Notes:         notes,
		CompletedAt:   time.Now(),
	}
	m.visits = append(m.visits, v)
	return &v, nil
}

func (m *memRepo) GetVisitByID(_ context.Context, id int64) (*visit.Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.visits {
		if v.ID == id {
			return &v, nil
		}
	}
	return nil, visit.ErrVisitNotFound
}

func (m *memRepo) GetVisitByAppointment(_ context.Context, appointmentID int64) (*visit.Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.visits {
		if v.AppointmentID == appointmentID {
			return &v, nil
		}
	}
	return nil, visit.ErrVisitNotFound
}

func (m *memRepo) ListVisitsByPatient(ctx context.Context, patientID int64, limit, offset int) ([]visit.Visit, error) {
	m.mu.Lock()
	all := append([]visit.Visit(nil), m.visits...)
	m.mu.Unlock()

	out := []visit.Visit{}
	for _, v := range all {
		a, err := m.appts.GetAppointmentByID(ctx, v.AppointmentID)
		if err != nil {
			return nil, err
		}
		if a.PatientID == patientID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset >= len(out) {
		return []visit.Visit{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var (
	may1 = civil.Date{Year: 2024, Month: time.May, Day: 1}
	ten  = civil.Time{Hour: 10}
)

type fixture struct {
	appointments *appointment.Service
	visits       *visit.Service
	appts        *appointmenttest.Repo
	audit        *audittest.Store
	cache        *appointmenttest.DayCache
}

func newFixture() *fixture {
	appts := appointmenttest.NewRepo()
	visits := &memRepo{appts: appts}
	store := audittest.NewStore()
	tx := dbtest.NewTx(appts, visits, store)
	cache := appointmenttest.NewDayCache()
	recorder := audit.NewRecorder(store)
	users := appointmenttest.Users{
		1: identity.RoleStaff,
		3: identity.RoleDoctor,
		4: identity.RoleDoctor,
		7: identity.RolePatient,
		8: identity.RolePatient,
	}

	return &fixture{
		appointments: appointment.NewService(tx, appts, users, recorder, cache, appointment.Options{
			Location: time.UTC,
			Now:      func() time.Time { return time.Date(2024, time.April, 1, 8, 0, 0, 0, time.UTC) },
		}, zerolog.Nop()),
		visits: visit.NewService(tx, visits, appts, users, recorder, cache, zerolog.Nop()),
		appts:  appts,
		audit:  store,
		cache:  cache,
	}
}

func doctor(id int64) context.Context {
	return audit.WithPrincipal(context.Background(), identity.Principal{UserID: id, Role: identity.RoleDoctor})
}

func (f *fixture) book(t *testing.T, patientID int64) *appointment.Appointment {
	t.Helper()
	a, err := f.appointments.Book(context.Background(), patientID, may1, ten)
	require.NoError(t, err)
	return a
}

func TestLifecycleScenario(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	appt, err := f.appointments.Book(ctx, 7, may1, ten)
	require.NoError(t, err)
	assert.Equal(t, int64(1), appt.ID)
	assert.Equal(t, appointment.StatusScheduled, appt.Status)

	_, err = f.appointments.Book(ctx, 7, may1, ten)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	v, err := f.visits.Complete(ctx, appt.ID, 3, "checkup")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.AppointmentID)
	assert.Equal(t, int64(3), v.DoctorID)
	assert.Equal(t, "checkup", v.Notes)
	assert.False(t, v.CompletedAt.IsZero())

	stored, err := f.appts.GetAppointmentByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCompleted, stored.Status)

	_, err = f.visits.Complete(ctx, appt.ID, 3, "checkup")
	assert.ErrorIs(t, err, visit.ErrVisitExists)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = f.appointments.Cancel(ctx, appt.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestCompleteWritesTwoEntriesWithOneActor(t *testing.T) {
	f := newFixture()
	appt := f.book(t, 7)

	v, err := f.visits.Complete(doctor(3), appt.ID, 3, "ok")
	require.NoError(t, err)

	entries := f.audit.Entries()
	require.Len(t, entries, 3)
	created, updated := entries[1], entries[2]

	assert.Equal(t, audit.ActionCreate, created.Action)
	assert.Equal(t, "Visit", created.EntityType)
	assert.Equal(t, v.ID, created.EntityID)

	assert.Equal(t, audit.ActionUpdate, updated.Action)
	assert.Equal(t, "Appointment", updated.EntityType)
	assert.Equal(t, appt.ID, updated.EntityID)
	assert.Contains(t, string(updated.OldValues), `"status":"SCHEDULED"`)
	assert.Contains(t, string(updated.NewValues), `"status":"COMPLETED"`)

	for _, e := range []audit.Entry{created, updated} {
		require.NotNil(t, e.ActorID)
		assert.Equal(t, int64(3), *e.ActorID)
	}

	assert.Contains(t, f.cache.Invalidated(), may1)
}

func TestConcurrentCompletionHasOneWinner(t *testing.T) {
	f := newFixture()
	appt := f.book(t, 7)

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.visits.Complete(context.Background(), appt.ID, 3, "race")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, visit.ErrVisitExists):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, workers-1, conflicts)
	assert.Len(t, f.audit.Entries(), 3)
}

func TestCompleteCancelledAppointment(t *testing.T) {
	f := newFixture()
	appt := f.book(t, 7)
	_, err := f.appointments.Cancel(context.Background(), appt.ID)
	require.NoError(t, err)

	_, err = f.visits.Complete(context.Background(), appt.ID, 3, "")
	assert.ErrorIs(t, err, appointment.ErrInvalidTransition)
}

func TestCompleteValidation(t *testing.T) {
	f := newFixture()
	appt := f.book(t, 7)

	_, err := f.visits.Complete(context.Background(), 999, 3, "")
	assert.ErrorIs(t, err, appointment.ErrAppointmentNotFound)

	_, err = f.visits.Complete(context.Background(), appt.ID, 8, "")
	assert.ErrorIs(t, err, visit.ErrDoctorNotFound, "a patient is not a doctor")

	_, err = f.visits.Complete(doctor(4), appt.ID, 3, "")
	assert.ErrorIs(t, err, visit.ErrCompleteForbidden)

	staff := audit.WithPrincipal(context.Background(), identity.Principal{UserID: 1, Role: identity.RoleStaff})
	_, err = f.visits.Complete(staff, appt.ID, 3, "")
	assert.ErrorIs(t, err, visit.ErrCompleteForbidden)

	stored, err := f.appts.GetAppointmentByID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusScheduled, stored.Status)
	assert.Len(t, f.audit.Entries(), 1)
}

func TestCompleteRollsBackWhenAuditFails(t *testing.T) {
	f := newFixture()
	appt := f.book(t, 7)

	f.audit.FailNext = errors.New("disk full")
	_, err := f.visits.Complete(context.Background(), appt.ID, 3, "")
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

	stored, err := f.appts.GetAppointmentByID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusScheduled, stored.Status)

	_, err = f.visits.GetByAppointment(context.Background(), appt.ID)
	assert.ErrorIs(t, err, visit.ErrVisitNotFound)

	// the appointment can still be completed afterwards
	_, err = f.visits.Complete(context.Background(), appt.ID, 3, "")
	assert.NoError(t, err)
}

func TestVisitReadsRespectPatientOwnership(t *testing.T) {
	f := newFixture()
	appt := f.book(t, 7)
	v, err := f.visits.Complete(context.Background(), appt.ID, 3, "x")
	require.NoError(t, err)

	own := audit.WithPrincipal(context.Background(), identity.Principal{UserID: 7, Role: identity.RolePatient})
	other := audit.WithPrincipal(context.Background(), identity.Principal{UserID: 8, Role: identity.RolePatient})

	got, err := f.visits.Get(own, v.ID)
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID)

	_, err = f.visits.Get(other, v.ID)
	assert.ErrorIs(t, err, visit.ErrVisitsForbidden)

	list, err := f.visits.ListForPatient(own, 7, 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = f.visits.ListForPatient(other, 7, 0, 0)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	list, err = f.visits.ListForPatient(doctor(3), 8, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}
