// Package appointmenttest provides in-memory fakes of the appointment
// persistence ports.
package appointmenttest

import (
	"context"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/civil"

	"github.com/Salad109/medical-office-manager/internal/appointment"
)

// Repo mimics the appointments table, including the unique index that lets
// only one SCHEDULED appointment hold a patient's slot. It takes part in
// dbtest.Tx.
type Repo struct {
	mu     sync.Mutex
	rows   map[int64]appointment.Appointment
	nextID int64

	saved  map[int64]appointment.Appointment
	savedN int64
}

func NewRepo() *Repo {
	return &Repo{rows: map[int64]appointment.Appointment{}}
}

func (m *Repo) Checkpoint() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = make(map[int64]appointment.Appointment, len(m.rows))
	for k, v := range m.rows {
		m.saved[k] = v
	}
	m.savedN = m.nextID
}

func (m *Repo) Rollback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = m.saved
	m.nextID = m.savedN
}

func (m *Repo) GetAppointmentByID(_ context.Context, id int64) (*appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *Repo) LockAppointment(ctx context.Context, id int64) (*appointment.Appointment, error) {
	return m.GetAppointmentByID(ctx, id)
}

func (m *Repo) activeLocked(patientID int64, slot appointment.Slot) (appointment.Appointment, bool) {
	for _, a := range m.rows {
		if a.PatientID == patientID && a.Date == slot.Date && a.Time == slot.Time && a.Status == appointment.StatusScheduled {
			return a, true
		}
	}
	return appointment.Appointment{}, false
}

func (m *Repo) FindActiveForSlot(_ context.Context, patientID int64, slot appointment.Slot) (*appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.activeLocked(patientID, slot)
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *Repo) CreateAppointment(_ context.Context, patientID int64, slot appointment.Slot) (*appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.activeLocked(patientID, slot); taken {
		return nil, appointment.ErrSlotTaken
	}
	m.nextID++
	now := time.Now()
	a := appointment.Appointment{
		ID:        m.nextID,
		PatientID: patientID,
		Date:      slot.Date,
		Time:      slot.Time,
		Status:    appointment.StatusScheduled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.rows[a.ID] = a
	return &a, nil
}

func (m *Repo) UpdateAppointmentStatus(_ context.Context, id int64, from, to appointment.AppointmentStatus) (*appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok || a.Status != from {
		return nil, appointment.ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	m.rows[id] = a
	return &a, nil
}

func (m *Repo) ListAppointmentsByDate(_ context.Context, date civil.Date) ([]appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []appointment.Appointment{}
	for _, a := range m.rows {
		if a.Date == date {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Time != out[j].Time {
			return out[i].Time.String() < out[j].Time.String()
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Repo) ListAppointmentsByPatient(_ context.Context, patientID int64, limit, offset int) ([]appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []appointment.Appointment{}
	for _, a := range m.rows {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset >= len(out) {
		return []appointment.Appointment{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Repo) ListActiveTimes(_ context.Context, patientID int64, date civil.Date) ([]civil.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []civil.Time
	for _, a := range m.rows {
		if a.PatientID == patientID && a.Date == date && a.Status == appointment.StatusScheduled {
			out = append(out, a.Time)
		}
	}
	return out, nil
}
