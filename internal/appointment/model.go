package appointment

import (
	"time"

	"cloud.google.com/go/civil"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "SCHEDULED"
	StatusCompleted AppointmentStatus = "COMPLETED"
	StatusCancelled AppointmentStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed from s.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition lists the only edges of the lifecycle:
// SCHEDULED -> COMPLETED and SCHEDULED -> CANCELLED.
func CanTransition(from, to AppointmentStatus) bool {
	return from == StatusScheduled && (to == StatusCompleted || to == StatusCancelled)
}

type Appointment struct {
	ID        int64             `json:"id"`
	PatientID int64             `json:"patient_id"`
	Date      civil.Date        `json:"appointment_date"`
	Time      civil.Time        `json:"appointment_time"`
	Status    AppointmentStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (a *Appointment) AuditEntity() string { return "Appointment" }
func (a *Appointment) AuditID() int64      { return a.ID }

// Slot is the (date, time) part of a booking; with the patient it forms the
// unit of double-booking protection.
type Slot struct {
	Date civil.Date
	Time civil.Time
}

// StartsAt is the slot start in loc.
func (s Slot) StartsAt(loc *time.Location) time.Time {
	return time.Date(s.Date.Year, s.Date.Month, s.Date.Day, s.Time.Hour, s.Time.Minute, s.Time.Second, s.Time.Nanosecond, loc)
}

// OfficeHours defines the bookable grid: every Step from Open (inclusive) to
// Close (exclusive).
type OfficeHours struct {
	Open  civil.Time
	Close civil.Time
	Step  time.Duration
}

func DefaultOfficeHours() OfficeHours {
	return OfficeHours{
		Open:  civil.Time{Hour: 9},
		Close: civil.Time{Hour: 17},
		Step:  30 * time.Minute,
	}
}

func sinceMidnight(t civil.Time) time.Duration {
	return time.Duration(t.Hour)*time.Hour +
		time.Duration(t.Minute)*time.Minute +
		time.Duration(t.Second)*time.Second +
		time.Duration(t.Nanosecond)
}

func clockAt(d time.Duration) civil.Time {
	return civil.Time{
		Hour:   int(d / time.Hour),
		Minute: int(d % time.Hour / time.Minute),
		Second: int(d % time.Minute / time.Second),
	}
}

func (h OfficeHours) Grid() []civil.Time {
	if h.Step <= 0 {
		return nil
	}
	var out []civil.Time
	for d := sinceMidnight(h.Open); d < sinceMidnight(h.Close); d += h.Step {
		out = append(out, clockAt(d))
	}
	return out
}

// OnGrid reports whether t is one of the grid slot starts.
func (h OfficeHours) OnGrid(t civil.Time) bool {
	if h.Step <= 0 || !t.IsValid() {
		return false
	}
	d, open := sinceMidnight(t), sinceMidnight(h.Open)
	return d >= open && d < sinceMidnight(h.Close) && (d-open)%h.Step == 0
}
