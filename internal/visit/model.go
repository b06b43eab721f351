package visit

import "time"

// Visit finalizes exactly one appointment. It is immutable once created.
type Visit struct {
	ID            int64     `json:"id"`
	AppointmentID int64     `json:"appointment_id"`
	DoctorID      int64     `json:"doctor_id"`
	Notes         string    `json:"notes"`
	CompletedAt   time.Time `json:"completed_at"`
}

func (v *Visit) AuditEntity() string { return "Visit" }
func (v *Visit) AuditID() int64      { return v.ID }
