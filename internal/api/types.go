package api

import (
	"time"

	"cloud.google.com/go/civil"

	"github.com/Salad109/medical-office-manager/internal/user"
)

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	User      *user.User `json:"user"`
}

type RegisterRequest struct {
	Username  string `json:"username" validate:"required,min=3,max=50"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
	Role      string `json:"role" validate:"omitempty,oneof=PATIENT DOCTOR STAFF"`
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Phone     string `json:"phone_number" validate:"required"`
	PESEL     string `json:"pesel" validate:"omitempty,len=11,numeric"`
}

type UpdateProfileRequest struct {
	Username  string `json:"username" validate:"required,min=3,max=50"`
	Password  string `json:"password" validate:"omitempty,min=8,max=72"`
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Phone     string `json:"phone_number" validate:"required"`
	PESEL     string `json:"pesel" validate:"omitempty,len=11,numeric"`
}

// BookAppointmentRequest books a slot. PatientID may be omitted by a patient
// booking for themself.
type BookAppointmentRequest struct {
	PatientID int64  `json:"patient_id" validate:"omitempty,gt=0"`
	Date      string `json:"appointment_date" validate:"required,datetime=2006-01-02"`
	Time      string `json:"appointment_time" validate:"required"`
}

type CompleteVisitRequest struct {
	Notes string `json:"notes" validate:"max=4000"`
}

type AvailableSlotsResponse struct {
	PatientID int64        `json:"patient_id"`
	Date      civil.Date   `json:"date"`
	Times     []civil.Time `json:"times"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
