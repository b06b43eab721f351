package user

import (
	"time"

	"github.com/Salad109/medical-office-manager/internal/identity"
)

type User struct {
	ID           int64         `json:"id"`
	Username     string        `json:"username"`
	PasswordHash string        `json:"-"`
	Role         identity.Role `json:"role"`
	FirstName    string        `json:"first_name"`
	LastName     string        `json:"last_name"`
	Phone        string        `json:"phone_number"`
	PESEL        *string       `json:"pesel,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

func (u *User) AuditEntity() string { return "User" }
func (u *User) AuditID() int64      { return u.ID }

func (u *User) Principal() identity.Principal {
	return identity.Principal{UserID: u.ID, Role: u.Role}
}

type RegisterInput struct {
	Username  string
	Password  string
	Role      identity.Role
	FirstName string
	LastName  string
	Phone     string
	PESEL     string
}

// ProfileInput replaces the editable profile fields. An empty Password keeps
// the current one.
type ProfileInput struct {
	Username  string
	Password  string
	FirstName string
	LastName  string
	Phone     string
	PESEL     string
}
