package user

import (
	"context"

	"github.com/Salad109/medical-office-manager/internal/apperr"
	"github.com/Salad109/medical-office-manager/internal/identity"
)

var (
	ErrUserNotFound       = apperr.NotFound("user_not_found", "user not found")
	ErrUsernameTaken      = apperr.Conflict("username_taken", "username already exists")
	ErrPhoneTaken         = apperr.Conflict("phone_taken", "phone number already exists")
	ErrInvalidPhone       = apperr.Validation("invalid_phone", "phone number is not valid")
	ErrPESELRequired      = apperr.Validation("pesel_required", "PESEL is required for patients")
	ErrInvalidPESEL       = apperr.Validation("invalid_pesel", "PESEL must be 11 digits")
	ErrInvalidRole        = apperr.Validation("invalid_role", "unknown role")
	ErrInvalidCredentials = apperr.Unauthorized("invalid_credentials", "invalid username or password")
	ErrRegistrationDenied = apperr.Forbidden("registration_denied", "only staff may register non-patient accounts")
	ErrProfileEditDenied  = apperr.Forbidden("profile_edit_denied", "you may only edit your own profile")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// LockUser reads the row FOR UPDATE inside the current transaction.
	LockUser(ctx context.Context, id int64) (*User, error)

	// Uniqueness checks; excludeID skips the user being edited.
	UsernameExists(ctx context.Context, username string, excludeID int64) (bool, error)
	PhoneExists(ctx context.Context, phone string, excludeID int64) (bool, error)

	CreateUser(ctx context.Context, u User) (*User, error)
	UpdateUser(ctx context.Context, u User) (*User, error)

	SearchUsers(ctx context.Context, query string, role identity.Role, limit, offset int) ([]User, error)
}
