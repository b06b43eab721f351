package appointmenttest

import (
	"context"

	"github.com/Salad109/medical-office-manager/internal/identity"
	"github.com/Salad109/medical-office-manager/internal/user"
)

// Users is a fixed user directory keyed by id.
type Users map[int64]identity.Role

func (u Users) RequireRole(_ context.Context, id int64, role identity.Role, notFound error) (*user.User, error) {
	r, ok := u[id]
	if !ok || r != role {
		return nil, notFound
	}
	return &user.User{ID: id, Role: r}, nil
}
