package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
	"github.com/rs/zerolog"

	"github.com/Salad109/medical-office-manager/internal/audit"
	"github.com/Salad109/medical-office-manager/internal/db"
	"github.com/Salad109/medical-office-manager/internal/identity"
)

const (
	minSearchLength = 3
	defaultLimit    = 20
	maxLimit        = 100
)

type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

type Service struct {
	tx          db.Transactor
	repo        Repository
	recorder    *audit.Recorder
	hasher      PasswordHasher
	phoneRegion string
	log         zerolog.Logger
}

func NewService(tx db.Transactor, repo Repository, recorder *audit.Recorder, hasher PasswordHasher, phoneRegion string, log zerolog.Logger) *Service {
	return &Service{
		tx:          tx,
		repo:        repo,
		recorder:    recorder,
		hasher:      hasher,
		phoneRegion: phoneRegion,
		log:         log.With().Str("component", "user").Logger(),
	}
}

// Register creates an account. Anonymous callers and non-staff principals may
// only create patients.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	if !in.Role.Valid() {
		return nil, ErrInvalidRole
	}
	if in.Role != identity.RolePatient {
		p, ok := audit.PrincipalFromContext(ctx)
		if !ok || p.Role != identity.RoleStaff {
			return nil, ErrRegistrationDenied
		}
	}
	return s.create(ctx, in)
}

// Provision creates an account of any role without a principal check. It is
// for operator tooling (seed, bootstrap of the first staff account) and is
// not reachable over HTTP.
func (s *Service) Provision(ctx context.Context, in RegisterInput) (*User, error) {
	if !in.Role.Valid() {
		return nil, ErrInvalidRole
	}
	return s.create(ctx, in)
}

func (s *Service) create(ctx context.Context, in RegisterInput) (*User, error) {
	phone, err := s.normalizePhone(in.Phone)
	if err != nil {
		return nil, err
	}
	pesel, err := checkPESEL(in.Role, in.PESEL)
	if err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var created *User
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.checkUnique(ctx, in.Username, phone, 0); err != nil {
			return err
		}

		u, err := s.repo.CreateUser(ctx, User{
			Username:     strings.TrimSpace(in.Username),
			PasswordHash: hash,
			Role:         in.Role,
			FirstName:    strings.TrimSpace(in.FirstName),
			LastName:     strings.TrimSpace(in.LastName),
			Phone:        phone,
			PESEL:        pesel,
		})
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}

		if err := s.recorder.Created(ctx, u); err != nil {
			return err
		}

		created = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Int64("user_id", created.ID).Str("role", string(created.Role)).Msg("user registered")
	return created, nil
}

// UpdateProfile replaces the profile of user id. Only the user themself or
// staff may do this. The role is not editable here.
func (s *Service) UpdateProfile(ctx context.Context, id int64, in ProfileInput) (*User, error) {
	if p, ok := audit.PrincipalFromContext(ctx); ok && p.Role != identity.RoleStaff && p.UserID != id {
		return nil, ErrProfileEditDenied
	}

	phone, err := s.normalizePhone(in.Phone)
	if err != nil {
		return nil, err
	}

	var newHash string
	if in.Password != "" {
		if newHash, err = s.hasher.Hash(in.Password); err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
	}

	var updated *User
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		before, err := s.repo.LockUser(ctx, id)
		if err != nil {
			return err
		}

		pesel, err := checkPESEL(before.Role, in.PESEL)
		if err != nil {
			return err
		}

		if err := s.checkUnique(ctx, in.Username, phone, id); err != nil {
			return err
		}

		next := *before
		next.Username = strings.TrimSpace(in.Username)
		next.FirstName = strings.TrimSpace(in.FirstName)
		next.LastName = strings.TrimSpace(in.LastName)
		next.Phone = phone
		next.PESEL = pesel
		if newHash != "" {
			next.PasswordHash = newHash
		}

		after, err := s.repo.UpdateUser(ctx, next)
		if err != nil {
			return fmt.Errorf("update user: %w", err)
		}

		if err := s.recorder.Updated(ctx, before, after); err != nil {
			return err
		}

		updated = after
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Int64("user_id", id).Msg("user profile updated")
	return updated, nil
}

func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// RequireRole loads user id and checks its role. A user with another role is
// reported as notFound so callers can surface their own domain error.
func (s *Service) RequireRole(ctx context.Context, id int64, role identity.Role, notFound error) (*User, error) {
	u, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, notFound
		}
		return nil, fmt.Errorf("load user %d: %w", id, err)
	}
	if u.Role != role {
		return nil, notFound
	}
	return u, nil
}

// Search matches name or username. Queries shorter than three characters
// return nothing.
func (s *Service) Search(ctx context.Context, query string, role identity.Role, limit, offset int) ([]User, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < minSearchLength {
		return []User{}, nil
	}
	if role != "" && !role.Valid() {
		return nil, ErrInvalidRole
	}

	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}

	users, err := s.repo.SearchUsers(ctx, query, role, limit, offset)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []User{}
	}
	return users, nil
}

// Authenticate checks a username and password pair.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	if err := s.hasher.Compare(u.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

func (s *Service) checkUnique(ctx context.Context, username, phone string, excludeID int64) error {
	taken, err := s.repo.UsernameExists(ctx, strings.TrimSpace(username), excludeID)
	if err != nil {
		return fmt.Errorf("check username: %w", err)
	}
	if taken {
		return ErrUsernameTaken
	}

	taken, err = s.repo.PhoneExists(ctx, phone, excludeID)
	if err != nil {
		return fmt.Errorf("check phone: %w", err)
	}
	if taken {
		return ErrPhoneTaken
	}
	return nil
}

// normalizePhone returns the number in E.164 form.
func (s *Service) normalizePhone(raw string) (string, error) {
	num, err := phonenumbers.Parse(strings.TrimSpace(raw), s.phoneRegion)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return "", ErrInvalidPhone
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// checkPESEL enforces an 11 digit national id for patients and drops it for
// everyone else.
func checkPESEL(role identity.Role, raw string) (*string, error) {
	if role != identity.RolePatient {
		return nil, nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrPESELRequired
	}
	if len(raw) != 11 {
		return nil, ErrInvalidPESEL
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return nil, ErrInvalidPESEL
		}
	}
	return &raw, nil
}
