package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Salad109/medical-office-manager/internal/db"
	"github.com/Salad109/medical-office-manager/internal/identity"
)

const (
	usernameConstraint = "users_username_key"
	phoneConstraint    = "users_phone_number_key"
)

const userColumns = `id, username, password_hash, role, first_name, last_name, phone_number, pesel, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanUser(row pgx.Row) (*User, error) {
	var u User

	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.PasswordHash,
		&u.Role,
		&u.FirstName,
		&u.LastName,
		&u.Phone,
		&u.PESEL,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return &u, nil
}

// mapWriteError turns unique violations into the matching conflict.
func mapWriteError(err error) error {
	switch {
	case db.IsUniqueViolation(err, usernameConstraint):
		return ErrUsernameTaken
	case db.IsUniqueViolation(err, phoneConstraint):
		return ErrPhoneTaken
	}
	return err
}

func (r *PgRepository) GetUserByID(ctx context.Context, id int64) (*User, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row)
}

func (r *PgRepository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE username = $1
	`, username)
	return scanUser(row)
}

func (r *PgRepository) LockUser(ctx context.Context, id int64) (*User, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanUser(row)
}

func (r *PgRepository) UsernameExists(ctx context.Context, username string, excludeID int64) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM users WHERE username = $1 AND id <> $2)
	`, username, excludeID).Scan(&exists)
	return exists, err
}

func (r *PgRepository) PhoneExists(ctx context.Context, phone string, excludeID int64) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM users WHERE phone_number = $1 AND id <> $2)
	`, phone, excludeID).Scan(&exists)
	return exists, err
}

func (r *PgRepository) CreateUser(ctx context.Context, u User) (*User, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO users (username, password_hash, role, first_name, last_name, phone_number, pesel, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING `+userColumns,
		u.Username, u.PasswordHash, u.Role, u.FirstName, u.LastName, u.Phone, u.PESEL)

	created, err := scanUser(row)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return created, nil
}

func (r *PgRepository) UpdateUser(ctx context.Context, u User) (*User, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE users
		SET username = $2,
		    password_hash = $3,
		    first_name = $4,
		    last_name = $5,
		    phone_number = $6,
		    pesel = $7,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns,
		u.ID, u.Username, u.PasswordHash, u.FirstName, u.LastName, u.Phone, u.PESEL)

	updated, err := scanUser(row)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return updated, nil
}

func (r *PgRepository) SearchUsers(ctx context.Context, query string, role identity.Role, limit, offset int) ([]User, error) {
	pattern := "%" + escapeLike(query) + "%"

	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE (first_name ILIKE $1 OR last_name ILIKE $1 OR username ILIKE $1
		       OR (first_name || ' ' || last_name) ILIKE $1)
		  AND ($2 = '' OR role = $2)
		ORDER BY last_name, first_name, id
		LIMIT $3 OFFSET $4
	`, pattern, string(role), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	var result []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *u)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
