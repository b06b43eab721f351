package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Salad109/medical-office-manager/internal/db"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Insert(ctx context.Context, e *Entry) error {
	tx, ok := db.TxFromContext(ctx)
	if !ok {
		return ErrNoTransaction
	}

	return tx.QueryRow(ctx, `
		INSERT INTO audit_log (user_id, action, entity_type, entity_id, old_values, new_values)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, e.ActorID, e.Action, e.EntityType, e.EntityID, nullJSON(e.OldValues), nullJSON(e.NewValues)).
		Scan(&e.ID, &e.CreatedAt)
}

func (s *PgStore) List(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.EntityType != "" {
		add("entity_type = $%d", f.EntityType)
	}
	if f.EntityID != nil {
		add("entity_id = $%d", *f.EntityID)
	}
	if f.ActorID != nil {
		add("user_id = $%d", *f.ActorID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.Since != nil {
		add("created_at >= $%d", *f.Since)
	}
	if f.Until != nil {
		add("created_at < $%d", *f.Until)
	}
	if f.AfterID > 0 {
		add("id > $%d", f.AfterID)
	}

	query := `SELECT id, user_id, action, entity_type, entity_id, old_values, new_values, created_at FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	order := "DESC"
	if f.Ascending {
		order = "ASC"
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY id %s LIMIT $%d OFFSET $%d", order, len(args)-1, len(args))

	rows, err := db.Conn(ctx, s.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	result := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var oldValues, newValues []byte

	err := row.Scan(
		&e.ID,
		&e.ActorID,
		&e.Action,
		&e.EntityType,
		&e.EntityID,
		&oldValues,
		&newValues,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.OldValues = oldValues
	e.NewValues = newValues
	return &e, nil
}

// nullJSON keeps an absent snapshot as SQL NULL rather than JSON null.
func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
