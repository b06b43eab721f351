package audit

import (
	"context"
	"fmt"
)

const (
	defaultLimit = 50
	maxLimit     = 100
)

// Service is the read side of the audit log.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// List returns entries matching f, newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]Entry, error) {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	entries, err := s.store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}

// History returns every entry for one entity, oldest first, so the entity's
// state can be replayed. It pages by id so entries written meanwhile are
// appended rather than shifting earlier pages.
func (s *Service) History(ctx context.Context, entityType string, entityID int64) ([]Entry, error) {
	var all []Entry
	var lastID int64
	for {
		page, err := s.store.List(ctx, Filter{
			EntityType: entityType,
			EntityID:   &entityID,
			AfterID:    lastID,
			Ascending:  true,
			Limit:      maxLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("load audit history: %w", err)
		}
		all = append(all, page...)
		if len(page) < maxLimit {
			return all, nil
		}
		lastID = page[len(page)-1].ID
	}
}
