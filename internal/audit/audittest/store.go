// Package audittest provides an in-memory audit.Store for tests.
package audittest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Salad109/medical-office-manager/internal/audit"
	"github.com/Salad109/medical-office-manager/internal/db/dbtest"
)

// Store keeps entries in memory. It takes part in dbtest.Tx so that a rolled
// back fake transaction also drops its entries. Set FailNext to make the next
// Insert fail.
type Store struct {
	mu         sync.Mutex
	entries    []audit.Entry
	checkpoint int
	nextID     int64

	FailNext error
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Insert(ctx context.Context, e *audit.Entry) error {
	if !dbtest.InTx(ctx) {
		return audit.ErrNoTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailNext != nil {
		err := s.FailNext
		s.FailNext = nil
		return err
	}

	s.nextID++
	e.ID = s.nextID
	e.CreatedAt = time.Now()
	s.entries = append(s.entries, *e)
	return nil
}

func (s *Store) List(_ context.Context, f audit.Filter) ([]audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []audit.Entry
	for _, e := range s.entries {
		if f.EntityType != "" && e.EntityType != f.EntityType {
			continue
		}
		if f.EntityID != nil && e.EntityID != *f.EntityID {
			continue
		}
		if f.ActorID != nil && (e.ActorID == nil || *e.ActorID != *f.ActorID) {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.Since != nil && e.CreatedAt.Before(*f.Since) {
			continue
		}
		if f.Until != nil && !e.CreatedAt.Before(*f.Until) {
			continue
		}
		if e.ID <= f.AfterID {
			continue
		}
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool {
		if f.Ascending {
			return out[i].ID < out[j].ID
		}
		return out[i].ID > out[j].ID
	})

	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Entries returns a copy of all entries in insertion order.
func (s *Store) Entries() []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Entry(nil), s.entries...)
}

func (s *Store) Checkpoint() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint = len(s.entries)
}

func (s *Store) Rollback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = s.entries[:s.checkpoint]
}
