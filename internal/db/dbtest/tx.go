// Package dbtest provides an in-memory stand-in for db.Transactor.
package dbtest

import (
	"context"
	"sync"
)

// Participant is an in-memory store that can take part in a fake transaction.
type Participant interface {
	Checkpoint()
	Rollback()
}

// Tx serializes every transaction through one mutex and rolls tracked stores
// back to their checkpoint when fn fails. This gives the same single-winner
// outcome the database's unique indexes give under concurrent writers.
type Tx struct {
	mu           sync.Mutex
	participants []Participant

	statsMu   sync.Mutex
	commits   int
	rollbacks int
}

func NewTx(participants ...Participant) *Tx {
	return &Tx{participants: participants}
}

type inTxKey struct{}

func (t *Tx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(inTxKey{}) != nil {
		return fn(ctx)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range t.participants {
		p.Checkpoint()
	}

	err := fn(context.WithValue(ctx, inTxKey{}, true))

	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	if err != nil {
		for _, p := range t.participants {
			p.Rollback()
		}
		t.rollbacks++
		return err
	}
	t.commits++
	return nil
}

// InTx reports whether ctx belongs to an open fake transaction.
func InTx(ctx context.Context) bool {
	return ctx.Value(inTxKey{}) != nil
}

func (t *Tx) Commits() int {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	return t.commits
}

func (t *Tx) Rollbacks() int {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	return t.rollbacks
}
