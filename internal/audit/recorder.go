package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Salad109/medical-office-manager/internal/metrics"
)

// ErrNoTransaction is returned when an entry would be written outside the
// transaction of the mutation it describes.
var ErrNoTransaction = errors.New("audit entry must be written inside a transaction")

// Store persists entries. Insert must use the transaction carried by ctx.
type Store interface {
	Insert(ctx context.Context, e *Entry) error
	List(ctx context.Context, f Filter) ([]Entry, error)
}

// Recorder turns entity writes into audit entries. Call it from inside the
// same transaction as the write; any error it returns must abort that
// transaction.
type Recorder struct {
	store Store
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

func (r *Recorder) Created(ctx context.Context, after Auditable) error {
	return r.record(ctx, ActionCreate, nil, after)
}

func (r *Recorder) Updated(ctx context.Context, before, after Auditable) error {
	return r.record(ctx, ActionUpdate, before, after)
}

func (r *Recorder) Deleted(ctx context.Context, before Auditable) error {
	return r.record(ctx, ActionDelete, before, nil)
}

func (r *Recorder) record(ctx context.Context, action Action, before, after Auditable) error {
	subject := after
	if subject == nil {
		subject = before
	}
	if subject == nil {
		return errors.New("audit: nothing to record")
	}

	e := &Entry{
		ActorID:    ActorID(ctx),
		Action:     action,
		EntityType: subject.AuditEntity(),
		EntityID:   subject.AuditID(),
	}

	var err error
	if before != nil {
		if e.OldValues, err = json.Marshal(before); err != nil {
			return fmt.Errorf("audit: snapshot old %s: %w", e.EntityType, err)
		}
	}
	if after != nil {
		if e.NewValues, err = json.Marshal(after); err != nil {
			return fmt.Errorf("audit: snapshot new %s: %w", e.EntityType, err)
		}
	}

	if err := r.store.Insert(ctx, e); err != nil {
		return fmt.Errorf("audit: insert %s %s %d: %w", action, e.EntityType, e.EntityID, err)
	}

	metrics.AuditEntries.WithLabelValues(e.EntityType, string(action)).Inc()
	return nil
}
