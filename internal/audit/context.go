package audit

import (
	"context"
	"sync"

	"github.com/Salad109/medical-office-manager/internal/identity"
)

// Scope carries the acting principal for one inbound request. It is created
// with Begin at request entry and must be ended at request exit.
type Scope struct {
	mu        sync.RWMutex
	principal *identity.Principal
	ended     bool
}

type scopeKey struct{}

// Begin attaches a fresh, empty scope to ctx.
func Begin(ctx context.Context) (context.Context, *Scope) {
	s := &Scope{}
	return context.WithValue(ctx, scopeKey{}, s), s
}

// Set records the authenticated principal. It is a no-op once the scope ended.
func (s *Scope) Set(p identity.Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.principal = &p
}

// End clears the principal. Contexts that outlive the request see no actor.
func (s *Scope) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.principal = nil
	s.ended = true
}

func (s *Scope) get() (identity.Principal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.principal == nil {
		return identity.Principal{}, false
	}
	return *s.principal, true
}

// WithPrincipal is Begin followed by Set, for callers outside the HTTP
// stack (CLI commands, tests) that run as a known user.
func WithPrincipal(ctx context.Context, p identity.Principal) context.Context {
	ctx, s := Begin(ctx)
	s.Set(p)
	return ctx
}

func PrincipalFromContext(ctx context.Context) (identity.Principal, bool) {
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	if !ok {
		return identity.Principal{}, false
	}
	return s.get()
}

// ActorID is the value written to audit_log.user_id: nil when no principal is
// set.
func ActorID(ctx context.Context) *int64 {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return nil
	}
	id := p.UserID
	return &id
}
