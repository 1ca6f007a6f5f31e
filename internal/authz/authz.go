// Package authz evaluates whether a principal's aggregated grants authorize
// an action on a resource. Grants live on a directed scope hierarchy
// (organization -> group -> resource); scopes and grants are plain data, the
// evaluator is a walk over that data.
package authz

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Effect of a grant. An explicit deny is how a broader allow is revoked at a
// narrower scope.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Grant subject kinds.
const (
	SubjectPrincipal    = "principal"
	SubjectGroup        = "group"
	SubjectOrganization = "organization"
)

// Grant authorizes or explicitly denies a subject an action within a scope.
type Grant struct {
	ID          string
	SubjectID   string
	SubjectType string
	Scope       string
	Action      string
	Effect      Effect
	CreatedAt   time.Time
}

// Store is the durable source of grants, group membership and the scope
// hierarchy. The core only reads; grant administration is an external path.
type Store interface {
	// GrantsForSubjects returns every grant whose subject is one of the ids.
	GrantsForSubjects(ctx context.Context, subjectIDs []string) ([]Grant, error)
	// GroupsForPrincipal returns ids of groups the principal belongs to.
	GroupsForPrincipal(ctx context.Context, principalID string) ([]string, error)
	// ScopeChain returns the scope followed by its ancestors up to the root.
	ScopeChain(ctx context.Context, scope string) ([]string, error)
}

// Resolver evaluates grants with deny-overrides semantics. Grant reads flow
// through a TTL cache, so a revoked grant takes effect within the cache TTL
// without requiring re-login.
type Resolver struct {
	store Store
	cache *grantCache
	now   func() time.Time
}

// Option configures Resolver behavior.
type Option func(*Resolver)

// WithCacheTTL bounds how stale cached grants may be. Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cache = newGrantCache(ttl)
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
			if r.cache != nil {
				r.cache.now = fn
			}
		}
	}
}

// NewResolver constructs a Resolver. Caching is off unless WithCacheTTL is
// given.
func NewResolver(store Store, opts ...Option) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("authz: store is required")
	}
	r := &Resolver{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Invalidate drops any cached grants for the principal, forcing the next
// check to re-read durable records.
func (r *Resolver) Invalidate(principalID string) {
	if r.cache != nil {
		r.cache.invalidate(principalID)
	}
}

// Authorize reports whether the principal, in the given organization
// context, may perform action within scope. The decision walks the scope
// chain from narrowest to broadest: a deny at a level wins over an allow at
// the same level, the first level with any applicable grant decides, and no
// applicable grant anywhere means deny.
func (r *Resolver) Authorize(ctx context.Context, principalID, orgID, action, scope string) (bool, error) {
	principalID = strings.TrimSpace(principalID)
	action = strings.TrimSpace(action)
	scope = strings.TrimSpace(scope)
	if principalID == "" || action == "" || scope == "" {
		return false, nil
	}

	grants, err := r.subjectGrants(ctx, principalID, orgID)
	if err != nil {
		return false, err
	}

	chain, err := r.store.ScopeChain(ctx, scope)
	if err != nil {
		return false, err
	}
	if len(chain) == 0 {
		chain = []string{scope}
	}

	for _, level := range chain {
		var allow bool
		for _, g := range grants {
			if g.Action != action || g.Scope != level {
				continue
			}
			if g.Effect == EffectDeny {
				return false, nil
			}
			allow = true
		}
		if allow {
			return true, nil
		}
	}
	return false, nil
}

// subjectGrants assembles the principal's subject set (itself, its groups,
// its organization) and the grants applicable to any of them, consulting the
// cache first.
func (r *Resolver) subjectGrants(ctx context.Context, principalID, orgID string) ([]Grant, error) {
	orgID = strings.TrimSpace(orgID)
	if r.cache != nil {
		if grants, ok := r.cache.get(principalID, orgID); ok {
			return grants, nil
		}
	}

	groups, err := r.store.GroupsForPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	subjects := make([]string, 0, len(groups)+2)
	subjects = append(subjects, principalID)
	subjects = append(subjects, groups...)
	if orgID != "" {
		subjects = append(subjects, orgID)
	}

	grants, err := r.store.GrantsForSubjects(ctx, subjects)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		r.cache.put(principalID, orgID, grants)
	}
	return grants, nil
}
