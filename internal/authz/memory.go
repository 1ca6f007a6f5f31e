package authz

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store used in tests and DSN-less development
// mode. It is seeded through the Add/Remove methods; the resolver itself
// never writes.
type MemoryStore struct {
	mu      sync.RWMutex
	parents map[string]string
	groups  map[string][]string
	grants  map[string]Grant
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		parents: make(map[string]string),
		groups:  make(map[string][]string),
		grants:  make(map[string]Grant),
	}
}

// AddScope registers a scope with its parent; parent "" marks a root.
func (s *MemoryStore) AddScope(id, parent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parents[id] = parent
}

// AddGroupMember records the principal's membership in the group.
func (s *MemoryStore) AddGroupMember(groupID, principalID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[principalID] = append(s.groups[principalID], groupID)
}

// AddGrant stores a grant.
func (s *MemoryStore) AddGrant(g Grant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[g.ID] = g
}

// RemoveGrant deletes a grant; used to model external revocation.
func (s *MemoryStore) RemoveGrant(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants, id)
}

func (s *MemoryStore) GrantsForSubjects(_ context.Context, subjectIDs []string) ([]Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[string]struct{}, len(subjectIDs))
	for _, id := range subjectIDs {
		want[id] = struct{}{}
	}
	var out []Grant
	for _, g := range s.grants {
		if _, ok := want[g.SubjectID]; ok {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *MemoryStore) GroupsForPrincipal(_ context.Context, principalID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	groups := s.groups[principalID]
	out := make([]string, len(groups))
	copy(out, groups)
	return out, nil
}

func (s *MemoryStore) ScopeChain(_ context.Context, scope string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := []string{scope}
	seen := map[string]struct{}{scope: {}}
	current := scope
	for {
		parent, ok := s.parents[current]
		if !ok || parent == "" {
			return chain, nil
		}
		if _, cyclic := seen[parent]; cyclic {
			return chain, nil
		}
		chain = append(chain, parent)
		seen[parent] = struct{}{}
		current = parent
	}
}
