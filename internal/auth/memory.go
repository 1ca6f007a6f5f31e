package auth

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryPrincipalStore is an in-process PrincipalStore used in tests and in
// DSN-less development mode. Mutations hold the store lock, which gives the
// same read-modify-write atomicity per principal the SQL store gets from
// single-statement updates.
type MemoryPrincipalStore struct {
	mu      sync.Mutex
	byID    map[string]*Principal
	byEmail map[string]string
}

var _ PrincipalStore = (*MemoryPrincipalStore)(nil)

func NewMemoryPrincipalStore() *MemoryPrincipalStore {
	return &MemoryPrincipalStore{
		byID:    make(map[string]*Principal),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryPrincipalStore) Create(_ context.Context, p *Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(p.Email)
	if _, ok := s.byEmail[key]; ok {
		return ErrAlreadyExists
	}
	if _, ok := s.byID[p.ID]; ok {
		return ErrAlreadyExists
	}
	clone := *p
	s.byID[p.ID] = &clone
	s.byEmail[key] = p.ID
	return nil
}

func (s *MemoryPrincipalStore) Find(_ context.Context, id string) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (s *MemoryPrincipalStore) FindByEmail(_ context.Context, email string) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *s.byID[id]
	return &clone, nil
}

func (s *MemoryPrincipalStore) RecordFailure(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return 0, ErrNotFound
	}
	p.FailedAttempts++
	return p.FailedAttempts, nil
}

func (s *MemoryPrincipalStore) RecordLock(_ context.Context, id string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	u := until
	p.LockedUntil = &u
	return nil
}

func (s *MemoryPrincipalStore) RecordSuccess(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	p.FailedAttempts = 0
	p.LockedUntil = nil
	t := at
	p.LastLogin = &t
	return nil
}

// MemoryRefreshTokenStore is the in-process RefreshTokenStore counterpart.
type MemoryRefreshTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*RefreshToken
}

var _ RefreshTokenStore = (*MemoryRefreshTokenStore)(nil)

func NewMemoryRefreshTokenStore() *MemoryRefreshTokenStore {
	return &MemoryRefreshTokenStore{tokens: make(map[string]*RefreshToken)}
}

func (s *MemoryRefreshTokenStore) Create(_ context.Context, tok *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[tok.ID]; ok {
		return ErrAlreadyExists
	}
	clone := *tok
	s.tokens[tok.ID] = &clone
	return nil
}

func (s *MemoryRefreshTokenStore) Find(_ context.Context, id string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *tok
	return &clone, nil
}

func (s *MemoryRefreshTokenStore) MarkRotated(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return false, ErrNotFound
	}
	if tok.RotatedAt != nil || tok.Revoked {
		return false, nil
	}
	t := at
	tok.RotatedAt = &t
	return true, nil
}

func (s *MemoryRefreshTokenStore) Revoke(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok, ok := s.tokens[id]; ok {
		tok.Revoked = true
	}
	return nil
}

func (s *MemoryRefreshTokenStore) RevokeChain(_ context.Context, chainID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tok := range s.tokens {
		if tok.ChainID == chainID {
			tok.Revoked = true
		}
	}
	return nil
}

func (s *MemoryRefreshTokenStore) RevokeByPrincipal(_ context.Context, principalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tok := range s.tokens {
		if tok.PrincipalID == principalID {
			tok.Revoked = true
		}
	}
	return nil
}
