package auth

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/ids"
	"gatehouse.org/internal/obs"
)

const (
	defaultRefreshTTL   = 14 * 24 * time.Hour
	defaultStoreTimeout = 5 * time.Second
)

// Authorizer decides whether a principal may perform an action within a
// scope. Implemented by the authz resolver; kept as an interface here so the
// orchestrator does not depend on grant storage details.
type Authorizer interface {
	Authorize(ctx context.Context, principalID, orgID, action, scope string) (bool, error)
}

// Service is the login/refresh entry point. It sequences credential lookup,
// the lockout gate, secret verification, counter updates and token minting
// into one logical operation per attempt.
type Service struct {
	principals PrincipalStore
	refresh    RefreshTokenStore
	hasher     *Hasher
	issuer     *Issuer
	authorizer Authorizer

	lockout      LockoutPolicy
	refreshTTL   time.Duration
	storeTimeout time.Duration
	now          func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithLockoutPolicy overrides the lockout threshold and duration.
func WithLockoutPolicy(policy LockoutPolicy) ServiceOption {
	return func(s *Service) error {
		if policy.Threshold <= 0 || policy.Duration <= 0 {
			return errors.New("auth: lockout threshold and duration must be positive")
		}
		s.lockout = policy
		return nil
	}
}

// WithRefreshTTL configures refresh credential lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithStoreTimeout bounds every store call made by the orchestrator.
func WithStoreTimeout(d time.Duration) ServiceOption {
	return func(s *Service) error {
		if d > 0 {
			s.storeTimeout = d
		}
		return nil
	}
}

// WithAuthorizer wires the permission resolver. Without one, every
// authorization check denies.
func WithAuthorizer(az Authorizer) ServiceOption {
	return func(s *Service) error {
		s.authorizer = az
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs the orchestrator.
func NewService(principals PrincipalStore, refresh RefreshTokenStore, hasher *Hasher, issuer *Issuer, opts ...ServiceOption) (*Service, error) {
	if principals == nil || refresh == nil || hasher == nil || issuer == nil {
		return nil, errors.New("auth: principal store, refresh store, hasher and issuer are required")
	}
	svc := &Service{
		principals:   principals,
		refresh:      refresh,
		hasher:       hasher,
		issuer:       issuer,
		lockout:      LockoutPolicy{Threshold: 5, Duration: 15 * time.Minute},
		refreshTTL:   defaultRefreshTTL,
		storeTimeout: defaultStoreTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// Login authenticates by email and password and issues a session. tenant is
// optional; when set it must match the principal's organization. Wrong email
// and wrong password are deliberately indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password, tenant string) (Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		obs.ObserveLogin(obs.LoginInvalid)
		return Session{}, ErrInvalidCredentials
	}

	findCtx, cancel := s.storeCtx(ctx)
	p, err := s.principals.FindByEmail(findCtx, email)
	cancel()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.ObserveLogin(obs.LoginInvalid)
			_ = audit.LogEvent(ctx, "auth.login.failed", map[string]any{"reason": "unknown_email"})
			return Session{}, ErrInvalidCredentials
		}
		obs.ObserveLogin(obs.LoginStoreError)
		return Session{}, wrapStore(err)
	}

	ctx = audit.WithActor(ctx, p.ID)
	now := s.now().UTC()

	if p.Status != StatusActive {
		obs.ObserveLogin(obs.LoginInvalid)
		_ = audit.LogEvent(ctx, "auth.login.failed", map[string]any{"reason": "inactive"})
		return Session{}, ErrInvalidCredentials
	}
	if tenant != "" && tenant != p.OrganizationID {
		obs.ObserveLogin(obs.LoginInvalid)
		_ = audit.LogEvent(ctx, "auth.login.failed", map[string]any{"reason": "tenant_mismatch"})
		return Session{}, ErrInvalidCredentials
	}

	// Lockout gate. Refused before any hashing happens, so a locked account
	// leaks nothing about password correctness and costs no compute.
	if remaining, locked := s.lockout.Locked(p, now); locked {
		obs.ObserveLogin(obs.LoginLocked)
		_ = audit.LogEvent(ctx, "auth.login.locked", map[string]any{
			"locked_until": p.LockedUntil.UTC().Format(time.RFC3339),
		})
		return Session{}, &LockedError{RetryAfter: remaining}
	}

	if err := s.hasher.Verify(ctx, password, p.SecretHash); err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			obs.ObserveLogin(obs.LoginStoreError)
			return Session{}, err
		}
		return Session{}, s.recordFailure(ctx, p.ID, now)
	}

	succCtx, cancel := s.storeCtx(ctx)
	err = s.principals.RecordSuccess(succCtx, p.ID, now)
	cancel()
	if err != nil {
		obs.ObserveLogin(obs.LoginStoreError)
		return Session{}, wrapStore(err)
	}

	session, err := s.mintSession(ctx, p.ID, p.OrganizationID, "")
	if err != nil {
		obs.ObserveLogin(obs.LoginStoreError)
		return Session{}, err
	}

	obs.ObserveLogin(obs.LoginSuccess)
	_ = audit.LogEvent(ctx, "auth.login.succeeded", map[string]any{"org": p.OrganizationID})
	return session, nil
}

// recordFailure counts a failed verification and applies the lockout
// transition when the counter reaches the threshold. The attempt that
// crosses the threshold is itself reported as locked.
func (s *Service) recordFailure(ctx context.Context, principalID string, now time.Time) error {
	failCtx, cancel := s.storeCtx(ctx)
	failures, err := s.principals.RecordFailure(failCtx, principalID)
	cancel()
	if err != nil {
		obs.ObserveLogin(obs.LoginStoreError)
		return wrapStore(err)
	}

	if s.lockout.ShouldLock(failures) {
		until := s.lockout.LockUntil(now)
		lockCtx, cancel := s.storeCtx(ctx)
		err = s.principals.RecordLock(lockCtx, principalID, until)
		cancel()
		if err != nil {
			obs.ObserveLogin(obs.LoginStoreError)
			return wrapStore(err)
		}
		obs.ObserveLockout()
		obs.ObserveLogin(obs.LoginLocked)
		_ = audit.LogEvent(ctx, "auth.lockout", map[string]any{
			"failed_attempts": failures,
			"locked_until":    until.UTC().Format(time.RFC3339),
		})
		return &LockedError{RetryAfter: s.lockout.Duration}
	}

	obs.ObserveLogin(obs.LoginInvalid)
	_ = audit.LogEvent(ctx, "auth.login.failed", map[string]any{
		"reason":          "wrong_password",
		"failed_attempts": failures,
	})
	return ErrInvalidCredentials
}

// Refresh rotates a refresh credential and issues a new session. The
// presented token is consumed; reuse of an already-rotated token is treated
// as compromise and revokes the entire chain.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenID, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		return Session{}, ErrTokenInvalid
	}

	findCtx, cancel := s.storeCtx(ctx)
	rec, err := s.refresh.Find(findCtx, tokenID)
	cancel()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrTokenInvalid
		}
		return Session{}, wrapStore(err)
	}

	ctx = audit.WithActor(ctx, rec.PrincipalID)
	now := s.now().UTC()

	if rec.RotatedAt != nil {
		return Session{}, s.replayDetected(ctx, rec)
	}
	if rec.Revoked {
		return Session{}, ErrTokenInvalid
	}
	if !now.Before(rec.ExpiresAt) {
		return Session{}, ErrTokenExpired
	}
	if !matchRefreshSecret(rec.SecretHash, secret) {
		revCtx, cancel := s.storeCtx(ctx)
		_ = s.refresh.Revoke(revCtx, rec.ID)
		cancel()
		return Session{}, ErrTokenInvalid
	}

	rotCtx, cancel := s.storeCtx(ctx)
	ok, err := s.refresh.MarkRotated(rotCtx, rec.ID, now)
	cancel()
	if err != nil {
		return Session{}, wrapStore(err)
	}
	if !ok {
		// A concurrent use won the rotation race; this presentation is a replay.
		return Session{}, s.replayDetected(ctx, rec)
	}

	pCtx, cancel := s.storeCtx(ctx)
	p, err := s.principals.Find(pCtx, rec.PrincipalID)
	cancel()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrTokenInvalid
		}
		return Session{}, wrapStore(err)
	}
	if p.Status != StatusActive {
		return Session{}, ErrTokenInvalid
	}

	session, err := s.mintSession(ctx, p.ID, p.OrganizationID, rec.ChainID)
	if err != nil {
		return Session{}, err
	}
	_ = audit.LogEvent(ctx, "auth.refresh.rotated", map[string]any{"chain_id": rec.ChainID})
	return session, nil
}

func (s *Service) replayDetected(ctx context.Context, rec *RefreshToken) error {
	revCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.refresh.RevokeChain(revCtx, rec.ChainID); err != nil {
		return wrapStore(err)
	}
	_ = audit.LogEvent(ctx, "auth.refresh.replayed", map[string]any{"chain_id": rec.ChainID})
	return ErrRefreshReplay
}

func (s *Service) mintSession(ctx context.Context, principalID, orgID, chainID string) (Session, error) {
	now := s.now().UTC()
	access, claims, err := s.issuer.Issue(principalID, orgID, nil)
	if err != nil {
		return Session{}, err
	}
	refreshString, rec, err := newRefreshToken(principalID, orgID, chainID, now, s.refreshTTL)
	if err != nil {
		return Session{}, err
	}
	createCtx, cancel := s.storeCtx(ctx)
	err = s.refresh.Create(createCtx, rec)
	cancel()
	if err != nil {
		return Session{}, wrapStore(err)
	}
	return Session{
		AccessToken:      access,
		RefreshToken:     refreshString,
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

// Authenticate validates an access token and returns its claims.
func (s *Service) Authenticate(ctx context.Context, token string) (*Claims, error) {
	return s.issuer.Validate(ctx, token)
}

// Authorize validates the token, then evaluates the principal's durable
// grants against the requested action and scope. Absent a resolver or an
// applicable grant the answer is deny.
func (s *Service) Authorize(ctx context.Context, token, action, scope string) error {
	claims, err := s.issuer.Validate(ctx, token)
	if err != nil {
		return err
	}
	ctx = audit.WithActor(ctx, claims.Subject)

	allowed := false
	if s.authorizer != nil {
		azCtx, cancel := s.storeCtx(ctx)
		allowed, err = s.authorizer.Authorize(azCtx, claims.Subject, claims.Org, action, scope)
		cancel()
		if err != nil {
			return wrapStore(err)
		}
	}
	obs.ObserveAuthzDecision(allowed)
	if !allowed {
		_ = audit.LogEvent(ctx, "authz.denied", map[string]any{
			"action": action,
			"scope":  scope,
		})
		return ErrPermissionDenied
	}
	return nil
}

// Logout revokes the presented access token for its remaining lifetime and
// invalidates every refresh chain of the principal. Expired tokens are a
// no-op.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.issuer.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return nil
		}
		return err
	}
	ctx = audit.WithActor(ctx, claims.Subject)
	if err := s.issuer.Revoke(ctx, claims); err != nil {
		return err
	}
	revCtx, cancel := s.storeCtx(ctx)
	err = s.refresh.RevokeByPrincipal(revCtx, claims.Subject)
	cancel()
	if err != nil {
		return wrapStore(err)
	}
	_ = audit.LogEvent(ctx, "auth.logout", nil)
	return nil
}

// Provision creates a principal with a hashed secret. Invoked by an external
// admin path; the plaintext is hashed here and never persisted or passed on.
func (s *Service) Provision(ctx context.Context, email, password, orgID string) (string, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return "", err
	}
	if strings.TrimSpace(orgID) == "" {
		return "", errors.New("auth: organization id is required")
	}
	hash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		return "", err
	}
	p := &Principal{
		ID:             ids.New(),
		OrganizationID: orgID,
		Email:          email,
		SecretHash:     hash,
		Status:         StatusActive,
		CreatedAt:      s.now().UTC(),
	}
	createCtx, cancel := s.storeCtx(ctx)
	err = s.principals.Create(createCtx, p)
	cancel()
	if err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return "", ErrAlreadyExists
		}
		return "", wrapStore(err)
	}
	_ = audit.LogEvent(audit.WithActor(ctx, p.ID), "auth.principal.provisioned", map[string]any{"org": orgID})
	return p.ID, nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func validateEmail(email string) error {
	if email == "" {
		return ErrInvalidInput
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidInput
	}
	return nil
}
