package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

var _ PrincipalStore = (*PGPrincipalStore)(nil)

// PGPrincipalStore implements PrincipalStore on PostgreSQL. Counter
// mutations are single UPDATE statements, so concurrent attempts against the
// same principal serialize on the row and none are lost.
type PGPrincipalStore struct {
	db *sql.DB
}

func NewPGPrincipalStore(db *sql.DB) *PGPrincipalStore {
	return &PGPrincipalStore{db: db}
}

const principalColumns = `id, organization_id, email, secret_hash, email_verified, status,
	 failed_attempts, locked_until, last_login, created_at`

func (s *PGPrincipalStore) Create(ctx context.Context, p *Principal) error {
	_, err := s.db.ExecContext(ctx,
		`insert into principals(id, organization_id, email, secret_hash, status)
		 values($1,$2,$3,$4,$5)`,
		p.ID, p.OrganizationID, p.Email, p.SecretHash, p.Status,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *PGPrincipalStore) Find(ctx context.Context, id string) (*Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+principalColumns+` from principals where id=$1`, id)
	return scanPrincipal(row)
}

func (s *PGPrincipalStore) FindByEmail(ctx context.Context, email string) (*Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+principalColumns+` from principals where lower(email)=lower($1)`, email)
	return scanPrincipal(row)
}

func (s *PGPrincipalStore) RecordFailure(ctx context.Context, id string) (int, error) {
	var failures int
	err := s.db.QueryRowContext(ctx,
		`update principals set failed_attempts = failed_attempts + 1, updated_at = now()
		 where id=$1 returning failed_attempts`, id).Scan(&failures)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return failures, nil
}

func (s *PGPrincipalStore) RecordLock(ctx context.Context, id string, until time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update principals set locked_until=$2, updated_at = now() where id=$1`, id, until)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s *PGPrincipalStore) RecordSuccess(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update principals set failed_attempts=0, locked_until=null, last_login=$2, updated_at = now()
		 where id=$1`, id, at)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(row rowScanner) (*Principal, error) {
	var (
		p           Principal
		lockedUntil sql.NullTime
		lastLogin   sql.NullTime
	)
	err := row.Scan(&p.ID, &p.OrganizationID, &p.Email, &p.SecretHash, &p.EmailVerified,
		&p.Status, &p.FailedAttempts, &lockedUntil, &lastLogin, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lockedUntil.Valid {
		t := lockedUntil.Time
		p.LockedUntil = &t
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		p.LastLogin = &t
	}
	return &p, nil
}

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

var _ RefreshTokenStore = (*PGRefreshTokenStore)(nil)

// PGRefreshTokenStore implements RefreshTokenStore on PostgreSQL.
type PGRefreshTokenStore struct {
	db *sql.DB
}

func NewPGRefreshTokenStore(db *sql.DB) *PGRefreshTokenStore {
	return &PGRefreshTokenStore{db: db}
}

func (s *PGRefreshTokenStore) Create(ctx context.Context, tok *RefreshToken) error {
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, chain_id, principal_id, organization_id, secret_hash, expires_at)
		 values($1,$2,$3,$4,$5,$6)`,
		tok.ID, tok.ChainID, tok.PrincipalID, tok.OrganizationID, tok.SecretHash, tok.ExpiresAt,
	)
	return err
}

func (s *PGRefreshTokenStore) Find(ctx context.Context, id string) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, chain_id, principal_id, organization_id, secret_hash, expires_at,
		        created_at, rotated_at, revoked
		 from refresh_tokens where id=$1`, id)
	var (
		tok       RefreshToken
		rotatedAt sql.NullTime
	)
	err := row.Scan(&tok.ID, &tok.ChainID, &tok.PrincipalID, &tok.OrganizationID,
		&tok.SecretHash, &tok.ExpiresAt, &tok.CreatedAt, &rotatedAt, &tok.Revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if rotatedAt.Valid {
		t := rotatedAt.Time
		tok.RotatedAt = &t
	}
	return &tok, nil
}

func (s *PGRefreshTokenStore) MarkRotated(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`update refresh_tokens set rotated_at=$2
		 where id=$1 and rotated_at is null and not revoked`, id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PGRefreshTokenStore) Revoke(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true where id=$1`, id)
	return err
}

func (s *PGRefreshTokenStore) RevokeChain(ctx context.Context, chainID string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true where chain_id=$1`, chainID)
	return err
}

func (s *PGRefreshTokenStore) RevokeByPrincipal(ctx context.Context, principalID string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true where principal_id=$1`, principalID)
	return err
}
