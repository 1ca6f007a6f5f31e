package authz

import (
	"context"
	"database/sql"
)

var _ Store = (*PGStore)(nil)

// PGStore reads grants, group membership and the scope hierarchy from
// PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) GrantsForSubjects(ctx context.Context, subjectIDs []string) ([]Grant, error) {
	if len(subjectIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`select id, subject_id, subject_type, scope, action, effect, created_at
		 from grants where subject_id = any($1)`, subjectIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		var g Grant
		if err := rows.Scan(&g.ID, &g.SubjectID, &g.SubjectType, &g.Scope, &g.Action, &g.Effect, &g.CreatedAt); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (s *PGStore) GroupsForPrincipal(ctx context.Context, principalID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`select group_id from group_members where principal_id=$1`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		groups = append(groups, id)
	}
	return groups, rows.Err()
}

func (s *PGStore) ScopeChain(ctx context.Context, scope string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`with recursive chain as (
			select id, parent_id, 0 as depth from scopes where id=$1
			union all
			select s.id, s.parent_id, c.depth+1 from scopes s
			join chain c on s.id = c.parent_id
		)
		select id from chain order by depth`, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chain []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		chain = append(chain, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// An unregistered scope still evaluates: it is its own chain, and with
	// no applicable grants the decision is deny.
	if len(chain) == 0 {
		chain = []string{scope}
	}
	return chain, nil
}
