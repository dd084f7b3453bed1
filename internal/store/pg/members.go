package pg

import (
	"context"
	"database/sql"
	"errors"

	"kilit.org/internal/auth"
	"kilit.org/internal/ids"
)

type memberStore struct{ s *Store }

// Role sets are persisted as the comma-joined storage form and decoded
// strictly on the way out.
func (m memberStore) Create(ctx context.Context, mem *auth.Membership) error {
	row := m.s.db.QueryRowContext(ctx, `
		insert into org_members (id, org_id, user_id, roles)
		values ($1, $2, $3, $4)
		returning id, created_at, updated_at
	`, ids.New(), mem.OrgID, mem.UserID, auth.JoinRoles(mem.Roles))
	if err := row.Scan(&mem.ID, &mem.CreatedAt, &mem.UpdatedAt); err != nil {
		return mapWriteError(err)
	}
	return nil
}

const memberColumns = `
	m.id, m.org_id, m.user_id, m.roles, o.name,
	m.created_at, m.updated_at
`

func scanMember(scan func(...any) error) (*auth.Membership, error) {
	var (
		mem   auth.Membership
		roles string
	)
	if err := scan(&mem.ID, &mem.OrgID, &mem.UserID, &roles, &mem.OrgName, &mem.CreatedAt, &mem.UpdatedAt); err != nil {
		return nil, err
	}
	parsed, err := auth.ParseRoles(roles)
	if err != nil {
		return nil, err
	}
	mem.Roles = parsed
	return &mem, nil
}

func (m memberStore) Find(ctx context.Context, id string) (*auth.Membership, error) {
	row := m.s.db.QueryRowContext(ctx, `
		select `+memberColumns+`
		from org_members m
		join orgs o on o.id = m.org_id
		where m.id = $1
	`, id)
	mem, err := scanMember(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return mem, nil
}

func (m memberStore) FindByOrgUser(ctx context.Context, orgID, userID string) (*auth.Membership, error) {
	row := m.s.db.QueryRowContext(ctx, `
		select `+memberColumns+`
		from org_members m
		join orgs o on o.id = m.org_id
		where m.org_id = $1 and m.user_id = $2
	`, orgID, userID)
	mem, err := scanMember(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return mem, nil
}

func (m memberStore) ListByOrg(ctx context.Context, orgID string, params auth.ListParams) ([]*auth.Membership, int, error) {
	params = params.Normalize()
	var total int
	err := m.s.db.QueryRowContext(ctx, `
		select count(*) from org_members where org_id = $1
	`, orgID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := m.s.db.QueryContext(ctx, `
		select `+memberColumns+`
		from org_members m
		join orgs o on o.id = m.org_id
		where m.org_id = $1
		order by m.id
		limit $2 offset $3
	`, orgID, params.PerPage, params.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []*auth.Membership
	for rows.Next() {
		mem, err := scanMember(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, mem)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

func (m memberStore) ListByUser(ctx context.Context, userID string) ([]*auth.Membership, error) {
	rows, err := m.s.db.QueryContext(ctx, `
		select `+memberColumns+`
		from org_members m
		join orgs o on o.id = m.org_id
		where m.user_id = $1
		order by m.id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*auth.Membership
	for rows.Next() {
		mem, err := scanMember(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, mem)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (m memberStore) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := m.s.db.QueryRowContext(ctx, `
		select count(*) from org_members where user_id = $1
	`, userID).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (m memberStore) UpdateRoles(ctx context.Context, id string, roles []auth.Role) (*auth.Membership, error) {
	res, err := m.s.db.ExecContext(ctx, `
		update org_members set roles = $1, updated_at = now() where id = $2
	`, auth.JoinRoles(roles), id)
	if err != nil {
		return nil, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if aff == 0 {
		return nil, auth.ErrNotFound
	}
	return m.Find(ctx, id)
}

func (m memberStore) Delete(ctx context.Context, id string) error {
	res, err := m.s.db.ExecContext(ctx, `delete from org_members where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}
