package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"kilit.org/internal/auth"
	"kilit.org/internal/ids"
)

type orgStore struct{ s *Store }

func (o orgStore) Create(ctx context.Context, org *auth.Organization) error {
	row := o.s.db.QueryRowContext(ctx, `
		insert into orgs (id, name, status, owner_id)
		values ($1, $2, $3, nullif($4, ''))
		returning id, created_at, updated_at
	`, ids.New(), org.Name, org.Status, org.OwnerID)
	if err := row.Scan(&org.ID, &org.CreatedAt, &org.UpdatedAt); err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (o orgStore) Find(ctx context.Context, id string) (*auth.Organization, error) {
	var org auth.Organization
	err := o.s.db.QueryRowContext(ctx, `
		select id, name, status, coalesce(owner_id, ''), created_at, updated_at
		from orgs
		where id = $1
	`, id).Scan(&org.ID, &org.Name, &org.Status, &org.OwnerID, &org.CreatedAt, &org.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (o orgStore) List(ctx context.Context, params auth.ListParams) ([]*auth.Organization, int, error) {
	params = params.Normalize()
	var total int
	err := o.s.db.QueryRowContext(ctx, `
		select count(*) from orgs
		where ($1 = '' or name ilike '%' || $1 || '%')
	`, params.Keyword).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := o.s.db.QueryContext(ctx, `
		select id, name, status, coalesce(owner_id, ''), created_at, updated_at
		from orgs
		where ($1 = '' or name ilike '%' || $1 || '%')
		order by id
		limit $2 offset $3
	`, params.Keyword, params.PerPage, params.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []*auth.Organization
	for rows.Next() {
		var org auth.Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.Status, &org.OwnerID, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, 0, err
		}
		result = append(result, &org)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

func (o orgStore) Update(ctx context.Context, id string, upd auth.OrganizationUpdate) (*auth.Organization, error) {
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", idx))
		args = append(args, *upd.Status)
		idx++
	}
	if upd.OwnerID != nil {
		sets = append(sets, fmt.Sprintf("owner_id = nullif($%d, '')", idx))
		args = append(args, *upd.OwnerID)
		idx++
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update orgs set %s where id = $%d`, strings.Join(sets, ", "), idx)
		args = append(args, id)
		res, err := o.s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, mapWriteError(err)
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if aff == 0 {
			return nil, auth.ErrNotFound
		}
	}
	return o.Find(ctx, id)
}

func (o orgStore) Delete(ctx context.Context, id string) error {
	res, err := o.s.db.ExecContext(ctx, `delete from orgs where id = $1`, id)
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
