package pg

import (
	"context"
	"database/sql"
	"errors"

	"kilit.org/internal/auth"
	"kilit.org/internal/ids"
)

type orgAppStore struct{ s *Store }

func (o orgAppStore) Create(ctx context.Context, link *auth.OrgApp) error {
	row := o.s.db.QueryRowContext(ctx, `
		insert into org_apps (id, org_id, app_id)
		values ($1, $2, $3)
		returning id, created_at
	`, ids.New(), link.OrgID, link.AppID)
	if err := row.Scan(&link.ID, &link.CreatedAt); err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (o orgAppStore) Find(ctx context.Context, id string) (*auth.OrgApp, error) {
	var link auth.OrgApp
	err := o.s.db.QueryRowContext(ctx, `
		select l.id, l.org_id, l.app_id, a.name, l.created_at
		from org_apps l
		join apps a on a.id = l.app_id
		where l.id = $1
	`, id).Scan(&link.ID, &link.OrgID, &link.AppID, &link.AppName, &link.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (o orgAppStore) FindByOrgApp(ctx context.Context, orgID, appID string) (*auth.OrgApp, error) {
	var link auth.OrgApp
	err := o.s.db.QueryRowContext(ctx, `
		select l.id, l.org_id, l.app_id, a.name, l.created_at
		from org_apps l
		join apps a on a.id = l.app_id
		where l.org_id = $1 and l.app_id = $2
	`, orgID, appID).Scan(&link.ID, &link.OrgID, &link.AppID, &link.AppName, &link.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (o orgAppStore) ListByOrg(ctx context.Context, orgID string, params auth.ListParams) ([]*auth.OrgApp, int, error) {
	params = params.Normalize()
	var total int
	err := o.s.db.QueryRowContext(ctx, `
		select count(*) from org_apps where org_id = $1
	`, orgID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := o.s.db.QueryContext(ctx, `
		select l.id, l.org_id, l.app_id, a.name, l.created_at
		from org_apps l
		join apps a on a.id = l.app_id
		where l.org_id = $1
		order by l.id
		limit $2 offset $3
	`, orgID, params.PerPage, params.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []*auth.OrgApp
	for rows.Next() {
		var link auth.OrgApp
		if err := rows.Scan(&link.ID, &link.OrgID, &link.AppID, &link.AppName, &link.CreatedAt); err != nil {
			return nil, 0, err
		}
		result = append(result, &link)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

func (o orgAppStore) Delete(ctx context.Context, id string) error {
	res, err := o.s.db.ExecContext(ctx, `delete from org_apps where id = $1`, id)
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
