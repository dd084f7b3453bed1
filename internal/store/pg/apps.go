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

type appStore struct{ s *Store }

func (a appStore) Create(ctx context.Context, app *auth.App) error {
	row := a.s.db.QueryRowContext(ctx, `
		insert into apps (id, name, client_id, client_secret, redirect_uri)
		values ($1, $2, $3, $4, $5)
		returning id, created_at, updated_at
	`, ids.New(), app.Name, app.ClientID, app.ClientSecret, app.RedirectURI)
	if err := row.Scan(&app.ID, &app.CreatedAt, &app.UpdatedAt); err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (a appStore) Find(ctx context.Context, id string) (*auth.App, error) {
	return a.one(ctx, `where id = $1`, id)
}

func (a appStore) FindByClientID(ctx context.Context, clientID string) (*auth.App, error) {
	return a.one(ctx, `where client_id = $1`, clientID)
}

func (a appStore) one(ctx context.Context, where string, arg any) (*auth.App, error) {
	var app auth.App
	err := a.s.db.QueryRowContext(ctx, `
		select id, name, client_id, client_secret, redirect_uri, created_at, updated_at
		from apps `+where,
		arg,
	).Scan(&app.ID, &app.Name, &app.ClientID, &app.ClientSecret, &app.RedirectURI, &app.CreatedAt, &app.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &app, nil
}

func (a appStore) List(ctx context.Context, params auth.ListParams) ([]*auth.App, int, error) {
	params = params.Normalize()
	var total int
	err := a.s.db.QueryRowContext(ctx, `
		select count(*) from apps
		where ($1 = '' or name ilike '%' || $1 || '%')
	`, params.Keyword).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := a.s.db.QueryContext(ctx, `
		select id, name, client_id, client_secret, redirect_uri, created_at, updated_at
		from apps
		where ($1 = '' or name ilike '%' || $1 || '%')
		order by id
		limit $2 offset $3
	`, params.Keyword, params.PerPage, params.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []*auth.App
	for rows.Next() {
		var app auth.App
		if err := rows.Scan(&app.ID, &app.Name, &app.ClientID, &app.ClientSecret, &app.RedirectURI, &app.CreatedAt, &app.UpdatedAt); err != nil {
			return nil, 0, err
		}
		result = append(result, &app)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

func (a appStore) Update(ctx context.Context, id string, upd auth.AppUpdate) (*auth.App, error) {
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
	if upd.RedirectURI != nil {
		sets = append(sets, fmt.Sprintf("redirect_uri = $%d", idx))
		args = append(args, *upd.RedirectURI)
		idx++
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update apps set %s where id = $%d`, strings.Join(sets, ", "), idx)
		args = append(args, id)
		res, err := a.s.db.ExecContext(ctx, query, args...)
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
	return a.Find(ctx, id)
}

func (a appStore) UpdateSecret(ctx context.Context, id, clientSecret string) (*auth.App, error) {
	res, err := a.s.db.ExecContext(ctx, `
		update apps set client_secret = $1, updated_at = now() where id = $2
	`, clientSecret, id)
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
	return a.Find(ctx, id)
}

func (a appStore) Delete(ctx context.Context, id string) error {
	res, err := a.s.db.ExecContext(ctx, `delete from apps where id = $1`, id)
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
