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

type userStore struct{ s *Store }

func (u userStore) Create(ctx context.Context, usr *auth.User) error {
	row := u.s.db.QueryRowContext(ctx, `
		insert into users (id, email, name, status, password_hash)
		values ($1, $2, $3, $4, $5)
		returning id, created_at, updated_at
	`, ids.New(), usr.Email, usr.Name, usr.Status, usr.PasswordHash)
	if err := row.Scan(&usr.ID, &usr.CreatedAt, &usr.UpdatedAt); err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (u userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	return u.one(ctx, `where id = $1`, id)
}

func (u userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return u.one(ctx, `where lower(email) = lower($1)`, email)
}

func (u userStore) one(ctx context.Context, where string, arg any) (*auth.User, error) {
	var usr auth.User
	err := u.s.db.QueryRowContext(ctx, `
		select id, email, name, status, password_hash, created_at, updated_at
		from users `+where,
		arg,
	).Scan(&usr.ID, &usr.Email, &usr.Name, &usr.Status, &usr.PasswordHash, &usr.CreatedAt, &usr.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &usr, nil
}

func (u userStore) List(ctx context.Context, params auth.ListParams) ([]*auth.User, int, error) {
	params = params.Normalize()
	var total int
	err := u.s.db.QueryRowContext(ctx, `
		select count(*) from users
		where ($1 = '' or name ilike '%' || $1 || '%' or email ilike '%' || $1 || '%')
	`, params.Keyword).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := u.s.db.QueryContext(ctx, `
		select id, email, name, status, password_hash, created_at, updated_at
		from users
		where ($1 = '' or name ilike '%' || $1 || '%' or email ilike '%' || $1 || '%')
		order by id
		limit $2 offset $3
	`, params.Keyword, params.PerPage, params.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []*auth.User
	for rows.Next() {
		var usr auth.User
		if err := rows.Scan(&usr.ID, &usr.Email, &usr.Name, &usr.Status, &usr.PasswordHash, &usr.CreatedAt, &usr.UpdatedAt); err != nil {
			return nil, 0, err
		}
		result = append(result, &usr)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

func (u userStore) Update(ctx context.Context, id string, upd auth.UserUpdate) (*auth.User, error) {
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
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update users set %s where id = $%d`, strings.Join(sets, ", "), idx)
		args = append(args, id)
		res, err := u.s.db.ExecContext(ctx, query, args...)
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
	return u.Find(ctx, id)
}

func (u userStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := u.s.db.ExecContext(ctx, `
		update users set password_hash = $1, updated_at = now() where id = $2
	`, passwordHash, userID)
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

func (u userStore) Delete(ctx context.Context, id string) error {
	res, err := u.s.db.ExecContext(ctx, `delete from users where id = $1`, id)
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

func (u userStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := u.s.db.QueryRowContext(ctx, `select count(*) from users`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
