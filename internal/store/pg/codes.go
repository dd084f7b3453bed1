package pg

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"time"

	"kilit.org/internal/auth"
	"kilit.org/internal/ids"
)

type codeStore struct{ s *Store }

func (c codeStore) Create(ctx context.Context, code *auth.AuthorizationCode) error {
	row := c.s.db.QueryRowContext(ctx, `
		insert into oauth_codes (id, code, state, redirect_uri, scope, app_id, org_id, user_id, expires_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning id, created_at
	`, ids.New(), code.Code, code.State, code.RedirectURI, code.Scope,
		code.AppID, code.OrgID, code.UserID, code.ExpiresAt)
	if err := row.Scan(&code.ID, &code.CreatedAt); err != nil {
		return mapWriteError(err)
	}
	return nil
}

// Redeem runs lookup, validation, and deletion in one transaction. The row
// is locked with FOR UPDATE, so concurrent redemptions of the same code
// serialize and only the first one commits a deletion. A client mismatch
// rolls back and leaves the code in place; an expired code is deleted on
// sight.
func (c codeStore) Redeem(ctx context.Context, req auth.RedeemRequest) (*auth.AuthorizationCode, error) {
	tx, err := c.s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		rec          auth.AuthorizationCode
		clientID     string
		clientSecret string
	)
	err = tx.QueryRowContext(ctx, `
		select c.id, c.code, c.state, c.redirect_uri, c.scope,
		       c.app_id, c.org_id, c.user_id, c.created_at, c.expires_at,
		       a.client_id, a.client_secret
		from oauth_codes c
		join apps a on a.id = c.app_id
		where c.code = $1
		for update of c
	`, req.Code).Scan(
		&rec.ID, &rec.Code, &rec.State, &rec.RedirectURI, &rec.Scope,
		&rec.AppID, &rec.OrgID, &rec.UserID, &rec.CreatedAt, &rec.ExpiresAt,
		&clientID, &clientSecret,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrCodeInvalid
	}
	if err != nil {
		return nil, err
	}

	if !rec.ExpiresAt.After(req.Now) {
		if _, err := tx.ExecContext(ctx, `delete from oauth_codes where id = $1`, rec.ID); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return nil, auth.ErrCodeInvalid
	}
	if clientID != req.ClientID ||
		subtle.ConstantTimeCompare([]byte(clientSecret), []byte(req.ClientSecret)) != 1 {
		// Rollback: the rightful client can still redeem.
		return nil, auth.ErrCodeInvalid
	}
	if rec.RedirectURI != req.RedirectURI {
		return nil, auth.ErrRedirectMismatch
	}

	if _, err := tx.ExecContext(ctx, `delete from oauth_codes where id = $1`, rec.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c codeStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := c.s.db.ExecContext(ctx, `delete from oauth_codes where expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(aff), nil
}
