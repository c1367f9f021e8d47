package pg

import (
	"context"
	"database/sql"
	"errors"

	"sgadmin.org/internal/auth"
)

// Refresh token store -------------------------------------------------------
//
// Rows are append-mostly: only the status column ever changes, and rows are
// never deleted so the issuance history stays auditable.

type refreshTokenStore struct{ q querier }

func (s *refreshTokenStore) Create(ctx context.Context, tok *auth.RefreshToken) error {
	_, err := s.q.ExecContext(ctx, `
		insert into refresh_tokens (id, user_id, token_hash, status, issued_at, expires_at)
		values ($1, $2, $3, $4, $5, $6)
	`, tok.ID, tok.UserID, tok.TokenHash, tok.Status, tok.IssuedAt, tok.ExpiresAt)
	return mapConstraint(err)
}

func (s *refreshTokenStore) Find(ctx context.Context, id string) (*auth.RefreshToken, error) {
	var t auth.RefreshToken
	err := s.q.QueryRowContext(ctx, `
		select id, user_id, token_hash, status, issued_at, expires_at
		from refresh_tokens where id = $1
	`, id).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.Status, &t.IssuedAt, &t.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Rotate performs the conditional active-to-rotated transition. The affected
// row count decides a concurrent race: exactly one caller observes true.
func (s *refreshTokenStore) Rotate(ctx context.Context, id string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		update refresh_tokens set status = 'rotated'
		where id = $1 and status = 'active'
	`, id)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *refreshTokenStore) Revoke(ctx context.Context, id string) error {
	_, err := s.q.ExecContext(ctx, `
		update refresh_tokens set status = 'revoked' where id = $1
	`, id)
	return err
}

func (s *refreshTokenStore) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		update refresh_tokens set status = 'revoked'
		where user_id = $1 and status in ('active', 'rotated')
	`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
