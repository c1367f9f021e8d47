package pg

import (
	"context"

	"sgadmin.org/internal/auth"
)

// Access log store ----------------------------------------------------------

type accessLogStore struct{ q querier }

func (s *accessLogStore) Append(ctx context.Context, entry *auth.AccessLog) error {
	_, err := s.q.ExecContext(ctx, `
		insert into access_logs (id, user_id, action, success, details, created_at)
		values ($1, nullif($2, ''), $3, $4, $5, $6)
	`, entry.ID, entry.UserID, entry.Action, entry.Success, entry.Details, entry.CreatedAt)
	return err
}
