package pg

import (
	"context"
	"database/sql"
	"errors"

	"sgadmin.org/internal/auth"
)

// User store ---------------------------------------------------------------

type userStore struct{ q querier }

func (s *userStore) Create(ctx context.Context, u *auth.User) error {
	_, err := s.q.ExecContext(ctx, `
		insert into users (id, person_id, username, email, password_hash, active, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, u.PersonID, u.Username, u.Email, u.PasswordHash, u.Active, u.CreatedAt)
	return mapConstraint(err)
}

const userColumns = `id, person_id, username, email, password_hash, active, created_at`

func (s *userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	row := s.q.QueryRowContext(ctx,
		`select `+userColumns+` from users where id = $1`, id)
	return scanUser(row)
}

// Lock takes the user's row lock. Only meaningful inside a transaction; the
// lock is released at commit or rollback.
func (s *userStore) Lock(ctx context.Context, id string) error {
	var locked string
	err := s.q.QueryRowContext(ctx,
		`select id from users where id = $1 for update`, id).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	return err
}

func (s *userStore) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	row := s.q.QueryRowContext(ctx,
		`select `+userColumns+` from users where lower(username) = lower($1)`, username)
	return scanUser(row)
}

func (s *userStore) Exists(ctx context.Context, username, email string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx, `
		select exists(
			select 1 from users
			where active and (lower(username) = lower($1) or lower(email) = lower($2))
		)
	`, username, email).Scan(&exists)
	return exists, err
}

func (s *userStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.q.ExecContext(ctx,
		`update users set password_hash = $2 where id = $1`, userID, passwordHash)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *userStore) SetActive(ctx context.Context, userID string, active bool) error {
	res, err := s.q.ExecContext(ctx,
		`update users set active = $2 where id = $1`, userID, active)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (*auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.PersonID, &u.Username, &u.Email, &u.PasswordHash, &u.Active, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Person store -------------------------------------------------------------

type personStore struct{ q querier }

func (s *personStore) Create(ctx context.Context, p *auth.Person) error {
	_, err := s.q.ExecContext(ctx, `
		insert into persons (id, first_name, last_name, document_type, document_number, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.FirstName, p.LastName, p.DocumentType, p.DocumentNumber, p.CreatedAt)
	return mapConstraint(err)
}

func (s *personStore) Find(ctx context.Context, id string) (*auth.Person, error) {
	var p auth.Person
	err := s.q.QueryRowContext(ctx, `
		select id, first_name, last_name, document_type, document_number, created_at
		from persons where id = $1
	`, id).Scan(&p.ID, &p.FirstName, &p.LastName, &p.DocumentType, &p.DocumentNumber, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *personStore) DocumentExists(ctx context.Context, documentNumber string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx,
		`select exists(select 1 from persons where document_number = $1)`,
		documentNumber).Scan(&exists)
	return exists, err
}
