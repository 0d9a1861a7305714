package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"hrms.org/internal/auth"
	"hrms.org/internal/ids"
)

// AccountStore persists accounts in the accounts table.
type AccountStore struct {
	db *sql.DB
}

var _ auth.AccountStore = (*AccountStore)(nil)

const accountColumns = `id, email, password_hash, coalesce(role_id, ''), logged_in, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*auth.Account, error) {
	var acc auth.Account
	if err := row.Scan(&acc.ID, &acc.Email, &acc.PasswordHash, &acc.RoleID, &acc.LoggedIn, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
		return nil, classify(err)
	}
	return &acc, nil
}

func (s *AccountStore) FindByEmail(ctx context.Context, email string) (*auth.Account, error) {
	row := s.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where email = $1`, auth.NormalizeEmail(email))
	return scanAccount(row)
}

func (s *AccountStore) FindByID(ctx context.Context, id string) (*auth.Account, error) {
	row := s.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where id = $1`, id)
	return scanAccount(row)
}

// Save inserts or updates the account keyed by id. A new account without an
// id gets one.
func (s *AccountStore) Save(ctx context.Context, acc *auth.Account) (*auth.Account, error) {
	email := auth.NormalizeEmail(acc.Email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", auth.ErrInvalidInput)
	}
	now := time.Now().UTC()
	id := acc.ID
	if id == "" {
		id = ids.NewAt(now)
	}
	created, updated := acc.CreatedAt, acc.UpdatedAt
	if created.IsZero() {
		created = now
	}
	if updated.IsZero() {
		updated = now
	}
	row := s.db.QueryRowContext(ctx, `
		insert into accounts (id, email, password_hash, role_id, logged_in, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict (id) do update
		set email = excluded.email,
			password_hash = excluded.password_hash,
			role_id = excluded.role_id,
			logged_in = excluded.logged_in,
			updated_at = excluded.updated_at
		returning `+accountColumns,
		id, email, acc.PasswordHash, nullIfEmpty(acc.RoleID), acc.LoggedIn, created, updated)
	return scanAccount(row)
}
