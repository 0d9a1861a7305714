package pg

import (
	"context"
	"database/sql"
	"fmt"

	"hrms.org/internal/auth"
	"hrms.org/internal/ids"
)

// SessionStore persists session tokens. Rows are never deleted and their
// flags only ever go from false to true.
type SessionStore struct {
	db *sql.DB
}

var (
	_ auth.SessionTokenStore = (*SessionStore)(nil)
	_ auth.SessionRotator    = (*SessionStore)(nil)
)

const tokenColumns = `id, value, account_id, expired, revoked, issued_at, expires_at`

const upsertToken = `
	insert into session_tokens (id, value, account_id, expired, revoked, issued_at, expires_at)
	values ($1, $2, $3, $4, $5, $6, $7)
	on conflict (id) do update
	set expired = session_tokens.expired or excluded.expired,
		revoked = session_tokens.revoked or excluded.revoked`

func scanToken(row interface{ Scan(...any) error }) (*auth.SessionToken, error) {
	var t auth.SessionToken
	if err := row.Scan(&t.ID, &t.Value, &t.AccountID, &t.Expired, &t.Revoked, &t.IssuedAt, &t.ExpiresAt); err != nil {
		return nil, classify(err)
	}
	return &t, nil
}

func putToken(ctx context.Context, q execer, t *auth.SessionToken) error {
	if t.Value == "" || t.AccountID == "" {
		return fmt.Errorf("%w: token value and account are required", auth.ErrInvalidInput)
	}
	if t.ID == "" {
		t.ID = ids.New()
	}
	_, err := q.ExecContext(ctx, upsertToken, t.ID, t.Value, t.AccountID, t.Expired, t.Revoked, t.IssuedAt, t.ExpiresAt)
	return classify(err)
}

func (s *SessionStore) Save(ctx context.Context, t *auth.SessionToken) error {
	return putToken(ctx, s.db, t)
}

// SaveAll writes the batch in one transaction.
func (s *SessionStore) SaveAll(ctx context.Context, toks []*auth.SessionToken) error {
	if len(toks) == 0 {
		return nil
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, t := range toks {
			if err := putToken(ctx, tx, t); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SessionStore) FindByValue(ctx context.Context, value string) (*auth.SessionToken, error) {
	row := s.db.QueryRowContext(ctx, `select `+tokenColumns+` from session_tokens where value = $1`, value)
	return scanToken(row)
}

func (s *SessionStore) FindActiveByAccount(ctx context.Context, accountID string) ([]*auth.SessionToken, error) {
	return s.list(ctx, `
		select `+tokenColumns+` from session_tokens
		where account_id = $1 and not expired and not revoked
		order by issued_at, id`, accountID)
}

func (s *SessionStore) ListByAccount(ctx context.Context, accountID string) ([]*auth.SessionToken, error) {
	return s.list(ctx, `
		select `+tokenColumns+` from session_tokens
		where account_id = $1
		order by issued_at, id`, accountID)
}

func (s *SessionStore) list(ctx context.Context, query string, args ...any) ([]*auth.SessionToken, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []*auth.SessionToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// Rotate locks the account row, supersedes its active tokens and inserts
// next, all in one transaction. The partial unique index on active tokens
// rejects anything that slips past the row lock.
func (s *SessionStore) Rotate(ctx context.Context, accountID string, next *auth.SessionToken) (int, error) {
	if next == nil || next.AccountID != accountID {
		return 0, fmt.Errorf("%w: token does not belong to account", auth.ErrInvalidInput)
	}
	var revoked int
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		var dummy int
		if err := tx.QueryRowContext(ctx, `select 1 from accounts where id = $1 for update`, accountID).Scan(&dummy); err != nil {
			return classify(err)
		}
		res, err := tx.ExecContext(ctx, `
			update session_tokens set expired = true, revoked = true
			where account_id = $1 and not expired and not revoked`, accountID)
		if err != nil {
			return classify(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return classify(err)
		}
		revoked = int(n)
		return putToken(ctx, tx, next)
	})
	if err != nil {
		return 0, err
	}
	return revoked, nil
}
