package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"hrms.org/internal/auth"
)

// ResetStore persists password reset requests.
type ResetStore struct {
	db *sql.DB
}

var _ auth.ResetRequestStore = (*ResetStore)(nil)

func (s *ResetStore) Save(ctx context.Context, req *auth.PasswordResetRequest) error {
	if req.Token == "" {
		return fmt.Errorf("%w: reset token is required", auth.ErrInvalidInput)
	}
	created := req.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into password_reset_requests (token, email, expires_at, created_at)
		values ($1, $2, $3, $4)
	`, req.Token, auth.NormalizeEmail(req.Email), req.ExpiresAt, created)
	return classify(err)
}

func (s *ResetStore) FindByToken(ctx context.Context, token string) (*auth.PasswordResetRequest, error) {
	var (
		req      auth.PasswordResetRequest
		consumed sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select token, email, expires_at, created_at, consumed_at
		from password_reset_requests
		where token = $1
	`, token).Scan(&req.Token, &req.Email, &req.ExpiresAt, &req.CreatedAt, &consumed)
	if err != nil {
		return nil, classify(err)
	}
	if consumed.Valid {
		at := consumed.Time
		req.ConsumedAt = &at
	}
	return &req, nil
}

// Consume is a conditional update: exactly one caller can flip consumed_at
// while the request is still inside its window.
func (s *ResetStore) Consume(ctx context.Context, token string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update password_reset_requests
		set consumed_at = $2
		where token = $1 and consumed_at is null and expires_at >= $2
	`, token, at.UTC())
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return auth.ErrInvalidOrExpiredToken
	}
	return nil
}
