package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"hrms.org/internal/auth"
)

func TestResetConsumeIsConditional(t *testing.T) {
	store, mock := newMock(t)
	at := time.Now().UTC()

	mock.ExpectExec(`update password_reset_requests set consumed_at = \$2 where token = \$1 and consumed_at is null and expires_at >= \$2`).
		WithArgs("tok", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`update password_reset_requests`).
		WithArgs("tok", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.Resets().Consume(context.Background(), "tok", at); err != nil {
		t.Fatalf("first Consume: %v", err)
	}
	if err := store.Resets().Consume(context.Background(), "tok", at); !errors.Is(err, auth.ErrInvalidOrExpiredToken) {
		t.Fatalf("expected invalid or expired token, got %v", err)
	}
}

func TestResetSaveAndFind(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	consumed := now.Add(time.Minute)

	mock.ExpectExec(`insert into password_reset_requests`).
		WithArgs("tok", "ann@example.com", now.Add(10*time.Minute), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`select token, email, expires_at, created_at, consumed_at from password_reset_requests where token = \$1`).
		WithArgs("tok").
		WillReturnRows(sqlmock.NewRows([]string{"token", "email", "expires_at", "created_at", "consumed_at"}).
			AddRow("tok", "ann@example.com", now.Add(10*time.Minute), now, consumed))

	err := store.Resets().Save(context.Background(), &auth.PasswordResetRequest{
		Email: "Ann@example.com", Token: "tok", ExpiresAt: now.Add(10 * time.Minute), CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	req, err := store.Resets().FindByToken(context.Background(), "tok")
	if err != nil {
		t.Fatalf("FindByToken: %v", err)
	}
	if req.ConsumedAt == nil || !req.ConsumedAt.Equal(consumed) {
		t.Fatalf("expected consumed_at to be set, got %v", req.ConsumedAt)
	}
	if req.Usable(now) {
		t.Fatalf("consumed request must not be usable")
	}
}
