package auth

import (
	"context"
	"time"
)

// AccountStore persists accounts. Lookups return ErrNotFound when absent.
type AccountStore interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, id string) (*Account, error)
	Save(ctx context.Context, acc *Account) (*Account, error)
}

// SessionTokenStore persists issued session tokens and their flags.
type SessionTokenStore interface {
	Save(ctx context.Context, tok *SessionToken) error
	FindByValue(ctx context.Context, value string) (*SessionToken, error)
	FindActiveByAccount(ctx context.Context, accountID string) ([]*SessionToken, error)
	SaveAll(ctx context.Context, toks []*SessionToken) error
	ListByAccount(ctx context.Context, accountID string) ([]*SessionToken, error)
}

// SessionRotator is implemented by token stores that can supersede every
// active token of an account and insert the replacement atomically. It
// returns the number of tokens superseded.
type SessionRotator interface {
	Rotate(ctx context.Context, accountID string, next *SessionToken) (int, error)
}

// RoleStore persists roles with their permission sets.
type RoleStore interface {
	FindRoleByID(ctx context.Context, id string) (*Role, error)
	Save(ctx context.Context, role *Role) (*Role, error)
}

// ResetRequestStore persists password reset requests.
type ResetRequestStore interface {
	Save(ctx context.Context, req *PasswordResetRequest) error
	FindByToken(ctx context.Context, token string) (*PasswordResetRequest, error)
	// Consume marks the request used at the given time. It fails with
	// ErrInvalidOrExpiredToken when the request is missing, already
	// consumed or expired at that time.
	Consume(ctx context.Context, token string, at time.Time) error
}

// Notifier delivers a message to a recipient.
type Notifier interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// Locker serializes work per key across everything sharing the locker.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Clock supplies the current time.
type Clock func() time.Time

func accountLockKey(accountID string) string {
	return "account:" + accountID
}
