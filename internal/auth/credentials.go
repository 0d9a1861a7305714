package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Credentials checks email/password pairs against stored hashes.
type Credentials struct {
	accounts AccountStore
	opts     options
}

// NewCredentials builds a credential verifier over the account store.
func NewCredentials(accounts AccountStore, opts ...Option) (*Credentials, error) {
	if accounts == nil {
		return nil, errors.New("auth: account store is required")
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Credentials{accounts: accounts, opts: o}, nil
}

// Verify returns the account owning email when password matches its hash.
// It fails with ErrNotFound for unknown emails and ErrInvalidCredentials for
// wrong passwords, and never mutates state.
func (c *Credentials) Verify(ctx context.Context, email, password string) (*Account, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		burnPasswordCheck(password)
		return nil, ErrInvalidCredentials
	}
	acc, err := withRetry(ctx, c.opts, func(ctx context.Context) (*Account, error) {
		return c.accounts.FindByEmail(ctx, email)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			burnPasswordCheck(password)
		}
		return nil, err
	}
	if err := VerifyPassword(acc.PasswordHash, password); err != nil {
		return nil, err
	}
	return acc, nil
}

// ChangePassword replaces the caller's password after re-checking the
// current one.
func (c *Credentials) ChangePassword(ctx context.Context, id Identity, current, next string) error {
	if strings.TrimSpace(next) == "" {
		return fmt.Errorf("%w: new password is required", ErrInvalidInput)
	}
	unlock, err := acquire(ctx, c.opts, id.AccountID)
	if err != nil {
		return fmt.Errorf("auth: lock account: %w", err)
	}
	defer unlock()

	acc, err := withRetry(ctx, c.opts, func(ctx context.Context) (*Account, error) {
		return c.accounts.FindByID(ctx, id.AccountID)
	})
	if err != nil {
		return err
	}
	if err := VerifyPassword(acc.PasswordHash, current); err != nil {
		return err
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	acc.PasswordHash = hash
	acc.UpdatedAt = c.opts.now().UTC()
	_, err = bounded(ctx, c.opts, func(ctx context.Context) (*Account, error) {
		return c.accounts.Save(ctx, acc)
	})
	return err
}
