package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"hrms.org/internal/obs"
)

const (
	// ResetSubject is the subject line of the reset notification.
	ResetSubject = "Password Reset"
	// ResetAcknowledgement is returned to every reset requester, whether or
	// not the email belongs to an account.
	ResetAcknowledgement = "Please check your email!"

	resetBodyPrefix = "Click the following link to reset your password: "
)

// ResetCoordinator issues single-use, time boxed password reset tokens and
// redeems them.
type ResetCoordinator struct {
	resets   ResetRequestStore
	accounts AccountStore
	sessions SessionTokenStore
	notifier Notifier
	opts     options
}

// NewResetCoordinator wires the reset flow. sessions may be nil, in which
// case a completed reset leaves existing sessions alone.
func NewResetCoordinator(resets ResetRequestStore, accounts AccountStore, sessions SessionTokenStore, notifier Notifier, opts ...Option) (*ResetCoordinator, error) {
	if resets == nil || accounts == nil {
		return nil, errors.New("auth: reset and account stores are required")
	}
	if notifier == nil {
		return nil, errors.New("auth: notifier is required")
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	if _, err := url.Parse(o.resetURL); err != nil {
		return nil, fmt.Errorf("auth: reset url: %w", err)
	}
	return &ResetCoordinator{
		resets:   resets,
		accounts: accounts,
		sessions: sessions,
		notifier: notifier,
		opts:     o,
	}, nil
}

// Request records a reset token for email and mails the link. It does not
// check that the email belongs to an account.
func (c *ResetCoordinator) Request(ctx context.Context, email string) (string, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	now := c.opts.now().UTC()
	req := &PasswordResetRequest{
		Email:     email,
		Token:     uuid.NewString(),
		ExpiresAt: now.Add(c.opts.resetWindow),
		CreatedAt: now,
	}
	if err := boundedErr(ctx, c.opts, func(ctx context.Context) error {
		return c.resets.Save(ctx, req)
	}); err != nil {
		obs.RecordPasswordReset("request", KindOf(err).String())
		return "", err
	}

	body := resetBodyPrefix + ResetLink(c.opts.resetURL, req.Token)
	if err := boundedErr(ctx, c.opts, func(ctx context.Context) error {
		return c.notifier.Send(ctx, email, ResetSubject, body)
	}); err != nil {
		obs.RecordPasswordReset("request", KindDeliveryFailure.String())
		return "", fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	obs.RecordPasswordReset("request", "success")
	return ResetAcknowledgement, nil
}

// Complete redeems token and stores newPassword for the owning account. An
// unknown, expired or already used token fails with
// ErrInvalidOrExpiredToken and changes nothing.
func (c *ResetCoordinator) Complete(ctx context.Context, token, newPassword string) error {
	err := c.complete(ctx, strings.TrimSpace(token), newPassword)
	if err != nil {
		obs.RecordPasswordReset("complete", KindOf(err).String())
		return err
	}
	obs.RecordPasswordReset("complete", "success")
	return nil
}

func (c *ResetCoordinator) complete(ctx context.Context, token, newPassword string) error {
	if token == "" {
		return ErrInvalidOrExpiredToken
	}
	if strings.TrimSpace(newPassword) == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	req, err := withRetry(ctx, c.opts, func(ctx context.Context) (*PasswordResetRequest, error) {
		return c.resets.FindByToken(ctx, token)
	})
	if errors.Is(err, ErrNotFound) {
		return ErrInvalidOrExpiredToken
	}
	if err != nil {
		return err
	}
	now := c.opts.now().UTC()
	if !req.Usable(now) {
		return ErrInvalidOrExpiredToken
	}
	acc, err := withRetry(ctx, c.opts, func(ctx context.Context) (*Account, error) {
		return c.accounts.FindByEmail(ctx, req.Email)
	})
	if err != nil {
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}

	// Only one caller wins the token.
	if err := boundedErr(ctx, c.opts, func(ctx context.Context) error {
		return c.resets.Consume(ctx, token, now)
	}); err != nil {
		return err
	}

	unlock, err := acquire(ctx, c.opts, acc.ID)
	if err != nil {
		return fmt.Errorf("auth: lock account: %w", err)
	}
	defer unlock()

	// The snapshot above may be stale by now.
	acc, err = withRetry(ctx, c.opts, func(ctx context.Context) (*Account, error) {
		return c.accounts.FindByID(ctx, acc.ID)
	})
	if err != nil {
		return err
	}

	revoke := c.opts.revokeSessionsOnReset && c.sessions != nil
	acc.PasswordHash = hash
	acc.UpdatedAt = now
	if revoke {
		acc.LoggedIn = false
	}
	if _, err := bounded(ctx, c.opts, func(ctx context.Context) (*Account, error) {
		return c.accounts.Save(ctx, acc)
	}); err != nil {
		return fmt.Errorf("auth: store password: %w", err)
	}
	if !revoke {
		return nil
	}
	n, err := revokeActive(ctx, c.opts, c.sessions, acc.ID)
	obs.RecordSessionsRevoked(n)
	if err != nil {
		obs.Log("warn", "auth.password_reset.revoke_failed", map[string]any{
			"account_id": acc.ID,
			"error":      err,
		})
		return fmt.Errorf("auth: revoke sessions: %w", err)
	}
	return nil
}

// ResetLink appends the token to base as the token query parameter.
func ResetLink(base, token string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "token=" + url.QueryEscape(token)
}
