package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"hrms.org/internal/lock"
)

const (
	defaultTokenTTL     = 24 * time.Hour
	defaultResetWindow  = 10 * time.Minute
	defaultOpTimeout    = 5 * time.Second
	defaultReadAttempts = 3
	defaultRetryBackoff = 50 * time.Millisecond
	defaultIssuer       = "hrms"
	defaultResetURL     = "http://localhost:3000/reset-password"
)

// defaultLocker is shared by components built without WithLocker so that
// they still serialize against each other inside one process.
var defaultLocker Locker = lock.NewLocal()

type options struct {
	now          Clock
	opTimeout    time.Duration
	readAttempts int
	retryBackoff time.Duration
	locker       Locker

	issuer   string
	tokenTTL time.Duration

	resetWindow           time.Duration
	resetURL              string
	revokeSessionsOnReset bool
}

// Option configures the auth components.
type Option func(*options) error

// WithClock overrides time source (useful for tests).
func WithClock(fn Clock) Option {
	return func(o *options) error {
		if fn != nil {
			o.now = fn
		}
		return nil
	}
}

// WithOpTimeout bounds every store and notifier call.
func WithOpTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d > 0 {
			o.opTimeout = d
		}
		return nil
	}
}

// WithReadRetries sets how many times an idempotent read is attempted when
// the store reports ErrUnavailable.
func WithReadRetries(attempts int, backoff time.Duration) Option {
	return func(o *options) error {
		if attempts < 1 {
			return errors.New("auth: read attempts must be at least 1")
		}
		o.readAttempts = attempts
		if backoff >= 0 {
			o.retryBackoff = backoff
		}
		return nil
	}
}

// WithLocker sets the per-account lock used by login, logout and reset.
func WithLocker(l Locker) Option {
	return func(o *options) error {
		if l == nil {
			return errors.New("auth: locker is nil")
		}
		o.locker = l
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) Option {
	return func(o *options) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			o.issuer = issuer
		}
		return nil
	}
}

// WithTokenTTL configures session token lifetime.
func WithTokenTTL(ttl time.Duration) Option {
	return func(o *options) error {
		if ttl > 0 {
			o.tokenTTL = ttl
		}
		return nil
	}
}

// WithResetWindow configures how long a password reset token stays valid.
func WithResetWindow(d time.Duration) Option {
	return func(o *options) error {
		if d > 0 {
			o.resetWindow = d
		}
		return nil
	}
}

// WithResetURL sets the page the reset link points at.
func WithResetURL(base string) Option {
	return func(o *options) error {
		if base = strings.TrimSpace(base); base != "" {
			o.resetURL = base
		}
		return nil
	}
}

// WithRevokeSessionsOnReset controls whether a completed password reset
// supersedes the account's active session.
func WithRevokeSessionsOnReset(enabled bool) Option {
	return func(o *options) error {
		o.revokeSessionsOnReset = enabled
		return nil
	}
}

func buildOptions(opts []Option) (options, error) {
	o := options{
		now:                   time.Now,
		opTimeout:             defaultOpTimeout,
		readAttempts:          defaultReadAttempts,
		retryBackoff:          defaultRetryBackoff,
		locker:                defaultLocker,
		issuer:                defaultIssuer,
		tokenTTL:              defaultTokenTTL,
		resetWindow:           defaultResetWindow,
		resetURL:              defaultResetURL,
		revokeSessionsOnReset: true,
	}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return options{}, err
		}
	}
	return o, nil
}

// bounded runs fn with the operation timeout applied.
func bounded[T any](ctx context.Context, o options, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opTimeout)
	defer cancel()
	return fn(ctx)
}

// withRetry runs an idempotent read, retrying only on ErrUnavailable.
func withRetry[T any](ctx context.Context, o options, fn func(context.Context) (T, error)) (T, error) {
	var (
		res T
		err error
	)
	for attempt := 1; attempt <= o.readAttempts; attempt++ {
		res, err = bounded(ctx, o, fn)
		if err == nil || !errors.Is(err, ErrUnavailable) || attempt == o.readAttempts {
			return res, err
		}
		select {
		case <-ctx.Done():
			return res, err
		case <-time.After(o.retryBackoff * time.Duration(attempt)):
		}
	}
	return res, err
}

func boundedErr(ctx context.Context, o options, fn func(context.Context) error) error {
	_, err := bounded(ctx, o, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
