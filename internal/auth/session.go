package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"hrms.org/internal/obs"
)

// Manager drives login and logout and keeps at most one active session token
// per account.
type Manager struct {
	creds    *Credentials
	tokens   *Tokens
	accounts AccountStore
	sessions SessionTokenStore
	opts     options
}

// NewManager wires the session lifecycle over the given stores.
func NewManager(accounts AccountStore, sessions SessionTokenStore, tokens *Tokens, opts ...Option) (*Manager, error) {
	if accounts == nil || sessions == nil {
		return nil, errors.New("auth: account and session stores are required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token issuer is required")
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	creds, err := NewCredentials(accounts, opts...)
	if err != nil {
		return nil, err
	}
	return &Manager{
		creds:    creds,
		tokens:   tokens,
		accounts: accounts,
		sessions: sessions,
		opts:     o,
	}, nil
}

// Credentials returns the verifier the manager logs in with.
func (m *Manager) Credentials() *Credentials {
	return m.creds
}

// Login verifies the credentials, supersedes every active token of the
// account and returns a freshly issued one. Credential failures leave all
// state untouched. Failures after the account lock is taken are returned
// wrapped without rollback.
func (m *Manager) Login(ctx context.Context, email, password string) (LoginResult, error) {
	acc, err := m.creds.Verify(ctx, email, password)
	if err != nil {
		obs.RecordLogin(KindOf(err).String())
		return LoginResult{}, err
	}

	unlock, err := acquire(ctx, m.opts, acc.ID)
	if err != nil {
		obs.RecordLogin("lock_failed")
		return LoginResult{}, fmt.Errorf("auth: lock account: %w", err)
	}
	defer unlock()

	// Verify read the account before the lock; a reset or password change
	// may have replaced the hash since.
	cur, err := withRetry(ctx, m.opts, func(ctx context.Context) (*Account, error) {
		return m.accounts.FindByID(ctx, acc.ID)
	})
	if err != nil {
		obs.RecordLogin(KindOf(err).String())
		return LoginResult{}, err
	}
	if cur.PasswordHash != acc.PasswordHash {
		if err := VerifyPassword(cur.PasswordHash, password); err != nil {
			obs.RecordLogin(KindOf(err).String())
			return LoginResult{}, err
		}
	}
	acc = cur

	acc.LoggedIn = true
	acc.UpdatedAt = m.opts.now().UTC()
	saved, err := bounded(ctx, m.opts, func(ctx context.Context) (*Account, error) {
		return m.accounts.Save(ctx, acc)
	})
	if err != nil {
		m.partial("mark_logged_in", acc.ID, err)
		return LoginResult{}, fmt.Errorf("auth: mark logged in: %w", err)
	}

	tok, _, err := m.tokens.Issue(saved)
	if err != nil {
		m.partial("issue", acc.ID, err)
		return LoginResult{}, err
	}
	revoked, err := m.rotate(ctx, saved.ID, tok)
	obs.RecordSessionsRevoked(revoked)
	if err != nil {
		m.partial("rotate", acc.ID, err)
		return LoginResult{}, fmt.Errorf("auth: rotate session: %w", err)
	}

	obs.RecordLogin("success")
	return LoginResult{
		Token:     tok.Value,
		IssuedAt:  tok.IssuedAt,
		ExpiresAt: tok.ExpiresAt,
		Account:   *saved,
	}, nil
}

func (m *Manager) rotate(ctx context.Context, accountID string, next *SessionToken) (int, error) {
	if r, ok := m.sessions.(SessionRotator); ok {
		return bounded(ctx, m.opts, func(ctx context.Context) (int, error) {
			return r.Rotate(ctx, accountID, next)
		})
	}
	n, err := revokeActive(ctx, m.opts, m.sessions, accountID)
	if err != nil {
		return n, err
	}
	return n, boundedErr(ctx, m.opts, func(ctx context.Context) error {
		return m.sessions.Save(ctx, next)
	})
}

// Logout ends the session identified by raw. Tokens that fail signature
// checks, belong to no known session or to another account are ignored.
// Expired tokens are still accepted. Calling it twice is not an error.
func (m *Manager) Logout(ctx context.Context, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		obs.RecordLogout("ignored")
		return nil
	}
	id, err := m.tokens.VerifySignature(raw)
	if err != nil {
		obs.RecordLogout("ignored")
		return nil
	}

	unlock, err := acquire(ctx, m.opts, id.AccountID)
	if err != nil {
		return fmt.Errorf("auth: lock account: %w", err)
	}
	defer unlock()

	acc, err := withRetry(ctx, m.opts, func(ctx context.Context) (*Account, error) {
		return m.accounts.FindByID(ctx, id.AccountID)
	})
	if errors.Is(err, ErrNotFound) {
		obs.RecordLogout("ignored")
		return nil
	}
	if err != nil {
		return err
	}
	tok, err := withRetry(ctx, m.opts, func(ctx context.Context) (*SessionToken, error) {
		return m.sessions.FindByValue(ctx, raw)
	})
	if errors.Is(err, ErrNotFound) {
		obs.RecordLogout("ignored")
		return nil
	}
	if err != nil {
		return err
	}
	if tok.AccountID != acc.ID {
		obs.Log("warn", "auth.logout.owner_mismatch", map[string]any{
			"account_id": acc.ID,
			"token_id":   tok.ID,
		})
		obs.RecordLogout("ignored")
		return nil
	}
	if !tok.Active() {
		obs.RecordLogout("already_ended")
		return nil
	}

	tok.Supersede()
	if err := boundedErr(ctx, m.opts, func(ctx context.Context) error {
		return m.sessions.Save(ctx, tok)
	}); err != nil {
		return fmt.Errorf("auth: revoke token: %w", err)
	}
	obs.RecordSessionsRevoked(1)

	acc.LoggedIn = false
	acc.UpdatedAt = m.opts.now().UTC()
	if _, err := bounded(ctx, m.opts, func(ctx context.Context) (*Account, error) {
		return m.accounts.Save(ctx, acc)
	}); err != nil {
		m.partial("mark_logged_out", acc.ID, err)
		return fmt.Errorf("auth: mark logged out: %w", err)
	}
	obs.RecordLogout("success")
	return nil
}

// Sessions returns the caller's token history, oldest first, without token
// values.
func (m *Manager) Sessions(ctx context.Context, id Identity) ([]SessionToken, error) {
	if strings.TrimSpace(id.AccountID) == "" {
		return nil, ErrUnauthenticated
	}
	toks, err := withRetry(ctx, m.opts, func(ctx context.Context) ([]*SessionToken, error) {
		return m.sessions.ListByAccount(ctx, id.AccountID)
	})
	if err != nil {
		return nil, err
	}
	out := make([]SessionToken, 0, len(toks))
	for _, t := range toks {
		c := *t
		c.Value = ""
		out = append(out, c)
	}
	return out, nil
}

func (m *Manager) partial(step, accountID string, err error) {
	obs.Log("warn", "auth.session.partial_failure", map[string]any{
		"step":       step,
		"account_id": accountID,
		"error":      err,
	})
}

// acquire takes the per-account lock, waiting at most the operation timeout.
func acquire(ctx context.Context, o options, accountID string) (func(), error) {
	return acquireKey(ctx, o, accountLockKey(accountID))
}

func acquireKey(ctx context.Context, o options, key string) (func(), error) {
	lctx, cancel := context.WithTimeout(ctx, o.opTimeout)
	defer cancel()
	return o.locker.Lock(lctx, key)
}

// revokeActive flags every active token of the account and persists them.
func revokeActive(ctx context.Context, o options, sessions SessionTokenStore, accountID string) (int, error) {
	active, err := withRetry(ctx, o, func(ctx context.Context) ([]*SessionToken, error) {
		return sessions.FindActiveByAccount(ctx, accountID)
	})
	if err != nil {
		return 0, err
	}
	if len(active) == 0 {
		return 0, nil
	}
	for _, t := range active {
		t.Supersede()
	}
	if err := boundedErr(ctx, o, func(ctx context.Context) error {
		return sessions.SaveAll(ctx, active)
	}); err != nil {
		return 0, err
	}
	return len(active), nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
