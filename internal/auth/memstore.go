package auth

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"hrms.org/internal/ids"
)

// MemoryStore keeps accounts, roles, session tokens and reset requests in
// process memory. It backs tests and single-node development runs. Values are
// copied on the way in and out so callers never share state with the store.
type MemoryStore struct {
	mu sync.RWMutex

	accounts map[string]*Account
	byEmail  map[string]string
	roles    map[string]*Role
	tokens   map[string]*SessionToken // keyed by token value
	resets   map[string]*PasswordResetRequest
	now      Clock
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		byEmail:  make(map[string]string),
		roles:    make(map[string]*Role),
		tokens:   make(map[string]*SessionToken),
		resets:   make(map[string]*PasswordResetRequest),
		now:      time.Now,
	}
}

// Accounts exposes the account half of the store.
func (m *MemoryStore) Accounts() AccountStore { return memAccounts{m} }

// Sessions exposes the session token half of the store.
func (m *MemoryStore) Sessions() SessionTokenStore { return memSessions{m} }

// Roles exposes the role half of the store.
func (m *MemoryStore) Roles() RoleStore { return memRoles{m} }

// Resets exposes the password reset half of the store.
func (m *MemoryStore) Resets() ResetRequestStore { return memResets{m} }

type (
	memAccounts struct{ m *MemoryStore }
	memSessions struct{ m *MemoryStore }
	memRoles    struct{ m *MemoryStore }
	memResets   struct{ m *MemoryStore }
)

var (
	_ AccountStore      = memAccounts{}
	_ SessionTokenStore = memSessions{}
	_ SessionRotator    = memSessions{}
	_ RoleStore         = memRoles{}
	_ ResetRequestStore = memResets{}
)

func cloneAccount(a *Account) *Account {
	c := *a
	return &c
}

func cloneRole(r *Role) *Role {
	c := *r
	c.Permissions = slices.Clone(r.Permissions)
	return &c
}

func cloneToken(t *SessionToken) *SessionToken {
	c := *t
	return &c
}

func cloneReset(r *PasswordResetRequest) *PasswordResetRequest {
	c := *r
	if r.ConsumedAt != nil {
		at := *r.ConsumedAt
		c.ConsumedAt = &at
	}
	return &c
}

// Accounts ------------------------------------------------------------------

func (s memAccounts) FindByEmail(ctx context.Context, email string) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	id, ok := s.m.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAccount(s.m.accounts[id]), nil
}

func (s memAccounts) FindByID(ctx context.Context, id string) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	acc, ok := s.m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAccount(acc), nil
}

func (s memAccounts) Save(ctx context.Context, acc *Account) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	email := NormalizeEmail(acc.Email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	now := s.m.now().UTC()
	c := cloneAccount(acc)
	c.Email = email
	if c.ID == "" {
		c.ID = ids.NewAt(now)
	}
	if owner, ok := s.m.byEmail[email]; ok && owner != c.ID {
		return nil, fmt.Errorf("%w: email already registered", ErrConflict)
	}
	if prev, ok := s.m.accounts[c.ID]; ok {
		c.CreatedAt = prev.CreatedAt
		if prev.Email != email {
			delete(s.m.byEmail, prev.Email)
		}
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	s.m.accounts[c.ID] = c
	s.m.byEmail[email] = c.ID
	return cloneAccount(c), nil
}

// Session tokens ------------------------------------------------------------

func (s memSessions) Save(ctx context.Context, tok *SessionToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.m.putToken(tok)
}

// putToken enforces the single active token rule the way the partial unique
// index does in Postgres. Callers hold mu.
func (m *MemoryStore) putToken(tok *SessionToken) error {
	if tok.Value == "" || tok.AccountID == "" {
		return fmt.Errorf("%w: token value and account are required", ErrInvalidInput)
	}
	if tok.Active() {
		for v, other := range m.tokens {
			if v != tok.Value && other.AccountID == tok.AccountID && other.Active() {
				return fmt.Errorf("%w: account already has an active session", ErrConflict)
			}
		}
	}
	c := cloneToken(tok)
	if c.ID == "" {
		c.ID = ids.New()
	}
	m.tokens[c.Value] = c
	return nil
}

func (s memSessions) FindByValue(ctx context.Context, value string) (*SessionToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	tok, ok := s.m.tokens[value]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneToken(tok), nil
}

func (s memSessions) FindActiveByAccount(ctx context.Context, accountID string) ([]*SessionToken, error) {
	all, err := s.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, t := range all {
		if t.Active() {
			active = append(active, t)
		}
	}
	return active, nil
}

func (s memSessions) SaveAll(ctx context.Context, toks []*SessionToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	// Inactive first so a batch that supersedes and replaces passes the check.
	ordered := slices.Clone(toks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return !ordered[i].Active() && ordered[j].Active()
	})
	for _, t := range ordered {
		if err := s.m.putToken(t); err != nil {
			return err
		}
	}
	return nil
}

func (s memSessions) ListByAccount(ctx context.Context, accountID string) ([]*SessionToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var out []*SessionToken
	for _, t := range s.m.tokens {
		if t.AccountID == accountID {
			out = append(out, cloneToken(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].IssuedAt.Before(out[j].IssuedAt)
	})
	return out, nil
}

// Rotate supersedes every active token of the account and stores next in one
// critical section.
func (s memSessions) Rotate(ctx context.Context, accountID string, next *SessionToken) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if next == nil || next.AccountID != accountID {
		return 0, fmt.Errorf("%w: token does not belong to account", ErrInvalidInput)
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	n := 0
	for _, t := range s.m.tokens {
		if t.AccountID == accountID && t.Active() {
			t.Supersede()
			n++
		}
	}
	if err := s.m.putToken(next); err != nil {
		return n, err
	}
	return n, nil
}

// Roles ---------------------------------------------------------------------

func (s memRoles) FindRoleByID(ctx context.Context, id string) (*Role, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	role, ok := s.m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRole(role), nil
}

func (s memRoles) Save(ctx context.Context, role *Role) (*Role, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := NormalizeTag(role.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	now := s.m.now().UTC()
	c := cloneRole(role)
	c.Name = name
	if c.ID == "" {
		c.ID = ids.NewAt(now)
	}
	for id, other := range s.m.roles {
		if id != c.ID && other.Name == name {
			return nil, fmt.Errorf("%w: role %s already exists", ErrConflict, name)
		}
	}
	if prev, ok := s.m.roles[c.ID]; ok {
		c.CreatedAt = prev.CreatedAt
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.m.roles[c.ID] = c
	return cloneRole(c), nil
}

// Password resets -----------------------------------------------------------

func (s memResets) Save(ctx context.Context, req *PasswordResetRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if req.Token == "" {
		return fmt.Errorf("%w: reset token is required", ErrInvalidInput)
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.resets[req.Token]; ok {
		return fmt.Errorf("%w: reset token already exists", ErrConflict)
	}
	s.m.resets[req.Token] = cloneReset(req)
	return nil
}

func (s memResets) FindByToken(ctx context.Context, token string) (*PasswordResetRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	req, ok := s.m.resets[token]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneReset(req), nil
}

func (s memResets) Consume(ctx context.Context, token string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	req, ok := s.m.resets[token]
	if !ok || !req.Usable(at) {
		return ErrInvalidOrExpiredToken
	}
	at = at.UTC()
	req.ConsumedAt = &at
	return nil
}
