package auth

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"hrms.org/internal/lock"
)

const testSecret = "test-secret-test-secret-test-secret!"

func init() {
	passwordCost = bcrypt.MinCost
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentMail struct {
	to, subject, body string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, to, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func (n *recordingNotifier) last() sentMail {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return sentMail{}
	}
	return n.sent[len(n.sent)-1]
}

type fixture struct {
	store  *MemoryStore
	clock  *fakeClock
	tokens *Tokens
	mgr    *Manager
	gate   *Gate
	mail   *recordingNotifier
	reset  *ResetCoordinator
}

func newFixture(t *testing.T, extra ...Option) *fixture {
	t.Helper()
	return newFixtureWithSessions(t, nil, extra...)
}

// newFixtureWithSessions lets a test swap the session store view, e.g. to
// hide the rotator.
func newFixtureWithSessions(t *testing.T, wrap func(SessionTokenStore) SessionTokenStore, extra ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store: NewMemoryStore(),
		clock: newFakeClock(),
		mail:  &recordingNotifier{},
	}
	opts := append([]Option{
		WithClock(f.clock.Now),
		WithLocker(lock.NewLocal()),
		WithReadRetries(1, 0),
		WithResetURL("https://hr.example.com/reset-password"),
	}, extra...)

	sessions := f.store.Sessions()
	if wrap != nil {
		sessions = wrap(sessions)
	}
	var err error
	f.tokens, err = NewTokens(testSecret, opts...)
	require.NoError(t, err)
	f.mgr, err = NewManager(f.store.Accounts(), sessions, f.tokens, opts...)
	require.NoError(t, err)
	f.gate, err = NewGate(f.tokens, f.store.Accounts(), sessions, f.store.Roles(), opts...)
	require.NoError(t, err)
	f.reset, err = NewResetCoordinator(f.store.Resets(), f.store.Accounts(), sessions, f.mail, opts...)
	require.NoError(t, err)
	return f
}

func (f *fixture) addRole(t *testing.T, name string, perms ...string) *Role {
	t.Helper()
	tags := make([]string, 0, len(perms))
	for _, p := range perms {
		tags = append(tags, NormalizeTag(p))
	}
	role, err := f.store.Roles().Save(context.Background(), &Role{Name: name, Permissions: tags})
	require.NoError(t, err)
	return role
}

func (f *fixture) addAccount(t *testing.T, email, password, roleID string) *Account {
	t.Helper()
	hash, err := HashPassword(password)
	require.NoError(t, err)
	acc, err := f.store.Accounts().Save(context.Background(), &Account{
		Email:        email,
		PasswordHash: hash,
		RoleID:       roleID,
	})
	require.NoError(t, err)
	return acc
}

func (f *fixture) login(t *testing.T, email, password string) (LoginResult, Identity) {
	t.Helper()
	res, err := f.mgr.Login(context.Background(), email, password)
	require.NoError(t, err)
	id, err := f.gate.Authenticate(context.Background(), res.Token)
	require.NoError(t, err)
	return res, id
}

func (f *fixture) account(t *testing.T, id string) *Account {
	t.Helper()
	acc, err := f.store.Accounts().FindByID(context.Background(), id)
	require.NoError(t, err)
	return acc
}

func (f *fixture) activeTokens(t *testing.T, accountID string) []*SessionToken {
	t.Helper()
	toks, err := f.store.Sessions().FindActiveByAccount(context.Background(), accountID)
	require.NoError(t, err)
	return toks
}

// plainSessions hides the SessionRotator implementation of the wrapped store.
type plainSessions struct {
	SessionTokenStore
}

// flakySessions fails the first n FindByValue calls with ErrUnavailable.
type flakySessions struct {
	SessionTokenStore
	mu    sync.Mutex
	fails int
	calls int
}

func (s *flakySessions) FindByValue(ctx context.Context, value string) (*SessionToken, error) {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.fails
	s.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("%w: connection refused", ErrUnavailable)
	}
	return s.SessionTokenStore.FindByValue(ctx, value)
}

// hookedAccounts runs afterFindByEmail once, right after the first
// FindByEmail lookup returns.
type hookedAccounts struct {
	AccountStore
	mu               sync.Mutex
	afterFindByEmail func()
}

func (s *hookedAccounts) FindByEmail(ctx context.Context, email string) (*Account, error) {
	acc, err := s.AccountStore.FindByEmail(ctx, email)
	s.mu.Lock()
	hook := s.afterFindByEmail
	s.afterFindByEmail = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return acc, err
}

// slowRoles delays FindRoleByID for the given role id.
type slowRoles struct {
	RoleStore
	id    string
	delay time.Duration
}

func (s *slowRoles) FindRoleByID(ctx context.Context, id string) (*Role, error) {
	role, err := s.RoleStore.FindRoleByID(ctx, id)
	if id == s.id {
		time.Sleep(s.delay)
	}
	return role, err
}
