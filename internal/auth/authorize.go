package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"hrms.org/internal/obs"
)

// Gate authenticates bearer tokens and checks roles and permissions against
// the current persisted state. Nothing is cached between calls.
type Gate struct {
	tokens   *Tokens
	accounts AccountStore
	sessions SessionTokenStore
	roles    RoleStore
	opts     options
}

// NewGate constructs the authorization gate.
func NewGate(tokens *Tokens, accounts AccountStore, sessions SessionTokenStore, roles RoleStore, opts ...Option) (*Gate, error) {
	if tokens == nil {
		return nil, errors.New("auth: token verifier is required")
	}
	if accounts == nil || sessions == nil || roles == nil {
		return nil, errors.New("auth: account, session and role stores are required")
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Gate{tokens: tokens, accounts: accounts, sessions: sessions, roles: roles, opts: o}, nil
}

// Authenticate turns a raw bearer token into an Identity. The signature and
// expiry must check out and the session store must still hold the token as
// active.
func (g *Gate) Authenticate(ctx context.Context, raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, ErrUnauthenticated
	}
	id, err := g.tokens.Verify(raw)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return Identity{}, fmt.Errorf("%w: malformed token", ErrUnauthenticated)
		}
		return Identity{}, err
	}
	rec, err := withRetry(ctx, g.opts, func(ctx context.Context) (*SessionToken, error) {
		return g.sessions.FindByValue(ctx, raw)
	})
	if errors.Is(err, ErrNotFound) {
		return Identity{}, fmt.Errorf("%w: unknown session", ErrTokenRevoked)
	}
	if err != nil {
		return Identity{}, err
	}
	if rec.AccountID != id.AccountID || !rec.Active() {
		return Identity{}, ErrTokenRevoked
	}
	return id, nil
}

// Account returns the caller's current account record.
func (g *Gate) Account(ctx context.Context, id Identity) (*Account, error) {
	if strings.TrimSpace(id.AccountID) == "" {
		return nil, ErrUnauthenticated
	}
	acc, err := withRetry(ctx, g.opts, func(ctx context.Context) (*Account, error) {
		return g.accounts.FindByID(ctx, id.AccountID)
	})
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: account no longer exists", ErrUnauthenticated)
	}
	return acc, err
}

// roleOf resolves the caller's role. A missing role yields nil without error.
func (g *Gate) roleOf(ctx context.Context, id Identity) (*Role, error) {
	acc, err := g.Account(ctx, id)
	if err != nil {
		return nil, err
	}
	if acc.RoleID == "" {
		return nil, nil
	}
	role, err := withRetry(ctx, g.opts, func(ctx context.Context) (*Role, error) {
		return g.roles.FindRoleByID(ctx, acc.RoleID)
	})
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return role, err
}

// RequireRole fails with ErrForbidden unless the caller's role has the given
// name, compared case-insensitively.
func (g *Gate) RequireRole(ctx context.Context, id Identity, role string) error {
	r, err := g.roleOf(ctx, id)
	if err != nil {
		obs.RecordAuthz("role", "error")
		return err
	}
	if r == nil || !strings.EqualFold(r.Name, strings.TrimSpace(role)) {
		obs.RecordAuthz("role", "deny")
		return fmt.Errorf("%w: role %s required", ErrForbidden, NormalizeTag(role))
	}
	obs.RecordAuthz("role", "allow")
	return nil
}

// RequirePermission fails with ErrForbidden unless the caller's role carries
// the permission tag.
func (g *Gate) RequirePermission(ctx context.Context, id Identity, perm string) error {
	r, err := g.roleOf(ctx, id)
	if err != nil {
		obs.RecordAuthz("permission", "error")
		return err
	}
	if r == nil || !r.HasPermission(perm) {
		obs.RecordAuthz("permission", "deny")
		return fmt.Errorf("%w: permission %s required", ErrForbidden, NormalizeTag(perm))
	}
	obs.RecordAuthz("permission", "allow")
	return nil
}

// CreateRole stores a new role with an empty permission set. Only ADMIN may
// call it; anyone else gets ErrForbidden and nothing is written.
func (g *Gate) CreateRole(ctx context.Context, id Identity, in RoleInput) (*Role, error) {
	if err := g.RequireRole(ctx, id, RoleAdmin); err != nil {
		return nil, err
	}
	name := NormalizeTag(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	roleID := strings.TrimSpace(in.ID)
	if roleID != "" {
		// Held until the save so two creates for one id cannot both pass the
		// existence check.
		unlock, err := acquireKey(ctx, g.opts, "role:"+roleID)
		if err != nil {
			return nil, fmt.Errorf("auth: lock role: %w", err)
		}
		defer unlock()

		_, err = withRetry(ctx, g.opts, func(ctx context.Context) (*Role, error) {
			return g.roles.FindRoleByID(ctx, roleID)
		})
		switch {
		case err == nil:
			return nil, fmt.Errorf("%w: role %s already exists", ErrConflict, roleID)
		case !errors.Is(err, ErrNotFound):
			return nil, err
		}
	}
	return bounded(ctx, g.opts, func(ctx context.Context) (*Role, error) {
		return g.roles.Save(ctx, &Role{ID: roleID, Name: name, Permissions: []string{}})
	})
}

// AddPermission attaches an upper-cased permission tag to a role. Only ADMIN
// may call it. Adding a tag the role already has is a no-op.
func (g *Gate) AddPermission(ctx context.Context, id Identity, roleID, perm string) (*Role, error) {
	if err := g.RequireRole(ctx, id, RoleAdmin); err != nil {
		return nil, err
	}
	tag := NormalizeTag(perm)
	if tag == "" {
		return nil, fmt.Errorf("%w: permission is required", ErrInvalidInput)
	}
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return nil, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}

	unlock, err := acquireKey(ctx, g.opts, "role:"+roleID)
	if err != nil {
		return nil, fmt.Errorf("auth: lock role: %w", err)
	}
	defer unlock()

	role, err := withRetry(ctx, g.opts, func(ctx context.Context) (*Role, error) {
		return g.roles.FindRoleByID(ctx, roleID)
	})
	if err != nil {
		return nil, err
	}
	if role.HasPermission(tag) {
		return role, nil
	}
	role.Permissions = append(role.Permissions, tag)
	return bounded(ctx, g.opts, func(ctx context.Context) (*Role, error) {
		return g.roles.Save(ctx, role)
	})
}

// Role returns a role by id.
func (g *Gate) Role(ctx context.Context, roleID string) (*Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return nil, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return withRetry(ctx, g.opts, func(ctx context.Context) (*Role, error) {
		return g.roles.FindRoleByID(ctx, roleID)
	})
}
