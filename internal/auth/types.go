package auth

import (
	"slices"
	"strings"
	"time"
)

// RoleAdmin is the role allowed to mutate roles and permissions.
const RoleAdmin = "ADMIN"

// Account is the identity record a staff member logs in with.
type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	RoleID       string    `json:"role_id,omitempty"`
	LoggedIn     bool      `json:"logged_in"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Role is a named set of permissions shared by many accounts.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasPermission reports whether the role carries the permission tag.
func (r *Role) HasPermission(perm string) bool {
	return slices.Contains(r.Permissions, NormalizeTag(perm))
}

// SessionToken is one issued credential. Tokens are flagged, never deleted.
type SessionToken struct {
	ID        string    `json:"id"`
	Value     string    `json:"-"`
	AccountID string    `json:"account_id"`
	Expired   bool      `json:"expired"`
	Revoked   bool      `json:"revoked"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Active reports whether the token may still be used for authorization.
func (t *SessionToken) Active() bool {
	return !t.Expired && !t.Revoked
}

// Supersede marks the token permanently unusable.
func (t *SessionToken) Supersede() {
	t.Expired = true
	t.Revoked = true
}

// PasswordResetRequest is a time boxed, single-use reset token on file.
type PasswordResetRequest struct {
	Email      string
	Token      string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	ConsumedAt *time.Time
}

// Usable reports whether the request can still complete a reset at now.
func (r *PasswordResetRequest) Usable(now time.Time) bool {
	return r.ConsumedAt == nil && !r.ExpiresAt.Before(now)
}

// Identity is the verified claim set carried by a session token.
type Identity struct {
	AccountID string
	Email     string
	TokenID   string
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Account   Account
}

// RoleInput describes a role to create.
type RoleInput struct {
	ID   string
	Name string
}

// NormalizeEmail canonicalizes an email for lookups.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

// NormalizeTag canonicalizes role names and permission tags.
func NormalizeTag(tag string) string {
	return strings.TrimSpace(strings.ToUpper(tag))
}
