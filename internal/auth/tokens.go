package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"hrms.org/internal/ids"
)

// minSecretLen is the shortest HS256 key accepted.
const minSecretLen = 32

// Claims represents JWT claims carried by a session token.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies signed session tokens.
type Tokens struct {
	secret []byte
	opts   options
}

// NewTokens builds an HS256 issuer/verifier around secret.
func NewTokens(secret string, opts ...Option) (*Tokens, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("auth: token secret must be at least %d bytes", minSecretLen)
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Tokens{secret: []byte(secret), opts: o}, nil
}

// TTL reports the configured token lifetime.
func (t *Tokens) TTL() time.Duration {
	return t.opts.tokenTTL
}

// Issue signs a fresh token for acc. The returned record has both flags
// cleared and is not persisted.
func (t *Tokens) Issue(acc *Account) (*SessionToken, Identity, error) {
	if acc == nil || strings.TrimSpace(acc.ID) == "" {
		return nil, Identity{}, fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	// JWT timestamps have second precision.
	now := t.opts.now().UTC().Truncate(time.Second)
	exp := now.Add(t.opts.tokenTTL)
	claims := Claims{
		Email: acc.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.opts.issuer,
			Subject:   acc.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return nil, Identity{}, fmt.Errorf("sign token: %w", err)
	}
	rec := &SessionToken{
		ID:        ids.NewAt(now),
		Value:     signed,
		AccountID: acc.ID,
		IssuedAt:  now,
		ExpiresAt: exp,
	}
	return rec, identityFrom(&claims, signed), nil
}

// Verify checks signature, method, issuer and expiry against the injected
// clock. It fails with ErrTokenExpired for an expired token and
// ErrTokenInvalid for anything else; malformed input additionally matches
// jwt.ErrTokenMalformed.
func (t *Tokens) Verify(raw string) (Identity, error) {
	return t.parse(raw,
		jwt.WithIssuer(t.opts.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(t.opts.now),
	)
}

// VerifySignature checks only signature, method and issuer. Logout uses it
// so that an expired token can still end its session.
func (t *Tokens) VerifySignature(raw string) (Identity, error) {
	return t.parse(raw, jwt.WithoutClaimsValidation())
}

func (t *Tokens) parse(raw string, extra ...jwt.ParserOption) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, fmt.Errorf("%w: %w", ErrTokenInvalid, jwt.ErrTokenMalformed)
	}
	popts := append([]jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}, extra...)
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, popts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Identity{}, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenMalformed):
			return Identity{}, fmt.Errorf("%w: %w", ErrTokenInvalid, jwt.ErrTokenMalformed)
		default:
			return Identity{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
		}
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Identity{}, ErrTokenInvalid
	}
	if err := t.checkClaims(claims); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return identityFrom(claims, raw), nil
}

func (t *Tokens) checkClaims(claims *Claims) error {
	if claims.Issuer != t.opts.issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}

func identityFrom(claims *Claims, raw string) Identity {
	id := Identity{
		AccountID: claims.Subject,
		Email:     claims.Email,
		TokenID:   claims.ID,
		Token:     raw,
	}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return id
}
