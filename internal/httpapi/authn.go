package httpapi

import (
	"context"
	"net/http"

	"hrms.org/internal/audit"
	"hrms.org/internal/auth"
)

const (
	authHeader          = "Authorization"
	permissionViewRoles = "VIEW_ROLES"
)

// authenticate validates the bearer token against the gate and stores the
// resulting identity in the request context.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := auth.BearerToken(r.Header.Get(authHeader))
		if !ok {
			handleAuthError(w, r, auth.ErrUnauthenticated)
			return
		}
		id, err := a.svc.Gate.Authenticate(r.Context(), raw)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), id)))
	})
}

func (a *API) requireRole(role string) func(http.Handler) http.Handler {
	return a.guard("role", role, a.svc.Gate.RequireRole)
}

func (a *API) requirePermission(perm string) func(http.Handler) http.Handler {
	return a.guard("permission", perm, a.svc.Gate.RequirePermission)
}

type checkFunc func(ctx context.Context, id auth.Identity, want string) error

func (a *API) guard(kind, want string, check checkFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				handleAuthError(w, r, auth.ErrUnauthenticated)
				return
			}
			if err := check(r.Context(), id, want); err != nil {
				if auth.KindOf(err) == auth.KindForbidden {
					_ = audit.LogEvent(r.Context(), "authz.denied", map[string]any{
						"check":  kind,
						"wanted": want,
						"path":   r.URL.Path,
					})
				}
				handleAuthError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
