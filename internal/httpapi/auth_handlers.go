package httpapi

import (
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"hrms.org/internal/audit"
	"hrms.org/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r loginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

type loginResponse struct {
	Token     string       `json:"token"`
	TokenType string       `json:"token_type"`
	IssuedAt  time.Time    `json:"issued_at"`
	ExpiresAt time.Time    `json:"expires_at"`
	Account   auth.Account `json:"account"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (r changePasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentPassword, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(8, 128)),
	)
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (r forgotPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

type resetConfirmationRequest struct {
	Password string `json:"password"`
}

func (r resetConfirmationRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Password, validation.Required, validation.Length(8, 128)),
	)
}

type sessionView struct {
	ID        string    `json:"id"`
	Active    bool      `json:"active"`
	Expired   bool      `json:"expired"`
	Revoked   bool      `json:"revoked"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Current   bool      `json:"current"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.svc.Sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		kind := auth.KindOf(err)
		if kind == auth.KindNotFound || kind == auth.KindInvalidCredentials {
			_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{
				"email": auth.NormalizeEmail(req.Email),
			})
			// Unknown email and wrong password look the same to the caller.
			handleAuthError(w, r, auth.ErrInvalidCredentials)
			return
		}
		handleAuthError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.login.succeeded", map[string]any{
		"account_id": res.Account.ID,
		"expires_at": res.ExpiresAt.Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     res.Token,
		TokenType: "Bearer",
		IssuedAt:  res.IssuedAt,
		ExpiresAt: res.ExpiresAt,
		Account:   res.Account,
	})
}

// handleLogout always answers 204 unless the stores fail; unknown, foreign
// or already ended tokens are ignored.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	raw, _ := auth.BearerToken(r.Header.Get(authHeader))
	if err := a.svc.Sessions.Logout(r.Context(), raw); err != nil {
		handleAuthError(w, r, err)
		return
	}
	if raw != "" {
		_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	acc, err := a.svc.Gate.Account(r.Context(), id)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account":          acc,
		"token_id":         id.TokenID,
		"token_expires_at": id.ExpiresAt,
	})
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	toks, err := a.svc.Sessions.Sessions(r.Context(), id)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	items := make([]sessionView, 0, len(toks))
	for _, t := range toks {
		items = append(items, sessionView{
			ID:        t.ID,
			Active:    t.Active(),
			Expired:   t.Expired,
			Revoked:   t.Revoked,
			IssuedAt:  t.IssuedAt,
			ExpiresAt: t.ExpiresAt,
			Current:   t.ID == id.TokenID,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id, _ := auth.IdentityFromContext(r.Context())
	if err := a.svc.Sessions.Credentials().ChangePassword(r.Context(), id, req.CurrentPassword, req.NewPassword); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password.changed", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ack, err := a.svc.Resets.Request(r.Context(), req.Email)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password_reset.requested", map[string]any{
		"email": auth.NormalizeEmail(req.Email),
	})
	writeJSON(w, http.StatusOK, map[string]any{"message": ack})
}

func (a *API) handleResetConfirmation(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("resetToken"))
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	var req resetConfirmationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.Resets.Complete(r.Context(), token, req.Password); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password_reset.completed", nil)
	writeJSON(w, http.StatusOK, map[string]any{"message": "Password has been reset"})
}
