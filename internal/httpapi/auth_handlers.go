package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"classdesk.org/internal/audit"
	"classdesk.org/internal/auth"
	"classdesk.org/internal/obs"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresInSeconds int64  `json:"expires_in_seconds"`
	UserID           int64  `json:"user_id"`
	Email            string `json:"email"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type emailMessage struct {
	Message string `json:"message"`
	Email   string `json:"email"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	res, err := a.auth.Login(r.Context(), email, req.Password)
	if err != nil {
		outcome := "error"
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			outcome = "invalid_credentials"
		case errors.Is(err, auth.ErrAccountInactive):
			outcome = "inactive"
		}
		obs.ObserveLogin(outcome)
		_ = a.audit.LogEvent(r.Context(), audit.EventLoginFailed, map[string]any{
			"email":  email,
			"reason": outcome,
		})
		a.handleAuthError(w, r, err)
		return
	}

	obs.ObserveLogin("success")
	_ = a.audit.LogEvent(r.Context(), audit.EventLoginSucceeded, map[string]any{
		"email":   res.Email,
		"user_id": res.UserID,
	})
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:      res.AccessToken,
		TokenType:        res.TokenType,
		ExpiresInSeconds: expiresInSeconds(res.ExpiresIn),
		UserID:           res.UserID,
		Email:            res.Email,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.tokens.RevocationEnabled() {
		writeError(w, r, http.StatusNotImplemented, "token revocation is not enabled")
		return
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, reasonInvalidToken)
		return
	}
	if err := a.tokens.Revoke(claims); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	_ = a.audit.LogEvent(r.Context(), audit.EventLogout, nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Logged out",
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, reasonInvalidToken)
		return
	}
	writeJSON(w, http.StatusOK, id)
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	email := strings.TrimSpace(r.PathValue("email"))
	if email == "" {
		writeError(w, r, http.StatusNotFound, "User not found")
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}

	if err := a.auth.ChangePassword(r.Context(), email, req.OldPassword, req.NewPassword); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, r, http.StatusUnauthorized, "Old password is incorrect")
			return
		}
		a.handleAuthError(w, r, err)
		return
	}

	_ = a.audit.LogEvent(r.Context(), audit.EventPasswordChanged, map[string]any{
		"email": email,
	})
	writeJSON(w, http.StatusOK, emailMessage{
		Message: "Password changed successfully",
		Email:   email,
	})
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req forgotPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		writeError(w, r, http.StatusBadRequest, "email is required")
		return
	}

	res, err := a.auth.ForgotPassword(r.Context(), email)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "User with this email address not found")
			return
		}
		a.handleAuthError(w, r, err)
		return
	}

	_ = a.audit.LogEvent(r.Context(), audit.EventPasswordReset, map[string]any{
		"email": res.Email,
	})
	writeJSON(w, http.StatusOK, emailMessage{
		Message: "Temporary password sent to your email",
		Email:   res.Email,
	})
}
