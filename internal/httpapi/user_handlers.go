package httpapi

import (
	"net/http"

	"classdesk.org/internal/audit"
	"classdesk.org/internal/auth"
)

type createUserRequest struct {
	OrganizationID int64   `json:"organization_id"`
	RoleID         int64   `json:"role_id"`
	Email          string  `json:"email"`
	Phone          *string `json:"phone"`
	Active         *bool   `json:"active"`
}

type createUserResponse struct {
	Message string `json:"message"`
	UserID  int64  `json:"user_id"`
	Email   string `json:"email"`
}

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createUser(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

// createUser registers an account. The temporary password goes out by email only.
func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	created, err := a.auth.CreateUser(r.Context(), auth.NewUser{
		OrganizationID: req.OrganizationID,
		RoleID:         req.RoleID,
		Email:          req.Email,
		Phone:          req.Phone,
		Active:         active,
	})
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}

	_ = a.audit.LogEvent(r.Context(), audit.EventUserCreated, map[string]any{
		"new_user_id":     created.UserID,
		"email":           created.Email,
		"organization_id": req.OrganizationID,
		"role_id":         req.RoleID,
	})
	writeJSON(w, http.StatusCreated, createUserResponse{
		Message: "User created successfully. Welcome email sent with temporary password.",
		UserID:  created.UserID,
		Email:   created.Email,
	})
}
