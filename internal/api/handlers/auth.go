package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/A1anMc/GrantSGE/internal/apierr"
	"github.com/A1anMc/GrantSGE/internal/auth"
	"github.com/A1anMc/GrantSGE/internal/db"
	"github.com/A1anMc/GrantSGE/internal/logger"
)

// AccountService is the account surface the auth endpoints use.
// *auth.Service satisfies it.
type AccountService interface {
	Register(ctx context.Context, in auth.RegisterInput) (auth.Session, error)
	Login(ctx context.Context, email, password string) (auth.Session, error)
	Logout(ctx context.Context, claims *auth.Claims) error
	ChangePassword(ctx context.Context, userID int64, current, next string) error
	ListUsers(ctx context.Context) ([]db.User, error)
}

// User is the JSON shape of an account. The password hash never leaves the
// server.
type User struct {
	ID        int64      `json:"id"`
	Email     string     `json:"email"`
	FirstName *string    `json:"first_name"`
	LastName  *string    `json:"last_name"`
	Roles     []string   `json:"roles"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	LastLogin *time.Time `json:"last_login"`
}

// NewUser renders a stored account.
func NewUser(u db.User) User {
	out := User{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: nullString(u.FirstName.String, u.FirstName.Valid),
		LastName:  nullString(u.LastName.String, u.LastName.Valid),
		Roles:     append([]string{}, u.Roles...),
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
	}
	if u.LastLogin.Valid {
		out.LastLogin = &u.LastLogin.Time
	}
	return out
}

type sessionResponse struct {
	User      User      `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func newSessionResponse(s auth.Session) sessionResponse {
	out := sessionResponse{User: NewUser(s.User), Token: s.Token}
	if s.Claims != nil && s.Claims.ExpiresAt != nil {
		out.ExpiresAt = s.Claims.ExpiresAt.Time
	}
	return out
}

// AuthHandler serves account registration, login and session endpoints.
type AuthHandler struct {
	accounts AccountService
}

func NewAuthHandler(accounts AccountService) *AuthHandler {
	return &AuthHandler{accounts: accounts}
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if aerr := decode(r, &in); aerr != nil {
		apierr.WriteErrorWithContext(w, r, aerr)
		return
	}
	s, err := h.accounts.Register(r.Context(), in)
	switch {
	case errors.Is(err, auth.ErrEmailTaken):
		apierr.WriteErrorWithContext(w, r, apierr.ResourceConflict("Email already exists"))
		return
	case errors.Is(err, auth.ErrWeakPassword):
		apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue("password", auth.ErrWeakPassword.Error()))
		return
	case err != nil:
		logger.ErrorContext(r.Context(), "Registration failed", "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.SystemInternal("Registration failed"))
		return
	}
	respond(w, r, http.StatusCreated, newSessionResponse(s))
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if aerr := decode(r, &req); aerr != nil {
		apierr.WriteErrorWithContext(w, r, aerr)
		return
	}
	s, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		apierr.WriteErrorWithContext(w, r, apierr.AuthBadCredentials())
		return
	case errors.Is(err, auth.ErrAccountDisabled):
		apierr.WriteErrorWithContext(w, r, apierr.AuthAccountDisabled())
		return
	case err != nil:
		logger.ErrorContext(r.Context(), "Login failed", "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.SystemInternal("Login failed"))
		return
	}
	respond(w, r, http.StatusOK, newSessionResponse(s))
}

// Logout handles POST /api/auth/logout. The presented token is revoked until
// it would have expired.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		apierr.WriteErrorWithContext(w, r, apierr.AuthMissing(""))
		return
	}
	if err := h.accounts.Logout(r.Context(), claims); err != nil {
		logger.ErrorContext(r.Context(), "Logout failed", "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.SystemUnavailable("Logout failed"))
		return
	}
	respondMessage(w, r, http.StatusOK, nil, "Successfully logged out")
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		apierr.WriteErrorWithContext(w, r, apierr.AuthMissing(""))
		return
	}
	respond(w, r, http.StatusOK, NewUser(user))
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

// ChangePassword handles POST /api/auth/change-password.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		apierr.WriteErrorWithContext(w, r, apierr.AuthMissing(""))
		return
	}
	var req changePasswordRequest
	if aerr := decode(r, &req); aerr != nil {
		apierr.WriteErrorWithContext(w, r, aerr)
		return
	}
	err := h.accounts.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		apierr.WriteErrorWithContext(w, r, apierr.AuthInvalid("Current password is incorrect"))
		return
	case errors.Is(err, auth.ErrWeakPassword):
		apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue("new_password", auth.ErrWeakPassword.Error()))
		return
	case err != nil:
		logger.ErrorContext(r.Context(), "Password change failed", "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.SystemInternal(""))
		return
	}
	respondMessage(w, r, http.StatusOK, nil, "Password updated successfully")
}

// ListUsers handles GET /api/auth/users (admin role).
func (h *AuthHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	rows, err := h.accounts.ListUsers(r.Context())
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to list users", "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(""))
		return
	}
	out := make([]User, 0, len(rows))
	for _, u := range rows {
		out = append(out, NewUser(u))
	}
	respondList(w, r, out)
}
