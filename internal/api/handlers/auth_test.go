package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/A1anMc/GrantSGE/internal/auth"
	"github.com/A1anMc/GrantSGE/internal/db"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lib/pq"
)

type fakeAccounts struct {
	session   auth.Session
	users     []db.User
	err       error
	lastEmail string
	loggedOut *auth.Claims
	changed   [2]string
}

func (f *fakeAccounts) Register(ctx context.Context, in auth.RegisterInput) (auth.Session, error) {
	f.lastEmail = in.Email
	return f.session, f.err
}

func (f *fakeAccounts) Login(ctx context.Context, email, password string) (auth.Session, error) {
	f.lastEmail = email
	return f.session, f.err
}

func (f *fakeAccounts) Logout(ctx context.Context, claims *auth.Claims) error {
	f.loggedOut = claims
	return f.err
}

func (f *fakeAccounts) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	f.changed = [2]string{current, next}
	return f.err
}

func (f *fakeAccounts) ListUsers(ctx context.Context) ([]db.User, error) {
	return f.users, f.err
}

func testUser() db.User {
	return db.User{
		ID:           7,
		Email:        "ada@example.org",
		PasswordHash: "$2a$10$secret",
		FirstName:    db.NullString("Ada"),
		LastName:     db.NullString("Lovelace"),
		Roles:        pq.StringArray{"user"},
		IsActive:     true,
	}
}

func withSession(r *http.Request, u db.User) *http.Request {
	claims := &auth.Claims{UserID: u.ID, Roles: u.Roles, RegisteredClaims: jwt.RegisteredClaims{ID: "jti-1"}}
	return r.WithContext(auth.WithUser(r.Context(), u, claims))
}

func TestAuthHandler_Register(t *testing.T) {
	expires := time.Date(2025, 1, 1, 13, 0, 0, 0, time.UTC)
	accounts := &fakeAccounts{session: auth.Session{
		Token:  "signed.token.value",
		Claims: &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(expires)}},
		User:   testUser(),
	}}
	h := NewAuthHandler(accounts)

	rr := httptest.NewRecorder()
	h.Register(rr, request(http.MethodPost, "/api/auth/register", map[string]any{
		"email":      "ada@example.org",
		"password":   "correct horse",
		"first_name": "Ada",
		"last_name":  "Lovelace",
	}, nil))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(decodeBody(t, rr).Data, &out); err != nil {
		t.Fatal(err)
	}
	if out["token"] != "signed.token.value" {
		t.Errorf("token = %v", out["token"])
	}
	user := out["user"].(map[string]any)
	if _, leaked := user["password_hash"]; leaked {
		t.Error("password hash in response")
	}
	if user["email"] != "ada@example.org" {
		t.Errorf("user = %v", user)
	}
}

func TestAuthHandler_RegisterErrors(t *testing.T) {
	valid := map[string]any{"email": "ada@example.org", "password": "correct horse", "first_name": "Ada", "last_name": "L"}
	tests := []struct {
		name       string
		body       map[string]any
		err        error
		wantStatus int
		wantCode   string
	}{
		{"missing fields", map[string]any{"email": "ada@example.org"}, nil, http.StatusBadRequest, "VALIDATION_MISSING_FIELD"},
		{"bad email", map[string]any{"email": "nope", "password": "correct horse", "first_name": "A", "last_name": "L"}, nil, http.StatusBadRequest, "VALIDATION_INVALID_VALUE"},
		{"short password", map[string]any{"email": "a@b.org", "password": "short", "first_name": "A", "last_name": "L"}, nil, http.StatusBadRequest, "VALIDATION_INVALID_VALUE"},
		{"email taken", valid, auth.ErrEmailTaken, http.StatusConflict, "RESOURCE_CONFLICT"},
		{"store failure", valid, errors.New("db down"), http.StatusInternalServerError, "SYSTEM_INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			NewAuthHandler(&fakeAccounts{err: tt.err}).Register(rr, request(http.MethodPost, "/api/auth/register", tt.body, nil))
			expectError(t, rr, tt.wantStatus, tt.wantCode)
		})
	}
}

func TestAuthHandler_Login(t *testing.T) {
	tests := []struct {
		name       string
		body       map[string]any
		err        error
		wantStatus int
		wantCode   string
	}{
		{"ok", map[string]any{"email": "ada@example.org", "password": "pw"}, nil, http.StatusOK, ""},
		{"missing password", map[string]any{"email": "ada@example.org"}, nil, http.StatusBadRequest, "VALIDATION_MISSING_FIELD"},
		{"bad credentials", map[string]any{"email": "ada@example.org", "password": "pw"}, auth.ErrInvalidCredentials, http.StatusUnauthorized, "AUTH_BAD_CREDENTIALS"},
		{"disabled", map[string]any{"email": "ada@example.org", "password": "pw"}, auth.ErrAccountDisabled, http.StatusForbidden, "AUTH_ACCOUNT_DISABLED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accounts := &fakeAccounts{session: auth.Session{Token: "t", User: testUser()}, err: tt.err}
			rr := httptest.NewRecorder()
			NewAuthHandler(accounts).Login(rr, request(http.MethodPost, "/api/auth/login", tt.body, nil))
			if tt.wantCode != "" {
				expectError(t, rr, tt.wantStatus, tt.wantCode)
				return
			}
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d", rr.Code)
			}
		})
	}
}

func TestAuthHandler_SessionEndpoints(t *testing.T) {
	accounts := &fakeAccounts{}
	h := NewAuthHandler(accounts)

	rr := httptest.NewRecorder()
	h.Me(rr, request(http.MethodGet, "/api/auth/me", nil, nil))
	expectError(t, rr, http.StatusUnauthorized, "AUTH_MISSING")

	rr = httptest.NewRecorder()
	h.Me(rr, withSession(request(http.MethodGet, "/api/auth/me", nil, nil), testUser()))
	if rr.Code != http.StatusOK {
		t.Fatalf("me status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.Logout(rr, withSession(request(http.MethodPost, "/api/auth/logout", nil, nil), testUser()))
	if rr.Code != http.StatusOK || accounts.loggedOut == nil || accounts.loggedOut.ID != "jti-1" {
		t.Fatalf("logout status = %d claims = %+v", rr.Code, accounts.loggedOut)
	}

	rr = httptest.NewRecorder()
	h.ChangePassword(rr, withSession(request(http.MethodPost, "/api/auth/change-password", map[string]any{
		"current_password": "old password",
		"new_password":     "new password",
	}, nil), testUser()))
	if rr.Code != http.StatusOK || accounts.changed != [2]string{"old password", "new password"} {
		t.Fatalf("change status = %d changed = %v", rr.Code, accounts.changed)
	}

	accounts.err = auth.ErrInvalidCredentials
	rr = httptest.NewRecorder()
	h.ChangePassword(rr, withSession(request(http.MethodPost, "/api/auth/change-password", map[string]any{
		"current_password": "wrong",
		"new_password":     "new password",
	}, nil), testUser()))
	expectError(t, rr, http.StatusUnauthorized, "AUTH_INVALID")
}

func TestAuthHandler_ListUsers(t *testing.T) {
	h := NewAuthHandler(&fakeAccounts{users: []db.User{testUser(), {ID: 8, Email: "b@example.org"}}})
	rr := httptest.NewRecorder()
	h.ListUsers(rr, request(http.MethodGet, "/api/auth/users", nil, nil))
	env := decodeBody(t, rr)
	if env.Count == nil || *env.Count != 2 {
		t.Fatalf("count = %v", env.Count)
	}
	var users []User
	if err := json.Unmarshal(env.Data, &users); err != nil {
		t.Fatal(err)
	}
	if users[1].Roles == nil {
		t.Error("roles should render as an empty list")
	}
}
