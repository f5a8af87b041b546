package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/A1anMc/GrantSGE/internal/db"
	"github.com/A1anMc/GrantSGE/internal/logger"
	"github.com/A1anMc/GrantSGE/internal/metrics"
	"github.com/lib/pq"
)

// UserStore is the persistence surface for accounts. *db.Queries satisfies it.
type UserStore interface {
	CreateUser(ctx context.Context, arg db.CreateUserParams) (db.User, error)
	GetUserByID(ctx context.Context, id int64) (db.User, error)
	GetUserByEmail(ctx context.Context, email string) (db.User, error)
	ListUsers(ctx context.Context) ([]db.User, error)
	UpdateUserPassword(ctx context.Context, arg db.UpdateUserPasswordParams) error
	TouchUserLastLogin(ctx context.Context, id int64) error
}

// Service implements account registration, login and password changes.
type Service struct {
	users  UserStore
	tokens *TokenManager
}

func NewService(users UserStore, tokens *TokenManager) *Service {
	return &Service{users: users, tokens: tokens}
}

func (s *Service) Tokens() *TokenManager { return s.tokens }

// RegisterInput is the payload of a registration request.
type RegisterInput struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
}

// Session is a signed token and the account it belongs to.
type Session struct {
	Token  string
	Claims *Claims
	User   db.User
}

// Register creates a user with the default role and signs them in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Session, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return Session{}, fmt.Errorf("invalid email: %w", err)
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return Session{}, err
	}
	user, err := s.users.CreateUser(ctx, db.CreateUserParams{
		Email:        email,
		PasswordHash: hash,
		FirstName:    db.NullString(strings.TrimSpace(in.FirstName)),
		LastName:     db.NullString(strings.TrimSpace(in.LastName)),
		Roles:        pq.StringArray{"user"},
	})
	if db.IsUniqueViolation(err) {
		metrics.AuthEvents.WithLabelValues("register", "conflict").Inc()
		return Session{}, ErrEmailTaken
	}
	if err != nil {
		metrics.AuthEvents.WithLabelValues("register", "error").Inc()
		return Session{}, fmt.Errorf("create user: %w", err)
	}
	metrics.AuthEvents.WithLabelValues("register", "success").Inc()
	return s.session(user)
}

// Login verifies credentials and returns a fresh session.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.users.GetUserByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, db.ErrNotFound) {
		// Compare against a fixed hash so unknown emails cost the same as bad passwords.
		CheckPassword(dummyHash, password)
		metrics.AuthEvents.WithLabelValues("login", "bad_credentials").Inc()
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, fmt.Errorf("load user: %w", err)
	}
	if !CheckPassword(user.PasswordHash, password) {
		metrics.AuthEvents.WithLabelValues("login", "bad_credentials").Inc()
		return Session{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		metrics.AuthEvents.WithLabelValues("login", "disabled").Inc()
		return Session{}, ErrAccountDisabled
	}
	if err := s.users.TouchUserLastLogin(ctx, user.ID); err != nil {
		logger.WithRequestID(ctx).Warn("failed to record last login", "user_id", user.ID, "error", err)
	}
	metrics.AuthEvents.WithLabelValues("login", "success").Inc()
	return s.session(user)
}

// Logout revokes the token described by claims.
func (s *Service) Logout(ctx context.Context, claims *Claims) error {
	if err := s.tokens.Revoke(ctx, claims); err != nil {
		metrics.AuthEvents.WithLabelValues("logout", "error").Inc()
		return err
	}
	metrics.AuthEvents.WithLabelValues("logout", "success").Inc()
	return nil
}

// ChangePassword replaces the password of userID after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if !CheckPassword(user.PasswordHash, current) {
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.users.UpdateUserPassword(ctx, db.UpdateUserPasswordParams{ID: userID, PasswordHash: hash}); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	metrics.AuthEvents.WithLabelValues("change_password", "success").Inc()
	return nil
}

// ListUsers returns every account.
func (s *Service) ListUsers(ctx context.Context) ([]db.User, error) {
	return s.users.ListUsers(ctx)
}

func (s *Service) session(user db.User) (Session, error) {
	token, claims, err := s.tokens.Issue(user)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, Claims: claims, User: user}, nil
}

// bcrypt hash of a random string, used to equalise login timing.
const dummyHash = "$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z3s3ZbXGRpUfGSf3b2sJZ1eS"
