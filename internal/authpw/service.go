// Package authpw provides username/password accounts: sign-up, sign-in,
// account changes and password reset.
package authpw

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"planner/api/internal/auth"
	"planner/api/internal/store"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrEmailTaken         = errors.New("email already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")
	ErrUserNotFound       = errors.New("user not found")
)

const (
	minPasswordLength = 8
	resetTokenTTL     = time.Hour
)

// Service provides username/password authentication
type Service struct {
	store UserStore
}

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByID(ctx context.Context, userID int64) (store.User, error)
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) (store.User, error)
	UpdateUser(ctx context.Context, userID int64, patch store.UserPatch) (store.User, error)
	CreatePasswordReset(ctx context.Context, tokenHash string, userID int64, expiresAt time.Time) error
	ConsumePasswordReset(ctx context.Context, tokenHash string) (int64, error)
}

func NewService(store UserStore) *Service {
	return &Service{store: store}
}

type SignUpRequest struct {
	Name     string
	Email    string
	Username string
	Password string
}

// SignUp creates a new account. Username is checked before email.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	if req.Name == "" || req.Username == "" {
		return store.User{}, fmt.Errorf("%w: name and username are required", ErrInvalidInput)
	}
	if err := validateEmail(req.Email); err != nil {
		return store.User{}, err
	}
	if err := validatePassword(req.Password); err != nil {
		return store.User{}, err
	}

	if err := s.ensureUnique(ctx, 0, req.Username, req.Email); err != nil {
		return store.User{}, err
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return store.User{}, err
	}
	user, err := s.store.CreateUser(ctx, store.User{
		Name:         req.Name,
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: hash,
	})
	if errors.Is(err, store.ErrDuplicate) {
		// Lost a race with a concurrent sign-up; report which key collided.
		if err := s.ensureUnique(ctx, 0, req.Username, req.Email); err != nil {
			return store.User{}, err
		}
		return store.User{}, ErrUsernameTaken
	}
	if err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignIn authenticates by username. Unknown users and bad passwords fail
// identically.
func (s *Service) SignIn(ctx context.Context, username, password string) (store.User, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// ChangeAccountDetail updates one allow-listed account field. Passwords are
// re-hashed and username/email uniqueness is re-checked.
func (s *Service) ChangeAccountDetail(ctx context.Context, userID int64, field, value string) (store.User, error) {
	var patch store.UserPatch
	switch field {
	case "name":
		value = strings.TrimSpace(value)
		if value == "" {
			return store.User{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
		}
		patch.Name = &value
	case "username":
		value = strings.TrimSpace(value)
		if value == "" {
			return store.User{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
		}
		if err := s.ensureUnique(ctx, userID, value, ""); err != nil {
			return store.User{}, err
		}
		patch.Username = &value
	case "email":
		value = strings.TrimSpace(value)
		if err := validateEmail(value); err != nil {
			return store.User{}, err
		}
		if err := s.ensureUnique(ctx, userID, "", value); err != nil {
			return store.User{}, err
		}
		patch.Email = &value
	case "password":
		if err := validatePassword(value); err != nil {
			return store.User{}, err
		}
		hash, err := hashPassword(value)
		if err != nil {
			return store.User{}, err
		}
		patch.PasswordHash = &hash
	default:
		return store.User{}, fmt.Errorf("%w: field %q cannot be changed", ErrInvalidInput, field)
	}

	user, err := s.store.UpdateUser(ctx, userID, patch)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, ErrUserNotFound
	}
	if errors.Is(err, store.ErrDuplicate) {
		if field == "email" {
			return store.User{}, ErrEmailTaken
		}
		return store.User{}, ErrUsernameTaken
	}
	if err != nil {
		return store.User{}, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

// RequestPasswordReset issues a single-use reset token. An unknown email
// returns an empty token and no error so callers cannot probe accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, store.User, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.User{}, nil
	}
	if err != nil {
		return "", store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	token, err := generateToken()
	if err != nil {
		return "", store.User{}, fmt.Errorf("generate reset token: %w", err)
	}
	if err := s.store.CreatePasswordReset(ctx, auth.HashToken(token), user.ID, time.Now().Add(resetTokenTTL)); err != nil {
		return "", store.User{}, err
	}
	return token, user, nil
}

type ResetPasswordRequest struct {
	Token       string
	NewPassword string
}

// ResetPassword consumes a reset token and sets the new password.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if req.Token == "" {
		return ErrInvalidResetToken
	}
	if err := validatePassword(req.NewPassword); err != nil {
		return err
	}

	userID, err := s.store.ConsumePasswordReset(ctx, auth.HashToken(req.Token))
	if errors.Is(err, sql.ErrNoRows) {
		return ErrInvalidResetToken
	}
	if err != nil {
		return err
	}

	hash, err := hashPassword(req.NewPassword)
	if err != nil {
		return err
	}
	if _, err := s.store.UpdateUser(ctx, userID, store.UserPatch{PasswordHash: &hash}); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// ensureUnique rejects a username or email held by a user other than self.
// Empty values are skipped.
func (s *Service) ensureUnique(ctx context.Context, self int64, username, email string) error {
	if username != "" {
		existing, err := s.store.GetUserByUsername(ctx, username)
		if err == nil && existing.ID != self {
			return ErrUsernameTaken
		}
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("lookup username: %w", err)
		}
	}
	if email != "" {
		existing, err := s.store.GetUserByEmail(ctx, email)
		if err == nil && existing.ID != self {
			return ErrEmailTaken
		}
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("lookup email: %w", err)
		}
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("%w: email is malformed", ErrInvalidInput)
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	return nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// generateToken creates a secure random token
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
