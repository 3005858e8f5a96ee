// Package authpw provides email/password authentication for operator accounts.
package authpw

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"sircharge/admin/internal/auth"
	"sircharge/admin/internal/rbac"
	"sircharge/admin/internal/store"
)

const (
	MinPasswordLength = 8
	ResetTokenTTL     = time.Hour
)

var (
	ErrMissingCredentials = errors.New("email and password are required")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrNotOperator        = errors.New("account has no admin access")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")
)

// Service provides email/password authentication
type Service struct {
	store UserStore
	cost  int
	now   func() time.Time
}

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	SavePasswordReset(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	ConsumePasswordReset(ctx context.Context, tokenHash string) (string, error)
}

// NewService creates a new auth service
func NewService(store UserStore) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost, now: time.Now}
}

// WithCost lowers the bcrypt cost, for tests.
func (s *Service) WithCost(cost int) *Service {
	s.cost = cost
	return s
}

// HashPassword validates the length and returns a bcrypt hash.
func (s *Service) HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// SignIn authenticates an operator. Consumer accounts and accounts without a
// password cannot sign in here.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return store.User{}, ErrMissingCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if user.PasswordHash == "" {
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if user.Status == store.UserStatusDisabled {
		return store.User{}, ErrAccountDisabled
	}
	if !rbac.IsOperator(rbac.Normalize(user.Role)) {
		return store.User{}, ErrNotOperator
	}
	return user, nil
}

// RequestPasswordReset creates a one-hour reset token. Unknown emails get an
// empty token and no error so callers cannot tell which emails have accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, store.User, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, store.ErrNotFound) {
		return "", store.User{}, nil
	}
	if err != nil {
		return "", store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if user.Status == store.UserStatusDisabled {
		return "", store.User{}, nil
	}

	token, err := generateToken()
	if err != nil {
		return "", store.User{}, fmt.Errorf("generate reset token: %w", err)
	}
	if err := s.store.SavePasswordReset(ctx, auth.HashToken(token), user.ID, s.now().Add(ResetTokenTTL)); err != nil {
		return "", store.User{}, fmt.Errorf("save reset token: %w", err)
	}
	return token, user, nil
}

// ResetPassword sets a new password from a reset token. Tokens are single use.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if strings.TrimSpace(token) == "" {
		return ErrInvalidResetToken
	}
	hash, err := s.HashPassword(newPassword)
	if err != nil {
		return err
	}

	userID, err := s.store.ConsumePasswordReset(ctx, auth.HashToken(token))
	if errors.Is(err, store.ErrNotFound) {
		return ErrInvalidResetToken
	}
	if err != nil {
		return fmt.Errorf("consume reset token: %w", err)
	}
	if err := s.store.UpdateUserPassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// GenerateTemporaryPassword returns a random password for new operator accounts.
func GenerateTemporaryPassword() (string, error) {
	b := make([]byte, 9)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
