package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"sircharge/admin/internal/auth"
	"sircharge/admin/internal/authpw"
	"sircharge/admin/internal/rbac"
	"sircharge/admin/internal/search"
	"sircharge/admin/internal/store"
	"sircharge/admin/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

func (s Session) can(action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(s.Role), action)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	if err := s.store.TouchUser(ctx, user.ID); err != nil {
		s.logger.Warn("touch user", zap.String("user_id", user.ID), zap.Error(err))
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token. The old token is revoked before the new
// pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	ref, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.activeOperator(ctx, ref.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.NewClaims(user.ID, user.DisplayName, user.Role, jti, expiresAt))
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates an access token. Role and status are read from
// the store so demotions and deactivations apply immediately.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.activeOperator(ctx, claims.Subject)
	if err != nil {
		return Session{}, err
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		Role:      user.Role,
		JTI:       claims.ID,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) activeOperator(ctx context.Context, userID string) (store.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, auth.ErrInvalidToken
	}
	if err != nil {
		return store.User{}, err
	}
	if user.Status != store.UserStatusActive || !rbac.IsOperator(rbac.Normalize(user.Role)) {
		return store.User{}, auth.ErrInvalidToken
	}
	return user, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			s.logger.Warn("revoke access token", zap.Error(err))
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.Warn("revoke refresh token", zap.Error(err))
		}
	}
	return nil
}

// RequestPasswordReset mails a reset link. When SMTP is not configured the
// raw token is returned instead so local setups can finish the flow.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (devToken string, err error) {
	token, user, err := s.passwords.RequestPasswordReset(ctx, email)
	if err != nil || token == "" {
		return "", err
	}
	if s.mailer == nil || !s.mailer.IsConfigured() {
		return token, nil
	}
	link := strings.TrimRight(s.cfg.PublicURL, "/") + "/reset-password?token=" + url.QueryEscape(token)
	if err := s.mailer.SendPasswordResetEmail(user.Email, user.DisplayName, link); err != nil {
		s.logger.Warn("send password reset email", zap.String("user_id", user.ID), zap.Error(err))
	}
	return "", nil
}

func (s *Service) ResetPassword(ctx context.Context, token, password string) error {
	return s.passwords.ResetPassword(ctx, token, password)
}

type CreateOperatorInput struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	DisplayName string `json:"displayName" validate:"required,notblank,max=120"`
	Role        string `json:"role" validate:"required,role,ne=user"`
	TierID      string `json:"tierId" validate:"omitempty,max=64"`
	Locale      string `json:"locale" validate:"omitempty,max=10"`
}

// CreateOperator creates an operator account and returns it with a temporary
// password that is shown once.
func (s *Service) CreateOperator(ctx context.Context, input CreateOperatorInput) (store.User, string, error) {
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.DisplayName = strings.TrimSpace(input.DisplayName)
	if err := validateStruct(input); err != nil {
		return store.User{}, "", err
	}

	password, err := authpw.GenerateTemporaryPassword()
	if err != nil {
		return store.User{}, "", fmt.Errorf("generate password: %w", err)
	}
	hash, err := s.passwords.HashPassword(password)
	if err != nil {
		return store.User{}, "", err
	}
	user, err := s.store.CreateUser(ctx, store.User{
		ID:           util.NewID("usr"),
		Email:        input.Email,
		DisplayName:  input.DisplayName,
		PasswordHash: hash,
		Role:         input.Role,
		TierID:       input.TierID,
		Locale:       input.Locale,
	})
	if errors.Is(err, store.ErrConflict) {
		return store.User{}, "", domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
	}
	if err != nil {
		return store.User{}, "", err
	}
	s.indexUser(user)
	return user, password, nil
}

func (s *Service) indexUser(user store.User) {
	if s.search == nil {
		return
	}
	s.search.IndexUser(search.UserRecord{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Role:        user.Role,
		Status:      user.Status,
		TierID:      user.TierID,
	})
}

// EnsureAdmin promotes the account with email to admin and re-enables it, or
// creates it. The temporary password is empty when the account existed.
func (s *Service) EnsureAdmin(ctx context.Context, email, displayName string) (store.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return s.CreateOperator(ctx, CreateOperatorInput{
			Email:       email,
			DisplayName: displayName,
			Role:        string(rbac.RoleAdmin),
		})
	}
	if err != nil {
		return store.User{}, "", err
	}
	if user.Role != string(rbac.RoleAdmin) {
		if err := s.store.UpdateUserRole(ctx, user.ID, string(rbac.RoleAdmin)); err != nil {
			return store.User{}, "", err
		}
	}
	if user.Status != store.UserStatusActive {
		if err := s.store.UpdateUserStatus(ctx, user.ID, store.UserStatusActive); err != nil {
			return store.User{}, "", err
		}
	}
	user, err = s.store.GetUserByID(ctx, user.ID)
	if err != nil {
		return store.User{}, "", err
	}
	s.indexUser(user)
	return user, "", nil
}

// SetPassword replaces the password of the account with email.
func (s *Service) SetPassword(ctx context.Context, email, password string) error {
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return err
	}
	hash, err := s.passwords.HashPassword(password)
	if err != nil {
		return err
	}
	return s.store.UpdateUserPassword(ctx, user.ID, hash)
}
